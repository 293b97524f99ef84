// Package objectstore implements C4 over an S3-compatible backend
// (AWS S3 or MinIO), generalized from the teacher's pkg/storage.S3LogStore
// (same static-credentials/custom-endpoint/path-style setup for MinIO
// compatibility) from storing opaque log bytes to storing the two JSON
// blobs spec.md §6 names: a job's definition and an execution's context,
// at jobs/{job_id}/definition.json and
// jobs/{job_id}/executions/{execution_id}/context.json.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"jobctl/internal/domain"
)

type Store struct {
	client *s3.Client
	bucket string
}

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty selects MinIO-style path-style addressing
	AccessKey string
	SecretKey string
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
	}, nil
}

func definitionKey(jobID uuid.UUID) string {
	return fmt.Sprintf("jobs/%s/definition.json", jobID)
}

// ContextKey is exported so the worker can record the path it persisted
// into the Execution row without re-deriving the layout elsewhere.
func ContextKey(jobID, executionID uuid.UUID) string {
	return fmt.Sprintf("jobs/%s/executions/%s/context.json", jobID, executionID)
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("objectstore: marshal %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("objectstore: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("objectstore: unmarshal %s: %w", key, err)
	}
	return nil
}

// GetRaw and PutRaw give the file-transform step executor byte-level
// access to arbitrary object-store keys (job input/output files), as
// opposed to the typed JSON helpers used for definitions and contexts.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) PutRaw(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) PutJobDefinition(ctx context.Context, jobID uuid.UUID, steps domain.StepList) error {
	return s.put(ctx, definitionKey(jobID), steps)
}

func (s *Store) GetJobDefinition(ctx context.Context, jobID uuid.UUID) (domain.StepList, error) {
	var steps domain.StepList
	if err := s.get(ctx, definitionKey(jobID), &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// PutExecutionContext persists ctx's JSON at the canonical path and
// returns that key so the caller can record it on the Execution row.
func (s *Store) PutExecutionContext(ctx context.Context, ec *domain.ExecutionContext) (string, error) {
	key := ContextKey(ec.JobID, ec.ExecutionID)
	if err := s.put(ctx, key, ec); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) GetExecutionContext(ctx context.Context, key string) (*domain.ExecutionContext, error) {
	var ec domain.ExecutionContext
	if err := s.get(ctx, key, &ec); err != nil {
		return nil, err
	}
	return &ec, nil
}
