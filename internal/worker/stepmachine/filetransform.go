package stepmachine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"jobctl/internal/apperrors"
	"jobctl/internal/domain"
	"jobctl/internal/worker/resolver"
)

// BlobStore is the minimal read/write surface FileTransformExecutor needs
// from the object store — satisfied by internal/storage/objectstore, but
// kept as a narrow interface here so this package doesn't depend on the
// AWS SDK directly.
type BlobStore interface {
	GetRaw(ctx context.Context, key string) ([]byte, error)
	PutRaw(ctx context.Context, key string, data []byte) error
}

// FileTransformExecutor reads a file from the object store, applies a
// named transform, and writes the result back. Only one transform is
// implemented (CSV column selection, the shape original_source's file
// steps use most); stdlib encoding/csv is used rather than a dependency
// since no example repo parses tabular data and the transform itself is
// a simple column remap (see DESIGN.md).
type FileTransformExecutor struct {
	Blobs BlobStore
}

func NewFileTransformExecutor(blobs BlobStore) *FileTransformExecutor {
	return &FileTransformExecutor{Blobs: blobs}
}

func (e *FileTransformExecutor) Execute(ctx context.Context, step domain.Step, ec *domain.ExecutionContext) (map[string]any, error) {
	cfg := step.Config.FileTransform
	if cfg == nil {
		return nil, fmt.Errorf("stepmachine: file_transform step %q missing config", step.ID)
	}

	srcPath, err := resolver.Resolve(cfg.SourcePath, ec)
	if err != nil {
		return nil, err
	}
	dstPath, err := resolver.Resolve(cfg.DestinationPath, ec)
	if err != nil {
		return nil, err
	}

	data, err := e.Blobs.GetRaw(ctx, srcPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading source: %v", apperrors.ErrTransient, err)
	}

	var result []byte
	switch cfg.Transform {
	case "csv_select_columns":
		result, err = selectCSVColumns(data, cfg.Columns)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown transform %q", apperrors.ErrValidation, cfg.Transform)
	}

	if err := e.Blobs.PutRaw(ctx, dstPath, result); err != nil {
		return nil, fmt.Errorf("%w: writing destination: %v", apperrors.ErrTransient, err)
	}

	return map[string]any{
		"destination_path": dstPath,
		"bytes_written":    float64(len(result)),
	}, nil
}

func selectCSVColumns(data []byte, columns []string) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	indices := make([]int, 0, len(columns))
	for _, want := range columns {
		found := -1
		for i, col := range header {
			if col == want {
				found = i
				break
			}
		}
		if found == -1 {
			return nil, fmt.Errorf("column %q not found in source", want)
		}
		indices = append(indices, found)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return nil, err
	}
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		row := make([]string, len(indices))
		for i, idx := range indices {
			row[i] = record[idx]
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}
