// Package domain holds the persistent and wire types shared across the
// scheduler, worker and API services: jobs, steps, schedules, executions
// and their execution context.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus is the lifecycle state of a Job definition (not of a single run).
type JobStatus string

const (
	JobStatusActive   JobStatus = "ACTIVE"
	JobStatusPaused   JobStatus = "PAUSED"
	JobStatusArchived JobStatus = "ARCHIVED"
)

// RetryPolicy is a JSONB-serializable retry setting (max retries, initial
// and max interval). No Job or Step field uses it: step retries come from
// Step.MaxRetries and the retry package's default policy.
type RetryPolicy struct {
	MaxRetries      int    `json:"max_retries"`
	InitialInterval string `json:"initial_interval"`
	MaxInterval     string `json:"max_interval"`
}

func (r *RetryPolicy) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("RetryPolicy: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, r)
}

func (r RetryPolicy) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// StepList is the ordered, linear list of Steps that make up a Job's
// definition. Non-goal: arbitrary DAGs are out of scope, so this is a
// plain slice, not a graph.
type StepList []Step

func (s *StepList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("StepList: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, s)
}

func (s StepList) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Job is a named, scheduled unit of work: a schedule plus a linear list of
// steps. The steps are stored in the jobs row, and the worker loads the
// definition from Postgres. objectstore.PutJobDefinition/GetJobDefinition
// address a copy at jobs/{id}/definition.json, but neither the API nor
// the worker calls them.
type Job struct {
	ID              uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name            string         `json:"name" gorm:"not null"`
	Enabled         bool           `json:"enabled" gorm:"not null;default:true"`
	Schedule        ScheduleSpec   `json:"schedule" gorm:"type:jsonb;not null"`
	Steps           StepList       `json:"steps" gorm:"type:jsonb;not null"`
	TimeoutSeconds  int            `json:"timeout_seconds" gorm:"default:3600"`
	MaxRetries      int            `json:"max_retries" gorm:"default:3"`
	AllowConcurrent bool           `json:"allow_concurrent" gorm:"default:false"`
	OwnerID         string         `json:"owner_id"`
	Status          JobStatus      `json:"status" gorm:"type:varchar(20);default:'ACTIVE'"`
	NextRunAt       *time.Time     `json:"next_run_at" gorm:"index"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// TableName pins the GORM table name for jobs regardless of struct name
// refactors (the relational store's schema is part of the external
// interface, per spec §6).
func (Job) TableName() string { return "jobs" }
