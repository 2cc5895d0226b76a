package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ingest job states. A job only ever moves queued -> running -> succeeded or
// failed; there is no cancelled state and no automatic re-queue.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Source-type tokens accepted by the ingest pipeline.
const (
	SourceNmap   = "nmap"
	SourceNessus = "nessus"
)

// IngestJob is one ingest run over an uploaded scan file.
type IngestJob struct {
	ID               uuid.UUID                        `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID        uuid.UUID                        `gorm:"type:uuid;not null;index" json:"project_id"`
	SourceType       string                           `gorm:"not null" json:"source_type"`
	OriginalFilename string                           `gorm:"not null" json:"original_filename"`
	Status           string                           `gorm:"not null;index" json:"status"`
	Progress         int                              `gorm:"not null;default:0" json:"progress"`
	Stats            datatypes.JSONType[map[string]int] `json:"stats"`
	Error            string                           `gorm:"type:text" json:"error,omitempty"`
	ArtifactID       *uuid.UUID                       `gorm:"type:uuid" json:"artifact_id,omitempty"`
	UploadPath       string                           `json:"upload_path,omitempty"`
	CreatedAt        time.Time                        `json:"created_at"`
	UpdatedAt        time.Time                        `json:"updated_at"`
	StartedAt        *time.Time                       `json:"started_at,omitempty"`
	FinishedAt       *time.Time                       `json:"finished_at,omitempty"`
}

func (j *IngestJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	return nil
}

// Artifact is a content-addressed, gzip-compressed copy of an uploaded scan
// file. Identical uploads share one artifact row via the sha256 digest.
type Artifact struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID    uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	SHA256       string    `gorm:"uniqueIndex;not null" json:"sha256"`
	Size         int64     `gorm:"not null" json:"size"`
	MIME         string    `json:"mime,omitempty"`
	OriginalName string    `gorm:"not null" json:"original_name"`
	RelativePath string    `gorm:"not null" json:"relative_path"`
	CreatedAt    time.Time `json:"created_at"`
}

func (a *Artifact) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
