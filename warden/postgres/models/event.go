package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event is an audit record of something the ingest pipeline did. Job
// lifecycle transitions are recorded here so operators can reconstruct a
// timeline after the fact.
type Event struct {
	ID         uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  time.Time         `gorm:"not null;index:idx_events_timestamp,sort:desc" json:"timestamp"`
	EventType  string            `gorm:"not null;index:idx_events_type" json:"event_type"`
	Message    string            `gorm:"not null" json:"message"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	EntityType string            `gorm:"index:idx_events_entity,priority:1" json:"entity_type,omitempty"`
	EntityID   string            `gorm:"index:idx_events_entity,priority:2" json:"entity_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TableName keeps the table name stable across model renames.
func (Event) TableName() string {
	return "events"
}

// Event types emitted by the job runner.
const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobSucceeded = "job_succeeded"
	EventJobFailed    = "job_failed"
)

// Entity types referenced by events.
const (
	EntityTypeJob     = "ingest_job"
	EntityTypeProject = "project"
)
