package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Finding is scanner-supplied vulnerability metadata. Natural key:
// (project_id, finding_key). Descriptive fields are fully overwritten on
// every re-import because scanners revise plugin metadata between runs.
type Finding struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID   uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:uq_findings_project_key" json:"project_id"`
	FindingKey  string                      `gorm:"not null;uniqueIndex:uq_findings_project_key" json:"finding_key"`
	Title       string                      `gorm:"not null" json:"title"`
	Severity    string                      `gorm:"not null" json:"severity"`
	Description string                      `gorm:"type:text" json:"description,omitempty"`
	Remediation string                      `gorm:"type:text" json:"remediation,omitempty"`
	References  datatypes.JSONSlice[string] `json:"references"`
	Scanner     string                      `gorm:"not null" json:"scanner"`
	ScannerID   string                      `json:"scanner_id,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

func (f *Finding) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// Occurrence binds a finding to a host and optionally to a service:
// "this vulnerability was observed here". Deduplication key:
// (project_id, finding_id, host_id, service_id) with a NULL service treated
// as its own value, so a host-level and a service-bound occurrence of the
// same finding/host pair are distinct rows.
type Occurrence struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"project_id"`
	FindingID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"finding_id"`
	HostID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"host_id"`
	ServiceID       *uuid.UUID `gorm:"type:uuid" json:"service_id,omitempty"`
	Status          string     `gorm:"not null" json:"status"`
	EvidenceSnippet string     `gorm:"type:text" json:"evidence_snippet,omitempty"`
	FirstSeen       time.Time  `gorm:"not null" json:"first_seen"`
	LastSeen        time.Time  `gorm:"not null" json:"last_seen"`
}

func (o *Occurrence) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
