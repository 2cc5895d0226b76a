// Package events records an audit trail of ingest activity. The job runner
// writes one event per job lifecycle transition; consumers query them to
// reconstruct what happened to an import after the fact.
package events

import (
	"fmt"
	"time"

	"github.com/WardenScan/go-api/warden/postgres/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Filters narrows an event query.
type Filters struct {
	Limit      int
	Offset     int
	EventType  string
	EntityType string
	EntityID   string
}

// Record inserts one event row.
func Record(db *gorm.DB, ev models.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := db.Create(&ev).Error; err != nil {
		return fmt.Errorf("record event %s: %w", ev.EventType, err)
	}
	return nil
}

// JobEvent builds a lifecycle event for one ingest job.
func JobEvent(job models.IngestJob, eventType, message string) models.Event {
	return models.Event{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		Message:    message,
		EntityType: models.EntityTypeJob,
		EntityID:   job.ID.String(),
		Metadata: datatypes.JSONMap{
			"project_id":  job.ProjectID.String(),
			"source_type": job.SourceType,
			"filename":    job.OriginalFilename,
		},
	}
}

// List returns events matching the filters, newest first, plus the total
// count before pagination.
func List(db *gorm.DB, f Filters) ([]models.Event, int64, error) {
	query := db.Model(&models.Event{})
	if f.EventType != "" {
		query = query.Where("event_type = ?", f.EventType)
	}
	if f.EntityType != "" {
		query = query.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		query = query.Where("entity_id = ?", f.EntityID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var out []models.Event
	err := query.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	return out, total, nil
}
