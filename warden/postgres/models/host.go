package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project scopes every natural key in the inventory.
type Project struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Host is a deduplicated asset. Natural key: (project_id, ip).
// Hostnames only ever grow; PrimaryHostname and OSName are filled once and
// never overwritten by a later blank import.
type Host struct {
	ID              uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID       uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:uq_hosts_project_ip" json:"project_id"`
	IP              string                      `gorm:"not null;uniqueIndex:uq_hosts_project_ip" json:"ip"`
	PrimaryHostname string                      `json:"primary_hostname,omitempty"`
	Hostnames       datatypes.JSONSlice[string] `json:"hostnames"`
	OSName          string                      `json:"os_name,omitempty"`
	FirstSeen       time.Time                   `gorm:"not null" json:"first_seen"`
	LastSeen        time.Time                   `gorm:"not null" json:"last_seen"`
}

func (h *Host) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// Service is a network service on a host. Natural key: (host_id, proto, port).
type Service struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	HostID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_services_host_proto_port" json:"host_id"`
	Proto     string    `gorm:"not null;uniqueIndex:uq_services_host_proto_port" json:"proto"`
	Port      int       `gorm:"not null;uniqueIndex:uq_services_host_proto_port" json:"port"`
	Name      string    `json:"name,omitempty"`
	Product   string    `json:"product,omitempty"`
	Version   string    `json:"version,omitempty"`
	Banner    string    `json:"banner,omitempty"`
	FirstSeen time.Time `gorm:"not null" json:"first_seen"`
	LastSeen  time.Time `gorm:"not null" json:"last_seen"`
}

func (s *Service) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
