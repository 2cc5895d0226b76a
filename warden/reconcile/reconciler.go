// Package reconcile merges normalized scan records into the persisted entity
// graph under natural-key deduplication. Every operation is idempotent:
// replaying the same stream converges to the same entity state, with only
// last_seen/updated_at advancing.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/WardenScan/go-api/warden"
	"github.com/WardenScan/go-api/warden/postgres/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrUnknownRecordKind reports a record type Apply has no handler for. A new
// record kind without a matching upsert is a programming error, not a
// silently dropped row.
var ErrUnknownRecordKind = errors.New("unknown record kind")

// Reconciler owns the merge rules for the entity graph. It decides what to
// write; persistence mechanics belong to gorm.
type Reconciler struct {
	db *gorm.DB
}

// New returns a Reconciler writing through db.
func New(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Apply routes rec to the upsert operation matching its concrete type.
func (r *Reconciler) Apply(projectID uuid.UUID, rec warden.Record) error {
	switch rec := rec.(type) {
	case warden.HostRecord:
		return r.UpsertHost(projectID, rec)
	case warden.ServiceRecord:
		return r.UpsertService(projectID, rec)
	case warden.FindingRecord:
		return r.UpsertFinding(projectID, rec)
	case warden.OccurrenceRecord:
		return r.UpsertOccurrence(projectID, rec)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownRecordKind, rec)
	}
}

// UpsertHost creates or merges a host by (project, ip). On merge the
// hostname set grows by union, primary hostname and OS name fill only when
// currently empty, and last_seen advances monotonically.
func (r *Reconciler) UpsertHost(projectID uuid.UUID, rec warden.HostRecord) error {
	var host models.Host
	err := r.db.Where("project_id = ? AND ip = ?", projectID, rec.IP).First(&host).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"hostnames": unionNames(host.Hostnames, rec.Hostnames),
			"last_seen": laterOf(host.LastSeen, rec.SeenAt),
		}
		if host.PrimaryHostname == "" && rec.PrimaryHostname != "" {
			updates["primary_hostname"] = rec.PrimaryHostname
		}
		if host.OSName == "" && rec.OSName != "" {
			updates["os_name"] = rec.OSName
		}
		if err := r.db.Model(&host).Updates(updates).Error; err != nil {
			return fmt.Errorf("update host %s: %w", rec.IP, err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		host = models.Host{
			ProjectID:       projectID,
			IP:              rec.IP,
			PrimaryHostname: rec.PrimaryHostname,
			Hostnames:       unionNames(nil, rec.Hostnames),
			OSName:          rec.OSName,
			FirstSeen:       rec.SeenAt,
			LastSeen:        rec.SeenAt,
		}
		if err := r.db.Create(&host).Error; err != nil {
			return fmt.Errorf("create host %s: %w", rec.IP, err)
		}
		return nil
	default:
		return fmt.Errorf("look up host %s: %w", rec.IP, err)
	}
}

// UpsertService creates or merges a service by (host, proto, port).
// Descriptive fields are overwritten only when the incoming value is
// non-empty. A record whose host is not present in the project is dropped
// silently: hosts are emitted before their services within one stream, but
// the engine does not assume ordering across streams.
func (r *Reconciler) UpsertService(projectID uuid.UUID, rec warden.ServiceRecord) error {
	host, ok, err := r.findHost(projectID, rec.HostIP)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("Dropping service record for unknown host", "ip", rec.HostIP, "port", rec.Port)
		return nil
	}

	var svc models.Service
	err = r.db.Where("host_id = ? AND proto = ? AND port = ?", host.ID, rec.Proto, rec.Port).First(&svc).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"name":      pickNonEmpty(rec.Name, svc.Name),
			"product":   pickNonEmpty(rec.Product, svc.Product),
			"version":   pickNonEmpty(rec.Version, svc.Version),
			"banner":    pickNonEmpty(rec.Banner, svc.Banner),
			"last_seen": laterOf(svc.LastSeen, rec.SeenAt),
		}
		if err := r.db.Model(&svc).Updates(updates).Error; err != nil {
			return fmt.Errorf("update service %s %s/%d: %w", rec.HostIP, rec.Proto, rec.Port, err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		svc = models.Service{
			ProjectID: projectID,
			HostID:    host.ID,
			Proto:     rec.Proto,
			Port:      rec.Port,
			Name:      rec.Name,
			Product:   rec.Product,
			Version:   rec.Version,
			Banner:    rec.Banner,
			FirstSeen: rec.SeenAt,
			LastSeen:  rec.SeenAt,
		}
		if err := r.db.Create(&svc).Error; err != nil {
			return fmt.Errorf("create service %s %s/%d: %w", rec.HostIP, rec.Proto, rec.Port, err)
		}
		return nil
	default:
		return fmt.Errorf("look up service %s %s/%d: %w", rec.HostIP, rec.Proto, rec.Port, err)
	}
}

// UpsertFinding creates or fully refreshes a finding by (project, key).
// Scanners revise plugin metadata between runs, so descriptive fields are
// always overwritten and updated_at advances on every write.
func (r *Reconciler) UpsertFinding(projectID uuid.UUID, rec warden.FindingRecord) error {
	var finding models.Finding
	err := r.db.Where("project_id = ? AND finding_key = ?", projectID, rec.FindingKey).First(&finding).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"title":       rec.Title,
			"severity":    string(rec.Severity),
			"description": rec.Description,
			"remediation": rec.Remediation,
			"references":  datatypes.NewJSONSlice(rec.References),
			"scanner":     rec.Scanner,
			"scanner_id":  rec.ScannerID,
			"updated_at":  time.Now().UTC(),
		}
		if err := r.db.Model(&finding).Updates(updates).Error; err != nil {
			return fmt.Errorf("update finding %s: %w", rec.FindingKey, err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		finding = models.Finding{
			ProjectID:   projectID,
			FindingKey:  rec.FindingKey,
			Title:       rec.Title,
			Severity:    string(rec.Severity),
			Description: rec.Description,
			Remediation: rec.Remediation,
			References:  datatypes.NewJSONSlice(rec.References),
			Scanner:     rec.Scanner,
			ScannerID:   rec.ScannerID,
		}
		if err := r.db.Create(&finding).Error; err != nil {
			return fmt.Errorf("create finding %s: %w", rec.FindingKey, err)
		}
		return nil
	default:
		return fmt.Errorf("look up finding %s: %w", rec.FindingKey, err)
	}
}

// UpsertOccurrence creates or refreshes the binding of a finding to a host
// and optional service. Host and finding must both already exist or the
// record is dropped silently. A missing service match is not an error: the
// occurrence is recorded host-level. On re-observation only last_seen and a
// newly non-empty evidence snippet change; review status is never reset.
func (r *Reconciler) UpsertOccurrence(projectID uuid.UUID, rec warden.OccurrenceRecord) error {
	host, ok, err := r.findHost(projectID, rec.HostIP)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("Dropping occurrence record for unknown host", "ip", rec.HostIP, "finding", rec.FindingKey)
		return nil
	}

	var finding models.Finding
	err = r.db.Where("project_id = ? AND finding_key = ?", projectID, rec.FindingKey).First(&finding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Debug("Dropping occurrence record for unknown finding", "finding", rec.FindingKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up finding %s: %w", rec.FindingKey, err)
	}

	var serviceID *uuid.UUID
	if rec.HasService() {
		var svc models.Service
		err = r.db.Where("host_id = ? AND proto = ? AND port = ?", host.ID, rec.ServiceProto, rec.ServicePort).First(&svc).Error
		switch {
		case err == nil:
			serviceID = &svc.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			// no matching service; keep the occurrence host-level
		default:
			return fmt.Errorf("look up service %s %s/%d: %w", rec.HostIP, rec.ServiceProto, rec.ServicePort, err)
		}
	}

	query := r.db.Where("project_id = ? AND finding_id = ? AND host_id = ?", projectID, finding.ID, host.ID)
	if serviceID == nil {
		query = query.Where("service_id IS NULL")
	} else {
		query = query.Where("service_id = ?", *serviceID)
	}

	var occ models.Occurrence
	err = query.First(&occ).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"last_seen": laterOf(occ.LastSeen, rec.SeenAt),
		}
		if rec.EvidenceSnippet != "" {
			updates["evidence_snippet"] = warden.TruncateEvidence(rec.EvidenceSnippet)
		}
		if err := r.db.Model(&occ).Updates(updates).Error; err != nil {
			return fmt.Errorf("update occurrence %s@%s: %w", rec.FindingKey, rec.HostIP, err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		status := rec.Status
		if status == "" {
			status = warden.StatusOpen
		}
		occ = models.Occurrence{
			ProjectID:       projectID,
			FindingID:       finding.ID,
			HostID:          host.ID,
			ServiceID:       serviceID,
			Status:          string(status),
			EvidenceSnippet: warden.TruncateEvidence(rec.EvidenceSnippet),
			FirstSeen:       rec.SeenAt,
			LastSeen:        rec.SeenAt,
		}
		if err := r.db.Create(&occ).Error; err != nil {
			return fmt.Errorf("create occurrence %s@%s: %w", rec.FindingKey, rec.HostIP, err)
		}
		return nil
	default:
		return fmt.Errorf("look up occurrence %s@%s: %w", rec.FindingKey, rec.HostIP, err)
	}
}

func (r *Reconciler) findHost(projectID uuid.UUID, ip string) (models.Host, bool, error) {
	var host models.Host
	err := r.db.Where("project_id = ? AND ip = ?", projectID, ip).First(&host).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Host{}, false, nil
	}
	if err != nil {
		return models.Host{}, false, fmt.Errorf("look up host %s: %w", ip, err)
	}
	return host, true, nil
}

// unionNames merges the stored hostname set with newly observed names and
// returns the sorted union.
func unionNames(existing datatypes.JSONSlice[string], incoming []string) datatypes.JSONSlice[string] {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, n := range existing {
		seen[n] = struct{}{}
	}
	for _, n := range incoming {
		if n != "" {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return datatypes.NewJSONSlice(out)
}

func pickNonEmpty(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
