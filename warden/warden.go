// Package warden defines the normalized, scanner-agnostic record model shared
// between format adapters and the reconciliation engine. Adapters translate a
// scanner's native report into these value types; records carry no identity
// beyond their own fields.
package warden

import "time"

// Severity is a finding severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// OccurrenceStatus is the review status of a finding occurrence. Freshly
// parsed data is always StatusOpen; the other states are set by review
// actions outside the ingest path and are never reset by a re-import.
type OccurrenceStatus string

const (
	StatusOpen          OccurrenceStatus = "open"
	StatusClosed        OccurrenceStatus = "closed"
	StatusAccepted      OccurrenceStatus = "accepted"
	StatusFalsePositive OccurrenceStatus = "false_positive"
)

// RecordKind discriminates the record types an adapter can emit.
type RecordKind string

const (
	KindHost       RecordKind = "host"
	KindService    RecordKind = "service"
	KindFinding    RecordKind = "finding"
	KindOccurrence RecordKind = "occurrence"
)

// Record is the closed set of normalized values produced by format adapters.
// The reconciliation engine matches on the concrete type and treats an
// unknown implementation as an error rather than a silent no-op.
type Record interface {
	Kind() RecordKind
}

// HostRecord is one observation of a host in a scan report.
type HostRecord struct {
	IP              string    // canonical textual form, see NormalizeIP
	PrimaryHostname string    // empty when the scan carried no hostname
	Hostnames       []string  // lowercase, trimmed, deduplicated
	OSName          string    // empty when no OS detection was present
	SeenAt          time.Time
}

func (HostRecord) Kind() RecordKind { return KindHost }

// ServiceRecord is one observation of a network service on a host.
type ServiceRecord struct {
	HostIP  string
	Proto   string // lowercase transport protocol token
	Port    int    // always positive; a zero port means "no service" and is never emitted
	Name    string
	Product string
	Version string
	Banner  string
	SeenAt  time.Time
}

func (ServiceRecord) Kind() RecordKind { return KindService }

// FindingRecord is scanner-supplied metadata about one vulnerability check.
type FindingRecord struct {
	FindingKey  string // scanner-qualified stable identifier, e.g. "nessus:10267"
	Title       string
	Severity    Severity
	Description string
	Remediation string
	References  []string // rendered "<key>:<value>", document order preserved
	Scanner     string
	ScannerID   string
}

func (FindingRecord) Kind() RecordKind { return KindFinding }

// OccurrenceRecord binds a finding to a host and, optionally, to one of the
// host's services. ServiceProto/ServicePort are set together or not at all.
type OccurrenceRecord struct {
	FindingKey      string
	HostIP          string
	ServiceProto    string
	ServicePort     int
	EvidenceSnippet string
	Status          OccurrenceStatus
	SeenAt          time.Time
}

func (OccurrenceRecord) Kind() RecordKind { return KindOccurrence }

// HasService reports whether the occurrence is bound to a specific service.
func (o OccurrenceRecord) HasService() bool {
	return o.ServiceProto != "" && o.ServicePort > 0
}
