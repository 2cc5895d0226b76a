package store

import "time"

// JobStatusTTLSeconds is how long a published job-status projection lives in
// the cache. Terminal states also land in the database, so the cache entry
// only needs to outlive active polling.
const JobStatusTTLSeconds = 24 * 60 * 60

// JobStatus is the live projection of one ingest job the runner publishes at
// every checkpoint and state transition.
type JobStatus struct {
	JobID      string         `json:"job_id"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Stats      map[string]int `json:"stats,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// JobStatusKey builds the cache key for one job's status projection.
func JobStatusKey(jobID string) string {
	return "warden:job:" + jobID + ":status"
}
