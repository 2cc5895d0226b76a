package store

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobStatusKey(t *testing.T) {
	got := JobStatusKey("1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")
	want := "warden:job:1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed:status"
	if got != want {
		t.Errorf("JobStatusKey = %q, want %q", got, want)
	}
}

func TestJobStatusJSONOmitsEmpty(t *testing.T) {
	st := JobStatus{
		JobID:     "abc",
		Status:    "running",
		Progress:  3,
		UpdatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"stats", "error", "started_at", "finished_at"} {
		if _, ok := raw[field]; ok {
			t.Errorf("field %q present in projection for a fresh running job", field)
		}
	}
	var back JobStatus
	if err := json.Unmarshal(body, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.Progress != 3 || back.Status != "running" {
		t.Errorf("round trip = %+v", back)
	}
}
