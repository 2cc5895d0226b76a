// Package ingest holds the streaming format adapters that translate scanner
// report files into normalized records. Adapters are hand-written per format
// and registered in a closed registry keyed by source-type token; callers
// validate the token at job-submission time via KnownSource.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/WardenScan/go-api/warden"
	"github.com/WardenScan/go-api/warden/postgres/models"
)

// ErrUnknownSourceType reports a source-type token with no registered adapter.
var ErrUnknownSourceType = errors.New("unknown source type")

// EmitFunc receives each record in document order. Returning a non-nil error
// aborts the parse and propagates out of the adapter.
type EmitFunc func(warden.Record) error

// ParseFunc streams one scan document into normalized records. Each host
// element's subtree is released as soon as its records have been emitted, so
// peak memory tracks one host, not the whole file.
type ParseFunc func(r io.Reader, emit EmitFunc) error

var registry = map[string]ParseFunc{
	models.SourceNmap:   ParseNmap,
	models.SourceNessus: ParseNessus,
}

// ForSource returns the adapter registered for the given source-type token.
func ForSource(token string) (ParseFunc, error) {
	pf, ok := registry[token]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, token)
	}
	return pf, nil
}

// KnownSource reports whether token names a registered adapter. Job
// submitters call this so an invalid scanner kind is rejected before the job
// ever enters the queue.
func KnownSource(token string) bool {
	_, ok := registry[token]
	return ok
}

// ParseFile runs the adapter for token over the file at path.
func ParseFile(token, path string, emit EmitFunc) error {
	pf, err := ForSource(token)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open scan file: %w", err)
	}
	defer f.Close()
	return pf(f, emit)
}
