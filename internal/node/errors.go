package node

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoPaths is reported by configuration validation when no data
// directory is set. A monitor built with no paths publishes an empty
// snapshot instead.
var ErrNoPaths = errors.New("no paths configured for monitoring")

// ProbeKind classifies why a probe failed.
type ProbeKind string

const (
	KindNotFound         ProbeKind = "not-found"
	KindPermissionDenied ProbeKind = "permission-denied"
	KindIOError          ProbeKind = "io-error"
)

// ProbeFailure is returned by a Prober when the volume statistics of a
// single path could not be read.
type ProbeFailure struct {
	Path string
	Kind ProbeKind
	Err  error
}

func (f *ProbeFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("probe %s: %s", f.Path, f.Kind)
	}
	return fmt.Sprintf("probe %s: %s: %v", f.Path, f.Kind, f.Err)
}

func (f *ProbeFailure) Unwrap() error {
	return f.Err
}

// RefreshFailure is returned by LocalMonitor.Refresh when one or more probes
// failed. Failures are listed in configuration order.
type RefreshFailure struct {
	Failures []*ProbeFailure
}

func (f *RefreshFailure) Error() string {
	parts := make([]string, 0, len(f.Failures))
	for _, pf := range f.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s)", pf.Path, pf.Kind))
	}
	return fmt.Sprintf("refresh failed for %d path(s): %s", len(f.Failures), strings.Join(parts, ", "))
}

// Unwrap exposes each probe failure to errors.Is and errors.As.
func (f *RefreshFailure) Unwrap() []error {
	errs := make([]error, len(f.Failures))
	for i, pf := range f.Failures {
		errs[i] = pf
	}
	return errs
}

// Paths returns the failed paths in configuration order.
func (f *RefreshFailure) Paths() []string {
	paths := make([]string, len(f.Failures))
	for i, pf := range f.Failures {
		paths[i] = pf.Path
	}
	return paths
}
