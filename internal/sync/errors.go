package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrSuspectedOutage marks a cycle aborted because the upstream result
	// looked like an outage rather than real deletions.
	ErrSuspectedOutage   = errors.New("suspected upstream outage")
	ErrInvalidConfig     = errors.New("invalid sync configuration")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrShuttingDown      = errors.New("sync manager is shutting down")
)

// FetchReason classifies why the upstream fetch failed.
type FetchReason string

const (
	FetchConnectivity FetchReason = "connectivity"
	FetchClientStatus FetchReason = "client_status"
	FetchServerStatus FetchReason = "server_status"
	FetchMalformed    FetchReason = "malformed"
)

// StatusReason maps a non-2xx HTTP status code to its failure class.
func StatusReason(code int) FetchReason {
	if code >= 500 {
		return FetchServerStatus
	}
	return FetchClientStatus
}

type FetchError struct {
	Source     string
	Reason     FetchReason
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (HTTP %d): %v", e.Source, e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type PersistError struct {
	Collection string
	Op         string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", e.Collection, e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// FailureKind names the error category of a failed cycle: the fetch reason,
// "outage", "persist", or "" for nil.
func FailureKind(err error) string {
	if err == nil {
		return ""
	}
	var fetchErr *FetchError
	var persistErr *PersistError
	switch {
	case errors.As(err, &fetchErr):
		return "fetch_" + string(fetchErr.Reason)
	case errors.Is(err, ErrSuspectedOutage):
		return "outage"
	case errors.As(err, &persistErr):
		return "persist"
	default:
		return "unknown"
	}
}
