package crawler

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies a failed fetch. The set is closed: every failure
// a Fetcher returns maps to exactly one kind.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchKindTimeout    FetchErrorKind = "timeout"
	FetchKindConnection FetchErrorKind = "connection"
	FetchKindHTTPStatus FetchErrorKind = "http_status"
	FetchKindOther      FetchErrorKind = "other"
)

// FetchError is the classified failure of a single fetch attempt. Status is
// set only for FetchKindHTTPStatus.
type FetchError struct {
	Kind   FetchErrorKind
	Status int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchKindHTTPStatus:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError unwraps err into a *FetchError if it is one.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ProcessErrorKind classifies how processing one work item went wrong.
type ProcessErrorKind string

// Item processing failure kinds. Only detail_fetch_failed is terminal for the
// item; the other two accompany a usable, degraded Record.
const (
	ProcessKindDetailFetchFailed   ProcessErrorKind = "detail_fetch_failed"
	ProcessKindParseFailed         ProcessErrorKind = "parse_failed"
	ProcessKindSupplementaryFailed ProcessErrorKind = "supplementary_fetch_failed"
)

// ProcessError reports what went wrong while resolving one work item.
type ProcessError struct {
	Kind       ProcessErrorKind
	Identifier string
	Err        error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process %s: %s: %v", e.Identifier, e.Kind, e.Err)
	}
	return fmt.Sprintf("process %s: %s", e.Identifier, e.Kind)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// AsProcessError unwraps err into a *ProcessError if it is one.
func AsProcessError(err error) (*ProcessError, bool) {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
