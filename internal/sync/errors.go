package sync

import (
	"errors"
	"fmt"
)

// The engine classifies failures into four groups with different handling:
//
//   - transient: cycle aborted, watermark untouched, retried wholesale on
//     the next scheduled run (network timeouts, 5xx, search-job timeout)
//   - per-record: record skipped and counted, cycle continues
//   - per-integration: cycle aborted immediately and surfaced to the
//     operator; other integrations are unaffected
//   - vendor quirk: recoverable vendor oddity already retried once; logged
//     as a warning, never fatal

// TransientError marks a failure that is safe to retry on the next run
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a transient failure
func Transient(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is a transient failure
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// RecordError marks a permanently malformed record. The record is skipped
// and counted; the cycle continues.
type RecordError struct {
	Err error
}

func (e *RecordError) Error() string { return "record: " + e.Err.Error() }
func (e *RecordError) Unwrap() error { return e.Err }

// RecordFailure wraps err as a per-record failure
func RecordFailure(format string, args ...interface{}) error {
	return &RecordError{Err: fmt.Errorf(format, args...)}
}

// IsRecordError reports whether err is a per-record failure
func IsRecordError(err error) bool {
	var r *RecordError
	return errors.As(err, &r)
}

// IntegrationError marks a misconfigured integration (invalid credentials,
// unknown vendor kind). The cycle aborts immediately.
type IntegrationError struct {
	Err error
}

func (e *IntegrationError) Error() string { return "integration: " + e.Err.Error() }
func (e *IntegrationError) Unwrap() error { return e.Err }

// IntegrationFailure wraps err as a per-integration failure
func IntegrationFailure(format string, args ...interface{}) error {
	return &IntegrationError{Err: fmt.Errorf(format, args...)}
}

// IsIntegrationError reports whether err is a per-integration failure
func IsIntegrationError(err error) bool {
	var i *IntegrationError
	return errors.As(err, &i)
}

// QuirkError marks a known vendor oddity that was already retried once with
// a narrowed payload. Callers log it as a warning and carry on.
type QuirkError struct {
	Err error
}

func (e *QuirkError) Error() string { return "vendor quirk: " + e.Err.Error() }
func (e *QuirkError) Unwrap() error { return e.Err }

// Quirk wraps err as a vendor-quirk failure
func Quirk(format string, args ...interface{}) error {
	return &QuirkError{Err: fmt.Errorf(format, args...)}
}

// IsQuirk reports whether err is a vendor-quirk failure
func IsQuirk(err error) bool {
	var q *QuirkError
	return errors.As(err, &q)
}
