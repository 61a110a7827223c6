package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a job attempt ended without a result.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureFatal     FailureKind = "fatal"
	FailureTimeout   FailureKind = "timeout"
)

// SchemaViolation is returned by the reply validator. Raw holds the payload
// exactly as received from the provider.
type SchemaViolation struct {
	Field  string
	Reason string
	Raw    []byte
}

func (e *SchemaViolation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema violation: %s", e.Reason)
	}
	return fmt.Sprintf("schema violation at %s: %s", e.Field, e.Reason)
}

func (e *SchemaViolation) Unwrap() error { return ErrSchemaViolation }

// ProviderError wraps an error returned by a model provider SDK.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	// QuotaExhausted marks a spent account quota, which is never retryable.
	QuotaExhausted bool
	Err            error
}

func (e *ProviderError) Error() string {
	if e.QuotaExhausted {
		return fmt.Sprintf("%s: quota exhausted: %v", e.Provider, e.Err)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError classifies an HTTP status returned by a provider.
// 408, 409, 429 and 5xx are retryable; other 4xx (auth, bad request) are not.
// Adapters clear Retryable for a 429 that reports an exhausted quota.
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Retryable:  status == 0 || status == 408 || status == 409 || status == 429 || status >= 500,
		Err:        err,
	}
}

// ResolutionError reports a failed file or region resolution.
type ResolutionError struct {
	Action string
	ItemID string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Action, e.ItemID, e.Err)
}

func (e *ResolutionError) Unwrap() []error { return []error{ErrEvidenceResolution, e.Err} }

// JobFailure is what the agent hands back to the processor when an attempt fails.
type JobFailure struct {
	Kind FailureKind
	Err  error
}

func (e *JobFailure) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *JobFailure) Unwrap() error { return e.Err }

func Transient(err error) error { return &JobFailure{Kind: FailureTransient, Err: err} }

func Fatal(err error) error { return &JobFailure{Kind: FailureFatal, Err: err} }

// Classify maps an error from an agent run onto a FailureKind.
// Unclassified errors are treated as transient.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	var jf *JobFailure
	if errors.As(err, &jf) {
		return jf.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Retryable {
			return FailureTransient
		}
		return FailureFatal
	}
	switch {
	case errors.Is(err, ErrSchemaViolation),
		errors.Is(err, ErrTurnLimitExceeded),
		errors.Is(err, ErrEvidenceResolution),
		errors.Is(err, ErrResolverUnavailable),
		errors.Is(err, ErrUnsupportedModel):
		return FailureFatal
	}
	return FailureTransient
}
