package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrForbidden          = errors.New("forbidden")
	ErrLockNotAcquired    = errors.New("lock held by another owner")
	ErrRateLimited        = errors.New("rate limit exceeded")

	// Job lifecycle
	ErrJobNotOwned       = errors.New("job is not processing under this worker")
	ErrJobTerminal       = errors.New("job is already in a terminal state")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrUnsupportedEffort = errors.New("thinking level not supported by model")

	// Agent
	ErrTurnLimitExceeded   = errors.New("agent turn limit exceeded")
	ErrSchemaViolation     = errors.New("model reply violates schema")
	ErrEvidenceResolution  = errors.New("evidence resolution failed")
	ErrResolverUnavailable = errors.New("evidence resolver not configured")
	ErrEmptyModelResponse  = errors.New("empty model response")
)
