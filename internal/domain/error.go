package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("principal does not own this task")
	ErrRateLimited     = errors.New("too many requests")
	ErrLockHeld        = errors.New("lock held by another holder")

	// Upstream provider errors
	ErrUpstream            = errors.New("upstream provider error")
	ErrStreamNotSupported  = errors.New("upstream provider does not support live streaming")
	ErrUnknownUpstreamJob  = errors.New("upstream job not found")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
	ErrInvalidExecContext  = errors.New("invalid exec context")
	ErrInvalidStatusChange = errors.New("invalid task status transition")
)
