package dataextract

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("dataextract: no store configured")
	ErrStoreClosed      = errors.New("dataextract: store closed")
	ErrStoreUnavailable = errors.New("dataextract: backing store unavailable")
	ErrKeyNotFound      = errors.New("dataextract: key not found")

	// Not found errors.
	ErrJobNotFound = errors.New("dataextract: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("dataextract: job already exists")
	ErrClaimHeld        = errors.New("dataextract: computation claim held by another worker")

	// State errors.
	ErrInvalidTransition = errors.New("dataextract: invalid state transition")
	ErrTerminalState     = errors.New("dataextract: job already in terminal state")
	ErrCancelled         = errors.New("dataextract: job cancelled")
	ErrTimeout           = errors.New("dataextract: wall-clock budget exceeded")

	// Admission errors.
	ErrRateLimited       = errors.New("dataextract: rate limit exceeded")
	ErrValidation        = errors.New("dataextract: invalid extraction request")
	ErrUnsupportedFormat = errors.New("dataextract: unsupported file format")
	ErrFileTooLarge      = errors.New("dataextract: file exceeds size limit")
)
