package workflow

import "errors"

var (
	ErrRequestNotFound = errors.New("request not found")
	ErrAlreadyResolved = errors.New("request already resolved")
	ErrUnauthorized    = errors.New("unauthorized to resolve request")
	ErrInvalidPayload  = errors.New("invalid request payload")
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrDuplicateRequest is returned by Submit when an equivalent request is
	// still pending.
	ErrDuplicateRequest = errors.New("equivalent request already pending")
)
