package domain

import "errors"

var (
	// ErrAuthenticationFailed means the credential was missing, malformed or expired.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNotAuthorized means the identity is valid but lacks permission.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotFound means the workspace or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence means the store was unavailable; nothing was applied.
	ErrPersistence = errors.New("persistence failure")
	// ErrTransientDelivery means a peer could not be reached during fan-out.
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrVersionConflict means the stored version moved under a compare-and-set write.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidInput means the request payload failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists means a unique value is already taken.
	ErrAlreadyExists = errors.New("already exists")
)
