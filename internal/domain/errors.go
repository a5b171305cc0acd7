package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound = errors.New("domain: not found")

	// ErrDuplicateIdempotencyKey means an approval with the same
	// idempotency key already exists. Callers should look up the
	// existing record instead of retrying.
	ErrDuplicateIdempotencyKey = errors.New("domain: duplicate idempotency key")

	// ErrAlreadyClaimed means another approver won the claim race.
	ErrAlreadyClaimed = errors.New("domain: approval already claimed")

	// ErrInvalidState means the requested transition is not allowed
	// from the approval's current status.
	ErrInvalidState = errors.New("domain: invalid state for transition")

	// ErrExpired means the approval passed its expiry before the
	// requested action could be taken.
	ErrExpired = errors.New("domain: approval expired")

	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")
)
