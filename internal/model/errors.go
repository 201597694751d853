// Package model defines the domain records and the error taxonomy shared by
// the store, service and handler layers. Errors are sentinel values; callers
// wrap them with fmt.Errorf("...: %w", err) to add detail and match them with
// errors.Is.
package model

import "errors"

var (
	// ErrValidation marks malformed or missing input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateIdentity is returned when the email is already registered.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrAlreadyRegistered is returned by the federated profile preview when
	// an identity with the claimed email exists.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrInvalidCredentials hides whether the email, the missing local
	// password or the password comparison failed.
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidFederatedToken = errors.New("invalid federated token")

	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a conditional write kept losing to
	// concurrent writers, or when an idempotent request is still in flight.
	ErrConflict = errors.New("conflict")

	ErrSelfFriend   = errors.New("cannot friend yourself")
	ErrEmptyComment = errors.New("comment cannot be empty")

	// ErrFederatedVerificationFailed covers every failure while validating a
	// provider assertion, including transport errors reaching the issuer.
	ErrFederatedVerificationFailed = errors.New("federated verification failed")
	// ErrIssuerUnavailable is joined with ErrFederatedVerificationFailed when
	// the issuer could not be reached; it is the only retryable auth failure.
	ErrIssuerUnavailable = errors.New("identity issuer unavailable")

	// ErrEdgeInconsistent means one side of a friend edge was written and the
	// compensating write failed. A repair pass must reconcile the pair.
	ErrEdgeInconsistent = errors.New("friend edge left inconsistent")
)
