package model

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotMember is returned when a user acts on a room they do not belong to.
	ErrNotMember = errors.New("not a member of this room")
	// ErrInvalidInput is returned for requests that fail domain validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPeerKeyUnavailable marks the transient state where the DM peer has not
	// published a public key yet. Callers wait for a rooms_changed event rather
	// than treating this as a failure.
	ErrPeerKeyUnavailable = errors.New("peer public key unavailable")
	// ErrKeyResolution marks inconsistent room data from which no encryption
	// key can ever be derived.
	ErrKeyResolution = errors.New("cannot derive encryption key for room")
	// ErrDecryptFailed covers both authentication-tag mismatch and wrong-key
	// decryption. The two are indistinguishable on purpose.
	ErrDecryptFailed = errors.New("decryption failed")
	// ErrKeyStoreNotReady is returned when crypto operations are attempted
	// before the device key pair is hydrated.
	ErrKeyStoreNotReady = errors.New("key store not hydrated")
)
