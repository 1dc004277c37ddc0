package session

import "errors"

// Session package errors. Every fallible operation returns one of these
// sentinels, possibly wrapped with additional context.
var (
	// ErrWrongSetup is returned when the session setup misses required
	// fields or a field has an invalid length.
	ErrWrongSetup = errors.New("session: invalid session setup")

	// ErrWrongState is returned when the operation is illegal in the
	// current session state.
	ErrWrongState = errors.New("session: operation in wrong state")

	// ErrWrongParam is returned when an argument is malformed.
	ErrWrongParam = errors.New("session: invalid parameter")

	// ErrWrongCode is returned when an activation or recovery code or a
	// PUK fails validation.
	ErrWrongCode = errors.New("session: invalid activation or recovery code")

	// ErrWrongSignature is returned when an ECDSA verification fails or
	// a required signature is absent.
	ErrWrongSignature = errors.New("session: invalid signature")

	// ErrWrongData is returned for Base64 or Base32 decode failures,
	// unknown schema versions and corrupt persistent blobs.
	ErrWrongData = errors.New("session: invalid data")

	// ErrEncryption is returned for any encryption, decryption, key
	// agreement or random generator failure. The failing step is
	// deliberately not disclosed.
	ErrEncryption = errors.New("session: encryption failure")
)
