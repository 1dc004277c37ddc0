// Package crypto provides the cryptographic primitives required by the
// PowerAuth protocol. All functions operate on raw byte slices; protocol
// semantics (key management, session state) live in the higher level packages.
package crypto

import "crypto/sha256"

// SHA-256 output length in bytes.
const SHA256LenBytes = 32

// SHA256 computes the SHA-256 cryptographic hash of a message.
//
// Returns a 32-byte (256-bit) hash digest.
func SHA256(message []byte) [SHA256LenBytes]byte {
	return sha256.Sum256(message)
}

// SHA256Slice computes the SHA-256 hash and returns it as a slice.
// This is a convenience function for cases where a slice is preferred.
func SHA256Slice(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}
