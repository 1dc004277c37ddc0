package crypto

import (
	"crypto/sha1" //nolint:gosec // PBKDF2-HMAC-SHA1 is mandated by the protocol
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation constants.
const (
	// SymmetricKeySize is the protocol's symmetric key length (16 bytes).
	SymmetricKeySize = 16

	// PBKDF2Iterations is the iteration count for the knowledge factor key.
	PBKDF2Iterations = 10000
)

// Protocol key derivation indexes. The values match the key map of the
// reference implementation and must never change.
const (
	KeyIndexPossession    uint64 = 1
	KeyIndexKnowledge     uint64 = 2
	KeyIndexBiometry      uint64 = 3
	KeyIndexTransport     uint64 = 1000
	KeyIndexVault         uint64 = 2000
	KeyIndexRecovery      uint64 = 3000
	KeyIndexSignatureKeys uint64 = 4000
)

// ErrKDFInput is returned for invalid key material sizes.
var ErrKDFInput = errors.New("crypto: invalid KDF input size")

// KDFX963 derives key material using the ANSI X9.63 KDF with SHA-256.
//
// The output is the concatenation of SHA-256(secret || counter || sharedInfo)
// blocks with a 32-bit big-endian counter starting at 1, truncated to length.
func KDFX963(secret, sharedInfo []byte, length int) []byte {
	out := make([]byte, 0, length)
	var counter [4]byte
	for i := uint32(1); len(out) < length; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		h := sha256.New()
		h.Write(secret)
		h.Write(counter[:])
		h.Write(sharedInfo)
		out = h.Sum(out)
	}
	return out[:length]
}

// DeriveKey derives a 16-byte protocol key from a base key and a derivation
// index. The index is encoded as 8 bytes big-endian and used as the KDF
// sharedInfo.
func DeriveKey(key []byte, index uint64) []byte {
	var info [8]byte
	binary.BigEndian.PutUint64(info[:], index)
	return KDFX963(key, info[:], SymmetricKeySize)
}

// PBKDF2SHA1 derives a key from a password using PBKDF2-HMAC-SHA1.
// The protocol uses this construction for the knowledge factor key only.
func PBKDF2SHA1(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha1.New)
}

// ReduceKey folds a 32-byte key into a 16-byte key by XOR-ing its halves.
func ReduceKey(key []byte) ([]byte, error) {
	if len(key) != SHA256LenBytes {
		return nil, ErrKDFInput
	}
	out := make([]byte, SymmetricKeySize)
	for i := 0; i < SymmetricKeySize; i++ {
		out[i] = key[i] ^ key[i+SymmetricKeySize]
	}
	return out, nil
}
