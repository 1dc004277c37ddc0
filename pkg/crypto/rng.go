package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"
)

// ErrRandomGenerator is returned when the entropy source fails.
var ErrRandomGenerator = errors.New("crypto: random generator failure")

// RandomBytes reads n bytes from the provided entropy source. A nil source
// falls back to crypto/rand.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrRandomGenerator
	}
	return out, nil
}

// CTRDRBG is a deterministic byte generator built on AES-256 in CTR mode
// with a zero counter start. It implements io.Reader and is primarily used
// to make protocol outputs reproducible in tests.
type CTRDRBG struct {
	stream cipher.Stream
}

// NewCTRDRBG creates a deterministic generator from a seed. The seed is
// hashed to a 32-byte AES key, so any seed length is accepted.
func NewCTRDRBG(seed []byte) *CTRDRBG {
	key := SHA256(seed)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		// unreachable, key size is fixed
		panic(err)
	}
	iv := make([]byte, aes.BlockSize)
	return &CTRDRBG{stream: cipher.NewCTR(block, iv)}
}

// Read fills p with the next deterministic bytes. It never fails.
func (d *CTRDRBG) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	d.stream.XORKeyStream(p, p)
	return len(p), nil
}

// Zero overwrites b with zeros. Use it on every exit path that handled
// secret key material.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}

// IsZero reports whether b consists entirely of zero bytes, in constant time.
func IsZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
