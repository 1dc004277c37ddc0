// Package ecies implements the hybrid authenticated encryption envelope used
// for confidential request and response payloads.
//
// The scheme combines an ephemeral ECDH key agreement on P-256 with the
// ANSI X9.63 KDF, AES-CBC with PKCS#7 padding and an HMAC-SHA256 tag. One
// Encryptor protects exactly one request and can decrypt exactly one
// response produced for that request.
package ecies

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// Envelope constants.
const (
	// NonceSize is the request and response nonce length.
	NonceSize = 16

	// envelopeKeySize is the length of the derived K_ENC || K_MAC material.
	envelopeKeySize = 32

	// sharedInfo2BlockSize is the threshold above which sharedInfo2 is
	// pre-hashed before entering the MAC.
	sharedInfo2BlockSize = 64
)

// ivLabel is appended to the nonce when deriving the data IV. The value is
// fixed by the protocol and shared with the server.
var ivLabel = []byte("IV")

// Package errors.
var (
	// ErrWrongState is returned when the encryptor is used out of order
	// or more than once per direction.
	ErrWrongState = errors.New("ecies: encryptor in wrong state")

	// ErrInvalidParam is returned for malformed inputs.
	ErrInvalidParam = errors.New("ecies: invalid parameter")

	// ErrDecryption is returned on any MAC or decryption failure. The
	// failing step is deliberately not disclosed.
	ErrDecryption = errors.New("ecies: decryption failed")
)

// Cryptogram is the wire form of one encrypted message.
type Cryptogram struct {
	// EphemeralPublicKey is present in request cryptograms only.
	EphemeralPublicKey []byte

	// EncryptedData is the AES-CBC/PKCS#7 ciphertext.
	EncryptedData []byte

	// Mac authenticates EncryptedData together with sharedInfo2.
	Mac []byte

	// Nonce is the 16-byte IV derivation nonce, unique per message.
	Nonce []byte

	// Timestamp is the sender's time in milliseconds since the epoch.
	Timestamp int64
}

// TimestampBytes returns the envelope timestamp as 8 bytes big-endian.
func (c *Cryptogram) TimestampBytes() []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(c.Timestamp))
	return out[:]
}

type encryptorState int

const (
	stateReady encryptorState = iota
	stateResponse
	stateDone
)

// EncryptorConfig configures a new Encryptor.
type EncryptorConfig struct {
	// PeerPublicKey is the recipient's P-256 public key, compressed or
	// uncompressed. Required.
	PeerPublicKey []byte

	// SharedInfo1 is the protocol defined KDF context for this endpoint.
	SharedInfo1 []byte

	// SharedInfo2 is the protocol defined MAC context for this scope.
	SharedInfo2 []byte

	// Rand is the entropy source. If nil, crypto/rand is used.
	Rand io.Reader

	// Now supplies envelope timestamps. If nil, time.Now is used.
	Now func() time.Time
}

// Encryptor encrypts one request and decrypts the matching response.
type Encryptor struct {
	peerPublicKey []byte
	sharedInfo1   []byte
	sharedInfo2   []byte
	rand          io.Reader
	now           func() time.Time

	state  encryptorState
	encKey []byte
	macKey []byte
}

// NewEncryptor creates an encryptor for the given peer key and shared
// context strings.
func NewEncryptor(config EncryptorConfig) (*Encryptor, error) {
	peer, err := crypto.P256NormalizePublicKey(config.PeerPublicKey)
	if err != nil {
		return nil, ErrInvalidParam
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Encryptor{
		peerPublicKey: peer,
		sharedInfo1:   append([]byte(nil), config.SharedInfo1...),
		sharedInfo2:   append([]byte(nil), config.SharedInfo2...),
		rand:          config.Rand,
		now:           now,
	}, nil
}

// EncryptRequest protects a request payload. The returned cryptogram
// carries the ephemeral public key, nonce and timestamp expected by the
// server. The encryptor can then decrypt exactly one response.
func (e *Encryptor) EncryptRequest(plaintext []byte) (*Cryptogram, error) {
	if e.state != stateReady {
		return nil, ErrWrongState
	}

	ephemeral, err := crypto.P256GenerateKeyPair(e.rand)
	if err != nil {
		return nil, ErrDecryption
	}
	ephemeralPub := ephemeral.PublicKey()

	sharedSecret, err := ephemeral.ECDH(e.peerPublicKey)
	if err != nil {
		return nil, ErrDecryption
	}
	defer crypto.Zero(sharedSecret)

	info1 := make([]byte, 0, len(e.sharedInfo1)+len(ephemeralPub))
	info1 = append(info1, e.sharedInfo1...)
	info1 = append(info1, ephemeralPub...)
	envelope := crypto.KDFX963(sharedSecret, info1, envelopeKeySize)
	e.encKey = envelope[:16]
	e.macKey = envelope[16:]

	nonce, err := crypto.RandomBytes(e.rand, NonceSize)
	if err != nil {
		return nil, ErrDecryption
	}
	encrypted, err := crypto.AESCBCEncryptPad(plaintext, e.encKey, deriveIV(nonce))
	if err != nil {
		return nil, ErrDecryption
	}

	e.state = stateResponse
	return &Cryptogram{
		EphemeralPublicKey: ephemeralPub,
		EncryptedData:      encrypted,
		Mac:                e.computeMac(encrypted),
		Nonce:              nonce,
		Timestamp:          e.now().UnixMilli(),
	}, nil
}

// DecryptResponse verifies and decrypts the response to the previously
// encrypted request. The encryptor is spent afterwards.
func (e *Encryptor) DecryptResponse(response *Cryptogram) ([]byte, error) {
	if e.state != stateResponse {
		return nil, ErrWrongState
	}
	if response == nil || len(response.Nonce) != NonceSize {
		return nil, ErrInvalidParam
	}
	if !crypto.HMACEqual(e.computeMac(response.EncryptedData), response.Mac) {
		return nil, ErrDecryption
	}
	plaintext, err := crypto.AESCBCDecryptPad(response.EncryptedData, e.encKey, deriveIV(response.Nonce))
	if err != nil {
		return nil, ErrDecryption
	}
	e.state = stateDone
	crypto.Zero(e.encKey)
	crypto.Zero(e.macKey)
	return plaintext, nil
}

// CanEncryptRequest reports whether the encryptor is still unused.
func (e *Encryptor) CanEncryptRequest() bool {
	return e.state == stateReady
}

// CanDecryptResponse reports whether a response can still be decrypted.
func (e *Encryptor) CanDecryptResponse() bool {
	return e.state == stateResponse
}

func (e *Encryptor) computeMac(encryptedData []byte) []byte {
	sh2 := e.sharedInfo2
	if len(sh2) > sharedInfo2BlockSize {
		sh2 = crypto.SHA256Slice(sh2)
	}
	msg := make([]byte, 0, len(encryptedData)+len(sh2))
	msg = append(msg, encryptedData...)
	msg = append(msg, sh2...)
	return crypto.HMACSHA256Slice(e.macKey, msg)
}

// deriveIV computes the data IV from a message nonce. The construction is
// stable between client and server: first 16 bytes of SHA-256(nonce || "IV").
func deriveIV(nonce []byte) []byte {
	h := crypto.SHA256(append(append([]byte(nil), nonce...), ivLabel...))
	return h[:crypto.AESBlockSize]
}
