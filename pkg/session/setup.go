package session

import (
	"encoding/base64"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// SessionSetup carries the application credentials the session is bound to.
// The setup is immutable after the session is created, with the exception of
// the external encryption key which may be supplied later.
type SessionSetup struct {
	// ApplicationKey is the Base64 encoded 16-byte application key.
	ApplicationKey string

	// ApplicationSecret is the Base64 encoded 16-byte application secret.
	ApplicationSecret string

	// MasterServerPublicKey is the Base64 encoded P-256 master server
	// public key, compressed or uncompressed.
	MasterServerPublicKey string

	// ExternalEncryptionKey is an optional 16-byte key adding one more
	// wrapping layer over all factor keys.
	ExternalEncryptionKey []byte
}

// validatedSetup holds the decoded binary form of a SessionSetup.
type validatedSetup struct {
	appKey          []byte
	appSecret       []byte
	masterPublicKey []byte // uncompressed
}

// validate decodes and checks all setup fields.
func (s *SessionSetup) validate() (*validatedSetup, error) {
	appKey, err := base64.StdEncoding.DecodeString(s.ApplicationKey)
	if err != nil || len(appKey) != crypto.SymmetricKeySize {
		return nil, ErrWrongSetup
	}
	appSecret, err := base64.StdEncoding.DecodeString(s.ApplicationSecret)
	if err != nil || len(appSecret) != crypto.SymmetricKeySize {
		return nil, ErrWrongSetup
	}
	masterRaw, err := base64.StdEncoding.DecodeString(s.MasterServerPublicKey)
	if err != nil {
		return nil, ErrWrongSetup
	}
	masterPub, err := crypto.P256NormalizePublicKey(masterRaw)
	if err != nil {
		return nil, ErrWrongSetup
	}
	if s.ExternalEncryptionKey != nil && len(s.ExternalEncryptionKey) != crypto.SymmetricKeySize {
		return nil, ErrWrongSetup
	}
	return &validatedSetup{
		appKey:          appKey,
		appSecret:       appSecret,
		masterPublicKey: masterPub,
	}, nil
}
