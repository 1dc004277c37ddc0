package session

import (
	"github.com/wultra/powerauth-client-core/pkg/crypto"
	"github.com/wultra/powerauth-client-core/pkg/ecies"
)

// ECIESScope selects the key scope of an ECIES encryptor.
type ECIESScope int

const (
	// ECIESScopeApplication encrypts for the application scope, bound to
	// the master server public key. Available without an activation.
	ECIESScopeApplication ECIESScope = iota

	// ECIESScopeActivation encrypts for the activation scope, bound to
	// the personalized server public key and the transport key. Requires
	// a valid activation and the possession unlock key.
	ECIESScopeActivation
)

// ECIESEncryptorForScope constructs a single-use ECIES encryptor for the
// requested scope. The keys parameter is required for the activation scope
// and ignored for the application scope.
func (s *Session) ECIESEncryptorForScope(scope ECIESScope, keys *SignatureFactorKeys, sharedInfo1 []byte) (*ecies.Encryptor, error) {
	switch scope {
	case ECIESScopeApplication:
		sharedInfo2 := crypto.SHA256Slice([]byte(s.setup.ApplicationSecret))
		encryptor, err := ecies.NewEncryptor(ecies.EncryptorConfig{
			PeerPublicKey: s.vs.masterPublicKey,
			SharedInfo1:   sharedInfo1,
			SharedInfo2:   sharedInfo2,
			Rand:          s.rand,
			Now:           s.now,
		})
		if err != nil {
			return nil, ErrEncryption
		}
		return encryptor, nil

	case ECIESScopeActivation:
		if s.pd == nil {
			return nil, ErrWrongState
		}
		transportKey, err := s.unlockTransportKey(keys)
		if err != nil {
			return nil, err
		}
		sharedInfo2 := crypto.HMACSHA256Slice(transportKey, []byte(s.setup.ApplicationSecret))
		crypto.Zero(transportKey)
		encryptor, err := ecies.NewEncryptor(ecies.EncryptorConfig{
			PeerPublicKey: s.pd.serverPublicKey,
			SharedInfo1:   sharedInfo1,
			SharedInfo2:   sharedInfo2,
			Rand:          s.rand,
			Now:           s.now,
		})
		if err != nil {
			return nil, ErrEncryption
		}
		return encryptor, nil

	default:
		return nil, ErrWrongParam
	}
}
