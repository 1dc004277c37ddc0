package session

import (
	"github.com/wultra/powerauth-client-core/pkg/crypto"
	"github.com/wultra/powerauth-client-core/pkg/password"
)

// minimumPasswordBytes is the shortest password accepted for signing and
// activation completion, measured in UTF-8 bytes.
const minimumPasswordBytes = 4

// zeroIV is the fixed IV for key wrapping layers. Every wrapped payload is
// a unique random key, so IV reuse does not occur in practice.
var zeroIV = make([]byte, crypto.AESBlockSize)

// SignatureFactorKeys carries the caller supplied factor unlock material
// for one operation. The keys are borrowed: the session never retains them.
type SignatureFactorKeys struct {
	// PossessionUnlockKey is the 16-byte device bound possession key.
	// Required for nearly every stateful operation.
	PossessionUnlockKey []byte

	// Password is the knowledge factor secret.
	Password *password.Password

	// BiometryUnlockKey is the 16-byte biometry protected key.
	BiometryUnlockKey []byte
}

// signatureKeySet holds unwrapped 16-byte signature keys for one operation.
// Unused members are nil. Always destroy the set before returning.
type signatureKeySet struct {
	possession    []byte
	knowledge     []byte
	biometry      []byte
	transport     []byte
	signatureKeys []byte
}

func (ks *signatureKeySet) destroy() {
	crypto.Zero(ks.possession)
	crypto.Zero(ks.knowledge)
	crypto.Zero(ks.biometry)
	crypto.Zero(ks.transport)
	crypto.Zero(ks.signatureKeys)
}

// activationKeys is the full key family derived from the master shared
// secret during activation.
type activationKeys struct {
	possession    []byte
	knowledge     []byte
	biometry      []byte
	transport     []byte
	vault         []byte
	signatureKeys []byte
}

// deriveActivationKeys derives the protocol key family from the raw ECDH
// master shared secret.
func deriveActivationKeys(masterSharedSecret []byte) (*activationKeys, error) {
	sk, err := crypto.ReduceKey(masterSharedSecret)
	if err != nil {
		return nil, ErrEncryption
	}
	defer crypto.Zero(sk)

	vault := crypto.DeriveKey(sk, crypto.KeyIndexVault)
	return &activationKeys{
		possession: crypto.DeriveKey(sk, crypto.KeyIndexPossession),
		knowledge:  crypto.DeriveKey(sk, crypto.KeyIndexKnowledge),
		// The biometry key is derived from the vault key so it can be
		// re-provisioned later from an unlocked vault.
		biometry:      crypto.DeriveKey(vault, crypto.KeyIndexBiometry),
		transport:     crypto.DeriveKey(sk, crypto.KeyIndexTransport),
		vault:         vault,
		signatureKeys: crypto.DeriveKey(sk, crypto.KeyIndexSignatureKeys),
	}, nil
}

func (ak *activationKeys) destroy() {
	crypto.Zero(ak.possession)
	crypto.Zero(ak.knowledge)
	crypto.Zero(ak.biometry)
	crypto.Zero(ak.transport)
	crypto.Zero(ak.vault)
	crypto.Zero(ak.signatureKeys)
}

// validUnlockKey reports whether a caller supplied unlock key has the right
// size and is not all zeros.
func validUnlockKey(key []byte) bool {
	return len(key) == crypto.SymmetricKeySize && !crypto.IsZero(key)
}

// knowledgeKEK derives the knowledge key-encryption key from the password.
func knowledgeKEK(pw *password.Password, salt []byte) []byte {
	return crypto.PBKDF2SHA1(pw.Bytes(), salt, crypto.PBKDF2Iterations, crypto.SymmetricKeySize)
}

// wrapFactorKey protects a 16-byte signature key with its factor KEK and,
// when the external encryption key is present, one more outer layer.
func wrapFactorKey(key, kek, eek []byte) ([]byte, error) {
	wrapped, err := crypto.AESCBCEncryptPad(key, kek, zeroIV)
	if err != nil {
		return nil, ErrEncryption
	}
	if eek != nil {
		outer, err := crypto.AESCBCEncryptPad(wrapped, eek, zeroIV)
		crypto.Zero(wrapped)
		if err != nil {
			return nil, ErrEncryption
		}
		wrapped = outer
	}
	return wrapped, nil
}

// unwrapFactorKey reverses wrapFactorKey. Any padding failure is reported
// as an opaque encryption error.
func unwrapFactorKey(wrapped, kek, eek []byte) ([]byte, error) {
	data := wrapped
	if eek != nil {
		inner, err := crypto.AESCBCDecryptPad(wrapped, eek, zeroIV)
		if err != nil {
			return nil, ErrEncryption
		}
		data = inner
	}
	key, err := crypto.AESCBCDecryptPad(data, kek, zeroIV)
	if eek != nil {
		crypto.Zero(data)
	}
	if err != nil {
		return nil, ErrEncryption
	}
	if len(key) != crypto.SymmetricKeySize {
		crypto.Zero(key)
		return nil, ErrEncryption
	}
	return key, nil
}

// unlockSignatureKeys unwraps the signature keys required by the factor
// mask. The caller owns the returned set and must destroy it.
func (s *Session) unlockSignatureKeys(factor SignatureFactor, keys *SignatureFactorKeys) (*signatureKeySet, error) {
	if keys == nil {
		return nil, ErrWrongParam
	}
	pd := s.pd
	eek, err := s.effectiveEEK()
	if err != nil {
		return nil, err
	}

	set := &signatureKeySet{}
	ok := false
	defer func() {
		if !ok {
			set.destroy()
		}
	}()

	if factor&FactorPossession != 0 {
		if !validUnlockKey(keys.PossessionUnlockKey) {
			return nil, ErrWrongParam
		}
		if set.possession, err = unwrapFactorKey(pd.signatureKeys.possession, keys.PossessionUnlockKey, eek); err != nil {
			return nil, err
		}
	}
	if factor&FactorKnowledge != 0 {
		if keys.Password == nil || keys.Password.ByteLength() < minimumPasswordBytes {
			return nil, ErrWrongParam
		}
		kek := knowledgeKEK(keys.Password, pd.pbkdfSalt)
		set.knowledge, err = unwrapFactorKey(pd.signatureKeys.knowledge, kek, eek)
		crypto.Zero(kek)
		if err != nil {
			return nil, err
		}
	}
	if factor&FactorBiometry != 0 {
		if !pd.hasBiometryFactor() {
			return nil, ErrWrongState
		}
		if !validUnlockKey(keys.BiometryUnlockKey) {
			return nil, ErrWrongParam
		}
		if set.biometry, err = unwrapFactorKey(pd.signatureKeys.biometry, keys.BiometryUnlockKey, eek); err != nil {
			return nil, err
		}
	}
	ok = true
	return set, nil
}

// unlockTransportKey unwraps the transport key using the possession factor.
func (s *Session) unlockTransportKey(keys *SignatureFactorKeys) ([]byte, error) {
	if keys == nil || !validUnlockKey(keys.PossessionUnlockKey) {
		return nil, ErrWrongParam
	}
	eek, err := s.effectiveEEK()
	if err != nil {
		return nil, err
	}
	return unwrapFactorKey(s.pd.signatureKeys.transport, keys.PossessionUnlockKey, eek)
}

// unlockSignatureKeysEncryptionKey unwraps the signature-key encryption key
// using the possession factor.
func (s *Session) unlockSignatureKeysEncryptionKey(keys *SignatureFactorKeys) ([]byte, error) {
	if keys == nil || !validUnlockKey(keys.PossessionUnlockKey) {
		return nil, ErrWrongParam
	}
	eek, err := s.effectiveEEK()
	if err != nil {
		return nil, err
	}
	return unwrapFactorKey(s.pd.signatureKeys.signatureKeys, keys.PossessionUnlockKey, eek)
}

// effectiveEEK returns the external encryption key to apply, or an error
// when the persistent data requires one and it is not set.
func (s *Session) effectiveEEK() ([]byte, error) {
	if s.pd != nil && s.pd.eekUsed {
		if s.eek == nil {
			return nil, ErrWrongState
		}
		return s.eek, nil
	}
	return nil, nil
}

// NormalizeSignatureUnlockKey derives a 16-byte unlock key from arbitrary
// source data with a one-way function. Useful when the possession source
// (device identifiers and similar) is not uniform key material.
func NormalizeSignatureUnlockKey(data []byte) []byte {
	digest := crypto.SHA256(data)
	reduced, _ := crypto.ReduceKey(digest[:])
	return reduced
}
