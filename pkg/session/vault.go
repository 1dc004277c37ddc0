package session

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// unlockVaultKey decrypts the server issued vault key. The blob is wrapped
// twice: by the transport key and by the signature-key encryption key, both
// of which unlock with the possession factor.
func (s *Session) unlockVaultKey(cVaultKey string, keys *SignatureFactorKeys) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(cVaultKey)
	if err != nil || len(blob) == 0 {
		return nil, ErrWrongData
	}
	transportKey, err := s.unlockTransportKey(keys)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(transportKey)
	signatureKeysKey, err := s.unlockSignatureKeysEncryptionKey(keys)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(signatureKeysKey)

	inner, err := crypto.AESCBCDecryptPad(blob, transportKey, zeroIV)
	if err != nil {
		return nil, ErrEncryption
	}
	vaultKey, err := crypto.AESCBCDecryptPad(inner, signatureKeysKey, zeroIV)
	crypto.Zero(inner)
	if err != nil {
		return nil, ErrEncryption
	}
	if len(vaultKey) != crypto.SymmetricKeySize {
		crypto.Zero(vaultKey)
		return nil, ErrEncryption
	}
	return vaultKey, nil
}

// DeriveCryptographicKey derives a 16-byte application key from the vault
// key at the given index. The derived key must not be stored permanently;
// the server based protection is void otherwise.
func (s *Session) DeriveCryptographicKey(cVaultKey string, keys *SignatureFactorKeys, keyIndex uint64) ([]byte, error) {
	if s.pd == nil {
		return nil, ErrWrongState
	}
	vaultKey, err := s.unlockVaultKey(cVaultKey, keys)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(vaultKey)
	return crypto.DeriveKey(vaultKey, keyIndex), nil
}

// SignDataWithDevicePrivateKey computes an ECDSA-SHA256 signature of the
// data with the device private key. The private key plaintext exists only
// for the duration of the call.
func (s *Session) SignDataWithDevicePrivateKey(cVaultKey string, keys *SignatureFactorKeys, data []byte) ([]byte, error) {
	if s.pd == nil {
		return nil, ErrWrongState
	}
	vaultKey, err := s.unlockVaultKey(cVaultKey, keys)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(vaultKey)

	devicePrivateKey, err := crypto.AESCBCDecryptPad(
		s.pd.devicePrivateKeyEncrypted, vaultKey, deviceKeyIV(s.pd.activationID))
	if err != nil {
		return nil, ErrEncryption
	}
	defer crypto.Zero(devicePrivateKey)

	keyPair, err := crypto.P256KeyPairFromPrivateKey(devicePrivateKey)
	if err != nil {
		return nil, ErrEncryption
	}
	signature, err := keyPair.Sign(s.rand, data)
	if err != nil {
		return nil, ErrEncryption
	}
	return signature, nil
}

// AddBiometryFactor re-provisions the biometry signature key from the
// unlocked vault and protects it with the provided biometry unlock key.
//
// Save the session state afterwards.
func (s *Session) AddBiometryFactor(cVaultKey string, keys *SignatureFactorKeys) error {
	if s.pd == nil {
		return ErrWrongState
	}
	if keys == nil || !validUnlockKey(keys.BiometryUnlockKey) {
		return ErrWrongParam
	}
	vaultKey, err := s.unlockVaultKey(cVaultKey, keys)
	if err != nil {
		return err
	}
	defer crypto.Zero(vaultKey)

	biometryKey := crypto.DeriveKey(vaultKey, crypto.KeyIndexBiometry)
	defer crypto.Zero(biometryKey)
	eek, err := s.effectiveEEK()
	if err != nil {
		return err
	}
	wrapped, err := wrapFactorKey(biometryKey, keys.BiometryUnlockKey, eek)
	if err != nil {
		return err
	}
	crypto.Zero(s.pd.signatureKeys.biometry)
	s.pd.signatureKeys.biometry = wrapped
	s.needsSerialize = true
	s.log.Debug("biometry factor added")
	return nil
}

// HasBiometryFactor reports whether a biometry signature key is present.
func (s *Session) HasBiometryFactor() bool {
	return s.pd != nil && s.pd.hasBiometryFactor()
}

// RemoveBiometryFactor erases the biometry signature key.
//
// Save the session state afterwards.
func (s *Session) RemoveBiometryFactor() error {
	if s.pd == nil {
		return ErrWrongState
	}
	crypto.Zero(s.pd.signatureKeys.biometry)
	s.pd.signatureKeys.biometry = nil
	s.needsSerialize = true
	s.log.Debug("biometry factor removed")
	return nil
}

// HasActivationRecoveryData reports whether recovery credentials are sealed
// in the session state.
func (s *Session) HasActivationRecoveryData() bool {
	return s.pd != nil && s.pd.hasRecoveryData()
}

// ActivationRecoveryData unseals the recovery code and PUK stored during
// activation. A valid possession unlock key is required.
func (s *Session) ActivationRecoveryData(cVaultKey string, keys *SignatureFactorKeys) (*RecoveryData, error) {
	if s.pd == nil {
		return nil, ErrWrongState
	}
	if !s.pd.hasRecoveryData() {
		return nil, ErrWrongState
	}
	vaultKey, err := s.unlockVaultKey(cVaultKey, keys)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(vaultKey)

	recoveryKey := crypto.DeriveKey(vaultKey, crypto.KeyIndexRecovery)
	defer crypto.Zero(recoveryKey)
	return openRecoveryData(s.pd.recoveryDataEncrypted, recoveryKey)
}

// sealRecoveryData encrypts the recovery credentials under the recovery
// key derived from the vault key.
func sealRecoveryData(recovery *RecoveryData, recoveryKey []byte) ([]byte, error) {
	codeBytes := []byte(recovery.RecoveryCode)
	pukBytes := []byte(recovery.PUK)
	plaintext := make([]byte, 0, 4+len(codeBytes)+len(pukBytes))
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(codeBytes)))
	plaintext = append(plaintext, length[:]...)
	plaintext = append(plaintext, codeBytes...)
	binary.BigEndian.PutUint16(length[:], uint16(len(pukBytes)))
	plaintext = append(plaintext, length[:]...)
	plaintext = append(plaintext, pukBytes...)
	defer crypto.Zero(plaintext)

	sealed, err := crypto.AESCBCEncryptPad(plaintext, recoveryKey, zeroIV)
	if err != nil {
		return nil, ErrEncryption
	}
	return sealed, nil
}

// openRecoveryData reverses sealRecoveryData.
func openRecoveryData(sealed, recoveryKey []byte) (*RecoveryData, error) {
	plaintext, err := crypto.AESCBCDecryptPad(sealed, recoveryKey, zeroIV)
	if err != nil {
		return nil, ErrEncryption
	}
	defer crypto.Zero(plaintext)

	if len(plaintext) < 2 {
		return nil, ErrWrongData
	}
	codeLen := int(binary.BigEndian.Uint16(plaintext[:2]))
	if len(plaintext) < 2+codeLen+2 {
		return nil, ErrWrongData
	}
	pukLen := int(binary.BigEndian.Uint16(plaintext[2+codeLen : 4+codeLen]))
	if len(plaintext) != 4+codeLen+pukLen {
		return nil, ErrWrongData
	}
	return &RecoveryData{
		RecoveryCode: string(plaintext[2 : 2+codeLen]),
		PUK:          string(plaintext[4+codeLen:]),
	}, nil
}
