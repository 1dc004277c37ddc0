package session

import (
	"encoding/base64"
	"fmt"

	"github.com/wultra/powerauth-client-core/pkg/code"
	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// activationContext is the ephemeral state living between activation start
// and completion. It never survives serialization.
type activationContext struct {
	step int

	deviceKeyPair *crypto.P256KeyPair

	// Filled in by ValidateActivationResponse (step 2).
	activationID    string
	serverPublicKey []byte // uncompressed
	keys            *activationKeys
	counterData     []byte
	recovery        *RecoveryData
	fingerprint     string
}

const (
	activationStepStarted   = 1
	activationStepValidated = 2
)

func (s *Session) destroyPending() {
	if s.pending == nil {
		return
	}
	if s.pending.keys != nil {
		s.pending.keys.destroy()
	}
	crypto.Zero(s.pending.counterData)
	s.pending = nil
}

// RecoveryData is the recovery code and PUK pair issued by the server
// during activation.
type RecoveryData struct {
	// RecoveryCode is the code in the "XXXXX-XXXXX-XXXXX-XXXXX" format,
	// without the "R:" prefix.
	RecoveryCode string

	// PUK is the 10-digit recovery PUK.
	PUK string
}

// StartActivationParam is the input to StartActivation.
type StartActivationParam struct {
	// ActivationCode is the parsed activation code. Nil for custom or
	// recovery driven activations where no code is involved.
	ActivationCode *code.ActivationCode
}

// StartActivationResult is the output of StartActivation.
type StartActivationResult struct {
	// DevicePublicKey is the Base64 encoded device public key to send
	// to the server, wrapped in an application scoped ECIES payload.
	DevicePublicKey string
}

// StartActivation begins a new activation. The session must have no
// activation and no pending activation. When the activation code carries a
// signature, the signature is verified against the master server public key.
func (s *Session) StartActivation(param StartActivationParam) (*StartActivationResult, error) {
	if !s.CanStartActivation() {
		return nil, ErrWrongState
	}
	if param.ActivationCode != nil {
		if !code.ValidateActivationCode(param.ActivationCode.Code) {
			return nil, ErrWrongCode
		}
		if param.ActivationCode.HasSignature() {
			if err := s.verifyCodeSignature(param.ActivationCode); err != nil {
				return nil, err
			}
		}
	}

	deviceKeyPair, err := crypto.P256GenerateKeyPair(s.rand)
	if err != nil {
		return nil, ErrEncryption
	}
	s.pending = &activationContext{
		step:          activationStepStarted,
		deviceKeyPair: deviceKeyPair,
	}
	s.log.Debug("activation started")
	return &StartActivationResult{
		DevicePublicKey: base64.StdEncoding.EncodeToString(deviceKeyPair.PublicKey()),
	}, nil
}

// ValidateActivationResponseParam is the decrypted activation response.
type ValidateActivationResponseParam struct {
	// ActivationID is the server assigned activation identifier.
	ActivationID string

	// ServerPublicKey is the Base64 encoded server public key for this
	// activation.
	ServerPublicKey string

	// CtrData is the Base64 encoded 16-byte initial counter value.
	CtrData string

	// ActivationRecovery optionally carries recovery credentials.
	ActivationRecovery *RecoveryData
}

// ValidateActivationResponseResult is the output of
// ValidateActivationResponse.
type ValidateActivationResponseResult struct {
	// ActivationFingerprint is the decimal code both sides display for
	// visual confirmation of the key exchange.
	ActivationFingerprint string
}

// ValidateActivationResponse processes the server's activation response,
// computes the shared secret and derives the activation key family. The
// handshake is complete from the network point of view afterwards; call
// CompleteActivation to protect the keys with user factors.
func (s *Session) ValidateActivationResponse(param ValidateActivationResponseParam) (*ValidateActivationResponseResult, error) {
	if s.pending == nil || s.pending.step != activationStepStarted {
		return nil, ErrWrongState
	}
	if param.ActivationID == "" {
		return nil, ErrWrongParam
	}
	serverRaw, err := base64.StdEncoding.DecodeString(param.ServerPublicKey)
	if err != nil {
		return nil, ErrWrongData
	}
	serverPublicKey, err := crypto.P256NormalizePublicKey(serverRaw)
	if err != nil {
		return nil, ErrWrongData
	}
	counterData, err := base64.StdEncoding.DecodeString(param.CtrData)
	if err != nil {
		return nil, ErrWrongData
	}
	if len(counterData) != crypto.SymmetricKeySize {
		return nil, ErrWrongData
	}
	if param.ActivationRecovery != nil {
		if !code.ValidateRecoveryCode(param.ActivationRecovery.RecoveryCode, false) ||
			!code.ValidateRecoveryPUK(param.ActivationRecovery.PUK) {
			return nil, ErrWrongCode
		}
	}

	masterSharedSecret, err := s.pending.deviceKeyPair.ECDH(serverPublicKey)
	if err != nil {
		return nil, ErrEncryption
	}
	keys, err := deriveActivationKeys(masterSharedSecret)
	crypto.Zero(masterSharedSecret)
	if err != nil {
		return nil, err
	}

	ctx := s.pending
	ctx.step = activationStepValidated
	ctx.activationID = param.ActivationID
	ctx.serverPublicKey = serverPublicKey
	ctx.keys = keys
	ctx.counterData = counterData
	ctx.recovery = param.ActivationRecovery
	ctx.fingerprint = activationFingerprint(ctx.deviceKeyPair.PublicKey(), param.ActivationID, serverPublicKey)
	s.log.Debug("activation response validated")
	return &ValidateActivationResponseResult{ActivationFingerprint: ctx.fingerprint}, nil
}

// CompleteActivation protects the derived signature keys with the provided
// factor keys and transitions the session to the activated state. The
// possession unlock key and a password of at least four bytes are required;
// the biometry unlock key is optional.
//
// Save the session state after this call succeeds.
func (s *Session) CompleteActivation(keys *SignatureFactorKeys) error {
	if s.pending == nil || s.pending.step != activationStepValidated {
		return ErrWrongState
	}
	if keys == nil || !validUnlockKey(keys.PossessionUnlockKey) {
		return ErrWrongParam
	}
	if keys.Password == nil || keys.Password.ByteLength() < minimumPasswordBytes {
		return ErrWrongParam
	}
	if keys.BiometryUnlockKey != nil && !validUnlockKey(keys.BiometryUnlockKey) {
		return ErrWrongParam
	}

	ctx := s.pending
	ak := ctx.keys

	pbkdfSalt, err := crypto.RandomBytes(s.rand, crypto.SymmetricKeySize)
	if err != nil {
		return ErrEncryption
	}
	kek := knowledgeKEK(keys.Password, pbkdfSalt)
	defer crypto.Zero(kek)

	pd := &persistentData{
		activationID:      ctx.activationID,
		pbkdfSalt:         pbkdfSalt,
		protocolVersion:   ProtocolVersionV3,
		counterData:       append([]byte(nil), ctx.counterData...),
		eekUsed:           s.eek != nil,
		maxFailedAttempts: defaultMaxFailedAttempts,
		fingerprint:       ctx.fingerprint,
	}
	if pd.serverPublicKey, err = crypto.P256CompressPublicKey(ctx.serverPublicKey); err != nil {
		return ErrEncryption
	}

	slots := &pd.signatureKeys
	if slots.possession, err = wrapFactorKey(ak.possession, keys.PossessionUnlockKey, s.eek); err != nil {
		return err
	}
	if slots.knowledge, err = wrapFactorKey(ak.knowledge, kek, s.eek); err != nil {
		return err
	}
	if keys.BiometryUnlockKey != nil {
		if slots.biometry, err = wrapFactorKey(ak.biometry, keys.BiometryUnlockKey, s.eek); err != nil {
			return err
		}
	}
	if slots.transport, err = wrapFactorKey(ak.transport, keys.PossessionUnlockKey, s.eek); err != nil {
		return err
	}
	if slots.signatureKeys, err = wrapFactorKey(ak.signatureKeys, keys.PossessionUnlockKey, s.eek); err != nil {
		return err
	}

	devicePrivateKey := ctx.deviceKeyPair.PrivateKey()
	pd.devicePrivateKeyEncrypted, err = crypto.AESCBCEncryptPad(devicePrivateKey, ak.vault, deviceKeyIV(ctx.activationID))
	crypto.Zero(devicePrivateKey)
	if err != nil {
		return ErrEncryption
	}

	if ctx.recovery != nil {
		recoveryKey := crypto.DeriveKey(ak.vault, crypto.KeyIndexRecovery)
		pd.recoveryDataEncrypted, err = sealRecoveryData(ctx.recovery, recoveryKey)
		crypto.Zero(recoveryKey)
		if err != nil {
			return err
		}
	}

	s.destroyPending()
	s.pd = pd
	s.needsSerialize = true
	s.log.Debugf("activation completed, id=%s", pd.activationID)
	return nil
}

// ActivationFingerprint returns the decimal fingerprint of a valid or
// pending-validated activation, or an empty string.
func (s *Session) ActivationFingerprint() string {
	if s.pending != nil {
		return s.pending.fingerprint
	}
	if s.pd == nil {
		return ""
	}
	return s.pd.fingerprint
}

// defaultMaxFailedAttempts seeds the status mirror until the first status
// blob is decoded.
const defaultMaxFailedAttempts = 5

// activationFingerprint computes the decimalized fingerprint from the
// device public key, activation identifier and server public key.
func activationFingerprint(devicePublicKey []byte, activationID string, serverPublicKey []byte) string {
	input := make([]byte, 0, len(devicePublicKey)+len(activationID)+len(serverPublicKey))
	input = append(input, devicePublicKey...)
	input = append(input, activationID...)
	input = append(input, serverPublicKey...)
	digest := crypto.SHA256(input)

	// Three 8-digit groups from the last twelve digest bytes.
	return fmt.Sprintf("%s-%s-%s",
		decimalizeChunk(digest[20:24]),
		decimalizeChunk(digest[24:28]),
		decimalizeChunk(digest[28:32]))
}

// verifyCodeSignature checks the activation code signature with the master
// server public key.
func (s *Session) verifyCodeSignature(ac *code.ActivationCode) error {
	signature, err := base64.StdEncoding.DecodeString(ac.Signature)
	if err != nil || len(signature) == 0 {
		return ErrWrongSignature
	}
	ok, err := crypto.P256Verify(s.vs.masterPublicKey, []byte(ac.Code), signature)
	if err != nil || !ok {
		return ErrWrongSignature
	}
	return nil
}

// deviceKeyIV derives the deterministic IV protecting the device private
// key blob from the activation identifier.
func deviceKeyIV(activationID string) []byte {
	digest := crypto.SHA256([]byte(activationID))
	return digest[:crypto.AESBlockSize]
}
