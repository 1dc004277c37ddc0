package session

import (
	"bytes"
	"encoding/base64"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// ActivationState is the server reported state of an activation.
type ActivationState byte

const (
	// ActivationStateCreated means the activation was just created.
	ActivationStateCreated ActivationState = 1

	// ActivationStatePendingCommit means the activation is not yet
	// committed on the server.
	ActivationStatePendingCommit ActivationState = 2

	// ActivationStateActive means the shared context is valid and
	// signatures can be computed.
	ActivationStateActive ActivationState = 3

	// ActivationStateBlocked means the activation is blocked.
	ActivationStateBlocked ActivationState = 4

	// ActivationStateRemoved means the activation no longer exists.
	ActivationStateRemoved ActivationState = 5

	// ActivationStateDeadlock means the activation is technically
	// blocked and can no longer be used for signatures.
	ActivationStateDeadlock ActivationState = 128
)

// String returns the state name.
func (s ActivationState) String() string {
	switch s {
	case ActivationStateCreated:
		return "Created"
	case ActivationStatePendingCommit:
		return "PendingCommit"
	case ActivationStateActive:
		return "Active"
	case ActivationStateBlocked:
		return "Blocked"
	case ActivationStateRemoved:
		return "Removed"
	case ActivationStateDeadlock:
		return "Deadlock"
	default:
		return "Unknown"
	}
}

// statusKDFLabel prefixes the status key derivation input.
var statusKDFLabel = []byte("status")

// statusPlaintextSize is the fixed layout size of the decrypted status.
const statusPlaintextSize = 23

// EncryptedActivationStatus carries the encrypted status blob and its
// decryption parameters, all Base64 encoded.
type EncryptedActivationStatus struct {
	// Challenge is the 16-byte challenge the client sent.
	Challenge string

	// EncryptedStatusBlob is the encrypted status with its MAC trailer.
	EncryptedStatusBlob string

	// Nonce is the 16-byte nonce the server returned.
	Nonce string
}

// ActivationStatus is the decoded state of the activation on the server.
type ActivationStatus struct {
	// State is the activation state.
	State ActivationState

	// FailCount is the number of failed authentication attempts in a row.
	FailCount uint32

	// MaxFailCount is the maximum number of failed attempts allowed.
	MaxFailCount uint32

	// CurrentVersion and UpgradeVersion are the protocol versions the
	// server reports for this activation.
	CurrentVersion byte
	UpgradeVersion byte

	// CtrLookAhead is the server's counter look-ahead window.
	CtrLookAhead byte

	// IsProtocolUpgradeAvailable is true when the server offers a newer
	// protocol version.
	IsProtocolUpgradeAvailable bool

	// IsSignatureCalculationRecommended is true when the counters are
	// close to desynchronization and a dummy signature would resync them.
	IsSignatureCalculationRecommended bool

	// NeedsSerializeSessionState is true when the decode updated the
	// session state and it should be saved.
	NeedsSerializeSessionState bool
}

// RemainingAttempts returns how many failed attempts remain before the
// activation is blocked. Zero unless the activation is active.
func (st *ActivationStatus) RemainingAttempts() uint32 {
	if st.State == ActivationStateActive && st.MaxFailCount >= st.FailCount {
		return st.MaxFailCount - st.FailCount
	}
	return 0
}

// DecodeActivationStatus decrypts and parses the status blob received from
// the server. A valid possession unlock key is required. When the server's
// counter drifted away from the local value, the local counter is resynced
// and the returned status asks for a state save.
func (s *Session) DecodeActivationStatus(status EncryptedActivationStatus, keys *SignatureFactorKeys) (*ActivationStatus, error) {
	if s.pd == nil {
		return nil, ErrWrongState
	}
	challenge, err := base64.StdEncoding.DecodeString(status.Challenge)
	if err != nil || len(challenge) != crypto.AESBlockSize {
		return nil, ErrWrongData
	}
	nonce, err := base64.StdEncoding.DecodeString(status.Nonce)
	if err != nil || len(nonce) != crypto.AESBlockSize {
		return nil, ErrWrongData
	}
	blob, err := base64.StdEncoding.DecodeString(status.EncryptedStatusBlob)
	if err != nil || len(blob) <= crypto.SHA256LenBytes {
		return nil, ErrWrongData
	}
	ciphertext := blob[:len(blob)-crypto.SHA256LenBytes]
	mac := blob[len(blob)-crypto.SHA256LenBytes:]

	transportKey, err := s.unlockTransportKey(keys)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(transportKey)

	info := make([]byte, 0, len(statusKDFLabel)+len(challenge)+len(nonce))
	info = append(info, statusKDFLabel...)
	info = append(info, challenge...)
	info = append(info, nonce...)
	statusKey := crypto.KDFX963(transportKey, info, 2*crypto.SymmetricKeySize)
	defer crypto.Zero(statusKey)
	encKey, macKey := statusKey[:crypto.SymmetricKeySize], statusKey[crypto.SymmetricKeySize:]

	if !crypto.HMACEqual(crypto.HMACSHA256Slice(macKey, ciphertext), mac) {
		return nil, ErrEncryption
	}
	plaintext, err := crypto.AESCBCDecryptPad(ciphertext, encKey, nonce)
	if err != nil {
		return nil, ErrEncryption
	}
	defer crypto.Zero(plaintext)
	if len(plaintext) < statusPlaintextSize {
		return nil, ErrWrongData
	}

	decoded := &ActivationStatus{
		CurrentVersion: plaintext[0],
		UpgradeVersion: plaintext[1],
		State:          ActivationState(plaintext[2]),
		FailCount:      uint32(plaintext[4]),
		MaxFailCount:   uint32(plaintext[5]),
		CtrLookAhead:   plaintext[6],
	}
	switch decoded.State {
	case ActivationStateCreated, ActivationStatePendingCommit, ActivationStateActive,
		ActivationStateBlocked, ActivationStateRemoved, ActivationStateDeadlock:
	default:
		return nil, ErrWrongData
	}
	decoded.IsProtocolUpgradeAvailable = decoded.UpgradeVersion > decoded.CurrentVersion

	serverCounter := append([]byte(nil), plaintext[7:7+crypto.SymmetricKeySize]...)
	s.resyncCounter(decoded, serverCounter)

	s.pd.failedAttempts = decoded.FailCount
	s.pd.maxFailedAttempts = decoded.MaxFailCount
	if decoded.NeedsSerializeSessionState {
		s.needsSerialize = true
	}
	s.log.Debugf("status decoded, state=%s", decoded.State)
	return decoded, nil
}

// resyncCounter compares the server counter with the local hash-chain
// state. When the local counter is ahead within the look-ahead window, a
// dummy signature is recommended once the drift passes half the window.
// When the local value cannot be found in the window at all, the local
// counter adopts the server value.
func (s *Session) resyncCounter(decoded *ActivationStatus, serverCounter []byte) {
	if s.pd.protocolVersion != ProtocolVersionV3 {
		return
	}
	drift := -1
	probe := serverCounter
	for i := 0; i <= int(decoded.CtrLookAhead); i++ {
		if bytes.Equal(probe, s.pd.counterData) {
			drift = i
			break
		}
		probe = nextCounterData(probe)
	}
	switch {
	case drift < 0:
		s.pd.counterData = serverCounter
		decoded.NeedsSerializeSessionState = true
		s.log.Debug("counter resynced from status")
	case drift > int(decoded.CtrLookAhead)/2:
		decoded.IsSignatureCalculationRecommended = true
		decoded.NeedsSerializeSessionState = true
	}
}
