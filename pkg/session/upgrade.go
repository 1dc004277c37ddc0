package session

import (
	"encoding/base64"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// ProtocolUpgradeData carries the data required to upgrade an activation
// to protocol V3.
type ProtocolUpgradeData struct {
	// CtrData is the Base64 encoded 16-byte initial hash-chain counter
	// issued by the server for the upgraded activation.
	CtrData string
}

// StartProtocolUpgrade formally starts the upgrade of a V2 activation to
// V3. Calling it again while the upgrade is pending has no effect.
//
// Save the session state afterwards.
func (s *Session) StartProtocolUpgrade() error {
	if s.pd == nil {
		return ErrWrongState
	}
	if s.pd.pendingUpgradeVersion == ProtocolVersionV3 {
		return nil
	}
	if s.pd.protocolVersion != ProtocolVersionV2 {
		return ErrWrongState
	}
	s.pd.pendingUpgradeVersion = ProtocolVersionV3
	s.needsSerialize = true
	s.log.Debug("protocol upgrade started")
	return nil
}

// PendingProtocolUpgradeVersion returns the version the session is being
// upgraded to, or ProtocolVersionNA when no upgrade is pending.
func (s *Session) PendingProtocolUpgradeVersion() ProtocolVersion {
	if s.pd == nil {
		return ProtocolVersionNA
	}
	return s.pd.pendingUpgradeVersion
}

// ApplyProtocolUpgradeData installs the new hash-chain counter and switches
// the activation to protocol V3.
//
// Save the session state afterwards.
func (s *Session) ApplyProtocolUpgradeData(data ProtocolUpgradeData) error {
	if s.pd == nil || s.pd.pendingUpgradeVersion != ProtocolVersionV3 {
		return ErrWrongState
	}
	if s.pd.protocolVersion != ProtocolVersionV2 {
		return ErrWrongState
	}
	counterData, err := base64.StdEncoding.DecodeString(data.CtrData)
	if err != nil || len(counterData) != crypto.SymmetricKeySize {
		return ErrWrongData
	}
	s.pd.counterData = counterData
	s.pd.counterV2 = 0
	s.pd.protocolVersion = ProtocolVersionV3
	s.needsSerialize = true
	s.log.Debug("protocol upgrade data applied")
	return nil
}

// FinishProtocolUpgrade formally ends the upgrade. The call is legal only
// when the stored protocol version already equals the pending target.
//
// Save the session state afterwards.
func (s *Session) FinishProtocolUpgrade() error {
	if s.pd == nil || s.pd.pendingUpgradeVersion == ProtocolVersionNA {
		return ErrWrongState
	}
	if s.pd.protocolVersion != s.pd.pendingUpgradeVersion {
		return ErrWrongState
	}
	s.pd.pendingUpgradeVersion = ProtocolVersionNA
	s.needsSerialize = true
	s.log.Debug("protocol upgrade finished")
	return nil
}
