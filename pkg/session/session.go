// Package session implements the PowerAuth client session: the long term
// cryptographic context established between a device and the server.
//
// The session is a single-owner object. All operations are synchronous and
// perform no I/O; callers provide transport and persistence. At most one
// mutating operation may be in flight; read-only queries may run only while
// no mutating operation is active.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"time"

	"github.com/pion/logging"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// SessionConfig configures a new Session.
type SessionConfig struct {
	// Setup carries the application credentials. Required.
	Setup SessionSetup

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Rand is the entropy source for all generated keys and nonces.
	// If nil, crypto/rand is used.
	Rand io.Reader

	// Now supplies timestamps for ECIES envelopes. If nil, time.Now.
	Now func() time.Time
}

// Session owns the persistent activation data and dispatches all protocol
// operations.
type Session struct {
	setup SessionSetup
	vs    *validatedSetup
	eek   []byte

	log  logging.LeveledLogger
	rand io.Reader
	now  func() time.Time

	// pd is nil while no activation exists.
	pd *persistentData

	// pending lives between activation start and completion only.
	pending *activationContext

	// needsSerialize is set by every mutation of pd and cleared when the
	// state is serialized.
	needsSerialize bool
}

// NewSession creates a session with the given configuration. The setup is
// validated eagerly; an invalid setup yields ErrWrongSetup.
func NewSession(config SessionConfig) (*Session, error) {
	vs, err := config.Setup.validate()
	if err != nil {
		return nil, err
	}
	s := &Session{
		setup: config.Setup,
		vs:    vs,
		eek:   append([]byte(nil), config.Setup.ExternalEncryptionKey...),
		rand:  config.Rand,
		now:   config.Now,
	}
	if len(s.eek) == 0 {
		s.eek = nil
	}
	if s.rand == nil {
		s.rand = rand.Reader
	}
	if s.now == nil {
		s.now = time.Now
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("session")
	} else {
		s.log = discardLogger{}
	}
	return s, nil
}

// Reset drops the activation and any pending activation. The setup and the
// external encryption key are preserved.
func (s *Session) Reset() {
	s.destroyPending()
	if s.pd != nil {
		s.pd.destroy()
		s.pd = nil
	}
	s.needsSerialize = true
	s.log.Debug("session reset")
}

// HasValidSetup reports whether the session was created with a valid setup.
func (s *Session) HasValidSetup() bool {
	return s.vs != nil
}

// CanStartActivation reports whether a new activation may be started.
func (s *Session) CanStartActivation() bool {
	return s.pd == nil && s.pending == nil
}

// HasPendingActivation reports whether an activation is started but not
// completed.
func (s *Session) HasPendingActivation() bool {
	return s.pending != nil
}

// HasValidActivation reports whether the session holds a completed
// activation and can compute signatures.
func (s *Session) HasValidActivation() bool {
	return s.pd != nil
}

// HasProtocolUpgradeAvailable reports whether the stored activation uses an
// older protocol version and no upgrade is pending yet.
func (s *Session) HasProtocolUpgradeAvailable() bool {
	return s.pd != nil &&
		s.pd.protocolVersion < ProtocolVersionV3 &&
		s.pd.pendingUpgradeVersion == ProtocolVersionNA
}

// HasPendingProtocolUpgrade reports whether a protocol upgrade is in
// progress.
func (s *Session) HasPendingProtocolUpgrade() bool {
	return s.pd != nil && s.pd.pendingUpgradeVersion != ProtocolVersionNA
}

// ProtocolVersion returns the protocol version the session operates in.
// A session without an activation reports the most up to date version.
func (s *Session) ProtocolVersion() ProtocolVersion {
	if s.pd == nil {
		return ProtocolVersionV3
	}
	return s.pd.protocolVersion
}

// ActivationIdentifier returns the activation ID, or an empty string when
// the session has no activation.
func (s *Session) ActivationIdentifier() string {
	if s.pd == nil {
		return ""
	}
	return s.pd.activationID
}

// NeedsSerializeSessionState reports whether the session state changed
// since the last SerializedState call.
func (s *Session) NeedsSerializeSessionState() bool {
	return s.needsSerialize
}

// SerializedState saves the session state into a byte blob. Saving during a
// pending activation returns the state from before the activation started.
func (s *Session) SerializedState() []byte {
	s.needsSerialize = false
	return serializePersistentData(s.pd, s.vs.appSecret)
}

// Deserialize loads a previously serialized state. On failure the session
// ends in the empty state and the error describes the reason.
func (s *Session) Deserialize(state []byte) error {
	s.destroyPending()
	if s.pd != nil {
		s.pd.destroy()
		s.pd = nil
	}
	pd, err := deserializePersistentData(state, s.vs.appSecret)
	if err != nil {
		s.log.Warnf("deserialization failed: %v", err)
		return err
	}
	s.pd = pd
	s.needsSerialize = false
	s.log.Debugf("session state restored, activated=%v", pd != nil)
	return nil
}

// GenerateSignatureUnlockKey returns a new random 16-byte unlock key,
// suitable for protecting a signature factor.
func (s *Session) GenerateSignatureUnlockKey() ([]byte, error) {
	key, err := crypto.RandomBytes(s.rand, crypto.SymmetricKeySize)
	if err != nil {
		return nil, ErrEncryption
	}
	return key, nil
}

// GenerateActivationStatusChallenge returns a new Base64 encoded 16-byte
// challenge for the status endpoint.
func (s *Session) GenerateActivationStatusChallenge() (string, error) {
	challenge, err := crypto.RandomBytes(s.rand, crypto.AESBlockSize)
	if err != nil {
		return "", ErrEncryption
	}
	return base64.StdEncoding.EncodeToString(challenge), nil
}

// discardLogger drops all log records. Used when no LoggerFactory is set.
type discardLogger struct{}

func (discardLogger) Trace(string)                  {}
func (discardLogger) Tracef(string, ...interface{}) {}
func (discardLogger) Debug(string)                  {}
func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Info(string)                   {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Warn(string)                   {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Error(string)                  {}
func (discardLogger) Errorf(string, ...interface{}) {}
