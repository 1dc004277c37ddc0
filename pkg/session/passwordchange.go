package session

import (
	"github.com/wultra/powerauth-client-core/pkg/crypto"
	"github.com/wultra/powerauth-client-core/pkg/password"
)

// ChangeUserPassword re-encrypts the knowledge factor key with a new
// password and a fresh salt.
//
// The old password is checked only locally, not against the server: a wrong
// old password fails to unwrap the knowledge key and the call returns
// ErrEncryption with the stored state unchanged.
//
// Save the session state afterwards.
func (s *Session) ChangeUserPassword(oldPassword, newPassword *password.Password) error {
	if s.pd == nil {
		return ErrWrongState
	}
	if oldPassword == nil || oldPassword.ByteLength() < minimumPasswordBytes ||
		newPassword == nil || newPassword.ByteLength() < minimumPasswordBytes {
		return ErrWrongParam
	}
	eek, err := s.effectiveEEK()
	if err != nil {
		return err
	}

	oldKEK := knowledgeKEK(oldPassword, s.pd.pbkdfSalt)
	knowledgeKey, err := unwrapFactorKey(s.pd.signatureKeys.knowledge, oldKEK, eek)
	crypto.Zero(oldKEK)
	if err != nil {
		return err
	}
	defer crypto.Zero(knowledgeKey)

	newSalt, err := crypto.RandomBytes(s.rand, crypto.SymmetricKeySize)
	if err != nil {
		return ErrEncryption
	}
	newKEK := knowledgeKEK(newPassword, newSalt)
	wrapped, err := wrapFactorKey(knowledgeKey, newKEK, eek)
	crypto.Zero(newKEK)
	if err != nil {
		return err
	}

	crypto.Zero(s.pd.signatureKeys.knowledge)
	crypto.Zero(s.pd.pbkdfSalt)
	s.pd.signatureKeys.knowledge = wrapped
	s.pd.pbkdfSalt = newSalt
	s.needsSerialize = true
	s.log.Debug("user password changed")
	return nil
}
