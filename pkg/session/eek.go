package session

import "github.com/wultra/powerauth-client-core/pkg/crypto"

// HasExternalEncryptionKey reports whether an external encryption key is
// set in the runtime setup.
func (s *Session) HasExternalEncryptionKey() bool {
	return s.eek != nil
}

// SetExternalEncryptionKey supplies a known external encryption key to a
// session restored without one. The key is not applied to the stored
// factor keys; it only enables operations on a state that already uses it.
func (s *Session) SetExternalEncryptionKey(key []byte) error {
	if len(key) != crypto.SymmetricKeySize {
		return ErrWrongParam
	}
	if s.eek != nil {
		return ErrWrongState
	}
	if s.pd != nil && !s.pd.eekUsed {
		return ErrWrongState
	}
	s.eek = append([]byte(nil), key...)
	s.log.Debug("external encryption key set")
	return nil
}

// AddExternalEncryptionKey applies a new external encryption key to an
// activated session that does not use one yet. All factor key slots gain
// one more wrapping layer.
//
// Save the session state afterwards.
func (s *Session) AddExternalEncryptionKey(key []byte) error {
	if len(key) != crypto.SymmetricKeySize || crypto.IsZero(key) {
		return ErrWrongParam
	}
	if s.pd == nil || s.pd.eekUsed || s.eek != nil {
		return ErrWrongState
	}
	if err := s.transcryptFactorSlots(nil, key); err != nil {
		return err
	}
	s.eek = append([]byte(nil), key...)
	s.pd.eekUsed = true
	s.needsSerialize = true
	s.log.Debug("external encryption key added")
	return nil
}

// RemoveExternalEncryptionKey permanently removes the external encryption
// key layer from the activated session. The session must be activated and
// the key must be present.
//
// Save the session state afterwards.
func (s *Session) RemoveExternalEncryptionKey() error {
	if s.pd == nil || !s.pd.eekUsed || s.eek == nil {
		return ErrWrongState
	}
	if err := s.transcryptFactorSlots(s.eek, nil); err != nil {
		return err
	}
	crypto.Zero(s.eek)
	s.eek = nil
	s.pd.eekUsed = false
	s.needsSerialize = true
	s.log.Debug("external encryption key removed")
	return nil
}

// transcryptFactorSlots removes the oldEEK layer and applies the newEEK
// layer on every occupied factor slot. Either key may be nil. The update is
// atomic: the slots are replaced only after every slot converted.
func (s *Session) transcryptFactorSlots(oldEEK, newEEK []byte) error {
	slots := []*[]byte{
		&s.pd.signatureKeys.possession,
		&s.pd.signatureKeys.knowledge,
		&s.pd.signatureKeys.biometry,
		&s.pd.signatureKeys.transport,
		&s.pd.signatureKeys.signatureKeys,
	}
	converted := make([][]byte, len(slots))
	for i, slot := range slots {
		if len(*slot) == 0 {
			continue
		}
		data := *slot
		if oldEEK != nil {
			inner, err := crypto.AESCBCDecryptPad(data, oldEEK, zeroIV)
			if err != nil {
				return ErrEncryption
			}
			data = inner
		}
		if newEEK != nil {
			outer, err := crypto.AESCBCEncryptPad(data, newEEK, zeroIV)
			if oldEEK != nil {
				crypto.Zero(data)
			}
			if err != nil {
				return ErrEncryption
			}
			data = outer
		}
		if oldEEK == nil && newEEK == nil {
			data = append([]byte(nil), data...)
		}
		converted[i] = data
	}
	for i, slot := range slots {
		if len(*slot) == 0 {
			continue
		}
		crypto.Zero(*slot)
		*slot = converted[i]
	}
	return nil
}
