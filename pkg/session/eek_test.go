package session

import (
	"bytes"
	"errors"
	"testing"
)

func TestActivationWithEEK(t *testing.T) {
	eek := bytes.Repeat([]byte{0x5A}, 16)
	s, srv, entry, keys := activatedSession(t, "eek", eek)

	if !s.HasExternalEncryptionKey() {
		t.Fatal("EEK not reported present")
	}
	sig, err := s.SignHTTPRequest(HTTPRequestData{Method: "POST", URI: "/x"}, keys, FactorPossessionKnowledge)
	if err != nil {
		t.Fatalf("SignHTTPRequest with EEK failed: %v", err)
	}
	if drift := srv.verifySignature(entry, sig, "POST", "/x", nil); drift != 0 {
		t.Fatalf("server rejected EEK protected signature (drift %d)", drift)
	}

	// A session restored without the EEK cannot unlock factor keys.
	state := s.SerializedState()
	restored, err := NewSession(SessionConfig{Setup: srv.sessionSetup(nil)})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := restored.Deserialize(state); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if restored.HasExternalEncryptionKey() {
		t.Fatal("restored session reports an EEK it does not have")
	}
	if _, err := restored.SignHTTPRequest(HTTPRequestData{Method: "POST"}, keys, FactorPossession); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}

	// Supplying the key makes the session fully operational again.
	if err := restored.SetExternalEncryptionKey(eek); err != nil {
		t.Fatalf("SetExternalEncryptionKey failed: %v", err)
	}
	sig, err = restored.SignHTTPRequest(HTTPRequestData{Method: "POST", URI: "/x"}, keys, FactorPossession)
	if err != nil {
		t.Fatalf("SignHTTPRequest after SetExternalEncryptionKey failed: %v", err)
	}
	if drift := srv.verifySignature(entry, sig, "POST", "/x", nil); drift != 0 {
		t.Fatalf("server rejected signature after EEK restore (drift %d)", drift)
	}
}

func TestAddAndRemoveEEK(t *testing.T) {
	s, srv, entry, keys := activatedSession(t, "eek-add", nil)

	eek := bytes.Repeat([]byte{0x77}, 16)
	if err := s.AddExternalEncryptionKey(eek); err != nil {
		t.Fatalf("AddExternalEncryptionKey failed: %v", err)
	}
	if !s.HasExternalEncryptionKey() {
		t.Fatal("EEK not present after add")
	}
	// Adding twice is illegal.
	if err := s.AddExternalEncryptionKey(eek); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}

	// Every factor still unlocks through the new layer.
	sig, err := s.SignHTTPRequest(HTTPRequestData{Method: "POST", URI: "/x"}, keys, FactorPossessionKnowledgeBiometry)
	if err != nil {
		t.Fatalf("SignHTTPRequest after EEK add failed: %v", err)
	}
	if drift := srv.verifySignature(entry, sig, "POST", "/x", nil); drift != 0 {
		t.Fatalf("server rejected signature after EEK add (drift %d)", drift)
	}

	if err := s.RemoveExternalEncryptionKey(); err != nil {
		t.Fatalf("RemoveExternalEncryptionKey failed: %v", err)
	}
	if s.HasExternalEncryptionKey() {
		t.Fatal("EEK still present after removal")
	}
	// Removing twice is illegal.
	if err := s.RemoveExternalEncryptionKey(); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}

	sig, err = s.SignHTTPRequest(HTTPRequestData{Method: "POST", URI: "/x"}, keys, FactorPossessionKnowledge)
	if err != nil {
		t.Fatalf("SignHTTPRequest after EEK removal failed: %v", err)
	}
	if drift := srv.verifySignature(entry, sig, "POST", "/x", nil); drift != 0 {
		t.Fatalf("server rejected signature after EEK removal (drift %d)", drift)
	}
}

func TestSetEEKValidation(t *testing.T) {
	s, _, _, _ := activatedSession(t, "eek-set", nil)

	if err := s.SetExternalEncryptionKey([]byte{1, 2, 3}); !errors.Is(err, ErrWrongParam) {
		t.Fatalf("expected ErrWrongParam, got %v", err)
	}
	// The activation does not use an EEK, so setting one is illegal.
	if err := s.SetExternalEncryptionKey(bytes.Repeat([]byte{0x11}, 16)); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
	if err := s.AddExternalEncryptionKey(make([]byte, 16)); !errors.Is(err, ErrWrongParam) {
		t.Fatalf("expected ErrWrongParam for zero key, got %v", err)
	}
}
