package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

func TestDeriveCryptographicKey(t *testing.T) {
	s, srv, entry, keys := activatedSession(t, "vault-derive", nil)
	cVaultKey := srv.encryptedVaultKey(entry)

	derived, err := s.DeriveCryptographicKey(cVaultKey, keys, 42)
	if err != nil {
		t.Fatalf("DeriveCryptographicKey failed: %v", err)
	}
	if len(derived) != 16 {
		t.Fatalf("derived key length %d, want 16", len(derived))
	}
	// The derivation matches the server's own computation.
	if !bytes.Equal(derived, crypto.DeriveKey(entry.vaultKey, 42)) {
		t.Error("derived key differs from the server side derivation")
	}
	// Different indexes yield different keys.
	other, err := s.DeriveCryptographicKey(cVaultKey, keys, 43)
	if err != nil {
		t.Fatalf("DeriveCryptographicKey failed: %v", err)
	}
	if bytes.Equal(derived, other) {
		t.Error("different indexes produced identical keys")
	}
}

func TestSignDataWithDevicePrivateKey(t *testing.T) {
	s, srv, entry, keys := activatedSession(t, "vault-sign", nil)
	cVaultKey := srv.encryptedVaultKey(entry)

	data := []byte("data signed by the device key")
	signature, err := s.SignDataWithDevicePrivateKey(cVaultKey, keys, data)
	if err != nil {
		t.Fatalf("SignDataWithDevicePrivateKey failed: %v", err)
	}
	// The server verifies with the device public key from activation.
	ok, err := crypto.P256Verify(entry.devicePublicKey, data, signature)
	if err != nil {
		t.Fatalf("P256Verify failed: %v", err)
	}
	if !ok {
		t.Error("device key signature does not verify")
	}
}

func TestVaultOperationsRejectBadVaultKey(t *testing.T) {
	s, _, _, keys := activatedSession(t, "vault-bad", nil)

	if _, err := s.DeriveCryptographicKey("%%%", keys, 1); !errors.Is(err, ErrWrongData) {
		t.Errorf("expected ErrWrongData, got %v", err)
	}
	// A vault key wrapped for a different activation fails to unwrap.
	_, otherSrv, otherEntry, _ := activatedSession(t, "vault-bad-other", nil)
	foreign := otherSrv.encryptedVaultKey(otherEntry)
	if _, err := s.DeriveCryptographicKey(foreign, keys, 1); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption, got %v", err)
	}
}

func TestActivationRecoveryData(t *testing.T) {
	s, srv, entry, keys := activatedSession(t, "recovery", nil)
	if !s.HasActivationRecoveryData() {
		t.Fatal("recovery data missing")
	}
	recovery, err := s.ActivationRecoveryData(srv.encryptedVaultKey(entry), keys)
	if err != nil {
		t.Fatalf("ActivationRecoveryData failed: %v", err)
	}
	if recovery.RecoveryCode != entry.recovery.RecoveryCode || recovery.PUK != entry.recovery.PUK {
		t.Errorf("recovery data {%q, %q}, want {%q, %q}",
			recovery.RecoveryCode, recovery.PUK, entry.recovery.RecoveryCode, entry.recovery.PUK)
	}
}

func TestActivationWithoutRecoveryData(t *testing.T) {
	srv := newTestServer(t, "no-recovery")
	srv.enableRecovery = false
	s, err := NewSession(SessionConfig{Setup: srv.sessionSetup(nil)})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	start, err := s.StartActivation(StartActivationParam{})
	if err != nil {
		t.Fatalf("StartActivation failed: %v", err)
	}
	entry, response := srv.activate(start.DevicePublicKey)
	if _, err := s.ValidateActivationResponse(response); err != nil {
		t.Fatalf("ValidateActivationResponse failed: %v", err)
	}
	keys := testFactorKeys("1234")
	if err := s.CompleteActivation(keys); err != nil {
		t.Fatalf("CompleteActivation failed: %v", err)
	}
	if s.HasActivationRecoveryData() {
		t.Fatal("recovery data present without server recovery")
	}
	if _, err := s.ActivationRecoveryData(srv.encryptedVaultKey(entry), keys); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
}

func TestBiometryFactorLifecycle(t *testing.T) {
	s, srv, entry, keys := activatedSession(t, "biometry", nil)
	cVaultKey := srv.encryptedVaultKey(entry)

	if !s.HasBiometryFactor() {
		t.Fatal("biometry factor missing after activation")
	}
	if err := s.RemoveBiometryFactor(); err != nil {
		t.Fatalf("RemoveBiometryFactor failed: %v", err)
	}
	if s.HasBiometryFactor() {
		t.Fatal("biometry factor still present after removal")
	}
	// Signing with the removed factor fails without touching the counter.
	before := append([]byte(nil), s.pd.counterData...)
	if _, err := s.SignHTTPRequest(HTTPRequestData{Method: "POST"}, keys, FactorPossessionBiometry); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
	if !bytes.Equal(s.pd.counterData, before) {
		t.Fatal("failed signature advanced the counter")
	}

	// Re-provision the factor from the vault under a fresh unlock key.
	newBiometryKey := bytes.Repeat([]byte{0x33}, 16)
	addKeys := &SignatureFactorKeys{
		PossessionUnlockKey: keys.PossessionUnlockKey,
		BiometryUnlockKey:   newBiometryKey,
	}
	if err := s.AddBiometryFactor(cVaultKey, addKeys); err != nil {
		t.Fatalf("AddBiometryFactor failed: %v", err)
	}
	if !s.HasBiometryFactor() {
		t.Fatal("biometry factor missing after re-provisioning")
	}

	signKeys := &SignatureFactorKeys{
		PossessionUnlockKey: keys.PossessionUnlockKey,
		BiometryUnlockKey:   newBiometryKey,
	}
	sig, err := s.SignHTTPRequest(HTTPRequestData{Method: "POST", URI: "/x"}, signKeys, FactorPossessionBiometry)
	if err != nil {
		t.Fatalf("SignHTTPRequest with re-provisioned biometry failed: %v", err)
	}
	if drift := srv.verifySignature(entry, sig, "POST", "/x", nil); drift != 0 {
		t.Fatalf("server rejected biometry signature (drift %d)", drift)
	}
}

func TestAddBiometryFactorValidatesKey(t *testing.T) {
	s, srv, entry, keys := activatedSession(t, "biometry-bad", nil)
	cVaultKey := srv.encryptedVaultKey(entry)

	bad := &SignatureFactorKeys{
		PossessionUnlockKey: keys.PossessionUnlockKey,
		BiometryUnlockKey:   make([]byte, 16), // all zeros
	}
	if err := s.AddBiometryFactor(cVaultKey, bad); !errors.Is(err, ErrWrongParam) {
		t.Fatalf("expected ErrWrongParam, got %v", err)
	}
}
