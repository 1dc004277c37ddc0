package session

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
	"github.com/wultra/powerauth-client-core/pkg/password"
)

// testServer simulates the PowerAuth server counterpart. Besides the crypto
// primitives package it reuses the session's fingerprint, request
// normalization, signature and counter helpers.
type testServer struct {
	t *testing.T

	masterKeyPair     *crypto.P256KeyPair
	applicationKey    string
	applicationSecret string
	ctrLookAhead      int
	enableRecovery    bool

	rand *crypto.CTRDRBG
}

// testActivation is the server side record of one activation.
type testActivation struct {
	activationID    string
	serverKeyPair   *crypto.P256KeyPair
	devicePublicKey []byte

	// Derived key family.
	possessionKey    []byte
	knowledgeKey     []byte
	biometryKey      []byte
	transportKey     []byte
	vaultKey         []byte
	signatureKeysKey []byte

	ctrData  []byte
	recovery *RecoveryData
}

func newTestServer(t *testing.T, seed string) *testServer {
	t.Helper()
	drbg := crypto.NewCTRDRBG([]byte("server-" + seed))
	masterKeyPair, err := crypto.P256GenerateKeyPair(drbg)
	if err != nil {
		t.Fatalf("master key generation failed: %v", err)
	}
	appKey, _ := crypto.RandomBytes(drbg, 16)
	appSecret, _ := crypto.RandomBytes(drbg, 16)
	return &testServer{
		t:                 t,
		masterKeyPair:     masterKeyPair,
		applicationKey:    base64.StdEncoding.EncodeToString(appKey),
		applicationSecret: base64.StdEncoding.EncodeToString(appSecret),
		ctrLookAhead:      10,
		enableRecovery:    true,
		rand:              drbg,
	}
}

// sessionSetup returns the setup matching this server.
func (srv *testServer) sessionSetup(eek []byte) SessionSetup {
	return SessionSetup{
		ApplicationKey:        srv.applicationKey,
		ApplicationSecret:     srv.applicationSecret,
		MasterServerPublicKey: base64.StdEncoding.EncodeToString(srv.masterKeyPair.PublicKey()),
		ExternalEncryptionKey: eek,
	}
}

// signActivationCode produces the Base64 master key signature of a code.
func (srv *testServer) signActivationCode(code string) string {
	signature, err := srv.masterKeyPair.Sign(srv.rand, []byte(code))
	if err != nil {
		srv.t.Fatalf("code signing failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(signature)
}

// activate processes the device public key and returns the activation
// response parameters.
func (srv *testServer) activate(devicePublicKeyB64 string) (*testActivation, ValidateActivationResponseParam) {
	srv.t.Helper()
	devicePublicKey, err := base64.StdEncoding.DecodeString(devicePublicKeyB64)
	if err != nil {
		srv.t.Fatalf("invalid device public key: %v", err)
	}
	serverKeyPair, err := crypto.P256GenerateKeyPair(srv.rand)
	if err != nil {
		srv.t.Fatalf("server key generation failed: %v", err)
	}
	sharedSecret, err := serverKeyPair.ECDH(devicePublicKey)
	if err != nil {
		srv.t.Fatalf("server ECDH failed: %v", err)
	}
	sk, err := crypto.ReduceKey(sharedSecret)
	if err != nil {
		srv.t.Fatalf("shared secret reduction failed: %v", err)
	}
	ctrData, _ := crypto.RandomBytes(srv.rand, 16)

	entry := &testActivation{
		activationID:     uuid.NewString(),
		serverKeyPair:    serverKeyPair,
		devicePublicKey:  devicePublicKey,
		possessionKey:    crypto.DeriveKey(sk, crypto.KeyIndexPossession),
		knowledgeKey:     crypto.DeriveKey(sk, crypto.KeyIndexKnowledge),
		transportKey:     crypto.DeriveKey(sk, crypto.KeyIndexTransport),
		vaultKey:         crypto.DeriveKey(sk, crypto.KeyIndexVault),
		signatureKeysKey: crypto.DeriveKey(sk, crypto.KeyIndexSignatureKeys),
		ctrData:          ctrData,
	}
	entry.biometryKey = crypto.DeriveKey(entry.vaultKey, crypto.KeyIndexBiometry)
	if srv.enableRecovery {
		entry.recovery = &RecoveryData{
			RecoveryCode: "VVVVV-VVVVV-VVVVV-VTFVA",
			PUK:          "0123456789",
		}
	}
	return entry, ValidateActivationResponseParam{
		ActivationID:       entry.activationID,
		ServerPublicKey:    base64.StdEncoding.EncodeToString(serverKeyPair.PublicKey()),
		CtrData:            base64.StdEncoding.EncodeToString(ctrData),
		ActivationRecovery: entry.recovery,
	}
}

// fingerprint computes the expected activation fingerprint server side.
func (srv *testServer) fingerprint(entry *testActivation) string {
	return activationFingerprint(entry.devicePublicKey, entry.activationID, entry.serverKeyPair.PublicKey())
}

// factorKeys returns the signature keys for a factor string, in signature
// order.
func (entry *testActivation) factorKeys(factor string) [][]byte {
	switch factor {
	case "possession":
		return [][]byte{entry.possessionKey}
	case "possession_knowledge":
		return [][]byte{entry.possessionKey, entry.knowledgeKey}
	case "possession_biometry":
		return [][]byte{entry.possessionKey, entry.biometryKey}
	case "possession_knowledge_biometry":
		return [][]byte{entry.possessionKey, entry.knowledgeKey, entry.biometryKey}
	default:
		return nil
	}
}

// verifySignature validates a signature the client computed, using the
// server's look-ahead window. Returns the matched drift or -1.
func (srv *testServer) verifySignature(entry *testActivation, sig *HTTPRequestDataSignature, method, uri string, body []byte) int {
	srv.t.Helper()
	if sig.ActivationID != entry.activationID || sig.ApplicationKey != srv.applicationKey {
		return -1
	}
	keys := entry.factorKeys(sig.Factor)
	if keys == nil {
		return -1
	}
	nonce, err := base64.StdEncoding.DecodeString(sig.Nonce)
	if err != nil {
		srv.t.Fatalf("invalid signature nonce: %v", err)
	}
	data := normalizeRequestData(method, uri, nonce, body, srv.applicationSecret)

	ctr := entry.ctrData
	for i := 0; i <= srv.ctrLookAhead; i++ {
		if computeSignature(keys, ctr, data) == sig.Signature {
			entry.ctrData = nextCounterData(ctr)
			return i
		}
		ctr = nextCounterData(ctr)
	}
	return -1
}

// encryptedVaultKey wraps the vault key for transport to the client.
func (srv *testServer) encryptedVaultKey(entry *testActivation) string {
	srv.t.Helper()
	iv := make([]byte, 16)
	inner, err := crypto.AESCBCEncryptPad(entry.vaultKey, entry.signatureKeysKey, iv)
	if err != nil {
		srv.t.Fatalf("vault key wrap failed: %v", err)
	}
	outer, err := crypto.AESCBCEncryptPad(inner, entry.transportKey, iv)
	if err != nil {
		srv.t.Fatalf("vault key wrap failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(outer)
}

// statusBlobParams tunes one encrypted status blob.
type statusBlobParams struct {
	state          byte
	currentVersion byte
	upgradeVersion byte
	failCount      byte
	maxFailCount   byte
	ctrData        []byte // defaults to the entry's current counter
}

// encryptedStatus builds the encrypted status blob for a challenge.
func (srv *testServer) encryptedStatus(entry *testActivation, challengeB64 string, params statusBlobParams) EncryptedActivationStatus {
	srv.t.Helper()
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		srv.t.Fatalf("invalid challenge: %v", err)
	}
	nonce, _ := crypto.RandomBytes(srv.rand, 16)

	ctrData := params.ctrData
	if ctrData == nil {
		ctrData = entry.ctrData
	}
	plaintext := make([]byte, 0, 23)
	plaintext = append(plaintext,
		params.currentVersion, params.upgradeVersion, params.state,
		ctrData[0], params.failCount, params.maxFailCount, byte(srv.ctrLookAhead))
	plaintext = append(plaintext, ctrData...)

	info := append([]byte("status"), challenge...)
	info = append(info, nonce...)
	statusKey := crypto.KDFX963(entry.transportKey, info, 32)
	ciphertext, err := crypto.AESCBCEncryptPad(plaintext, statusKey[:16], nonce)
	if err != nil {
		srv.t.Fatalf("status encryption failed: %v", err)
	}
	blob := append(ciphertext, crypto.HMACSHA256Slice(statusKey[16:], ciphertext)...)
	return EncryptedActivationStatus{
		Challenge:           challengeB64,
		EncryptedStatusBlob: base64.StdEncoding.EncodeToString(blob),
		Nonce:               base64.StdEncoding.EncodeToString(nonce),
	}
}

// decryptRequest is the server side of an application or activation scoped
// ECIES request; sharedInfo2 must match the scope.
func (srv *testServer) decryptRequest(privateKey *crypto.P256KeyPair, sharedInfo1, sharedInfo2, ephemeralKey, encrypted, mac, nonce []byte) []byte {
	srv.t.Helper()
	sharedSecret, err := privateKey.ECDH(ephemeralKey)
	if err != nil {
		srv.t.Fatalf("ECIES server ECDH failed: %v", err)
	}
	envelope := crypto.KDFX963(sharedSecret, append(append([]byte(nil), sharedInfo1...), ephemeralKey...), 32)

	sh2 := sharedInfo2
	if len(sh2) > 64 {
		sh2 = crypto.SHA256Slice(sh2)
	}
	expected := crypto.HMACSHA256Slice(envelope[16:], append(append([]byte(nil), encrypted...), sh2...))
	if !crypto.HMACEqual(expected, mac) {
		srv.t.Fatal("ECIES request MAC mismatch")
	}
	ivDigest := crypto.SHA256(append(append([]byte(nil), nonce...), "IV"...))
	plaintext, err := crypto.AESCBCDecryptPad(encrypted, envelope[:16], ivDigest[:16])
	if err != nil {
		srv.t.Fatalf("ECIES request decryption failed: %v", err)
	}
	return plaintext
}

// activatedSession spins up a full activation against the server. Returns
// the client session, the server record and the unlock keys used.
func activatedSession(t *testing.T, seed string, eek []byte) (*Session, *testServer, *testActivation, *SignatureFactorKeys) {
	t.Helper()
	srv := newTestServer(t, seed)
	s, err := NewSession(SessionConfig{
		Setup: srv.sessionSetup(eek),
		Rand:  crypto.NewCTRDRBG([]byte("client-" + seed)),
	})
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
	return s, srv, entry, keys
}

// testFactorKeys builds deterministic unlock keys with the given password.
func testFactorKeys(pw string) *SignatureFactorKeys {
	return &SignatureFactorKeys{
		PossessionUnlockKey: bytes.Repeat([]byte{0x01}, 16),
		Password:            password.FromString(pw),
		BiometryUnlockKey:   bytes.Repeat([]byte{0x02}, 16),
	}
}
