package session

import "github.com/wultra/powerauth-client-core/pkg/crypto"

// SigningKey selects the server key used to verify a signed payload.
type SigningKey int

const (
	// SigningKeyMasterServer verifies with the master server public key
	// from the setup.
	SigningKeyMasterServer SigningKey = iota

	// SigningKeyServer verifies with the personalized server public key
	// of the activation.
	SigningKeyServer
)

// SignedData is a payload with its ECDSA signature.
type SignedData struct {
	// Data is the signed payload.
	Data []byte

	// Signature is the ASN.1 DER encoded ECDSA signature.
	Signature []byte

	// SigningKey selects the verification key.
	SigningKey SigningKey
}

// VerifyServerSignedData checks that the payload was signed by the server.
// Verification with the personalized key requires a valid activation.
func (s *Session) VerifyServerSignedData(signedData SignedData) error {
	if len(signedData.Signature) == 0 {
		return ErrWrongSignature
	}
	if len(signedData.Data) == 0 {
		return ErrWrongParam
	}
	var publicKey []byte
	switch signedData.SigningKey {
	case SigningKeyMasterServer:
		publicKey = s.vs.masterPublicKey
	case SigningKeyServer:
		if s.pd == nil {
			return ErrWrongState
		}
		publicKey = s.pd.serverPublicKey
	default:
		return ErrWrongParam
	}
	ok, err := crypto.P256Verify(publicKey, signedData.Data, signedData.Signature)
	if err != nil || !ok {
		return ErrWrongSignature
	}
	return nil
}
