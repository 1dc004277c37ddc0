package session

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// AuthorizationHeaderName is the HTTP header carrying the request signature.
const AuthorizationHeaderName = "X-PowerAuth-Authorization"

// signatureNonceSize is the length of the signature nonce.
const signatureNonceSize = 16

// HTTPRequestData describes one HTTP request to sign.
type HTTPRequestData struct {
	// Method is the uppercase HTTP method. Required.
	Method string

	// URI is the URI identifier agreed with the server, not the real
	// request path.
	URI string

	// Body is the request body, or the normalized GET parameters. May be
	// empty.
	Body []byte

	// OfflineNonce is the caller supplied 16-byte nonce for offline
	// signatures. When nil, a random nonce is generated.
	OfflineNonce []byte
}

// HTTPRequestDataSignature is the result of signing one HTTP request.
type HTTPRequestDataSignature struct {
	// Version is the protocol version string, for example "3.1".
	Version string

	// ActivationID identifies the activation.
	ActivationID string

	// ApplicationKey is the Base64 application key from the setup.
	ApplicationKey string

	// Nonce is the Base64 encoded signature nonce.
	Nonce string

	// Factor is the wire form of the factor combination.
	Factor string

	// Signature is the computed signature value.
	Signature string
}

// AuthorizationHeaderValue builds the value of the authorization header.
// The field order is fixed by the protocol.
func (d *HTTPRequestDataSignature) AuthorizationHeaderValue() string {
	return fmt.Sprintf(
		`PowerAuth pa_activation_id="%s", pa_application_key="%s", pa_nonce="%s", pa_signature_type="%s", pa_signature="%s", pa_version="%s"`,
		d.ActivationID, d.ApplicationKey, d.Nonce, d.Factor, d.Signature, d.Version)
}

// SignHTTPRequest computes the multi-factor signature of an HTTP request
// and advances the hash-chain counter.
//
// Save the session state after the call succeeds; a failed signature leaves
// the counter untouched.
func (s *Session) SignHTTPRequest(request HTTPRequestData, keys *SignatureFactorKeys, factor SignatureFactor) (*HTTPRequestDataSignature, error) {
	if s.pd == nil {
		return nil, ErrWrongState
	}
	if !factor.IsValid() {
		return nil, ErrWrongParam
	}
	if request.Method == "" {
		return nil, ErrWrongParam
	}
	method := strings.ToUpper(request.Method)
	if request.OfflineNonce != nil && len(request.OfflineNonce) != signatureNonceSize {
		return nil, ErrWrongParam
	}

	nonce := request.OfflineNonce
	if nonce == nil {
		var err error
		if nonce, err = crypto.RandomBytes(s.rand, signatureNonceSize); err != nil {
			return nil, ErrEncryption
		}
	}

	keySet, err := s.unlockSignatureKeys(factor, keys)
	if err != nil {
		return nil, err
	}
	defer keySet.destroy()

	data := normalizeRequestData(method, request.URI, nonce, request.Body, s.setup.ApplicationSecret)
	counter := s.counterBytes()
	signature := computeSignature(keySet.orderedKeys(), counter, data)

	// Advance the counter only after the signature exists.
	s.advanceCounter()
	s.needsSerialize = true
	s.log.Tracef("signature computed, factor=%s", factor)

	return &HTTPRequestDataSignature{
		Version:        MaxSupportedHTTPProtocolVersion(s.pd.protocolVersion),
		ActivationID:   s.pd.activationID,
		ApplicationKey: s.setup.ApplicationKey,
		Nonce:          base64.StdEncoding.EncodeToString(nonce),
		Factor:         factor.String(),
		Signature:      signature,
	}, nil
}

// orderedKeys returns the unlocked keys in the fixed possession, knowledge,
// biometry signature order.
func (ks *signatureKeySet) orderedKeys() [][]byte {
	ordered := make([][]byte, 0, 3)
	for _, key := range [][]byte{ks.possession, ks.knowledge, ks.biometry} {
		if key != nil {
			ordered = append(ordered, key)
		}
	}
	return ordered
}

// counterBytes returns the counter value entering the next signature.
func (s *Session) counterBytes() []byte {
	if s.pd.protocolVersion == ProtocolVersionV2 {
		out := make([]byte, crypto.SymmetricKeySize)
		binary.BigEndian.PutUint64(out[8:], s.pd.counterV2)
		return out
	}
	return s.pd.counterData
}

// advanceCounter moves the counter one step forward.
func (s *Session) advanceCounter() {
	if s.pd.protocolVersion == ProtocolVersionV2 {
		s.pd.counterV2++
		return
	}
	s.pd.counterData = nextCounterData(s.pd.counterData)
}

// nextCounterData computes the next hash-chain counter value: the first 16
// bytes of SHA-256 of the current value.
func nextCounterData(counterData []byte) []byte {
	digest := crypto.SHA256(counterData)
	return digest[:crypto.SymmetricKeySize]
}

// computeSignature derives one signing key per factor and produces the
// dash separated decimal signature.
func computeSignature(factorKeys [][]byte, counter, data []byte) string {
	codes := make([]string, 0, len(factorKeys))
	for _, key := range factorKeys {
		derived := crypto.HMACSHA256Slice(key, counter)[:crypto.SymmetricKeySize]
		component := crypto.HMACSHA256Slice(derived, data)[:crypto.SymmetricKeySize]
		codes = append(codes, decimalizeChunk(component[len(component)-4:]))
		crypto.Zero(derived)
		crypto.Zero(component)
	}
	return strings.Join(codes, "-")
}

// decimalizeChunk converts four bytes into an 8-digit decimal code: the
// big-endian value with the top bit masked, modulo 10^8.
func decimalizeChunk(chunk []byte) string {
	value := binary.BigEndian.Uint32(chunk) & 0x7FFFFFFF
	return fmt.Sprintf("%08d", value%100000000)
}

// normalizeRequestData assembles the signed data: the five components are
// Base64 encoded without padding and joined by '&'.
func normalizeRequestData(method, uri string, nonce, body []byte, applicationSecret string) []byte {
	enc := base64.RawStdEncoding
	parts := []string{
		enc.EncodeToString([]byte(method)),
		enc.EncodeToString([]byte(uri)),
		enc.EncodeToString(nonce),
		enc.EncodeToString(body),
		enc.EncodeToString([]byte(applicationSecret)),
	}
	return []byte(strings.Join(parts, "&"))
}
