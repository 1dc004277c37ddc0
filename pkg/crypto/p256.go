package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// P-256 size constants.
const (
	// P256GroupSizeBytes is the group size in bytes.
	P256GroupSizeBytes = 32

	// P256PublicKeySizeBytes is the uncompressed public key size.
	// Format: 0x04 || X (32 bytes) || Y (32 bytes) = 65 bytes
	P256PublicKeySizeBytes = 65

	// P256CompressedPublicKeySizeBytes is the compressed public key size.
	// Format: 0x02/0x03 || X (32 bytes) = 33 bytes
	P256CompressedPublicKeySizeBytes = 33
)

// P256KeyPair represents a P-256 key pair usable for both ECDH key agreement
// and ECDSA signing.
type P256KeyPair struct {
	ecdhPrivate  *ecdh.PrivateKey
	ecdsaPrivate *ecdsa.PrivateKey
}

// P256GenerateKeyPair generates a new P-256 key pair using the provided
// entropy source.
func P256GenerateKeyPair(rand io.Reader) (*P256KeyPair, error) {
	ecdhPriv, err := ecdh.P256().GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDH key: %w", err)
	}
	ecdsaPriv, err := ecdhToECDSA(ecdhPriv)
	if err != nil {
		return nil, err
	}
	return &P256KeyPair{ecdhPrivate: ecdhPriv, ecdsaPrivate: ecdsaPriv}, nil
}

// P256KeyPairFromPrivateKey creates a key pair from a 32-byte private scalar.
func P256KeyPairFromPrivateKey(privateKey []byte) (*P256KeyPair, error) {
	if len(privateKey) != P256GroupSizeBytes {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", P256GroupSizeBytes, len(privateKey))
	}
	ecdhPriv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	ecdsaPriv, err := ecdhToECDSA(ecdhPriv)
	if err != nil {
		return nil, err
	}
	return &P256KeyPair{ecdhPrivate: ecdhPriv, ecdsaPrivate: ecdsaPriv}, nil
}

// PublicKey returns the public key in uncompressed format (65 bytes).
func (kp *P256KeyPair) PublicKey() []byte {
	return kp.ecdhPrivate.PublicKey().Bytes()
}

// PublicKeyCompressed returns the public key in compressed format (33 bytes).
func (kp *P256KeyPair) PublicKeyCompressed() []byte {
	pub := kp.ecdsaPrivate.PublicKey
	return elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y)
}

// PrivateKey returns the private key as a 32-byte scalar.
func (kp *P256KeyPair) PrivateKey() []byte {
	return kp.ecdhPrivate.Bytes()
}

// ECDH computes the shared secret with the peer's public key. The peer key
// may be provided in compressed or uncompressed format.
//
// Returns the 32-byte x-coordinate of the shared point.
func (kp *P256KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	uncompressed, err := P256NormalizePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	peerPub, err := ecdh.P256().NewPublicKey(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	secret, err := kp.ecdhPrivate.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH computation failed: %w", err)
	}
	return secret, nil
}

// Sign computes an ECDSA-SHA256 signature of the message, encoded in ASN.1
// DER as carried by the protocol.
func (kp *P256KeyPair) Sign(rand io.Reader, message []byte) ([]byte, error) {
	hash := SHA256(message)
	sig, err := ecdsa.SignASN1(rand, kp.ecdsaPrivate, hash[:])
	if err != nil {
		return nil, fmt.Errorf("ECDSA sign failed: %w", err)
	}
	return sig, nil
}

// P256Verify verifies an ASN.1 DER encoded ECDSA-SHA256 signature.
// The public key may be compressed or uncompressed.
func P256Verify(publicKey, message, signature []byte) (bool, error) {
	pub, err := parseECDSAPublicKey(publicKey)
	if err != nil {
		return false, err
	}
	hash := SHA256(message)
	return ecdsa.VerifyASN1(pub, hash[:], signature), nil
}

// P256NormalizePublicKey converts a compressed or uncompressed public key
// into the uncompressed 65-byte form and validates it is on the curve.
func P256NormalizePublicKey(publicKey []byte) ([]byte, error) {
	switch len(publicKey) {
	case P256PublicKeySizeBytes:
		if publicKey[0] != 0x04 {
			return nil, errors.New("public key must start with 0x04")
		}
		x := new(big.Int).SetBytes(publicKey[1:33])
		y := new(big.Int).SetBytes(publicKey[33:65])
		if !elliptic.P256().IsOnCurve(x, y) {
			return nil, errors.New("public key point is not on the P-256 curve")
		}
		return publicKey, nil
	case P256CompressedPublicKeySizeBytes:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), publicKey)
		if x == nil {
			return nil, errors.New("failed to decompress public key")
		}
		out := make([]byte, P256PublicKeySizeBytes)
		out[0] = 0x04
		x.FillBytes(out[1 : 1+P256GroupSizeBytes])
		y.FillBytes(out[1+P256GroupSizeBytes:])
		return out, nil
	default:
		return nil, fmt.Errorf("public key must be %d or %d bytes, got %d",
			P256CompressedPublicKeySizeBytes, P256PublicKeySizeBytes, len(publicKey))
	}
}

// P256CompressPublicKey converts a public key into the compressed 33-byte form.
func P256CompressPublicKey(publicKey []byte) ([]byte, error) {
	uncompressed, err := P256NormalizePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(uncompressed[1:33])
	y := new(big.Int).SetBytes(uncompressed[33:65])
	return elliptic.MarshalCompressed(elliptic.P256(), x, y), nil
}

func parseECDSAPublicKey(publicKey []byte) (*ecdsa.PublicKey, error) {
	uncompressed, err := P256NormalizePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(uncompressed[1:33])
	y := new(big.Int).SetBytes(uncompressed[33:65])
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

func ecdhToECDSA(ecdhKey *ecdh.PrivateKey) (*ecdsa.PrivateKey, error) {
	privBytes := ecdhKey.Bytes()
	d := new(big.Int).SetBytes(privBytes)

	pubBytes := ecdhKey.PublicKey().Bytes()
	if len(pubBytes) != P256PublicKeySizeBytes || pubBytes[0] != 0x04 {
		return nil, errors.New("unexpected public key format")
	}
	x := new(big.Int).SetBytes(pubBytes[1:33])
	y := new(big.Int).SetBytes(pubBytes[33:65])

	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y},
		D:         d,
	}, nil
}
