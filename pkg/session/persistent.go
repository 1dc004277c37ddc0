package session

import (
	"bytes"
	"encoding/binary"

	"github.com/wultra/powerauth-client-core/pkg/crypto"
)

// Serialization constants.
var (
	// persistentDataMagic starts every serialized state blob.
	persistentDataMagic = [4]byte{'P', 'A', 'P', 'D'}

	// persistentDataMACLabel derives the blob integrity key from the
	// application secret.
	persistentDataMACLabel = []byte("persistent-data-mac")
)

// persistentDataSchema is the current serialization schema version.
// Unknown versions are rejected on load; new fields are only ever appended.
const persistentDataSchema byte = 1

// Field tags of the serialized state, written in ascending order.
const (
	tagActivationID byte = iota + 1
	tagServerPublicKey
	tagDevicePrivateKey
	tagSlotPossession
	tagSlotKnowledge
	tagSlotBiometry
	tagSlotTransport
	tagSlotSignatureKeys
	tagPBKDFSalt
	tagProtocolVersion
	tagCounterData
	tagCounterV2
	tagPendingUpgrade
	tagRecoveryData
	tagEEKUsed
	tagFailedAttempts
	tagMaxFailedAttempts
	tagFingerprint
)

// encryptedSignatureKeys holds the factor wrapped signature key slots.
// Empty slots are nil.
type encryptedSignatureKeys struct {
	possession    []byte
	knowledge     []byte
	biometry      []byte
	transport     []byte
	signatureKeys []byte
}

// persistentData is the serialized heart of an activated session.
type persistentData struct {
	activationID              string
	serverPublicKey           []byte // compressed point
	devicePrivateKeyEncrypted []byte
	signatureKeys             encryptedSignatureKeys
	pbkdfSalt                 []byte
	protocolVersion           ProtocolVersion
	counterData               []byte // V3 hash-chain state, 16 bytes
	counterV2                 uint64 // V2 integer counter
	pendingUpgradeVersion     ProtocolVersion
	recoveryDataEncrypted     []byte
	eekUsed                   bool
	failedAttempts            uint32
	maxFailedAttempts         uint32
	fingerprint               string
}

// hasRecoveryData reports whether recovery data is sealed in the state.
func (pd *persistentData) hasRecoveryData() bool {
	return len(pd.recoveryDataEncrypted) > 0
}

// hasBiometryFactor reports whether the biometry slot is occupied.
func (pd *persistentData) hasBiometryFactor() bool {
	return len(pd.signatureKeys.biometry) > 0
}

// destroy zeroizes all stored key material.
func (pd *persistentData) destroy() {
	crypto.Zero(pd.devicePrivateKeyEncrypted)
	crypto.Zero(pd.signatureKeys.possession)
	crypto.Zero(pd.signatureKeys.knowledge)
	crypto.Zero(pd.signatureKeys.biometry)
	crypto.Zero(pd.signatureKeys.transport)
	crypto.Zero(pd.signatureKeys.signatureKeys)
	crypto.Zero(pd.counterData)
	crypto.Zero(pd.recoveryDataEncrypted)
}

// integrityKey derives the blob MAC key from the application secret.
func integrityKey(appSecret []byte) []byte {
	return crypto.HMACSHA256Slice(appSecret, persistentDataMACLabel)
}

// serializePersistentData encodes the session state. A nil persistentData encodes the
// empty session. The output is byte-identical for identical inputs.
func serializePersistentData(pd *persistentData, appSecret []byte) []byte {
	var payload bytes.Buffer
	payload.Write(persistentDataMagic[:])
	payload.WriteByte(persistentDataSchema)
	if pd == nil {
		payload.WriteByte(0)
	} else {
		payload.WriteByte(1)
		writeField(&payload, tagActivationID, []byte(pd.activationID))
		writeField(&payload, tagServerPublicKey, pd.serverPublicKey)
		writeField(&payload, tagDevicePrivateKey, pd.devicePrivateKeyEncrypted)
		writeField(&payload, tagSlotPossession, pd.signatureKeys.possession)
		writeField(&payload, tagSlotKnowledge, pd.signatureKeys.knowledge)
		writeField(&payload, tagSlotBiometry, pd.signatureKeys.biometry)
		writeField(&payload, tagSlotTransport, pd.signatureKeys.transport)
		writeField(&payload, tagSlotSignatureKeys, pd.signatureKeys.signatureKeys)
		writeField(&payload, tagPBKDFSalt, pd.pbkdfSalt)
		writeField(&payload, tagProtocolVersion, []byte{byte(pd.protocolVersion)})
		writeField(&payload, tagCounterData, pd.counterData)
		var ctr [8]byte
		binary.BigEndian.PutUint64(ctr[:], pd.counterV2)
		writeField(&payload, tagCounterV2, ctr[:])
		writeField(&payload, tagPendingUpgrade, []byte{byte(pd.pendingUpgradeVersion)})
		writeField(&payload, tagRecoveryData, pd.recoveryDataEncrypted)
		eek := byte(0)
		if pd.eekUsed {
			eek = 1
		}
		writeField(&payload, tagEEKUsed, []byte{eek})
		var attempts [4]byte
		binary.BigEndian.PutUint32(attempts[:], pd.failedAttempts)
		writeField(&payload, tagFailedAttempts, attempts[:])
		binary.BigEndian.PutUint32(attempts[:], pd.maxFailedAttempts)
		writeField(&payload, tagMaxFailedAttempts, attempts[:])
		writeField(&payload, tagFingerprint, []byte(pd.fingerprint))
	}
	mac := crypto.HMACSHA256Slice(integrityKey(appSecret), payload.Bytes())
	return append(payload.Bytes(), mac...)
}

// deserializePersistentData decodes and verifies a state blob. Returns nil
// persistentData for a serialized empty session.
func deserializePersistentData(blob, appSecret []byte) (*persistentData, error) {
	headerLen := len(persistentDataMagic) + 2
	if len(blob) < headerLen+crypto.SHA256LenBytes {
		return nil, ErrWrongData
	}
	payload := blob[:len(blob)-crypto.SHA256LenBytes]
	mac := blob[len(blob)-crypto.SHA256LenBytes:]
	if !crypto.HMACEqual(crypto.HMACSHA256Slice(integrityKey(appSecret), payload), mac) {
		return nil, ErrWrongData
	}
	if !bytes.Equal(payload[:4], persistentDataMagic[:]) {
		return nil, ErrWrongData
	}
	if payload[4] != persistentDataSchema {
		return nil, ErrWrongData
	}
	if payload[5] == 0 {
		return nil, nil
	}

	r := &fieldReader{data: payload[headerLen:]}
	pd := &persistentData{}
	pd.activationID = string(r.field(tagActivationID))
	pd.serverPublicKey = r.field(tagServerPublicKey)
	pd.devicePrivateKeyEncrypted = r.field(tagDevicePrivateKey)
	pd.signatureKeys.possession = r.field(tagSlotPossession)
	pd.signatureKeys.knowledge = r.field(tagSlotKnowledge)
	pd.signatureKeys.biometry = r.field(tagSlotBiometry)
	pd.signatureKeys.transport = r.field(tagSlotTransport)
	pd.signatureKeys.signatureKeys = r.field(tagSlotSignatureKeys)
	pd.pbkdfSalt = r.field(tagPBKDFSalt)
	pd.protocolVersion = ProtocolVersion(r.byteField(tagProtocolVersion))
	pd.counterData = r.field(tagCounterData)
	pd.counterV2 = binary.BigEndian.Uint64(r.fixedField(tagCounterV2, 8))
	pd.pendingUpgradeVersion = ProtocolVersion(r.byteField(tagPendingUpgrade))
	pd.recoveryDataEncrypted = r.field(tagRecoveryData)
	pd.eekUsed = r.byteField(tagEEKUsed) == 1
	pd.failedAttempts = binary.BigEndian.Uint32(r.fixedField(tagFailedAttempts, 4))
	pd.maxFailedAttempts = binary.BigEndian.Uint32(r.fixedField(tagMaxFailedAttempts, 4))
	pd.fingerprint = string(r.field(tagFingerprint))
	if r.err != nil {
		return nil, ErrWrongData
	}
	if err := validatePersistentData(pd); err != nil {
		return nil, err
	}
	return pd, nil
}

// validatePersistentData checks structural invariants of a decoded state.
func validatePersistentData(pd *persistentData) error {
	if pd.activationID == "" {
		return ErrWrongData
	}
	// Server public key and encrypted device private key coexist.
	if (len(pd.serverPublicKey) == 0) != (len(pd.devicePrivateKeyEncrypted) == 0) {
		return ErrWrongData
	}
	switch pd.protocolVersion {
	case ProtocolVersionV3:
		if len(pd.counterData) != crypto.SymmetricKeySize {
			return ErrWrongData
		}
	case ProtocolVersionV2:
		// integer counter only
	default:
		return ErrWrongData
	}
	if len(pd.signatureKeys.possession) == 0 || len(pd.signatureKeys.knowledge) == 0 ||
		len(pd.signatureKeys.transport) == 0 {
		return ErrWrongData
	}
	if len(pd.pbkdfSalt) != crypto.SymmetricKeySize {
		return ErrWrongData
	}
	return nil
}

// writeField appends one tagged, length-prefixed field.
func writeField(buf *bytes.Buffer, tag byte, data []byte) {
	buf.WriteByte(tag)
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

// fieldReader reads tagged fields in the fixed serialization order.
// Unknown trailing fields appended by a newer writer are ignored.
type fieldReader struct {
	data []byte
	err  error
}

func (r *fieldReader) field(tag byte) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < 3 || r.data[0] != tag {
		r.err = ErrWrongData
		return nil
	}
	length := int(binary.BigEndian.Uint16(r.data[1:3]))
	if len(r.data) < 3+length {
		r.err = ErrWrongData
		return nil
	}
	value := r.data[3 : 3+length]
	r.data = r.data[3+length:]
	if length == 0 {
		return nil
	}
	return append([]byte(nil), value...)
}

func (r *fieldReader) fixedField(tag byte, length int) []byte {
	value := r.field(tag)
	if r.err == nil && len(value) != length {
		r.err = ErrWrongData
		return make([]byte, length)
	}
	if r.err != nil {
		return make([]byte, length)
	}
	return value
}

func (r *fieldReader) byteField(tag byte) byte {
	return r.fixedField(tag, 1)[0]
}
