package session

// ProtocolVersion identifies the PowerAuth protocol version a session
// operates in.
type ProtocolVersion byte

const (
	// ProtocolVersionNA means the version is not determined, typically
	// because the session has no activation.
	ProtocolVersionNA ProtocolVersion = 0

	// ProtocolVersionV2 is the legacy protocol with an integer counter.
	ProtocolVersionV2 ProtocolVersion = 2

	// ProtocolVersionV3 is the current protocol with a hash-chain counter.
	ProtocolVersionV3 ProtocolVersion = 3
)

// String returns the version name.
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolVersionV2:
		return "V2"
	case ProtocolVersionV3:
		return "V3"
	default:
		return "NA"
	}
}

// MaxSupportedHTTPProtocolVersion returns the protocol version string used
// on the wire, for example "3.1" for V3. ProtocolVersionNA yields the most
// up to date supported version.
func MaxSupportedHTTPProtocolVersion(v ProtocolVersion) string {
	switch v {
	case ProtocolVersionV2:
		return "2.1"
	default:
		return "3.1"
	}
}
