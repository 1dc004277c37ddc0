// Package code parses and validates activation and recovery codes typed or
// scanned by the user.
//
// An activation code has the form "XXXXX-XXXXX-XXXXX-XXXXX" where X is a
// character from the Base32 alphabet (A-Z, 2-7). The 20 characters decode to
// 12 bytes; the last two bytes carry a CRC-16/ARC checksum of the first ten.
// The code may be followed by "#" and a Base64 encoded ECDSA signature.
// A recovery code uses the same form, optionally prefixed with "R:", and
// never carries a signature.
package code

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
)

// Activation code dimensions.
const (
	// CodeLength is the length of the formatted code including dashes.
	CodeLength = 23

	// codeBytes is the number of bytes encoded in the code.
	codeBytes = 12

	// codeChecksumBytes is the size of the CRC-16 trailer.
	codeChecksumBytes = 2

	// PUKLength is the length of a recovery PUK.
	PUKLength = 10
)

// recoveryMarker prefixes recovery codes scanned from QR codes.
const recoveryMarker = "R:"

// ErrWrongCode is returned when a code, signature or PUK fails validation.
var ErrWrongCode = errors.New("code: invalid activation or recovery code")

var base32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ActivationCode is a parsed activation or recovery code.
type ActivationCode struct {
	// Code is the formatted "XXXXX-XXXXX-XXXXX-XXXXX" string.
	Code string

	// Signature is the optional Base64 encoded code signature.
	// Always empty for recovery codes.
	Signature string
}

// HasSignature reports whether a signature was attached to the code.
func (c *ActivationCode) HasSignature() bool {
	return c.Signature != ""
}

// ParseActivationCode parses a user supplied activation code, with an
// optional "#" separated signature.
func ParseActivationCode(s string) (*ActivationCode, error) {
	parsed := &ActivationCode{}
	if hashPos := strings.IndexByte(s, '#'); hashPos >= 0 {
		parsed.Code = s[:hashPos]
		parsed.Signature = s[hashPos+1:]
		if !validateSignature(parsed.Signature) {
			return nil, ErrWrongCode
		}
	} else {
		parsed.Code = s
	}
	if !ValidateActivationCode(parsed.Code) {
		return nil, ErrWrongCode
	}
	return parsed, nil
}

// ParseRecoveryCode parses a recovery code, stripping the optional "R:"
// prefix. A recovery code must not carry a signature.
func ParseRecoveryCode(s string) (*ActivationCode, error) {
	if idx := strings.Index(s, recoveryMarker); idx >= 0 {
		if idx != 0 {
			return nil, ErrWrongCode
		}
		s = s[len(recoveryMarker):]
	}
	parsed, err := ParseActivationCode(s)
	if err != nil {
		return nil, err
	}
	if parsed.HasSignature() {
		return nil, ErrWrongCode
	}
	return parsed, nil
}

// ValidateActivationCode checks the format, alphabet and checksum of a bare
// activation code, without a signature part.
func ValidateActivationCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	var b32 strings.Builder
	b32.Grow(CodeLength - 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i%6 == 5 {
			if c != '-' {
				return false
			}
			continue
		}
		if !ValidateTypedCharacter(rune(c)) {
			return false
		}
		b32.WriteByte(c)
	}
	decoded, err := base32NoPadding.DecodeString(b32.String())
	if err != nil || len(decoded) != codeBytes {
		return false
	}
	// The decoder tolerates non-zero bits in the final partial group;
	// only the canonical encoding is a valid code.
	if base32NoPadding.EncodeToString(decoded) != b32.String() {
		return false
	}
	expected := crc16ARC(decoded[:codeBytes-codeChecksumBytes])
	return binary.BigEndian.Uint16(decoded[codeBytes-codeChecksumBytes:]) == expected
}

// ValidateRecoveryCode checks a recovery code. When allowPrefix is true,
// the code may start with the "R:" marker.
func ValidateRecoveryCode(s string, allowPrefix bool) bool {
	if !strings.Contains(s, recoveryMarker) {
		return ValidateActivationCode(s)
	}
	return allowPrefix && strings.HasPrefix(s, recoveryMarker) &&
		ValidateActivationCode(s[len(recoveryMarker):])
}

// ValidateRecoveryPUK checks that the PUK consists of exactly ten ASCII
// digits.
func ValidateRecoveryPUK(s string) bool {
	if len(s) != PUKLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateTypedCharacter reports whether the character belongs to the code
// alphabet (A-Z, 2-7).
func ValidateTypedCharacter(c rune) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '2' && c <= '7')
}

// CorrectTypedCharacter validates a single typed character and auto-corrects
// common mistakes: lowercase letters are uppercased, '0' becomes 'O' and '1'
// becomes 'I'. Returns 0 when the character cannot be corrected, so the UI
// can reject the keystroke.
func CorrectTypedCharacter(c rune) rune {
	if ValidateTypedCharacter(c) {
		return c
	}
	switch {
	case c >= 'a' && c <= 'z':
		return c - ('a' - 'A')
	case c == '0':
		return 'O'
	case c == '1':
		return 'I'
	}
	return 0
}

func validateSignature(signature string) bool {
	decoded, err := base64.StdEncoding.DecodeString(signature)
	return err == nil && len(decoded) > 0
}
