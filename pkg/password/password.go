// Package password implements a mutable secure container for user secrets.
//
// The container stores a sequence of Unicode code points as UTF-8 bytes and
// supports the editing operations needed for a PIN or passphrase entry
// widget: append, insert and remove at a code point index. The backing
// buffer is zeroized whenever content is removed or the container is
// cleared, so the secret does not linger in memory.
package password

import (
	"crypto/subtle"
	"errors"
	"unicode/utf8"
)

// Package errors.
var (
	// ErrIndexOutOfRange is returned when a code point index is invalid.
	ErrIndexOutOfRange = errors.New("password: index out of range")

	// ErrInvalidCodepoint is returned for values outside the Unicode
	// scalar range.
	ErrInvalidCodepoint = errors.New("password: invalid code point")
)

// Password holds a user secret as an editable sequence of code points.
// The zero value is an empty password ready for use.
type Password struct {
	buf []byte
	// offsets[i] is the byte offset of code point i; len(offsets) is the
	// code point count. Kept in sync with buf on every mutation.
	offsets []int
}

// New creates an empty password.
func New() *Password {
	return &Password{}
}

// FromString creates a password holding the given string content.
func FromString(s string) *Password {
	p := &Password{}
	p.SetBytes([]byte(s))
	return p
}

// SetBytes replaces the password content with a copy of the provided UTF-8
// bytes. The previous content is zeroized.
func (p *Password) SetBytes(b []byte) {
	p.Clear()
	p.buf = append(p.buf, b...)
	p.reindex()
}

// AppendCodepoint appends one code point at the end.
func (p *Password) AppendCodepoint(c rune) error {
	return p.InsertCodepointAt(c, p.Length())
}

// InsertCodepointAt inserts a code point before the given code point index.
// Index equal to Length() appends.
func (p *Password) InsertCodepointAt(c rune, index int) error {
	if !utf8.ValidRune(c) {
		return ErrInvalidCodepoint
	}
	if index < 0 || index > p.Length() {
		return ErrIndexOutOfRange
	}
	var enc [utf8.UTFMax]byte
	n := utf8.EncodeRune(enc[:], c)

	offset := len(p.buf)
	if index < p.Length() {
		offset = p.offsets[index]
	}
	grown := make([]byte, 0, len(p.buf)+n)
	grown = append(grown, p.buf[:offset]...)
	grown = append(grown, enc[:n]...)
	grown = append(grown, p.buf[offset:]...)
	p.replaceBuf(grown)
	return nil
}

// RemoveCodepointAt removes the code point at the given index.
func (p *Password) RemoveCodepointAt(index int) error {
	if index < 0 || index >= p.Length() {
		return ErrIndexOutOfRange
	}
	start := p.offsets[index]
	end := len(p.buf)
	if index+1 < p.Length() {
		end = p.offsets[index+1]
	}
	grown := make([]byte, 0, len(p.buf)-(end-start))
	grown = append(grown, p.buf[:start]...)
	grown = append(grown, p.buf[end:]...)
	p.replaceBuf(grown)
	return nil
}

// RemoveLastCodepoint removes the last code point, if any.
func (p *Password) RemoveLastCodepoint() error {
	if p.Length() == 0 {
		return ErrIndexOutOfRange
	}
	return p.RemoveCodepointAt(p.Length() - 1)
}

// Length returns the number of code points.
func (p *Password) Length() int {
	return len(p.offsets)
}

// ByteLength returns the length of the UTF-8 normalized form in bytes.
func (p *Password) ByteLength() int {
	return len(p.buf)
}

// Bytes exposes the normalized UTF-8 form. The returned slice aliases the
// internal buffer and must not be retained across mutations.
func (p *Password) Bytes() []byte {
	return p.buf
}

// Equal compares two passwords in constant time.
func (p *Password) Equal(other *Password) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeEq(int32(len(p.buf)), int32(len(other.buf))) == 1 &&
		subtle.ConstantTimeCompare(p.buf, other.buf) == 1
}

// Clear zeroizes and empties the password.
func (p *Password) Clear() {
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.buf = p.buf[:0]
	p.offsets = p.offsets[:0]
}

func (p *Password) replaceBuf(b []byte) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.buf = b
	p.reindex()
}

func (p *Password) reindex() {
	p.offsets = p.offsets[:0]
	for i := 0; i < len(p.buf); {
		_, n := utf8.DecodeRune(p.buf[i:])
		p.offsets = append(p.offsets, i)
		i += n
	}
}
