package session

import (
	"sort"
	"strings"
	"unicode/utf16"
)

// KeyValue is one GET parameter for data signing.
type KeyValue struct {
	Key   string
	Value string
}

// NormalizeKeyValueMapForDataSigning converts GET parameters into the
// normalized byte sequence used as a signature body. Keys are ordered by
// their UTF-16 code units and values are percent-encoded with the RFC 3986
// unreserved set preserved.
//
// Duplicate keys are not supported and yield ErrWrongParam.
func NormalizeKeyValueMapForDataSigning(pairs []KeyValue) ([]byte, error) {
	sorted := append([]KeyValue(nil), pairs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessUTF16(sorted[i].Key, sorted[j].Key)
	})
	var b strings.Builder
	for i, kv := range sorted {
		if i > 0 {
			if kv.Key == sorted[i-1].Key {
				return nil, ErrWrongParam
			}
			b.WriteByte('&')
		}
		b.WriteString(urlEncode(kv.Key))
		b.WriteByte('=')
		b.WriteString(urlEncode(kv.Value))
	}
	return []byte(b.String()), nil
}

// lessUTF16 compares two strings by their UTF-16 code unit sequences, the
// ordering the server uses for parameter normalization.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

const upperhex = "0123456789ABCDEF"

// urlEncode percent-encodes everything except the RFC 3986 unreserved
// characters.
func urlEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}
