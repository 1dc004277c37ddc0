package session

import (
	"errors"
	"testing"
)

func TestNormalizeKeyValueMapForDataSigning(t *testing.T) {
	tests := []struct {
		name   string
		pairs  []KeyValue
		result string
		err    error
	}{
		{
			name:   "empty",
			pairs:  nil,
			result: "",
		},
		{
			name:   "sorted",
			pairs:  []KeyValue{{"zeta", "z"}, {"alpha", "a"}, {"beta", "b"}},
			result: "alpha=a&beta=b&zeta=z",
		},
		{
			name:   "value_escaping",
			pairs:  []KeyValue{{"key", "value with spaces & symbols=?"}},
			result: "key=value%20with%20spaces%20%26%20symbols%3D%3F",
		},
		{
			name:   "unreserved_preserved",
			pairs:  []KeyValue{{"k", "AZaz09-_.~"}},
			result: "k=AZaz09-_.~",
		},
		{
			name:   "utf8_value",
			pairs:  []KeyValue{{"k", "žluťoučký"}},
			result: "k=%C5%BElu%C5%A5ou%C4%8Dk%C3%BD",
		},
		{
			name:  "duplicate_keys",
			pairs: []KeyValue{{"dup", "1"}, {"dup", "2"}},
			err:   ErrWrongParam,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			normalized, err := NormalizeKeyValueMapForDataSigning(tc.pairs)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(normalized) != tc.result {
				t.Errorf("normalized %q, want %q", normalized, tc.result)
			}
		})
	}
}

func TestNormalizeKeyValueUTF16Order(t *testing.T) {
	// U+FF61 (EF BD A1 in UTF-8) is a single UTF-16 code unit 0xFF61,
	// while U+10000 (F0 90 80 80 in UTF-8) encodes as the surrogate pair
	// 0xD800 0xDC00. UTF-16 code unit order places the surrogate pair
	// first, the opposite of byte-wise UTF-8 order.
	supplementary := string(rune(0x10000))
	halfwidth := string(rune(0xFF61))

	normalized, err := NormalizeKeyValueMapForDataSigning([]KeyValue{
		{halfwidth, "second"},
		{supplementary, "first"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "%F0%90%80%80=first&%EF%BD%A1=second"
	if string(normalized) != expected {
		t.Errorf("normalized %q, want %q", normalized, expected)
	}
}

func TestSignatureOverNormalizedParameters(t *testing.T) {
	s, srv, entry, keys := activatedSession(t, "keyvalue-sign", nil)

	body, err := NormalizeKeyValueMapForDataSigning([]KeyValue{
		{"userId", "A123"},
		{"amount", "100.00"},
	})
	if err != nil {
		t.Fatalf("normalization failed: %v", err)
	}
	sig, err := s.SignHTTPRequest(HTTPRequestData{Method: "GET", URI: "/pa/payment", Body: body}, keys, FactorPossession)
	if err != nil {
		t.Fatalf("SignHTTPRequest failed: %v", err)
	}
	if drift := srv.verifySignature(entry, sig, "GET", "/pa/payment", body); drift != 0 {
		t.Fatalf("server rejected GET signature (drift %d)", drift)
	}
}
