package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHash_IsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero-value Hash should be zero")
	}
	if (Hash{0x01}).IsZero() {
		t.Error("non-zero Hash should not be zero")
	}
}

func TestHash_JSONRoundTrip(t *testing.T) {
	h := Hash{0xab, 0xcd}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !strings.HasPrefix(string(data), `"abcd`) {
		t.Errorf("Marshal() = %s, want hex string", data)
	}

	var got Hash
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got != h {
		t.Errorf("round trip = %s, want %s", got, h)
	}
}

func TestHexToHash_BadLength(t *testing.T) {
	if _, err := HexToHash("abcd"); err == nil {
		t.Error("HexToHash() should reject short input")
	}
	if _, err := HexToHash(strings.Repeat("zz", 32)); err == nil {
		t.Error("HexToHash() should reject non-hex input")
	}
}

func TestParseAddress(t *testing.T) {
	a := Address{0x01, 0x02}
	got, err := ParseAddress(a.String())
	if err != nil {
		t.Fatalf("ParseAddress() error: %v", err)
	}
	if got != a {
		t.Errorf("ParseAddress() = %s, want %s", got, a)
	}

	got, err = ParseAddress("0x" + a.String())
	if err != nil {
		t.Fatalf("ParseAddress(0x) error: %v", err)
	}
	if got != a {
		t.Errorf("ParseAddress(0x) = %s, want %s", got, a)
	}

	if _, err := ParseAddress(""); err == nil {
		t.Error("ParseAddress() should reject empty input")
	}
	if _, err := ParseAddress("abcd"); err == nil {
		t.Error("ParseAddress() should reject short input")
	}
}

func TestOutpoint_Less(t *testing.T) {
	a := Outpoint{TxID: Hash{0x01}, Index: 5}
	b := Outpoint{TxID: Hash{0x02}, Index: 0}
	c := Outpoint{TxID: Hash{0x01}, Index: 6}

	if !a.Less(b) {
		t.Error("lower txid should sort first")
	}
	if !a.Less(c) {
		t.Error("same txid should sort by index")
	}
	if b.Less(a) {
		t.Error("Less() should be asymmetric")
	}
}

func TestOutpoint_String(t *testing.T) {
	o := Outpoint{TxID: Hash{0xab}, Index: 3}
	s := o.String()
	if !strings.HasPrefix(s, "ab") || !strings.HasSuffix(s, ":3") {
		t.Errorf("String() = %s, want txid:index", s)
	}
}
