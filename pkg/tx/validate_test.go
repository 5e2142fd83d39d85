package tx

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_Valid(t *testing.T) {
	if err := sampleTx().Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestValidate_NoInputsAllowed(t *testing.T) {
	tx := sampleTx()
	tx.Type = TypeCoinBase
	tx.Inputs = nil
	if err := tx.Validate(); err != nil {
		t.Fatalf("coinbase without inputs should validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Transaction)
		want error
	}{
		{"zero time", func(tx *Transaction) { tx.Time = 0 }, ErrTimeNotSet},
		{"long remark", func(tx *Transaction) { tx.Remark = strings.Repeat("x", MaxRemarkLength+1) }, ErrRemarkTooLong},
		{"bad utf8", func(tx *Transaction) { tx.Remark = string([]byte{0xff, 0xfe}) }, ErrRemarkEncoding},
		{"duplicate input", func(tx *Transaction) { tx.Inputs = append(tx.Inputs, tx.Inputs[0]) }, ErrDuplicateInput},
		{"zero value", func(tx *Transaction) { tx.Outputs[0].Value = 0 }, ErrZeroOutput},
		{"zero address", func(tx *Transaction) { tx.Outputs[0].Address = testAddr(0) }, ErrZeroAddress},
		{"overflow", func(tx *Transaction) { tx.Outputs[0].Value = LockConsensus }, ErrOutputOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := sampleTx()
			tt.mod(tx)
			if err := tx.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
