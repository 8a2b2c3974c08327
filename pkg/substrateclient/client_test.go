package substrateclient

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
)

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("0x6d3eb1f7")
	if err != nil {
		t.Fatalf("ParseSelector returned error: %v", err)
	}
	if sel != [4]byte{0x6d, 0x3e, 0xb1, 0xf7} {
		t.Fatalf("unexpected selector %x", sel)
	}

	if _, err := ParseSelector("0x6d3e"); err == nil {
		t.Fatal("expected error for short selector")
	}
	if _, err := ParseSelector("zzzz"); err == nil {
		t.Fatal("expected error for non-hex selector")
	}
}

func TestEncodeCallInput(t *testing.T) {
	input, err := encodeCallInput([4]byte{1, 2, 3, 4}, "sig", uint64(7))
	if err != nil {
		t.Fatalf("encodeCallInput returned error: %v", err)
	}
	if !bytes.HasPrefix(input, []byte{1, 2, 3, 4}) {
		t.Fatalf("input must start with the selector, got %x", input)
	}
	// "sig" encodes as compact length 3 (0x0c) plus the bytes, then the u64.
	want := []byte{1, 2, 3, 4, 0x0c, 's', 'i', 'g', 7, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(input, want) {
		t.Fatalf("unexpected encoding:\n got %x\nwant %x", input, want)
	}
}

func TestOptionNoneEncodesAsSingleZeroByte(t *testing.T) {
	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)
	if err := enc.Encode(optionNone{}); err != nil {
		t.Fatalf("encode returned error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0}) {
		t.Fatalf("expected single zero byte, got %x", buf.Bytes())
	}
}

// encodeExecResult builds a SCALE ContractExecResult fixture whose message
// output is the given bytes.
func encodeExecResult(t *testing.T, output []byte) string {
	t.Helper()
	var buf bytes.Buffer
	enc := scale.NewEncoder(&buf)

	gas := weightV2{RefTime: types.NewUCompactFromUInt(1000), ProofSize: types.NewUCompactFromUInt(100)}
	for _, v := range []interface{}{
		gas, // gas_consumed
		gas, // gas_required
	} {
		if err := enc.Encode(v); err != nil {
			t.Fatalf("encode fixture: %v", err)
		}
	}
	// storage_deposit: Charge(0)
	if err := enc.PushByte(0); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Encode(types.NewU128(*big.NewInt(0))); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	// debug_message: empty Vec<u8>
	if err := enc.Encode(types.Bytes(nil)); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	// result: Ok(ExecReturnValue{flags, data})
	if err := enc.PushByte(0); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Encode(types.U32(0)); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Encode(types.Bytes(output)); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return codec.HexEncodeToString(buf.Bytes())
}

func TestDecodeBoolQueryResult(t *testing.T) {
	tests := []struct {
		name   string
		output []byte
		want   bool
	}{
		{"bare true", []byte{1}, true},
		{"bare false", []byte{0}, false},
		{"result-wrapped true", []byte{0, 1}, true},
		{"result-wrapped false", []byte{0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBoolQueryResult(encodeExecResult(t, tt.output))
			if err != nil {
				t.Fatalf("decodeBoolQueryResult returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeBoolQueryResultRejectsGarbageOutput(t *testing.T) {
	if _, err := decodeBoolQueryResult(encodeExecResult(t, []byte{9, 9, 9})); err == nil {
		t.Fatal("expected error for unrecognized output shape")
	}
}

func TestDescribeDispatchErrorNonModule(t *testing.T) {
	meta := &types.Metadata{}
	if got := describeDispatchError(meta, types.DispatchError{IsBadOrigin: true}); got != "BadOrigin" {
		t.Fatalf("unexpected description %q", got)
	}
	if got := describeDispatchError(meta, types.DispatchError{IsCannotLookup: true}); got != "CannotLookup" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestDescribeModuleErrorFallsBackWithoutV14Metadata(t *testing.T) {
	meta := &types.Metadata{}
	got := describeModuleError(meta, types.ModuleError{Index: 7, Error: [4]types.U8{2, 0, 0, 0}})
	if got != "module[7].error[2]" {
		t.Fatalf("unexpected description %q", got)
	}
}
