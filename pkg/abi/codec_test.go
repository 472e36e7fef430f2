package abi

import (
	"bytes"
	"reflect"
	"testing"
)

// The empty contract encodes to nine empty fields: six u64 zero counts
// (functions, events, errors, storage layout, two index maps) and five zero
// option/none tags, in declaration order.
func TestMarshal_EmptyContractGolden(t *testing.T) {
	var want []byte
	want = append(want, make([]byte, 8)...) // functions: 0
	want = append(want, make([]byte, 8)...) // events: 0
	want = append(want, make([]byte, 8)...) // errors: 0
	want = append(want, 0)                  // constructor: none
	want = append(want, 0)                  // fallback: none
	want = append(want, 0)                  // receive: none
	want = append(want, make([]byte, 8)...) // storage layout: 0
	want = append(want, 0)                  // decompile error: none
	want = append(want, 0)                  // storage error: none
	want = append(want, make([]byte, 8)...) // selector index: 0
	want = append(want, make([]byte, 8)...) // name index: 0

	got, err := Marshal(NewContract())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("empty contract encoding mismatch:\n got  %x\n want %x", got, want)
	}
}

// A failure record carries only the error string; this layout is what every
// implementation sharing the cache must produce for negative entries.
func TestMarshal_ErrorRecordGolden(t *testing.T) {
	c := NewContract()
	msg := "boom"
	c.DecompileError = &msg

	var want []byte
	want = append(want, make([]byte, 8)...)             // functions: 0
	want = append(want, make([]byte, 8)...)             // events: 0
	want = append(want, make([]byte, 8)...)             // errors: 0
	want = append(want, 0, 0, 0)                        // constructor/fallback/receive: none
	want = append(want, make([]byte, 8)...)             // storage layout: 0
	want = append(want, 1)                              // decompile error: some
	want = append(want, 4, 0, 0, 0, 0, 0, 0, 0) // len("boom") as u64 LE
	want = append(want, 'b', 'o', 'o', 'm')
	want = append(want, 0)                   // storage error: none
	want = append(want, make([]byte, 16)...) // both indexes: 0

	got, err := Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("error record encoding mismatch:\n got  %x\n want %x", got, want)
	}
}

func TestMarshal_SingleFunctionGolden(t *testing.T) {
	c := NewContract()
	c.Functions = []Function{{
		Name:            "f",
		StateMutability: "view",
		Constant:        true,
		Selector:        [4]byte{0x01, 0x02, 0x03, 0x04},
		Signature:       "f()",
	}}
	c.RebuildIndexes()

	var want []byte
	want = append(want, 1, 0, 0, 0, 0, 0, 0, 0) // functions: 1
	want = append(want, 1, 0, 0, 0, 0, 0, 0, 0, 'f') // name "f"
	want = append(want, make([]byte, 8)...)          // inputs: 0
	want = append(want, make([]byte, 8)...)          // outputs: 0
	want = append(want, make([]byte, 8)...)          // input types: 0
	want = append(want, make([]byte, 8)...)          // output types: 0
	want = append(want, 4, 0, 0, 0, 0, 0, 0, 0)      // len("view")
	want = append(want, 'v', 'i', 'e', 'w')
	want = append(want, 1)                      // constant
	want = append(want, 0)                      // payable
	want = append(want, 0x01, 0x02, 0x03, 0x04) // selector, raw
	want = append(want, 3, 0, 0, 0, 0, 0, 0, 0, 'f', '(', ')')
	want = append(want, make([]byte, 8)...) // events: 0
	want = append(want, make([]byte, 8)...) // errors: 0
	want = append(want, 0, 0, 0)            // options: none
	want = append(want, make([]byte, 8)...) // storage layout: 0
	want = append(want, 0, 0)               // error options: none
	// selector index: 1 entry, selector bytes then u64 position
	want = append(want, 1, 0, 0, 0, 0, 0, 0, 0)
	want = append(want, 0x01, 0x02, 0x03, 0x04)
	want = append(want, make([]byte, 8)...)
	// name index: 1 entry, string then u64 position
	want = append(want, 1, 0, 0, 0, 0, 0, 0, 0)
	want = append(want, 1, 0, 0, 0, 0, 0, 0, 0, 'f')
	want = append(want, make([]byte, 8)...)

	got, err := Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("single function encoding mismatch:\n got  %x\n want %x", got, want)
	}
}

func sampleContract() *Contract {
	internal := "contract"
	storageErr := "partial layout"
	c := &Contract{
		Functions: []Function{
			{
				Name:            "transfer",
				Inputs:          []Param{{Name: "to", Type: "address"}, {Name: "amount", Type: "uint256"}},
				Outputs:         []Param{{Name: "", Type: "bool"}},
				InputTypes:      []string{"address", "uint256"},
				OutputTypes:     []string{"bool"},
				StateMutability: "nonpayable",
				Selector:        SelectorFromSignature("transfer(address,uint256)"),
				Signature:       "transfer(address,uint256)",
			},
			{
				Name:            "Unresolved_deadbeef",
				StateMutability: "nonpayable",
				Selector:        [4]byte{0xde, 0xad, 0xbe, 0xef},
				Signature:       "Unresolved_deadbeef()",
			},
		},
		Events: []Event{
			{
				Name: "Transfer",
				Inputs: []EventParam{
					{Name: "from", Type: "address", Indexed: true, InternalType: &internal},
					{Name: "value", Type: "uint256"},
				},
			},
		},
		Errors: []Error{
			{Name: "InsufficientBalance", Inputs: []Param{{Name: "needed", Type: "uint256"}}},
		},
		Fallback: &Function{
			Name:            "fallback",
			StateMutability: "payable",
			Payable:         true,
			Signature:       "fallback()",
		},
		StorageLayout: []StorageSlot{
			{Index: 0, Offset: 0, Type: "mapping(address => uint256)"},
			{Index: 1, Offset: 0, Type: "uint256"},
		},
		StorageError: &storageErr,
	}
	c.RebuildIndexes()
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	original := sampleContract()

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reflect.DeepEqual(decoded.Functions, original.Functions) {
		t.Error("functions did not survive round trip")
	}
	if !reflect.DeepEqual(decoded.Events, original.Events) {
		t.Error("events did not survive round trip")
	}
	if !reflect.DeepEqual(decoded.Errors, original.Errors) {
		t.Error("errors did not survive round trip")
	}
	if !reflect.DeepEqual(decoded.Fallback, original.Fallback) {
		t.Error("fallback did not survive round trip")
	}
	if !reflect.DeepEqual(decoded.StorageLayout, original.StorageLayout) {
		t.Error("storage layout did not survive round trip")
	}
	if decoded.StorageError == nil || *decoded.StorageError != *original.StorageError {
		t.Error("storage error did not survive round trip")
	}

	// Re-encoding must be byte-identical: the indexes are reconstructed, so
	// this also proves they are a pure function of the function list.
	again, err := Marshal(decoded)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("re-encoded bytes differ from original encoding")
	}
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	data, err := Marshal(NewContract())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	data = append(data, 0xff)

	if _, err := Unmarshal(data); err == nil {
		t.Error("expected error for trailing bytes")
	}
}

func TestUnmarshal_Truncated(t *testing.T) {
	data, err := Marshal(sampleContract())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for _, cut := range []int{1, len(data) / 2, len(data) - 1} {
		if _, err := Unmarshal(data[:cut]); err == nil {
			t.Errorf("expected error for truncation at %d bytes", cut)
		}
	}
}

func TestUnmarshal_HugeLengthPrefix(t *testing.T) {
	// A corrupt count must be rejected, not allocated.
	data := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if _, err := Unmarshal(data); err == nil {
		t.Error("expected error for absurd length prefix")
	}
}

func TestRebuildIndexes(t *testing.T) {
	c := sampleContract()

	fn, ok := c.FunctionBySelector(SelectorFromSignature("transfer(address,uint256)"))
	if !ok || fn.Name != "transfer" {
		t.Fatal("selector lookup failed after rebuild")
	}
	if _, ok := c.FunctionByName("Unresolved_deadbeef"); !ok {
		t.Fatal("name lookup failed after rebuild")
	}

	// Mutating the function list and rebuilding must fully replace the
	// indexes.
	c.Functions = c.Functions[:1]
	c.RebuildIndexes()
	if _, ok := c.FunctionByName("Unresolved_deadbeef"); ok {
		t.Error("stale index entry survived rebuild")
	}
}

func TestRebuildIndexes_SkipsEmptyNames(t *testing.T) {
	c := &Contract{Functions: []Function{{Name: "", Selector: [4]byte{1, 2, 3, 4}}}}
	c.RebuildIndexes()

	if _, ok := c.FunctionByName(""); ok {
		t.Error("empty name must not be indexed")
	}
	if _, ok := c.FunctionBySelector([4]byte{1, 2, 3, 4}); !ok {
		t.Error("selector must be indexed even for unnamed functions")
	}
}
