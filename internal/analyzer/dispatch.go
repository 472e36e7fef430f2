package analyzer

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/gateway-fm/abicached/pkg/abi"
)

// DispatchDecompiler is the built-in cooperative-phase analyzer. It recovers
// function selectors from the Solidity dispatch prologue (PUSH4 selector
// followed by EQ) and synthesizes unresolved function entries for them. It is
// deliberately shallow: a full decompiler can be plugged in through the
// Decompiler interface without touching the pipeline.
type DispatchDecompiler struct{}

// ctxPollInterval is how many instructions are walked between context checks.
const ctxPollInterval = 4096

// Decompile scans the bytecode for dispatch-table selectors.
func (DispatchDecompiler) Decompile(ctx context.Context, bytecode string, _ bool) (*abi.Contract, error) {
	clean := strings.TrimPrefix(bytecode, "0x")
	code, err := hex.DecodeString(clean)
	if err != nil {
		return nil, &MalformedError{Msg: err.Error()}
	}
	if len(code) == 0 {
		return nil, &MalformedError{Msg: "empty bytecode after decoding"}
	}

	seen := make(map[[4]byte]bool)
	contract := abi.NewContract()

	ops := 0
	for pc := 0; pc < len(code); pc++ {
		if ops++; ops%ctxPollInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		op := vm.OpCode(code[pc])
		if !op.IsPush() {
			continue
		}
		size := int(op) - int(vm.PUSH1) + 1

		if op == vm.PUSH4 && pc+5 < len(code) && vm.OpCode(code[pc+5]) == vm.EQ {
			var sel [4]byte
			copy(sel[:], code[pc+1:pc+5])
			// 0xffffffff shows up as a mask constant, not a selector.
			if sel != [4]byte{0xff, 0xff, 0xff, 0xff} && !seen[sel] {
				seen[sel] = true
				name := abi.UnresolvedName(sel)
				contract.Functions = append(contract.Functions, abi.Function{
					Name:            name,
					StateMutability: "nonpayable",
					Selector:        sel,
					Signature:       abi.Signature(name, nil),
				})
			}
		}

		pc += size
	}

	contract.RebuildIndexes()
	return contract, nil
}
