package analyzer

import (
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/gateway-fm/abicached/pkg/abi"
)

// SlotScanner is the built-in non-cooperative-phase analyzer. It walks the
// bytecode recording constant storage slots written by PUSHn/SSTORE pairs.
// Like DispatchDecompiler it is a shallow stand-in for a full storage-layout
// extractor behind the StorageExtractor interface.
type SlotScanner struct{}

// cancelPollInterval is how many instructions are walked between cancel-flag
// polls.
const cancelPollInterval = 1024

// ExtractLayout scans for statically-addressed storage writes.
func (SlotScanner) ExtractLayout(code []byte, cancel *CancelFlag) ([]abi.StorageSlot, error) {
	slots := make(map[uint64]bool)

	ops := 0
	var lastPush []byte
	for pc := 0; pc < len(code); pc++ {
		if ops++; ops%cancelPollInterval == 0 && cancel.Cancelled() {
			return nil, ErrStopped
		}

		op := vm.OpCode(code[pc])
		switch {
		case op.IsPush():
			size := int(op) - int(vm.PUSH1) + 1
			end := pc + size
			if end >= len(code) {
				end = len(code) - 1
			}
			lastPush = code[pc+1 : end+1]
			pc += size
		case op == vm.SSTORE:
			// SSTORE pops the slot from the stack top; a constant push
			// immediately before it addresses the slot statically.
			if len(lastPush) > 0 && len(lastPush) <= 8 {
				var raw [8]byte
				copy(raw[8-len(lastPush):], lastPush)
				slots[binary.BigEndian.Uint64(raw[:])] = true
			}
			lastPush = nil
		default:
			lastPush = nil
		}
	}

	indexes := make([]uint64, 0, len(slots))
	for idx := range slots {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	layout := make([]abi.StorageSlot, 0, len(indexes))
	for _, idx := range indexes {
		layout = append(layout, abi.StorageSlot{Index: idx, Type: "uint256"})
	}
	return layout, nil
}
