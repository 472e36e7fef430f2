// Package abi holds the contract interface model shared between the cache
// builder and any external consumer of the cache. The serialized layout and
// the cache key derivation in this package are a compatibility surface:
// every implementation that reads or writes the same cache must produce
// identical bytes for identical logical values.
package abi

// Param describes a single function input or output.
type Param struct {
	Name         string
	Type         string
	InternalType *string
}

// Function describes one entry point of a contract interface.
//
// Selector is the 4-byte dispatch selector. For functions recovered without a
// resolved name, Name follows the "Unresolved_xxxxxxxx" convention where the
// hex suffix is the selector itself.
type Function struct {
	Name            string
	Inputs          []Param
	Outputs         []Param
	InputTypes      []string
	OutputTypes     []string
	StateMutability string
	Constant        bool
	Payable         bool
	Selector        [4]byte
	Signature       string
}

// EventParam describes a single event input.
type EventParam struct {
	Name         string
	Type         string
	Indexed      bool
	InternalType *string
}

// Event describes a log event emitted by a contract.
type Event struct {
	Name      string
	Inputs    []EventParam
	Anonymous bool
}

// Error describes a custom revert error.
type Error struct {
	Name   string
	Inputs []Param
}

// StorageSlot describes one inferred storage layout entry.
type StorageSlot struct {
	Index  uint64
	Offset uint32
	Type   string
}

// Contract is the full analysis result for one bytecode, and the value type
// stored in the cache. A failed analysis is represented by an otherwise empty
// Contract with DecompileError set; such records are cached like any other so
// the same input is never re-analyzed.
type Contract struct {
	Functions      []Function
	Events         []Event
	Errors         []Error
	Constructor    *Function
	Fallback       *Function
	Receive        *Function
	StorageLayout  []StorageSlot
	DecompileError *string
	StorageError   *string

	// Derived lookup indexes. Always reconstructed from Functions via
	// RebuildIndexes, never mutated independently.
	bySelector map[[4]byte]int
	byName     map[string]int
}

// NewContract returns an empty Contract with initialized indexes.
func NewContract() *Contract {
	c := &Contract{}
	c.RebuildIndexes()
	return c
}

// RebuildIndexes reconstructs the selector and name lookup tables from the
// function list. It must be called after any change to Functions; the indexes
// have no independent truth of their own.
func (c *Contract) RebuildIndexes() {
	c.bySelector = make(map[[4]byte]int, len(c.Functions))
	c.byName = make(map[string]int, len(c.Functions))

	for i, fn := range c.Functions {
		c.bySelector[fn.Selector] = i
		if fn.Name != "" {
			c.byName[fn.Name] = i
		}
	}
}

// FunctionBySelector returns the function with the given dispatch selector.
func (c *Contract) FunctionBySelector(sel [4]byte) (*Function, bool) {
	i, ok := c.bySelector[sel]
	if !ok {
		return nil, false
	}
	return &c.Functions[i], true
}

// FunctionByName returns the function with the given name.
func (c *Contract) FunctionByName(name string) (*Function, bool) {
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return &c.Functions[i], true
}

// selectorPairs returns the selector index entries in serialization order: first
// occurrence of a key determines position, last occurrence determines the
// stored value. This mirrors insertion-ordered map semantics and makes the
// serialized indexes a pure function of the function list.
func (c *Contract) selectorPairs() ([][4]byte, map[[4]byte]uint64) {
	order := make([][4]byte, 0, len(c.Functions))
	values := make(map[[4]byte]uint64, len(c.Functions))
	for i, fn := range c.Functions {
		if _, seen := values[fn.Selector]; !seen {
			order = append(order, fn.Selector)
		}
		values[fn.Selector] = uint64(i)
	}
	return order, values
}

func (c *Contract) namePairs() ([]string, map[string]uint64) {
	order := make([]string, 0, len(c.Functions))
	values := make(map[string]uint64, len(c.Functions))
	for i, fn := range c.Functions {
		if fn.Name == "" {
			continue
		}
		if _, seen := values[fn.Name]; !seen {
			order = append(order, fn.Name)
		}
		values[fn.Name] = uint64(i)
	}
	return order, values
}
