// Package source produces (address, bytecode) pairs from input files. The
// pipeline only depends on the Source interface; the parquet implementation
// lives in parquet.go.
package source

import (
	"errors"
)

// ErrNoSources is returned when discovery finds no input files.
var ErrNoSources = errors.New("no source files found")

// Contract is one work item: a contract address and its runtime bytecode as
// a hex string. Both carry a "0x" prefix after normalization.
type Contract struct {
	Address string
	Code    string
}

// Source discovers input units and yields the contracts they contain.
type Source interface {
	// Discover lists input files under dir in deterministic order.
	// Returns ErrNoSources when none are found.
	Discover(dir string) ([]string, error)

	// ReadContracts reads all contracts from one input file. Rows with
	// empty or placeholder bytecode are skipped.
	ReadContracts(path string) ([]Contract, error)
}
