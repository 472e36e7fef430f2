package source

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ParquetSource reads contracts from parquet files carrying a
// "contract_address" and a "code" column. Either column may be stored as hex
// text or as raw binary; raw binary is hex-encoded on the way in so the rest
// of the pipeline only ever sees hex strings.
type ParquetSource struct{}

type contractRow struct {
	Address []byte `parquet:"contract_address"`
	Code    []byte `parquet:"code"`
}

// Discover lists the *.parquet files in dir, sorted for deterministic
// ordering.
func (ParquetSource) Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".parquet") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSources, dir)
	}

	sort.Strings(files)
	return files, nil
}

// ReadContracts reads all contract rows from one parquet file.
func (ParquetSource) ReadContracts(path string) ([]Contract, error) {
	rows, err := parquet.ReadFile[contractRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}

	contracts := make([]Contract, 0, len(rows))
	for _, row := range rows {
		code := normalizeHex(row.Code)
		if code == "" || code == "0x" {
			continue
		}
		contracts = append(contracts, Contract{
			Address: normalizeHex(row.Address),
			Code:    code,
		})
	}
	return contracts, nil
}

// normalizeHex converts a column value to a 0x-prefixed hex string. Values
// that already look like hex text pass through; raw binary is encoded.
func normalizeHex(v []byte) string {
	if len(v) == 0 {
		return ""
	}
	if string(v) == "0x" {
		return "0x"
	}
	if isHexText(v) {
		s := string(v)
		if strings.HasPrefix(s, "0x") {
			return s
		}
		return "0x" + s
	}
	return "0x" + hex.EncodeToString(v)
}

func isHexText(v []byte) bool {
	s := v
	if len(v) >= 2 && v[0] == '0' && v[1] == 'x' {
		s = v[2:]
	}
	if len(s) == 0 {
		return false
	}
	for _, b := range s {
		switch {
		case b >= '0' && b <= '9':
		case b >= 'a' && b <= 'f':
		case b >= 'A' && b <= 'F':
		default:
			return false
		}
	}
	return true
}
