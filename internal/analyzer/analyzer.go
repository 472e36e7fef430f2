// Package analyzer defines the analysis collaborators consumed by the
// pipeline and the watchdog-guarded runner that bounds them.
//
// The analysis itself is untrusted from the pipeline's point of view: a call
// may hang forever, run far past any useful deadline, or panic. The runner's
// job is to convert all of those into ordinary error results without ever
// blocking a worker.
package analyzer

import (
	"context"
	"sync/atomic"

	"github.com/gateway-fm/abicached/pkg/abi"
)

// Decompiler recovers a contract interface from runtime bytecode.
//
// The bytecode is a hex string with optional "0x" prefix. Implementations
// must poll ctx between units of work; the runner abandons the call outright
// once the deadline passes, so holding external resources across the call is
// not allowed.
type Decompiler interface {
	Decompile(ctx context.Context, bytecode string, skipResolving bool) (*abi.Contract, error)
}

// StorageExtractor infers a storage layout from decoded bytecode bytes.
//
// The computation cannot be interrupted mid-step, so cancellation is
// cooperative: implementations must poll the flag at a fixed interval and
// return ErrStopped promptly once it is set.
type StorageExtractor interface {
	ExtractLayout(code []byte, cancel *CancelFlag) ([]abi.StorageSlot, error)
}

// CancelFlag is the shared cooperative-cancellation signal between the runner
// and a storage extraction in flight.
type CancelFlag struct {
	v atomic.Bool
}

// Cancel requests that the computation stop at its next poll point.
func (f *CancelFlag) Cancel() {
	f.v.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (f *CancelFlag) Cancelled() bool {
	return f.v.Load()
}
