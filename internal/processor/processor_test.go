package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/abicached/internal/analyzer"
	"github.com/gateway-fm/abicached/internal/cache"
	"github.com/gateway-fm/abicached/pkg/abi"
)

type fakeDecompiler struct {
	contract *abi.Contract
	err      error
	block    bool
	calls    atomic.Int64
}

func (f *fakeDecompiler) Decompile(ctx context.Context, _ string, _ bool) (*abi.Contract, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.contract, f.err
}

type fakeExtractor struct {
	slots []abi.StorageSlot
	err   error
}

func (f *fakeExtractor) ExtractLayout([]byte, *analyzer.CancelFlag) ([]abi.StorageSlot, error) {
	return f.slots, f.err
}

func testProcessor(t *testing.T, d analyzer.Decompiler, e analyzer.StorageExtractor, extractStorage bool) (*Processor, *cache.Cache) {
	t.Helper()
	c, err := cache.Open(cache.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	runner := analyzer.NewRunner(analyzer.RunnerConfig{
		Decompiler: d,
		Extractor:  e,
		Timeout:    30 * time.Millisecond,
		Grace:      30 * time.Millisecond,
		Abandoned:  new(atomic.Int64),
	})

	return New(Config{
		Cache:          c,
		Runner:         runner,
		SkipResolving:  true,
		ExtractStorage: extractStorage,
	}), c
}

func analyzedContract() *abi.Contract {
	c := abi.NewContract()
	c.Functions = []abi.Function{{
		Name:            "Unresolved_a9059cbb",
		StateMutability: "nonpayable",
		Selector:        [4]byte{0xa9, 0x05, 0x9c, 0xbb},
		Signature:       "Unresolved_a9059cbb()",
	}}
	c.RebuildIndexes()
	return c
}

func TestProcess_SuccessWriteThrough(t *testing.T) {
	p, c := testProcessor(t, &fakeDecompiler{contract: analyzedContract()}, nil, false)

	res := p.Process(context.Background(), "0xabc", "0x6080")
	if !res.Success || res.Cached || res.Timeout || res.Err != "" {
		t.Fatalf("result = %+v, want clean success", res)
	}

	stored, ok, err := c.Get("0x6080", true)
	if err != nil || !ok {
		t.Fatalf("stored entry: ok=%v err=%v", ok, err)
	}
	if len(stored.Functions) != 1 {
		t.Errorf("stored %d functions, want 1", len(stored.Functions))
	}
}

func TestProcess_CachedFastPath(t *testing.T) {
	dec := &fakeDecompiler{contract: analyzedContract()}
	p, c := testProcessor(t, dec, nil, false)

	if err := c.Put("0x6080", true, analyzedContract()); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res := p.Process(context.Background(), "0xabc", "0x6080")
	if !res.Cached || !res.Success {
		t.Fatalf("result = %+v, want cached success", res)
	}
	if dec.calls.Load() != 0 {
		t.Error("decompiler invoked despite cache hit")
	}
}

func TestProcess_NegativeMemoization(t *testing.T) {
	dec := &fakeDecompiler{err: errors.New("unsupported prologue")}
	p, c := testProcessor(t, dec, nil, false)

	res := p.Process(context.Background(), "0xabc", "0x6080")
	if res.Success || res.Err == "" {
		t.Fatalf("result = %+v, want failure with message", res)
	}

	stored, ok, err := c.Get("0x6080", true)
	if err != nil || !ok {
		t.Fatalf("failure not written through: ok=%v err=%v", ok, err)
	}
	if stored.DecompileError == nil || *stored.DecompileError != "unsupported prologue" {
		t.Errorf("stored error = %v", stored.DecompileError)
	}

	// Same input again: the failure record short-circuits, no re-analysis.
	res = p.Process(context.Background(), "0xabc", "0x6080")
	if !res.Cached {
		t.Errorf("second pass result = %+v, want cached", res)
	}
	if dec.calls.Load() != 1 {
		t.Errorf("decompiler called %d times, want 1", dec.calls.Load())
	}
}

func TestProcess_TimeoutClassified(t *testing.T) {
	p, c := testProcessor(t, &fakeDecompiler{block: true}, nil, false)

	res := p.Process(context.Background(), "0xabc", "0x6080")
	if res.Success || !res.Timeout {
		t.Fatalf("result = %+v, want timeout failure", res)
	}
	if !c.Exists("0x6080", true) {
		t.Error("timeout not memoized")
	}
}

func TestProcess_StorageLayoutAttached(t *testing.T) {
	slots := []abi.StorageSlot{{Index: 0, Type: "uint256"}}
	p, c := testProcessor(t, &fakeDecompiler{contract: analyzedContract()}, &fakeExtractor{slots: slots}, true)

	res := p.Process(context.Background(), "0xabc", "0x6080")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}

	stored, ok, err := c.Get("0x6080", true)
	if err != nil || !ok {
		t.Fatalf("stored entry: ok=%v err=%v", ok, err)
	}
	if len(stored.StorageLayout) != 1 || stored.StorageLayout[0].Index != 0 {
		t.Errorf("layout = %+v", stored.StorageLayout)
	}
}

func TestProcess_StorageFailureDoesNotInvalidate(t *testing.T) {
	p, c := testProcessor(t, &fakeDecompiler{contract: analyzedContract()}, &fakeExtractor{err: errors.New("scan failed")}, true)

	res := p.Process(context.Background(), "0xabc", "0x6080")
	if !res.Success || res.Err != "" {
		t.Fatalf("result = %+v, want primary success", res)
	}

	stored, ok, err := c.Get("0x6080", true)
	if err != nil || !ok {
		t.Fatalf("stored entry: ok=%v err=%v", ok, err)
	}
	if len(stored.Functions) != 1 {
		t.Error("primary result lost")
	}
	if stored.StorageError == nil || *stored.StorageError != "scan failed" {
		t.Errorf("storage error = %v", stored.StorageError)
	}
	if len(stored.StorageLayout) != 0 {
		t.Errorf("layout should be absent, got %+v", stored.StorageLayout)
	}
}
