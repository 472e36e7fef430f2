package analyzer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/abicached/pkg/abi"
)

type decompileFunc func(ctx context.Context, bytecode string, skipResolving bool) (*abi.Contract, error)

func (f decompileFunc) Decompile(ctx context.Context, bytecode string, skipResolving bool) (*abi.Contract, error) {
	return f(ctx, bytecode, skipResolving)
}

type extractFunc func(code []byte, cancel *CancelFlag) ([]abi.StorageSlot, error)

func (f extractFunc) ExtractLayout(code []byte, cancel *CancelFlag) ([]abi.StorageSlot, error) {
	return f(code, cancel)
}

func testRunner(t *testing.T, d Decompiler, e StorageExtractor) (*Runner, *atomic.Int64) {
	t.Helper()
	abandoned := new(atomic.Int64)
	return NewRunner(RunnerConfig{
		Decompiler: d,
		Extractor:  e,
		Timeout:    30 * time.Millisecond,
		Grace:      30 * time.Millisecond,
		Abandoned:  abandoned,
	}), abandoned
}

func TestRunDecompile_Success(t *testing.T) {
	want := abi.NewContract()
	r, _ := testRunner(t, decompileFunc(func(context.Context, string, bool) (*abi.Contract, error) {
		return want, nil
	}), nil)

	got, err := r.RunDecompile(context.Background(), "00", true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != want {
		t.Error("result not passed through")
	}
}

func TestRunDecompile_Timeout(t *testing.T) {
	r, _ := testRunner(t, decompileFunc(func(ctx context.Context, _ string, _ bool) (*abi.Contract, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), nil)

	start := time.Now()
	_, err := r.RunDecompile(context.Background(), "00", true)
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("got %v, want timeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Phase != PhaseDecompile {
		t.Errorf("phase = %v, want decompilation", err)
	}
	if elapsed > time.Second {
		t.Errorf("caller blocked for %s, deadline not enforced", elapsed)
	}
}

func TestRunDecompile_PanicBecomesFault(t *testing.T) {
	r, _ := testRunner(t, decompileFunc(func(context.Context, string, bool) (*abi.Contract, error) {
		panic("index out of range")
	}), nil)

	_, err := r.RunDecompile(context.Background(), "00", true)
	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("got %v, want FaultError", err)
	}
	if fault.Phase != PhaseDecompile {
		t.Errorf("phase = %q", fault.Phase)
	}
	if IsTimeout(err) {
		t.Error("fault misclassified as timeout")
	}
}

func TestRunDecompile_ErrorPassthrough(t *testing.T) {
	sentinel := errors.New("unsupported prologue")
	r, _ := testRunner(t, decompileFunc(func(context.Context, string, bool) (*abi.Contract, error) {
		return nil, sentinel
	}), nil)

	if _, err := r.RunDecompile(context.Background(), "00", true); !errors.Is(err, sentinel) {
		t.Errorf("got %v, want passthrough of %v", err, sentinel)
	}
}

func TestRunStorage_Success(t *testing.T) {
	want := []abi.StorageSlot{{Index: 3, Type: "uint256"}}
	r, _ := testRunner(t, nil, extractFunc(func([]byte, *CancelFlag) ([]abi.StorageSlot, error) {
		return want, nil
	}))

	got, err := r.RunStorage("0x600355")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 1 || got[0].Index != 3 {
		t.Errorf("slots = %+v", got)
	}
}

func TestRunStorage_Malformed(t *testing.T) {
	r, _ := testRunner(t, nil, extractFunc(func([]byte, *CancelFlag) ([]abi.StorageSlot, error) {
		t.Error("extractor called for malformed input")
		return nil, nil
	}))

	var malformed *MalformedError
	if _, err := r.RunStorage("not-hex"); !errors.As(err, &malformed) {
		t.Errorf("non-hex: got %v, want MalformedError", err)
	}
	if _, err := r.RunStorage("0x"); !errors.As(err, &malformed) {
		t.Errorf("empty: got %v, want MalformedError", err)
	}
}

func TestRunStorage_CooperativeCancel(t *testing.T) {
	// The extractor notices the flag within the grace period, so the call
	// fails with a timeout but the goroutine is not abandoned.
	r, abandoned := testRunner(t, nil, extractFunc(func(_ []byte, cancel *CancelFlag) ([]abi.StorageSlot, error) {
		for !cancel.Cancelled() {
			time.Sleep(time.Millisecond)
		}
		return nil, ErrStopped
	}))

	_, err := r.RunStorage("00")
	if !IsTimeout(err) {
		t.Fatalf("got %v, want timeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Phase != PhaseStorage {
		t.Errorf("phase = %v, want storage extraction", err)
	}
	if abandoned.Load() != 0 {
		t.Error("cooperative exit counted as abandonment")
	}
}

func TestRunStorage_Abandonment(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r, abandoned := testRunner(t, nil, extractFunc(func([]byte, *CancelFlag) ([]abi.StorageSlot, error) {
		<-release
		return nil, nil
	}))

	start := time.Now()
	_, err := r.RunStorage("00")
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("got %v, want timeout", err)
	}
	if abandoned.Load() != 1 {
		t.Errorf("abandoned = %d, want 1", abandoned.Load())
	}
	if r.Abandoned() != 1 {
		t.Errorf("runner abandoned = %d, want 1", r.Abandoned())
	}
	// timeout + grace, with scheduler slack
	if elapsed > time.Second {
		t.Errorf("caller blocked for %s despite abandonment", elapsed)
	}
}

func TestRunStorage_PanicBecomesFault(t *testing.T) {
	r, abandoned := testRunner(t, nil, extractFunc(func([]byte, *CancelFlag) ([]abi.StorageSlot, error) {
		panic("nil map write")
	}))

	_, err := r.RunStorage("00")
	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("got %v, want FaultError", err)
	}
	if fault.Phase != PhaseStorage {
		t.Errorf("phase = %q", fault.Phase)
	}
	if abandoned.Load() != 0 {
		t.Error("panic counted as abandonment")
	}
}

func TestCancelFlag(t *testing.T) {
	flag := &CancelFlag{}
	if flag.Cancelled() {
		t.Error("fresh flag reads cancelled")
	}
	flag.Cancel()
	if !flag.Cancelled() {
		t.Error("flag not observable after cancel")
	}
}
