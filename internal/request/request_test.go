package request

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

func TestChanFence(t *testing.T) {
	f := NewChanFence()
	if err := f.Wait(5 * time.Millisecond); !errors.Is(err, unix.ETIMEDOUT) {
		t.Fatalf("unsignalled fence: got %v, want ETIMEDOUT", err)
	}
	f.Signal()
	if err := f.Wait(5 * time.Millisecond); err != nil {
		t.Fatalf("signalled fence: %v", err)
	}
	// Signalled fences release every subsequent waiter too.
	if err := f.Wait(0); err != nil {
		t.Fatalf("second wait: %v", err)
	}
}

func TestWaitFenceNilIsSignalled(t *testing.T) {
	if err := WaitFence(nil, 0); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	out := &OutputBuffer{Handle: frame.NewAllocated(fourcc.YU12, 64, 64)}
	ok := New(1, metadata.New(nil), []*OutputBuffer{out})
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	if ok.TraceID == "" {
		t.Error("no trace ID assigned")
	}

	var nilReq *CaptureRequest
	if err := nilReq.Validate(); !errors.Is(err, unix.EINVAL) {
		t.Errorf("nil request: %v", err)
	}
	noOutputs := New(2, metadata.New(nil), nil)
	if err := noOutputs.Validate(); !errors.Is(err, unix.EINVAL) {
		t.Errorf("no outputs: %v", err)
	}
	nilHandle := New(3, metadata.New(nil), []*OutputBuffer{{}})
	if err := nilHandle.Validate(); !errors.Is(err, unix.EINVAL) {
		t.Errorf("nil handle: %v", err)
	}
}

func TestTraceIDsAreUnique(t *testing.T) {
	out := []*OutputBuffer{{Handle: frame.NewAllocated(fourcc.YU12, 64, 64)}}
	a := New(1, metadata.New(nil), out)
	b := New(2, metadata.New(nil), out)
	if a.TraceID == b.TraceID {
		t.Error("two requests share a trace ID")
	}
}
