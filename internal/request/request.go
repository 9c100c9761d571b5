// Package request models one in-flight capture request: the frame number the
// framework keyed it with, the settings snapshot in effect, and the output
// buffers to fill.
//
// Ownership contract: the submitter owns a request until it is handed to the
// tracker. From then on it is shared between the tracker, the enqueue and
// dequeue workers, and the completion callback — and its lifetime ends after
// exactly one completion delivery.
package request

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

// BufferStatus records the outcome of filling one output buffer.
type BufferStatus int

const (
	BufferStatusOK BufferStatus = iota
	BufferStatusError
)

// Fence is a synchronization handle gating access to a buffer. Wait blocks
// until the fence signals or the timeout elapses; waits are always bounded.
type Fence interface {
	Wait(timeout time.Duration) error
}

// WaitFence waits on a fence, treating nil as already signalled.
func WaitFence(f Fence, timeout time.Duration) error {
	if f == nil {
		return nil
	}
	return f.Wait(timeout)
}

// ChanFence is a fence backed by a channel close. The zero value is unusable;
// construct with NewChanFence.
type ChanFence struct {
	ch chan struct{}
}

func NewChanFence() *ChanFence {
	return &ChanFence{ch: make(chan struct{})}
}

// Signal releases all current and future waiters. Must be called once.
func (f *ChanFence) Signal() { close(f.ch) }

func (f *ChanFence) Wait(timeout time.Duration) error {
	select {
	case <-f.ch:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("request: fence wait timed out after %v: %w", timeout, unix.ETIMEDOUT)
	}
}

// OutputBuffer is one destination the converted frame must be written to.
type OutputBuffer struct {
	Handle       frame.Buffer
	AcquireFence Fence
	ReleaseFence Fence
	Status       BufferStatus
}

// CaptureRequest is one unit of work flowing through the pipeline.
type CaptureRequest struct {
	// FrameNumber is unique within the in-flight set; the tracker enforces it.
	FrameNumber uint32

	// Settings is the metadata snapshot for this capture. Immutable once
	// submitted; the enqueue worker replaces it with a snapshot of what the
	// device actually applied just before hardware submission.
	Settings metadata.Settings

	// Outputs is the ordered list of buffers to fill; at least one.
	Outputs []*OutputBuffer

	// Input is the optional reprocessing source buffer.
	Input *OutputBuffer

	// TraceID correlates log lines across the submission, enqueue, dequeue
	// and completion paths.
	TraceID string

	// SubmittedAt is set when the orchestrator accepts the request.
	SubmittedAt time.Time
}

// New builds a request with a fresh trace ID.
func New(frameNumber uint32, settings metadata.Settings, outputs []*OutputBuffer) *CaptureRequest {
	return &CaptureRequest{
		FrameNumber: frameNumber,
		Settings:    settings,
		Outputs:     outputs,
		TraceID:     uuid.NewString(),
	}
}

// Validate checks request shape: non-nil with at least one output buffer,
// each with a backing handle.
func (r *CaptureRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request: nil request: %w", unix.EINVAL)
	}
	if len(r.Outputs) == 0 {
		return fmt.Errorf("request: frame %d has no output buffers: %w", r.FrameNumber, unix.EINVAL)
	}
	for i, out := range r.Outputs {
		if out == nil || out.Handle == nil {
			return fmt.Errorf("request: frame %d output %d has no buffer handle: %w", r.FrameNumber, i, unix.EINVAL)
		}
	}
	return nil
}
