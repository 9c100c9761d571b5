// Package tracker keeps the books on in-flight capture requests.
//
// The tracker is deliberately dumb: uniqueness, capacity, and bulk clear.
// It never completes requests and never talks to hardware — the orchestrator
// owns policy, the tracker owns the invariants:
//
//   - a frame number appears at most once in the in-flight set
//   - the set never exceeds the capacity of the current configuration epoch
//   - without an epoch, nothing can be added
//
// Every operation is internally synchronized and reports failure as a
// boolean or an empty set, never a panic or an error value.
package tracker

import (
	"sync"

	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/request"
)

// StreamConfiguration is the epoch key: the negotiated stream format and the
// per-stream capacity the device can sustain at it.
type StreamConfiguration struct {
	Format     frame.Format
	MaxBuffers int
}

// Tracker is the in-flight request bookkeeping. The zero value is unusable;
// use New.
type Tracker struct {
	mu       sync.Mutex
	config   *StreamConfiguration
	requests map[uint32]*request.CaptureRequest
}

func New() *Tracker {
	return &Tracker{requests: make(map[uint32]*request.CaptureRequest)}
}

// SetStreamConfiguration establishes a new capacity epoch. The caller is
// responsible for only re-keying an empty tracker (configuration changes
// under load are rejected upstream).
func (t *Tracker) SetStreamConfiguration(cfg StreamConfiguration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := cfg
	t.config = &c
}

// ClearStreamConfiguration invalidates the epoch; CanAdd refuses everything
// until a new configuration is set.
func (t *Tracker) ClearStreamConfiguration() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config = nil
}

// StreamConfiguration returns the current epoch, or false if none is set.
func (t *Tracker) StreamConfiguration() (StreamConfiguration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.config == nil {
		return StreamConfiguration{}, false
	}
	return *t.config, true
}

// CanAdd reports whether Add would succeed right now: an epoch is set, the
// frame number is not already tracked, and capacity is not exhausted.
func (t *Tracker) CanAdd(req *request.CaptureRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canAddLocked(req)
}

func (t *Tracker) canAddLocked(req *request.CaptureRequest) bool {
	if req == nil || t.config == nil {
		return false
	}
	if _, dup := t.requests[req.FrameNumber]; dup {
		return false
	}
	return len(t.requests) < t.config.MaxBuffers
}

// Add tracks the request. Returns false under exactly the conditions CanAdd
// reports false.
func (t *Tracker) Add(req *request.CaptureRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.canAddLocked(req) {
		return false
	}
	t.requests[req.FrameNumber] = req
	return true
}

// Tracked reports whether a frame number is currently in flight.
func (t *Tracker) Tracked(frameNumber uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.requests[frameNumber]
	return ok
}

// Remove untracks the request. Returns true iff it was tracked — the
// completion path keys exactly-once delivery on this.
func (t *Tracker) Remove(req *request.CaptureRequest) bool {
	if req == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tracked, ok := t.requests[req.FrameNumber]
	if !ok || tracked != req {
		return false
	}
	delete(t.requests, req.FrameNumber)
	return true
}

// Clear atomically empties the tracker and returns everything that was
// tracked. Flush uses this to claim all in-flight requests in one step.
func (t *Tracker) Clear() []*request.CaptureRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*request.CaptureRequest, 0, len(t.requests))
	for _, req := range t.requests {
		out = append(out, req)
	}
	t.requests = make(map[uint32]*request.CaptureRequest)
	return out
}

// Empty reports whether nothing is in flight.
func (t *Tracker) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests) == 0
}

// Count returns the number of tracked requests.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}
