// Package hal is the orchestrator tying the pipeline together: it accepts
// capture requests from the framework, drives the enqueue and dequeue workers,
// and delivers exactly one completion per accepted request.
//
// Threading model: two long-lived workers plus the caller's threads.
//
//   - submission (ProcessCaptureRequest) validates, waits acquire fences,
//     books the request into the tracker and the pending queue
//   - the enqueue worker drains the pending queue into the buffer pool and
//     starts streaming
//   - the dequeue worker polls the pool for completed frames and delivers
//     results
//
// One condition variable coordinates all three; the device's hardware lock
// and the pool's bookkeeping lock live strictly below it.
package hal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/device"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
	"github.com/e7canasta/orion-camera-hal/internal/pool"
	"github.com/e7canasta/orion-camera-hal/internal/request"
	"github.com/e7canasta/orion-camera-hal/internal/tracker"
)

// State is the camera lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpened
	StateConfigured
	StateCapturing
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateConfigured:
		return "configured"
	case StateCapturing:
		return "capturing"
	case StateFlushing:
		return "flushing"
	}
	return "unknown"
}

// Listener receives completion deliveries and error notifications. Callbacks
// arrive on the camera's worker threads and must not call back into the
// camera while blocking.
type Listener interface {
	// OnCaptureResult delivers the completed request, exactly once per
	// accepted request, success or failure alike.
	OnCaptureResult(req *request.CaptureRequest)
	// OnError reports a per-request failure before its result delivery.
	OnError(frameNumber uint32, err error)
}

// Options configures orchestrator behavior.
type Options struct {
	// FenceTimeout bounds every acquire-fence wait.
	FenceTimeout time.Duration
	// Pool carries the deployment knobs handed through to the buffer pool.
	Pool pool.Options
	// DequeuePoll is the idle poll interval of the dequeue worker while
	// frames are in flight.
	DequeuePoll time.Duration
}

func (o *Options) withDefaults() {
	if o.FenceTimeout <= 0 {
		o.FenceTimeout = 3 * time.Second
	}
	if o.DequeuePoll <= 0 {
		o.DequeuePoll = time.Millisecond
	}
}

// Stats is a point-in-time snapshot of orchestrator counters.
type Stats struct {
	State             State
	RequestsAccepted  uint64
	RequestsCompleted uint64
	RequestsFailed    uint64
	QueueDepth        int
	InFlight          int
	Pool              pool.Stats
}

// Camera is the orchestrator. Construct with Open.
type Camera struct {
	dev      device.Device
	pool     *pool.Pool
	tracker  *tracker.Tracker
	listener Listener
	opts     Options

	mu           sync.Mutex
	cond         *sync.Cond
	state        State
	queue        []*request.CaptureRequest
	inFlight     int
	flushEpoch   uint64
	everAccepted bool
	lastSettings metadata.Settings
	closing      bool
	wg           sync.WaitGroup

	requestsAccepted  atomic.Uint64
	requestsCompleted atomic.Uint64
	requestsFailed    atomic.Uint64
}

// Open connects the device and starts the workers. The camera is Opened but
// unconfigured; ConfigureStreams must succeed before requests are accepted.
func Open(dev device.Device, listener Listener, opts Options) (*Camera, error) {
	if dev == nil || listener == nil {
		return nil, fmt.Errorf("hal: nil device or listener: %w", unix.EINVAL)
	}
	opts.withDefaults()
	if err := dev.Connect(); err != nil {
		return nil, err
	}
	c := &Camera{
		dev:      dev,
		pool:     pool.New(dev, opts.Pool),
		tracker:  tracker.New(),
		listener: listener,
		opts:     opts,
		state:    StateOpened,
	}
	c.cond = sync.NewCond(&c.mu)
	c.wg.Add(2)
	go c.enqueueLoop()
	go c.dequeueLoop()
	return c, nil
}

// ConfigureStreams negotiates the stream format and buffer count. Only legal
// while nothing is in flight: a configuration change under load is EINVAL.
// A device-fatal failure leaves the camera unconfigured.
func (c *Camera) ConfigureStreams(desired frame.Format, maxBuffers int) (frame.Format, error) {
	// Caller errors are rejected before anything touches the device, so the
	// existing configuration keeps working.
	if err := desired.Valid(); err != nil {
		return frame.Format{}, err
	}
	if maxBuffers <= 0 {
		return frame.Format{}, fmt.Errorf("hal: buffer count %d: %w", maxBuffers, unix.EINVAL)
	}

	c.mu.Lock()
	if c.state == StateClosed || c.closing {
		c.mu.Unlock()
		return frame.Format{}, fmt.Errorf("hal: camera closed: %w", unix.ENODEV)
	}
	if c.state == StateFlushing {
		c.mu.Unlock()
		return frame.Format{}, fmt.Errorf("hal: flush in progress: %w", unix.EINVAL)
	}
	if !c.tracker.Empty() || len(c.queue) > 0 || c.inFlight > 0 {
		c.mu.Unlock()
		return frame.Format{}, fmt.Errorf("hal: requests in flight: %w", unix.EINVAL)
	}
	c.mu.Unlock()

	// Stream must be stopped before the driver accepts a buffer reallocation.
	if _, err := c.pool.StreamOff(); err != nil {
		slog.Warn("hal: stream off before reconfigure", "err", err)
	}
	got, granted, err := c.pool.SetFormat(desired, maxBuffers)
	if err != nil {
		// The driver format may already be switched by the time negotiation
		// fails, so the previous configuration cannot be trusted.
		c.tracker.ClearStreamConfiguration()
		c.mu.Lock()
		if c.state == StateConfigured || c.state == StateCapturing {
			c.state = StateOpened
		}
		c.mu.Unlock()
		return frame.Format{}, err
	}
	c.tracker.SetStreamConfiguration(tracker.StreamConfiguration{Format: got, MaxBuffers: granted})

	c.mu.Lock()
	c.state = StateConfigured
	c.mu.Unlock()
	slog.Info("hal: streams configured", "format", got.String(), "buffers", granted)
	return got, nil
}

// ProcessCaptureRequest accepts one request for capture.
//
// Shape errors and duplicate frame numbers are EINVAL; a full in-flight set
// is EBUSY (the framework throttles and retries). A request with the nil
// settings marker reuses the last accepted settings and is EINVAL before any
// settings were ever accepted. Acquire fences are waited here, bounded, so a
// stuck producer fails the submission instead of wedging a worker.
func (c *Camera) ProcessCaptureRequest(req *request.CaptureRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	for i, out := range req.Outputs {
		if err := request.WaitFence(out.AcquireFence, c.opts.FenceTimeout); err != nil {
			return fmt.Errorf("hal: frame %d output %d acquire fence: %w", req.FrameNumber, i, err)
		}
	}
	if req.Input != nil && req.Input.AcquireFence != nil {
		if err := request.WaitFence(req.Input.AcquireFence, c.opts.FenceTimeout); err != nil {
			return fmt.Errorf("hal: frame %d input acquire fence: %w", req.FrameNumber, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.closing {
		return fmt.Errorf("hal: camera closed: %w", unix.ENODEV)
	}
	if c.state == StateOpened {
		return fmt.Errorf("hal: streams not configured: %w", unix.EINVAL)
	}
	if c.state == StateFlushing {
		return fmt.Errorf("hal: flush in progress: %w", unix.EINVAL)
	}
	if req.Settings.IsNil() {
		if !c.everAccepted {
			return fmt.Errorf("hal: frame %d reuses settings but none were ever accepted: %w",
				req.FrameNumber, unix.EINVAL)
		}
		req.Settings = c.lastSettings
	}

	// Tracker booking and queue push under one lock hold, so a concurrent
	// flush either sees the request in both places or in neither.
	if !c.tracker.Add(req) {
		if c.tracker.Tracked(req.FrameNumber) {
			return fmt.Errorf("hal: frame %d already in flight: %w", req.FrameNumber, unix.EINVAL)
		}
		return fmt.Errorf("hal: frame %d: in-flight set full: %w", req.FrameNumber, unix.EBUSY)
	}
	req.SubmittedAt = time.Now()
	c.everAccepted = true
	c.lastSettings = req.Settings
	c.queue = append(c.queue, req)
	c.requestsAccepted.Add(1)
	c.cond.Broadcast()
	slog.Debug("hal: request accepted",
		"frame", req.FrameNumber, "outputs", len(req.Outputs), "trace_id", req.TraceID)
	return nil
}

func (c *Camera) enqueueLoop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closing {
			c.cond.Wait()
		}
		if c.closing {
			c.mu.Unlock()
			return
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		epoch := c.flushEpoch
		c.mu.Unlock()

		// Hardware controls apply best effort; the request then carries a
		// snapshot of what the device actually has in effect.
		if err := c.dev.ApplySettings(req.Settings); err != nil {
			slog.Warn("hal: apply settings", "frame", req.FrameNumber, "err", err)
		}
		active := c.dev.ActiveSettings()
		if !active.IsNil() && active.Len() > 0 {
			req.Settings = req.Settings.Merge(active)
		}

		c.mu.Lock()
		if c.flushEpoch != epoch {
			// Flushed while we held it; the flush already delivered it.
			c.mu.Unlock()
			continue
		}
		err := c.pool.EnqueueRequest(req)
		if err == nil {
			c.inFlight++
			if c.state == StateConfigured {
				c.state = StateCapturing
			}
			c.cond.Broadcast()
		}
		c.mu.Unlock()

		if err != nil {
			slog.Warn("hal: enqueue failed", "frame", req.FrameNumber, "err", err)
			c.completeWithError(req, err)
			continue
		}
		if err := c.pool.StreamOn(); err != nil {
			slog.Error("hal: stream on", "err", err)
		}
	}
}

func (c *Camera) dequeueLoop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for c.inFlight == 0 && !c.closing {
			c.cond.Wait()
		}
		if c.closing {
			c.mu.Unlock()
			return
		}
		epoch := c.flushEpoch
		c.mu.Unlock()

		req, err := c.pool.DequeueRequest()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				time.Sleep(c.opts.DequeuePoll)
				continue
			}
			slog.Error("hal: dequeue failed", "err", err)
			time.Sleep(10 * c.opts.DequeuePoll)
			continue
		}

		c.noteDequeued(epoch)
		c.deliver(req, nil)
	}
}

// noteDequeued counts one completion against the in-flight counter. A flush
// that ran during the poll already zeroed the counter and claimed the popped
// request, so a stale-epoch completion must not consume a post-flush
// request's count.
func (c *Camera) noteDequeued(epoch uint64) {
	c.mu.Lock()
	if c.flushEpoch == epoch && c.inFlight > 0 {
		c.inFlight--
	}
	c.mu.Unlock()
}

// completeWithError marks every output errored and delivers the request.
func (c *Camera) completeWithError(req *request.CaptureRequest, err error) {
	for _, out := range req.Outputs {
		out.Status = request.BufferStatusError
	}
	c.deliver(req, err)
}

// deliver performs the exactly-once completion. The tracker removal is the
// gate: whoever removes the request delivers it, everyone else backs off.
func (c *Camera) deliver(req *request.CaptureRequest, cause error) {
	if !c.tracker.Remove(req) {
		return
	}
	c.finish(req, cause)
}

// finish notifies and delivers a request already claimed from the tracker.
func (c *Camera) finish(req *request.CaptureRequest, cause error) {
	failed := cause != nil
	for _, out := range req.Outputs {
		if out.Status == request.BufferStatusError {
			failed = true
		}
		if rf, ok := out.ReleaseFence.(*request.ChanFence); ok && rf != nil {
			rf.Signal()
		}
	}
	if failed {
		c.requestsFailed.Add(1)
		if cause == nil {
			cause = fmt.Errorf("hal: frame %d buffer error: %w", req.FrameNumber, unix.EIO)
		}
		c.listener.OnError(req.FrameNumber, cause)
	} else {
		c.requestsCompleted.Add(1)
	}
	c.listener.OnCaptureResult(req)
	slog.Debug("hal: request completed",
		"frame", req.FrameNumber, "failed", failed, "trace_id", req.TraceID,
		"latency", time.Since(req.SubmittedAt).String())
}

// Flush aborts everything in flight: the pending queue, the slots queued with
// the driver, all of it. Every flushed request is delivered exactly once with
// errored buffers. On return the camera is Configured, idle, and immediately
// accepts new requests.
func (c *Camera) Flush() error {
	c.mu.Lock()
	if c.state == StateClosed || c.closing {
		c.mu.Unlock()
		return fmt.Errorf("hal: camera closed: %w", unix.ENODEV)
	}
	prev := c.state
	c.state = StateFlushing
	c.flushEpoch++
	c.queue = nil
	c.inFlight = 0
	claimed := c.tracker.Clear()
	c.cond.Broadcast()
	c.mu.Unlock()

	for _, req := range claimed {
		for _, out := range req.Outputs {
			out.Status = request.BufferStatusError
		}
		c.finish(req, fmt.Errorf("hal: frame %d flushed: %w", req.FrameNumber, unix.ECANCELED))
	}

	if _, err := c.pool.StreamOff(); err != nil {
		slog.Warn("hal: stream off during flush", "err", err)
	}

	c.mu.Lock()
	if prev == StateCapturing || prev == StateConfigured {
		c.state = StateConfigured
	} else {
		c.state = prev
	}
	c.mu.Unlock()
	slog.Info("hal: flushed", "aborted", len(claimed))
	return nil
}

// Close flushes, stops the workers, and disconnects the device. Idempotent.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	alreadyClosing := c.closing
	c.mu.Unlock()
	if !alreadyClosing {
		if err := c.Flush(); err != nil && !errors.Is(err, unix.ENODEV) {
			slog.Warn("hal: flush on close", "err", err)
		}
	}

	c.mu.Lock()
	c.closing = true
	c.cond.Broadcast()
	c.mu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return c.dev.Disconnect()
}

// State returns the current lifecycle state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of orchestrator and pool counters.
func (c *Camera) Stats() Stats {
	c.mu.Lock()
	state := c.state
	depth := len(c.queue)
	inFlight := c.inFlight
	c.mu.Unlock()
	return Stats{
		State:             state,
		RequestsAccepted:  c.requestsAccepted.Load(),
		RequestsCompleted: c.requestsCompleted.Load(),
		RequestsFailed:    c.requestsFailed.Load(),
		QueueDepth:        depth,
		InFlight:          inFlight,
		Pool:              c.pool.Stats(),
	}
}

// Info returns the connected device identification.
func (c *Camera) Info() (device.Info, error) { return c.dev.Info() }
