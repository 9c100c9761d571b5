// Package pool manages the buffer-slot exchange with the capture device.
//
// The pool owns a fixed set of slots, one per driver buffer. Each slot owns
// heap memory sized for the negotiated hardware format; enqueueing binds a
// capture request to a free slot and hands the slot memory to the driver,
// dequeueing converts the captured frame into every output buffer of the
// bound request and frees the slot.
//
// Two locks are in play and never nest the wrong way: the pool's bookkeeping
// lock here, and the device's internal hardware lock below it. Pool methods
// call the device while holding the bookkeeping lock; the device never calls
// back up.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/convert"
	"github.com/e7canasta/orion-camera-hal/internal/device"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/request"
)

type slotState int

const (
	slotFree slotState = iota
	slotEnqueued
)

type slot struct {
	index  int
	state  slotState
	req    *request.CaptureRequest
	buffer *frame.Allocated
}

// Options configures pool behavior that comes from deployment, not from
// requests: sensor mounting rotation and the legacy YV12 plane-order hack.
type Options struct {
	RotationDegrees int
	VideoHack       bool
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Slots           int
	Free            int
	InFlight        int
	FramesCompleted uint64
	CorruptFrames   uint64
	ConvertErrors   uint64
}

// Pool is the device buffer-slot exchange. Construct with New; the zero value
// is unusable.
type Pool struct {
	dev  device.Device
	opts Options

	mu        sync.Mutex
	slots     []*slot
	format    frame.Format
	conv      *convert.Converter
	streaming bool

	framesCompleted atomic.Uint64
	corruptFrames   atomic.Uint64
	convertErrors   atomic.Uint64
}

func New(dev device.Device, opts Options) *Pool {
	return &Pool{dev: dev, opts: opts, conv: convert.NewConverter()}
}

// SetFormat negotiates the hardware format and (re)builds the slot set.
//
// The desired format is accepted exactly when the driver grants it, or
// "qualified" when the driver substitutes a format the conversion engine can
// still reach the desired one from. Anything else is EINVAL. Existing slots
// are released first; the driver rejects in-place resize.
func (p *Pool) SetFormat(desired frame.Format, count int) (frame.Format, int, error) {
	if err := desired.Valid(); err != nil {
		return frame.Format{}, 0, err
	}
	if count <= 0 {
		return frame.Format{}, 0, fmt.Errorf("pool: buffer count %d: %w", count, unix.EINVAL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlightLocked() > 0 {
		return frame.Format{}, 0, fmt.Errorf("pool: %d slots still enqueued: %w", p.inFlightLocked(), unix.EINVAL)
	}

	got, err := p.dev.SetFormat(desired)
	if err != nil {
		return frame.Format{}, 0, err
	}
	if got.FourCC != desired.FourCC && !convert.Convertible(got.FourCC, desired.FourCC) {
		return frame.Format{}, 0, fmt.Errorf("pool: driver offers %s, cannot reach %s: %w",
			got.FourCC, desired.FourCC, unix.EINVAL)
	}

	if _, err := p.dev.RequestBuffers(0); err != nil {
		return frame.Format{}, 0, fmt.Errorf("pool: release buffers: %w", err)
	}
	granted, err := p.dev.RequestBuffers(count)
	if err != nil {
		return frame.Format{}, 0, err
	}
	if granted <= 0 {
		return frame.Format{}, 0, fmt.Errorf("pool: driver granted no buffers: %w", unix.ENODEV)
	}

	size := got.BufferSize()
	p.slots = make([]*slot, granted)
	for i := range p.slots {
		b := &frame.Allocated{}
		b.Reset(got.FourCC, got.Width, got.Height, size)
		p.slots[i] = &slot{index: i, buffer: b}
	}
	p.format = got
	slog.Info("pool: format negotiated",
		"desired", desired.String(), "got", got.String(), "slots", granted)
	return got, granted, nil
}

// Format returns the negotiated hardware format.
func (p *Pool) Format() frame.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

// EnqueueRequest binds the request to a free slot and queues the slot memory
// with the driver. Never blocks: a pool with no free slot is a bookkeeping
// failure upstream and reported as ENODEV.
func (p *Pool) EnqueueRequest(req *request.CaptureRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) == 0 {
		return fmt.Errorf("pool: no format negotiated: %w", unix.ENODEV)
	}
	var free *slot
	for _, s := range p.slots {
		if s.state == slotFree {
			free = s
			break
		}
	}
	if free == nil {
		return fmt.Errorf("pool: frame %d: all %d slots enqueued: %w",
			req.FrameNumber, len(p.slots), unix.ENODEV)
	}
	// Re-arm the slot for the negotiated format; a no-op once the buffer has
	// settled at its high-water mark.
	free.buffer.Reset(p.format.FourCC, p.format.Width, p.format.Height, p.format.BufferSize())
	if err := p.dev.QueueBuffer(free.index, free.buffer.Storage()); err != nil {
		return fmt.Errorf("pool: frame %d: %w", req.FrameNumber, err)
	}
	free.state = slotEnqueued
	free.req = req
	return nil
}

// DequeueRequest polls the driver for a completed slot, converts the captured
// frame into every output buffer of the bound request, frees the slot, and
// returns the request ready for completion delivery.
//
// EAGAIN passes through untouched when nothing is ready. A zero-byte capture
// marks every output errored but still returns the request: a corrupt frame
// completes, it does not vanish.
func (p *Pool) DequeueRequest() (*request.CaptureRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	index, used, err := p.dev.DequeueBuffer()
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, err
		}
		return nil, fmt.Errorf("pool: %w", err)
	}
	if index < 0 || index >= len(p.slots) || p.slots[index].state != slotEnqueued {
		return nil, fmt.Errorf("pool: driver returned unknown slot %d: %w", index, unix.ENODEV)
	}

	s := p.slots[index]
	req := s.req
	s.req = nil
	s.state = slotFree

	if used <= 0 {
		p.corruptFrames.Add(1)
		for _, out := range req.Outputs {
			out.Status = request.BufferStatusError
		}
		slog.Warn("pool: corrupt frame", "frame", req.FrameNumber, "trace_id", req.TraceID)
		return req, nil
	}

	if err := s.buffer.SetDataSize(used); err != nil {
		// A byte count past the slot capacity is driver corruption too; the
		// bound request completes errored, it does not vanish.
		p.corruptFrames.Add(1)
		for _, out := range req.Outputs {
			out.Status = request.BufferStatusError
		}
		slog.Warn("pool: driver byte count outside slot capacity",
			"frame", req.FrameNumber, "slot", index, "used", used, "err", err)
		return req, nil
	}
	if err := p.conv.SetSource(s.buffer, p.format, p.opts.RotationDegrees); err != nil {
		p.convertErrors.Add(1)
		for _, out := range req.Outputs {
			out.Status = request.BufferStatusError
		}
		slog.Warn("pool: source rejected", "frame", req.FrameNumber, "err", err)
		return req, nil
	}
	defer p.conv.UnsetSource()

	for i, out := range req.Outputs {
		if err := p.conv.Convert(req.Settings, out.Handle, p.opts.VideoHack); err != nil {
			p.convertErrors.Add(1)
			out.Status = request.BufferStatusError
			slog.Warn("pool: conversion failed",
				"frame", req.FrameNumber, "output", i, "format", out.Handle.FourCC().String(), "err", err)
			continue
		}
		out.Status = request.BufferStatusOK
	}
	p.framesCompleted.Add(1)
	return req, nil
}

// InFlightCount returns the number of enqueued slots.
func (p *Pool) InFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlightLocked()
}

func (p *Pool) inFlightLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.state == slotEnqueued {
			n++
		}
	}
	return n
}

// StreamOn starts capture. Idempotent.
func (p *Pool) StreamOn() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streaming {
		return nil
	}
	if err := p.dev.StreamOn(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	p.streaming = true
	return nil
}

// StreamOff stops capture and reclaims every enqueued slot. The driver drops
// its queue on stream-off, so the slot bindings are simply cleared; the
// orphaned requests are returned for the caller to complete with errors.
func (p *Pool) StreamOff() ([]*request.CaptureRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming {
		return nil, nil
	}
	err := p.dev.StreamOff()
	p.streaming = false
	var orphans []*request.CaptureRequest
	for _, s := range p.slots {
		if s.state == slotEnqueued {
			if s.req != nil {
				orphans = append(orphans, s.req)
			}
			s.req = nil
			s.state = slotFree
		}
	}
	if err != nil {
		return orphans, fmt.Errorf("pool: %w", err)
	}
	return orphans, nil
}

// Streaming reports whether capture is running.
func (p *Pool) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streaming
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	slots := len(p.slots)
	inFlight := p.inFlightLocked()
	p.mu.Unlock()
	return Stats{
		Slots:           slots,
		Free:            slots - inFlight,
		InFlight:        inFlight,
		FramesCompleted: p.framesCompleted.Load(),
		CorruptFrames:   p.corruptFrames.Load(),
		ConvertErrors:   p.convertErrors.Load(),
	}
}
