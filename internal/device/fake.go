package device

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

// FakeConfig shapes the in-process fake backend.
type FakeConfig struct {
	// Formats the fake claims to deliver; the first is the preferred one.
	Formats []fourcc.FourCC
	// Sizes the fake claims for every format.
	Sizes []FrameSize
	// MaxBuffers caps RequestBuffers grants.
	MaxBuffers int
	// QueueFailures makes the first N QueueBuffer calls fail with EIO.
	QueueFailures int
	// DequeueFailures makes the first N successful dequeues report the
	// frame as zero bytes (a corrupt capture).
	DequeueFailures int
	// Stall makes DequeueBuffer always report EAGAIN, pinning queued
	// buffers in flight.
	Stall bool
}

// DefaultFakeConfig mimics a common UVC webcam: packed 4:2:2 and MJPEG at a
// few discrete sizes, four buffer slots.
func DefaultFakeConfig() FakeConfig {
	return FakeConfig{
		Formats: []fourcc.FourCC{fourcc.YUYV, fourcc.MJPG},
		Sizes: []FrameSize{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
			{Width: 1920, Height: 1080},
		},
		MaxBuffers: 4,
	}
}

// Fake is a deterministic in-process Device for tests and the fake: device
// path. Queued buffers complete in FIFO order; every completed frame carries
// a sequence-numbered gradient pattern so callers can tell frames apart.
type Fake struct {
	cfg FakeConfig

	mu        sync.Mutex
	connected bool
	streaming bool
	format    frame.Format
	granted   int
	queue     []fakeSlot
	sequence  uint32

	queueFailures   int
	dequeueFailures int

	active metadata.Settings
}

type fakeSlot struct {
	index int
	buf   []byte
}

func NewFake(cfg FakeConfig) *Fake {
	if len(cfg.Formats) == 0 {
		cfg.Formats = []fourcc.FourCC{fourcc.YUYV}
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = []FrameSize{{Width: 640, Height: 480}}
	}
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = 4
	}
	return &Fake{
		cfg:             cfg,
		queueFailures:   cfg.QueueFailures,
		dequeueFailures: cfg.DequeueFailures,
	}
}

func (d *Fake) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Fake) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.streaming = false
	d.queue = nil
	d.granted = 0
	return nil
}

func (d *Fake) Info() (Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return Info{}, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	return Info{Driver: "fake", Card: "Fake Capture Device", BusInfo: "virtual:0"}, nil
}

func (d *Fake) EnumFormats() ([]fourcc.FourCC, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	out := make([]fourcc.FourCC, len(d.cfg.Formats))
	copy(out, d.cfg.Formats)
	return out, nil
}

func (d *Fake) EnumFrameSizes(f fourcc.FourCC) ([]FrameSize, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	for _, have := range d.cfg.Formats {
		if have == f {
			out := make([]FrameSize, len(d.cfg.Sizes))
			copy(out, d.cfg.Sizes)
			return out, nil
		}
	}
	return nil, nil
}

// SetFormat adjusts like real drivers do: an unsupported pixel format is
// substituted with the preferred one, the geometry snaps to the nearest
// supported size.
func (d *Fake) SetFormat(desired frame.Format) (frame.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return frame.Format{}, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	got := desired
	supported := false
	for _, f := range d.cfg.Formats {
		if f == desired.FourCC {
			supported = true
			break
		}
	}
	if !supported {
		got.FourCC = d.cfg.Formats[0]
	}
	best := d.cfg.Sizes[0]
	bestDiff := -1
	for _, s := range d.cfg.Sizes {
		dw, dh := s.Width-desired.Width, s.Height-desired.Height
		diff := dw*dw + dh*dh
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = s, diff
		}
	}
	got.Width, got.Height = best.Width, best.Height
	got.SizeImage = got.FourCC.FrameSize(got.Width, got.Height)
	if got.FourCC.IsCompressed() {
		// Compressed formats have no computable size; advertise a bound.
		got.SizeImage = got.Width * got.Height * 2
	}
	got.Stride = 0
	if !got.FourCC.IsPlanar420() && !got.FourCC.IsCompressed() {
		got.Stride = got.Width * 2
	}
	d.format = got
	return got, nil
}

func (d *Fake) RequestBuffers(count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return 0, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	if count == 0 {
		d.queue = nil
		d.granted = 0
		return 0, nil
	}
	if count > d.cfg.MaxBuffers {
		count = d.cfg.MaxBuffers
	}
	d.granted = count
	d.queue = nil
	return count, nil
}

func (d *Fake) QueueBuffer(index int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	if index < 0 || index >= d.granted {
		return fmt.Errorf("device: slot %d outside granted range %d: %w", index, d.granted, unix.EINVAL)
	}
	if d.queueFailures > 0 {
		d.queueFailures--
		return fmt.Errorf("device: queue buffer %d: %w", index, unix.EIO)
	}
	d.queue = append(d.queue, fakeSlot{index: index, buf: buf})
	return nil
}

func (d *Fake) DequeueBuffer() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return 0, 0, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	if d.cfg.Stall || !d.streaming || len(d.queue) == 0 {
		return 0, 0, fmt.Errorf("device: no buffer ready: %w", unix.EAGAIN)
	}
	slot := d.queue[0]
	d.queue = d.queue[1:]
	seq := d.sequence
	d.sequence++
	if d.dequeueFailures > 0 {
		d.dequeueFailures--
		return slot.index, 0, nil
	}
	n := d.fillPattern(slot.buf, seq)
	return slot.index, n, nil
}

// fillPattern writes a deterministic per-sequence frame: a diagonal luma
// gradient offset by the sequence number over neutral chroma.
func (d *Fake) fillPattern(buf []byte, seq uint32) int {
	w, h := d.format.Width, d.format.Height
	size := d.format.FourCC.FrameSize(w, h)
	if size == 0 || size > len(buf) {
		size = len(buf)
	}
	switch d.format.FourCC {
	case fourcc.YUYV, fourcc.UYVY:
		yOff, cOff := 0, 1
		if d.format.FourCC == fourcc.UYVY {
			yOff, cOff = 1, 0
		}
		for y := 0; y < h; y++ {
			row := y * w * 2
			if row+w*2 > size {
				break
			}
			for x := 0; x < w; x++ {
				buf[row+x*2+yOff] = byte(x + y + int(seq))
				buf[row+x*2+cOff] = 128
			}
		}
	default:
		for i := 0; i < size; i++ {
			buf[i] = byte(i + int(seq))
		}
	}
	return size
}

func (d *Fake) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	d.streaming = true
	return nil
}

func (d *Fake) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	d.queue = nil
	return nil
}

func (d *Fake) ApplySettings(s metadata.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	if s.IsNil() {
		return nil
	}
	if d.active.IsNil() {
		d.active = metadata.New(nil)
	}
	d.active = d.active.Merge(s)
	return nil
}

func (d *Fake) ActiveSettings() metadata.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active.IsNil() {
		return metadata.New(nil)
	}
	return d.active
}
