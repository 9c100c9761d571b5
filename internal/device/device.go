// Package device abstracts the kernel video-capture device behind a
// capability interface the buffer pool and orchestrator program against.
//
// One concrete implementation exists per hardware backend: the V4L2 backend
// speaks ioctl to /dev/video* nodes, and the fake backend generates
// deterministic frames for tests and the CLI's fake: device path.
//
// Locking contract: the underlying driver handle is not reentrant, so every
// implementation serializes its hardware calls behind one internal lock.
// Callers never hold that lock — pool bookkeeping uses its own.
//
// Blocking contract: DequeueBuffer never blocks (EAGAIN when nothing is
// ready); the remaining calls may block the calling thread for a
// driver-dependent but bounded duration and are therefore confined to the
// two worker threads and the configuration path.
package device

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

// Info identifies a connected device.
type Info struct {
	Driver  string
	Card    string
	BusInfo string
}

// FrameSize is one discrete capture geometry a format supports.
type FrameSize struct {
	Width  int
	Height int
}

// Device is the capability interface over one video-capture node.
type Device interface {
	// Connect opens the device node and verifies capture capability.
	Connect() error
	// Disconnect releases the node and all driver-side buffers. Idempotent.
	Disconnect() error
	// Info returns driver identification; valid while connected.
	Info() (Info, error)

	// EnumFormats lists the pixel formats the hardware can deliver.
	EnumFormats() ([]fourcc.FourCC, error)
	// EnumFrameSizes lists the discrete geometries a format supports.
	EnumFrameSizes(f fourcc.FourCC) ([]FrameSize, error)
	// SetFormat configures the capture format and returns the
	// driver-adjusted result (stride and image size filled in).
	SetFormat(desired frame.Format) (frame.Format, error)

	// RequestBuffers asks the driver for count buffer slots and returns how
	// many were granted. Count 0 releases all slots; the driver rejects
	// in-place resize, so callers release before re-requesting.
	RequestBuffers(count int) (int, error)
	// QueueBuffer hands slot index with its backing memory to the driver.
	QueueBuffer(index int, buf []byte) error
	// DequeueBuffer polls for one completed slot. Returns EAGAIN
	// immediately when nothing is ready.
	DequeueBuffer() (index int, bytesUsed int, err error)

	StreamOn() error
	StreamOff() error

	// ApplySettings applies what it can of the snapshot to driver controls,
	// best effort; unknown tags are carried but ignored.
	ApplySettings(s metadata.Settings) error
	// ActiveSettings returns a snapshot of the settings actually in effect.
	ActiveSettings() metadata.Settings
}

// FakeScheme prefixes device paths served by the in-process fake backend,
// e.g. "fake:" or "fake:slow".
const FakeScheme = "fake:"

// Open builds the backend for a device path without connecting it.
func Open(path string) (Device, error) {
	if path == "" {
		return nil, fmt.Errorf("device: empty device path: %w", unix.EINVAL)
	}
	if strings.HasPrefix(path, FakeScheme) {
		return NewFake(DefaultFakeConfig()), nil
	}
	return openPlatform(path)
}
