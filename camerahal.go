package camerahal

import (
	"github.com/e7canasta/orion-camera-hal/internal/device"
	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/hal"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
	"github.com/e7canasta/orion-camera-hal/internal/pool"
	"github.com/e7canasta/orion-camera-hal/internal/request"
)

// Camera is the orchestrator: open, configure, submit, flush, close.
type Camera = hal.Camera

// Listener receives completion deliveries and error notifications.
type Listener = hal.Listener

// Options configures a camera instance.
type Options = hal.Options

// PoolOptions carries the deployment knobs of the buffer pool.
type PoolOptions = pool.Options

// Stats is a point-in-time snapshot of pipeline counters.
type Stats = hal.Stats

// State is the camera lifecycle state.
type State = hal.State

// Device is the capability interface over one capture node.
type Device = device.Device

// Format describes a negotiated stream.
type Format = frame.Format

// Buffer is the common view over pixel memory.
type Buffer = frame.Buffer

// FourCC is a four-character pixel-format tag.
type FourCC = fourcc.FourCC

// Settings is an immutable per-request metadata snapshot.
type Settings = metadata.Settings

// CaptureRequest is one unit of work flowing through the pipeline.
type CaptureRequest = request.CaptureRequest

// OutputBuffer is one destination a converted frame is written to.
type OutputBuffer = request.OutputBuffer

// Fence gates access to a buffer; waits are always bounded.
type Fence = request.Fence

// Supported pixel-format tags.
const (
	YU12  = fourcc.YU12
	YV12  = fourcc.YV12
	NV12  = fourcc.NV12
	NV21  = fourcc.NV21
	YUYV  = fourcc.YUYV
	UYVY  = fourcc.UYVY
	MJPG  = fourcc.MJPG
	JPEG  = fourcc.JPEG
	RGB32 = fourcc.RGB32
	BGR32 = fourcc.BGR32
)

// Well-known settings tags.
const (
	TagJPEGQuality     = metadata.TagJPEGQuality
	TagOrientation     = metadata.TagOrientation
	TagThumbnailWidth  = metadata.TagThumbnailWidth
	TagThumbnailHeight = metadata.TagThumbnailHeight
	TagFocalLength     = metadata.TagFocalLength
	TagGPSLatitude     = metadata.TagGPSLatitude
	TagGPSLongitude    = metadata.TagGPSLongitude
	TagGPSAltitude     = metadata.TagGPSAltitude
	TagGPSTimestamp    = metadata.TagGPSTimestamp
	TagTimestamp       = metadata.TagTimestamp
	TagBrightness      = metadata.TagBrightness
	TagContrast        = metadata.TagContrast
)

// OpenDevice builds the backend for a device path without connecting it.
// The "fake:" path serves the deterministic in-process backend.
func OpenDevice(path string) (Device, error) { return device.Open(path) }

// Open connects the device and starts the capture workers.
func Open(dev Device, listener Listener, opts Options) (*Camera, error) {
	return hal.Open(dev, listener, opts)
}

// NewBuffer allocates an owning frame buffer sized for one frame.
func NewBuffer(tag FourCC, width, height int) *frame.Allocated {
	return frame.NewAllocated(tag, width, height)
}

// NewRequest builds a capture request with a fresh trace ID.
func NewRequest(frameNumber uint32, settings Settings, outputs []*OutputBuffer) *CaptureRequest {
	return request.New(frameNumber, settings, outputs)
}

// NewSettings starts a settings builder.
func NewSettings() *metadata.Builder { return metadata.NewBuilder() }
