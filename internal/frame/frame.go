// Package frame provides typed views over pixel memory.
//
// Three variants exist, distinguished by who owns the bytes:
//
//   - Allocated: owns a heap backing store that grows on demand (never shrinks)
//   - Mapped: borrows a memory-mapped device region through a Mapping guard
//   - Borrowed: borrows platform graphics memory locked by the caller
//
// All variants expose the same Buffer view: data in use, allocated capacity,
// geometry and format tag. The conversion engine works against Buffer and
// never cares which variant it was handed.
package frame

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
)

// Buffer is the common view over pixel memory.
//
// Data() returns the bytes in use (length DataSize), which may be shorter
// than the allocated capacity for compressed formats.
type Buffer interface {
	Data() []byte
	DataSize() int
	Capacity() int
	Width() int
	Height() int
	FourCC() fourcc.FourCC

	// Storage returns the full backing store (length Capacity) for writers
	// that produce a frame before knowing its final data size.
	Storage() []byte

	// SetDataSize records how many bytes of the backing store are in use.
	// Fails if n exceeds the capacity of the backing store.
	SetDataSize(n int) error
}

// Format describes a negotiated stream: pixel format tag, geometry, and the
// driver-reported line stride and image size. Stride may exceed Width*bpp on
// hardware with alignment requirements.
type Format struct {
	FourCC    fourcc.FourCC
	Width     int
	Height    int
	Stride    int
	SizeImage int
}

// Valid rejects formats the 4:2:0 plane math cannot express.
func (f Format) Valid() error {
	if f.FourCC.IsPlanar420() || f.FourCC == fourcc.YUYV || f.FourCC == fourcc.UYVY {
		return fourcc.ValidateDimensions(f.Width, f.Height)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame: non-positive dimensions %dx%d: %w", f.Width, f.Height, unix.EINVAL)
	}
	return nil
}

// BufferSize returns the byte size a buffer for this format needs: the
// driver-reported SizeImage when present, else the computed frame size.
func (f Format) BufferSize() int {
	if f.SizeImage > 0 {
		return f.SizeImage
	}
	return f.FourCC.FrameSize(f.Width, f.Height)
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d stride=%d", f.FourCC, f.Width, f.Height, f.Stride)
}

// Allocated is a frame buffer that owns its backing store.
//
// Capacity grows monotonically: Reserve never shrinks the store, so a buffer
// reused across frames settles at the high-water mark and stops allocating.
type Allocated struct {
	buf      []byte
	dataSize int
	width    int
	height   int
	tag      fourcc.FourCC
}

// NewAllocated creates an owning buffer sized and tagged for one frame of
// the given format.
func NewAllocated(tag fourcc.FourCC, width, height int) *Allocated {
	a := &Allocated{}
	a.Reset(tag, width, height, tag.FrameSize(width, height))
	return a
}

// Reset re-tags the buffer for a new format and geometry, growing the backing
// store to at least size bytes. DataSize is reset to size (callers producing
// variable-length data overwrite it afterwards).
func (a *Allocated) Reset(tag fourcc.FourCC, width, height, size int) {
	a.Reserve(size)
	a.tag = tag
	a.width = width
	a.height = height
	a.dataSize = size
}

// Reserve grows the backing store to at least n bytes. Existing data is kept.
func (a *Allocated) Reserve(n int) {
	if n <= cap(a.buf) {
		a.buf = a.buf[:cap(a.buf)]
		return
	}
	grown := make([]byte, n)
	copy(grown, a.buf)
	a.buf = grown
}

func (a *Allocated) Data() []byte          { return a.buf[:a.dataSize] }
func (a *Allocated) Storage() []byte       { return a.buf[:cap(a.buf)] }
func (a *Allocated) DataSize() int         { return a.dataSize }
func (a *Allocated) Capacity() int         { return cap(a.buf) }
func (a *Allocated) Width() int            { return a.width }
func (a *Allocated) Height() int           { return a.height }
func (a *Allocated) FourCC() fourcc.FourCC { return a.tag }

func (a *Allocated) SetDataSize(n int) error {
	if n < 0 || n > cap(a.buf) {
		return fmt.Errorf("frame: data size %d outside capacity %d: %w", n, cap(a.buf), unix.EINVAL)
	}
	a.buf = a.buf[:cap(a.buf)]
	a.dataSize = n
	return nil
}

// Borrowed is a frame buffer over memory owned by someone else, typically a
// locked platform graphics buffer. The caller keeps the memory valid for the
// lifetime of the view.
type Borrowed struct {
	buf      []byte
	dataSize int
	width    int
	height   int
	tag      fourcc.FourCC
}

// NewBorrowed wraps caller-owned memory as a frame buffer.
func NewBorrowed(tag fourcc.FourCC, width, height int, mem []byte) *Borrowed {
	return &Borrowed{buf: mem, dataSize: len(mem), width: width, height: height, tag: tag}
}

func (b *Borrowed) Data() []byte          { return b.buf[:b.dataSize] }
func (b *Borrowed) Storage() []byte       { return b.buf }
func (b *Borrowed) DataSize() int         { return b.dataSize }
func (b *Borrowed) Capacity() int         { return len(b.buf) }
func (b *Borrowed) Width() int            { return b.width }
func (b *Borrowed) Height() int           { return b.height }
func (b *Borrowed) FourCC() fourcc.FourCC { return b.tag }

func (b *Borrowed) SetDataSize(n int) error {
	if n < 0 || n > len(b.buf) {
		return fmt.Errorf("frame: data size %d outside capacity %d: %w", n, len(b.buf), unix.EINVAL)
	}
	b.dataSize = n
	return nil
}
