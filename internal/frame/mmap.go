package frame

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
)

// Mapping is a scoped guard over an mmap'd region. Close unmaps exactly once
// regardless of how many times it is called, so callers can defer it and
// still close early on the happy path.
type Mapping struct {
	mu   sync.Mutex
	data []byte
}

// MapRegion maps length bytes of fd at offset for reading.
func MapRegion(fd int, offset int64, length int) (*Mapping, error) {
	if length <= 0 {
		return nil, fmt.Errorf("frame: mmap length %d: %w", length, unix.EINVAL)
	}
	data, err := unix.Mmap(fd, offset, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("frame: mmap fd=%d offset=%d length=%d: %w", fd, offset, length, err)
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped region. Nil after Close.
func (m *Mapping) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Close unmaps the region. Idempotent.
func (m *Mapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return fmt.Errorf("frame: munmap: %w", err)
	}
	return nil
}

// Mapped is a frame buffer borrowing a memory-mapped device region.
// The Mapping guard stays owned by whoever created it; a Mapped view becomes
// invalid once the guard is closed.
type Mapped struct {
	mapping  *Mapping
	dataSize int
	width    int
	height   int
	tag      fourcc.FourCC
}

// NewMapped wraps a mapping as a frame buffer. dataSize is the number of
// bytes the device reported as filled.
func NewMapped(tag fourcc.FourCC, width, height int, mapping *Mapping, dataSize int) (*Mapped, error) {
	region := mapping.Bytes()
	if region == nil {
		return nil, fmt.Errorf("frame: mapping already closed: %w", unix.EINVAL)
	}
	if dataSize < 0 || dataSize > len(region) {
		return nil, fmt.Errorf("frame: data size %d outside mapping of %d bytes: %w", dataSize, len(region), unix.EINVAL)
	}
	return &Mapped{mapping: mapping, dataSize: dataSize, width: width, height: height, tag: tag}, nil
}

func (m *Mapped) Data() []byte          { return m.mapping.Bytes()[:m.dataSize] }
func (m *Mapped) Storage() []byte       { return m.mapping.Bytes() }
func (m *Mapped) DataSize() int         { return m.dataSize }
func (m *Mapped) Capacity() int         { return len(m.mapping.Bytes()) }
func (m *Mapped) Width() int            { return m.width }
func (m *Mapped) Height() int           { return m.height }
func (m *Mapped) FourCC() fourcc.FourCC { return m.tag }

func (m *Mapped) SetDataSize(n int) error {
	if n < 0 || n > len(m.mapping.Bytes()) {
		return fmt.Errorf("frame: data size %d outside mapping: %w", n, unix.EINVAL)
	}
	m.dataSize = n
	return nil
}
