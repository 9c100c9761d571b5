//go:build linux && (amd64 || arm64)

package device

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

// V4L2 is the hardware backend over a /dev/video* capture node.
//
// Buffer memory strategy: userspace pointers (the pool's slot-owned heap
// buffers) are preferred so the driver DMAs straight into the slot; drivers
// that reject USERPTR fall back to MMAP mode, where dequeue copies the
// mapped region into the slot buffer. Mappings are guarded (frame.Mapping)
// and released on every exit path of the release sequence.
type V4L2 struct {
	path string

	// mu serializes every hardware call: the driver handle is not
	// reentrant. Pool bookkeeping runs under a different lock.
	mu sync.Mutex

	fd       int
	userptr  bool
	mappings []*frame.Mapping
	queued   map[int][]byte

	active metadata.Settings
}

func openPlatform(path string) (Device, error) {
	return &V4L2{path: path, fd: -1, queued: make(map[int][]byte)}, nil
}

func v4l2Ioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return errno
	}
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (d *V4L2) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd >= 0 {
		return nil
	}
	// O_NONBLOCK makes DQBUF return EAGAIN instead of sleeping, which is
	// the dequeue contract the workers rely on.
	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("device: open %s: %w", d.path, err)
	}
	var caps v4l2Capability
	if err := v4l2Ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("device: query capabilities of %s: %w", d.path, err)
	}
	if caps.capabilities&capVideoCapture == 0 || caps.capabilities&capStreaming == 0 {
		unix.Close(fd)
		return fmt.Errorf("device: %s does not support streaming capture: %w", d.path, unix.ENODEV)
	}
	d.fd = fd
	slog.Info("device: connected", "path", d.path, "driver", cstr(caps.driver[:]), "card", cstr(caps.card[:]))
	return nil
}

func (d *V4L2) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	d.releaseBuffersLocked()
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return fmt.Errorf("device: close %s: %w", d.path, err)
	}
	return nil
}

func (d *V4L2) Info() (Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return Info{}, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	var caps v4l2Capability
	if err := v4l2Ioctl(d.fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		return Info{}, fmt.Errorf("device: query capabilities: %w", err)
	}
	return Info{
		Driver:  cstr(caps.driver[:]),
		Card:    cstr(caps.card[:]),
		BusInfo: cstr(caps.busInfo[:]),
	}, nil
}

func (d *V4L2) EnumFormats() ([]fourcc.FourCC, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	var out []fourcc.FourCC
	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{index: i, typ: bufTypeVideoCapture}
		if err := v4l2Ioctl(d.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("device: enumerate formats: %w", err)
		}
		out = append(out, fourcc.FourCC(desc.pixelformat))
	}
	return out, nil
}

func (d *V4L2) EnumFrameSizes(f fourcc.FourCC) ([]FrameSize, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	var out []FrameSize
	for i := uint32(0); ; i++ {
		fs := v4l2Frmsizeenum{index: i, pixelFormat: uint32(f)}
		if err := v4l2Ioctl(d.fd, vidiocEnumFramesizes, unsafe.Pointer(&fs)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("device: enumerate frame sizes: %w", err)
		}
		if fs.typ != frmsizeTypeDiscrete {
			continue
		}
		out = append(out, FrameSize{Width: int(fs.discrete.width), Height: int(fs.discrete.height)})
	}
	return out, nil
}

func (d *V4L2) SetFormat(desired frame.Format) (frame.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return frame.Format{}, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	f := v4l2Format{typ: bufTypeVideoCapture}
	f.pix.width = uint32(desired.Width)
	f.pix.height = uint32(desired.Height)
	f.pix.pixelformat = uint32(desired.FourCC)
	f.pix.field = fieldNone
	if err := v4l2Ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return frame.Format{}, fmt.Errorf("device: set format %s: %w", desired, err)
	}
	got := frame.Format{
		FourCC:    fourcc.FourCC(f.pix.pixelformat),
		Width:     int(f.pix.width),
		Height:    int(f.pix.height),
		Stride:    int(f.pix.bytesperline),
		SizeImage: int(f.pix.sizeimage),
	}
	slog.Debug("device: format set", "requested", desired.String(), "got", got.String())
	return got, nil
}

func (d *V4L2) RequestBuffers(count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return 0, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	if count == 0 {
		d.releaseBuffersLocked()
		return 0, nil
	}

	// Prefer USERPTR: the driver fills the slot's own memory directly.
	rb := v4l2RequestBuffers{count: uint32(count), typ: bufTypeVideoCapture, memory: memoryUserptr}
	err := v4l2Ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&rb))
	if err == nil {
		d.userptr = true
		d.queued = make(map[int][]byte)
		return int(rb.count), nil
	}
	if !errors.Is(err, unix.EINVAL) {
		return 0, fmt.Errorf("device: request %d userptr buffers: %w", count, err)
	}

	// MMAP fallback: map every driver buffer behind a guard; on any
	// mid-sequence failure, everything mapped so far is released.
	rb = v4l2RequestBuffers{count: uint32(count), typ: bufTypeVideoCapture, memory: memoryMmap}
	if err := v4l2Ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return 0, fmt.Errorf("device: request %d mmap buffers: %w", count, err)
	}
	d.userptr = false
	d.queued = make(map[int][]byte)
	d.mappings = make([]*frame.Mapping, rb.count)
	for i := uint32(0); i < rb.count; i++ {
		qb := v4l2Buffer{index: i, typ: bufTypeVideoCapture, memory: memoryMmap}
		if err := v4l2Ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&qb)); err != nil {
			d.releaseBuffersLocked()
			return 0, fmt.Errorf("device: query buffer %d: %w", i, err)
		}
		m, err := frame.MapRegion(d.fd, int64(qb.m), int(qb.length))
		if err != nil {
			d.releaseBuffersLocked()
			return 0, err
		}
		d.mappings[i] = m
	}
	return int(rb.count), nil
}

func (d *V4L2) releaseBuffersLocked() {
	for _, m := range d.mappings {
		if m != nil {
			_ = m.Close()
		}
	}
	d.mappings = nil
	d.queued = make(map[int][]byte)
	rb := v4l2RequestBuffers{count: 0, typ: bufTypeVideoCapture, memory: memoryMmap}
	if d.userptr {
		rb.memory = memoryUserptr
	}
	_ = v4l2Ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&rb))
}

func (d *V4L2) QueueBuffer(index int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	qb := v4l2Buffer{index: uint32(index), typ: bufTypeVideoCapture}
	if d.userptr {
		if len(buf) == 0 {
			return fmt.Errorf("device: empty userptr buffer for slot %d: %w", index, unix.EINVAL)
		}
		qb.memory = memoryUserptr
		qb.m = uint64(uintptr(unsafe.Pointer(&buf[0])))
		qb.length = uint32(len(buf))
	} else {
		qb.memory = memoryMmap
	}
	if err := v4l2Ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&qb)); err != nil {
		return fmt.Errorf("device: queue buffer %d: %w", index, err)
	}
	// Keep the slot memory reachable while the kernel owns it, and keep the
	// copy-out target for MMAP mode.
	d.queued[index] = buf
	return nil
}

func (d *V4L2) DequeueBuffer() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return 0, 0, fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	qb := v4l2Buffer{typ: bufTypeVideoCapture, memory: memoryMmap}
	if d.userptr {
		qb.memory = memoryUserptr
	}
	if err := v4l2Ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&qb)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, 0, fmt.Errorf("device: no buffer ready: %w", unix.EAGAIN)
		}
		return 0, 0, fmt.Errorf("device: dequeue buffer: %w", err)
	}
	index := int(qb.index)
	used := int(qb.bytesused)
	dst := d.queued[index]
	delete(d.queued, index)
	if !d.userptr && index < len(d.mappings) && d.mappings[index] != nil {
		region := d.mappings[index].Bytes()
		if used > len(region) {
			used = len(region)
		}
		if used > len(dst) {
			used = len(dst)
		}
		copy(dst[:used], region[:used])
	}
	return index, used, nil
}

func (d *V4L2) streamIoctl(req uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	typ := uint32(bufTypeVideoCapture)
	if err := v4l2Ioctl(d.fd, req, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("device: stream ioctl: %w", err)
	}
	return nil
}

func (d *V4L2) StreamOn() error  { return d.streamIoctl(vidiocStreamon) }
func (d *V4L2) StreamOff() error { return d.streamIoctl(vidiocStreamoff) }

// controlBindings maps settings tags onto the driver controls the backend
// knows how to apply. Everything else rides along unapplied.
var controlBindings = map[metadata.Tag]uint32{
	metadata.TagBrightness: cidBrightness,
	metadata.TagContrast:   cidContrast,
}

// setControl issues VIDIOC_S_CTRL. A variable so the control path can be
// exercised without a device node.
var setControl = func(fd int, cid uint32, value int32) error {
	ctrl := v4l2Control{id: cid, value: value}
	return v4l2Ioctl(fd, vidiocSCtrl, unsafe.Pointer(&ctrl))
}

func (d *V4L2) ApplySettings(s metadata.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return fmt.Errorf("device: not connected: %w", unix.ENODEV)
	}
	if s.IsNil() {
		return nil
	}
	applied := metadata.NewBuilder()
	accepted := 0
	for tag, cid := range controlBindings {
		v, ok := s.U32(tag)
		if !ok {
			continue
		}
		if err := setControl(d.fd, cid, int32(v)); err != nil {
			// Best effort: a control the driver refuses does not fail the
			// request and stays out of the active snapshot.
			slog.Debug("device: control rejected", "control", cid, "err", err)
			continue
		}
		applied.SetU32(tag, v)
		accepted++
	}
	if accepted == 0 {
		return nil
	}
	if d.active.IsNil() {
		d.active = metadata.New(nil)
	}
	d.active = d.active.Merge(applied.Build())
	return nil
}

func (d *V4L2) ActiveSettings() metadata.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active.IsNil() {
		return metadata.New(nil)
	}
	return d.active
}
