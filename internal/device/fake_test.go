package device

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
)

func connectedFake(t *testing.T, cfg FakeConfig) *Fake {
	t.Helper()
	d := NewFake(cfg)
	if err := d.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Disconnect() })
	return d
}

func TestOpenDispatchesFakeScheme(t *testing.T) {
	d, err := Open("fake:")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(*Fake); !ok {
		t.Fatalf("Open(fake:) returned %T", d)
	}
	if _, err := Open(""); !errors.Is(err, unix.EINVAL) {
		t.Errorf("empty path: got %v, want EINVAL", err)
	}
}

func TestFakeFormatNegotiation(t *testing.T) {
	d := connectedFake(t, DefaultFakeConfig())

	// Unsupported pixel format gets substituted with the preferred one and
	// the geometry snaps to the nearest discrete size.
	got, err := d.SetFormat(frame.Format{FourCC: fourcc.YU12, Width: 700, Height: 500})
	if err != nil {
		t.Fatal(err)
	}
	if got.FourCC != fourcc.YUYV {
		t.Errorf("substituted format %s, want YUYV", got.FourCC)
	}
	if got.Width != 640 || got.Height != 480 {
		t.Errorf("snapped to %dx%d, want 640x480", got.Width, got.Height)
	}
	if got.SizeImage != 640*480*2 {
		t.Errorf("size image %d", got.SizeImage)
	}
}

func TestFakeFIFOCompletionWithDistinctFrames(t *testing.T) {
	d := connectedFake(t, DefaultFakeConfig())
	f, err := d.SetFormat(frame.Format{FourCC: fourcc.YUYV, Width: 640, Height: 480})
	if err != nil {
		t.Fatal(err)
	}
	granted, err := d.RequestBuffers(2)
	if err != nil || granted != 2 {
		t.Fatalf("RequestBuffers: %d, %v", granted, err)
	}

	bufs := [][]byte{make([]byte, f.SizeImage), make([]byte, f.SizeImage)}
	for i, b := range bufs {
		if err := d.QueueBuffer(i, b); err != nil {
			t.Fatal(err)
		}
	}

	// Nothing completes before stream-on.
	if _, _, err := d.DequeueBuffer(); !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("dequeue before stream on: %v", err)
	}
	if err := d.StreamOn(); err != nil {
		t.Fatal(err)
	}

	i0, n0, err := d.DequeueBuffer()
	if err != nil {
		t.Fatal(err)
	}
	i1, n1, err := d.DequeueBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if i0 != 0 || i1 != 1 {
		t.Errorf("completion order %d,%d; want FIFO 0,1", i0, i1)
	}
	if n0 != f.SizeImage || n1 != f.SizeImage {
		t.Errorf("bytes used %d,%d", n0, n1)
	}
	// Sequence-numbered patterns make the two frames distinguishable.
	if bufs[0][0] == bufs[1][0] {
		t.Error("consecutive frames carry identical patterns")
	}

	if _, _, err := d.DequeueBuffer(); !errors.Is(err, unix.EAGAIN) {
		t.Errorf("empty queue: %v, want EAGAIN", err)
	}
}

func TestFakeFailureInjection(t *testing.T) {
	d := connectedFake(t, FakeConfig{
		Formats:         []fourcc.FourCC{fourcc.YUYV},
		Sizes:           []FrameSize{{Width: 64, Height: 64}},
		MaxBuffers:      2,
		QueueFailures:   1,
		DequeueFailures: 1,
	})
	f, _ := d.SetFormat(frame.Format{FourCC: fourcc.YUYV, Width: 64, Height: 64})
	d.RequestBuffers(2)
	d.StreamOn()

	buf := make([]byte, f.SizeImage)
	if err := d.QueueBuffer(0, buf); !errors.Is(err, unix.EIO) {
		t.Fatalf("injected queue failure: %v", err)
	}
	if err := d.QueueBuffer(0, buf); err != nil {
		t.Fatalf("queue after injected failures were spent: %v", err)
	}
	_, n, err := d.DequeueBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("injected corrupt frame reported %d bytes", n)
	}
}

func TestFakeSettings(t *testing.T) {
	d := connectedFake(t, DefaultFakeConfig())
	s1 := metadata.NewBuilder().SetU32(metadata.TagBrightness, 100).Build()
	s2 := metadata.NewBuilder().SetU32(metadata.TagContrast, 50).Build()
	if err := d.ApplySettings(s1); err != nil {
		t.Fatal(err)
	}
	if err := d.ApplySettings(s2); err != nil {
		t.Fatal(err)
	}
	active := d.ActiveSettings()
	if b, ok := active.U32(metadata.TagBrightness); !ok || b != 100 {
		t.Errorf("brightness %d, %v", b, ok)
	}
	if c, ok := active.U32(metadata.TagContrast); !ok || c != 50 {
		t.Errorf("contrast %d, %v", c, ok)
	}
	// The nil marker applies nothing and clears nothing.
	if err := d.ApplySettings(metadata.Settings{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.ActiveSettings().U32(metadata.TagBrightness); !ok {
		t.Error("nil marker wiped the active settings")
	}
}
