package camerahal_test

import (
	"bytes"
	"testing"
	"time"

	camerahal "github.com/e7canasta/orion-camera-hal"
)

type collector struct {
	done chan *camerahal.CaptureRequest
}

func (c *collector) OnCaptureResult(req *camerahal.CaptureRequest) { c.done <- req }
func (c *collector) OnError(frameNumber uint32, err error)         {}

// TestFakeCaptureEndToEnd drives the whole pipeline through the public
// surface: fake device, qualified negotiation, JPEG output with EXIF.
func TestFakeCaptureEndToEnd(t *testing.T) {
	dev, err := camerahal.OpenDevice("fake:")
	if err != nil {
		t.Fatal(err)
	}
	sink := &collector{done: make(chan *camerahal.CaptureRequest, 8)}
	cam, err := camerahal.Open(dev, sink, camerahal.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer cam.Close()

	format, err := cam.ConfigureStreams(camerahal.Format{
		FourCC: camerahal.JPEG, Width: 640, Height: 480,
	}, 4)
	if err != nil {
		t.Fatal(err)
	}
	// The fake cannot deliver JPEG; negotiation must qualify a convertible
	// hardware format instead of failing.
	if format.FourCC == camerahal.JPEG {
		t.Fatalf("fake granted JPEG directly: %v", format)
	}

	settings := camerahal.NewSettings().
		SetU8(camerahal.TagJPEGQuality, 90).
		SetI64(camerahal.TagTimestamp, time.Now().Unix()).
		Build()

	out := camerahal.NewBuffer(camerahal.JPEG, format.Width, format.Height)
	req := camerahal.NewRequest(0, settings, []*camerahal.OutputBuffer{{Handle: out}})
	if err := cam.ProcessCaptureRequest(req); err != nil {
		t.Fatal(err)
	}

	select {
	case done := <-sink.done:
		data := done.Outputs[0].Handle.Data()
		if !bytes.HasPrefix(data, []byte{0xff, 0xd8}) {
			t.Fatalf("output is not a JPEG stream: % x", data[:4])
		}
		if !bytes.Contains(data[:64], []byte("Exif")) {
			t.Error("EXIF APP1 segment missing")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not complete")
	}

	stats := cam.Stats()
	if stats.RequestsCompleted != 1 || stats.RequestsFailed != 0 {
		t.Errorf("stats %+v", stats)
	}
}
