// Package camerahal implements a camera driver shim over V4L2 capture
// hardware: asynchronous capture requests in, converted frames out.
//
// The shim sits between a camera framework above and the kernel capture
// driver below. The framework submits capture requests, each naming one or
// more output buffers in the formats it wants; the shim exchanges buffer
// slots with the driver, converts every captured frame into the requested
// output formats, and delivers exactly one completion per request.
//
// # Quick Start
//
// Capture JPEG frames from the first video device:
//
//	dev, err := camerahal.OpenDevice("/dev/video0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cam, err := camerahal.Open(dev, listener, camerahal.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cam.Close()
//
//	format, err := cam.ConfigureStreams(camerahal.Format{
//	    FourCC: camerahal.JPEG, Width: 1280, Height: 720,
//	}, 4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out := camerahal.NewBuffer(camerahal.JPEG, format.Width, format.Height)
//	req := camerahal.NewRequest(0, settings, []*camerahal.OutputBuffer{{Handle: out}})
//	if err := cam.ProcessCaptureRequest(req); err != nil {
//	    log.Fatal(err)
//	}
//	// listener.OnCaptureResult fires when the frame is ready.
//
// Use the "fake:" device path for an in-process backend that produces
// deterministic test frames without hardware.
//
// # Features
//
//   - Asynchronous request pipeline: submission returns immediately, two
//     worker goroutines drive hardware exchange and completion delivery
//   - Format conversion from the common V4L2 capture formats (planar and
//     packed YUV, MJPEG) to planar YUV, 32-bit RGB, and JPEG with embedded
//     EXIF metadata including GPS and an optional thumbnail
//   - Crop/rotate/rescale for physically rotated sensor mountings
//   - Qualified format negotiation: a driver that cannot deliver the
//     requested format is accepted when conversion can bridge the gap
//   - Flush aborts everything in flight with deterministic error
//     completions; the camera is immediately reusable
//   - Thread-safe statistics snapshots at every layer
//
// # Error taxonomy
//
// Errors wrap the errno sentinels from golang.org/x/sys/unix so callers can
// classify with errors.Is: EINVAL for caller mistakes, EBUSY when the
// in-flight set is full, EAGAIN when nothing is ready, ETIMEDOUT for fence
// waits, ENODEV for device-fatal conditions.
//
// # Threading model
//
// ProcessCaptureRequest may be called from any goroutine. Completion
// callbacks arrive on the camera's worker goroutines; they must not block
// for long and must not call back into the camera synchronously.
package camerahal
