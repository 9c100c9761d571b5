package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-camera-hal/internal/config"
	"github.com/e7canasta/orion-camera-hal/internal/device"
	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
	"github.com/e7canasta/orion-camera-hal/internal/hal"
	"github.com/e7canasta/orion-camera-hal/internal/metadata"
	"github.com/e7canasta/orion-camera-hal/internal/pool"
	"github.com/e7canasta/orion-camera-hal/internal/request"
)

var (
	flagCount     int
	flagOutDir    string
	flagOutFormat string
)

// captureListener collects completions for the CLI session.
type captureListener struct {
	done chan *request.CaptureRequest
}

func (l *captureListener) OnCaptureResult(req *request.CaptureRequest) { l.done <- req }

func (l *captureListener) OnError(frameNumber uint32, err error) {
	color.Red("frame %d failed: %v", frameNumber, err)
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture frames through the full request pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		outTag, err := config.ParseFourCC(flagOutFormat)
		if err != nil {
			return err
		}

		dev, err := device.Open(cfg.DevicePath)
		if err != nil {
			return err
		}
		listener := &captureListener{done: make(chan *request.CaptureRequest, flagCount)}
		cam, err := hal.Open(dev, listener, hal.Options{
			FenceTimeout: cfg.FenceTimeout,
			Pool: pool.Options{
				RotationDegrees: cfg.RotationDegrees,
				VideoHack:       cfg.VideoHack,
			},
		})
		if err != nil {
			return err
		}
		defer cam.Close()

		got, err := cam.ConfigureStreams(cfg.StreamFormat, cfg.Buffers)
		if err != nil {
			return err
		}
		fmt.Printf("streaming %s\n", got)

		if err := os.MkdirAll(flagOutDir, 0o755); err != nil {
			return err
		}

		settings := metadata.NewBuilder().
			SetU8(metadata.TagJPEGQuality, uint8(cfg.JPEGQuality)).
			SetI64(metadata.TagTimestamp, time.Now().Unix()).
			Build()

		submitted := 0
		completed := 0
		next := uint32(0)
		start := time.Now()
		for completed < flagCount {
			for submitted-completed < cfg.Buffers && submitted < flagCount {
				out := frame.NewAllocated(outTag, got.Width, got.Height)
				req := request.New(next, settings, []*request.OutputBuffer{{Handle: out}})
				if err := cam.ProcessCaptureRequest(req); err != nil {
					return err
				}
				next++
				submitted++
			}
			req := <-listener.done
			if err := writeFrame(req, outTag); err != nil {
				return err
			}
			completed++
		}

		elapsed := time.Since(start)
		stats := cam.Stats()
		color.Green("captured %d frames in %v (%.1f fps)",
			completed, elapsed.Round(time.Millisecond),
			float64(completed)/elapsed.Seconds())
		fmt.Printf("accepted=%d completed=%d failed=%d corrupt=%d\n",
			stats.RequestsAccepted, stats.RequestsCompleted,
			stats.RequestsFailed, stats.Pool.CorruptFrames)
		return nil
	},
}

func writeFrame(req *request.CaptureRequest, tag fourcc.FourCC) error {
	out := req.Outputs[0]
	if out.Status != request.BufferStatusOK {
		return nil
	}
	ext := strings.ToLower(tag.String())
	if tag == fourcc.JPEG {
		ext = "jpg"
	}
	name := filepath.Join(flagOutDir, fmt.Sprintf("frame-%04d.%s", req.FrameNumber, ext))
	return os.WriteFile(name, out.Handle.Data(), 0o644)
}

func init() {
	captureCmd.Flags().IntVarP(&flagCount, "count", "n", 10, "number of frames to capture")
	captureCmd.Flags().StringVarP(&flagOutDir, "out", "o", "frames", "output directory")
	captureCmd.Flags().StringVarP(&flagOutFormat, "format", "f", "JPEG", "output format tag (JPEG, YU12, RGB4, ...)")
	rootCmd.AddCommand(captureCmd)
}
