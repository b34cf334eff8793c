package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/frame"
	"github.com/smazurov/camnode/internal/host"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/types"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var configFile string
	var backendName string
	var modeText string
	var count int
	var mirror bool
	var outDir string
	var timeout time.Duration
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "capture [uri]",
		Short: "Capture frames from a camera",
		Long: `Opens the camera at uri, captures --count frames and prints their metadata. ` +
			`With --out each frame is written as a PNG file into the given directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := args[0]
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			initLogging("info", logJSON)
			logger := logging.GetLogger("capture").With("uri", uri)

			reg, settings, err := openRegistry(configFile, backendName)
			if err != nil {
				return err
			}
			if err := reg.TryDevice(uri); err != nil {
				return err
			}
			dev, err := reg.Open(uri)
			if err != nil {
				return err
			}
			defer reg.Shutdown()

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
			}

			frames := make(chan *frame.Buffer, count)
			sink := capture.FrameSinkFunc(func(buf *frame.Buffer) {
				held := buf.AddRef()
				select {
				case frames <- held:
				default:
					held.Release()
				}
			})

			stream, err := dev.CreateStream(types.SensorColor, sink,
				capture.WithTimestampSource(settings.Timestamp))
			if err != nil {
				return err
			}
			if modeText != "" {
				mode, err := types.ParseVideoMode(modeText)
				if err != nil {
					return err
				}
				if err := stream.SetVideoMode(mode); err != nil {
					return err
				}
			}
			stream.SetMirroring(mirror)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			logger.Info("Capturing", "mode", stream.VideoMode().String(), "count", count)
			if err := stream.Start(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for got := 0; got < count; got++ {
				select {
				case <-ctx.Done():
					stream.Stop()
					return fmt.Errorf("captured %d of %d frames: %w", got, count, ctx.Err())
				case buf := <-frames:
					fmt.Fprintf(out, "frame %d %dx%d timestamp=%d bytes=%d\n",
						buf.FrameIndex, buf.Width, buf.Height, buf.Timestamp, buf.Size())
					err := writeFrame(outDir, buf)
					buf.Release()
					if err != nil {
						stream.Stop()
						return err
					}
				}
			}
			stream.Stop()

			// Drain anything delivered between the last read and Stop.
			for {
				select {
				case buf := <-frames:
					buf.Release()
				default:
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")
	cmd.Flags().StringVar(&backendName, "backend", "", "Camera backend, overrides the config file")
	cmd.Flags().StringVarP(&modeText, "mode", "m", "", "Video mode as WIDTH/HEIGHT@FPS")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of frames to capture")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "Mirror frames horizontally")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write frames as PNG files into this directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up after this long")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	cmd.SetOut(os.Stdout)

	return cmd
}

func writeFrame(dir string, buf *frame.Buffer) error {
	if dir == "" {
		return nil
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame-%06d.png", buf.FrameIndex)))
	if err != nil {
		return err
	}
	if err := host.EncodePNG(f, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
