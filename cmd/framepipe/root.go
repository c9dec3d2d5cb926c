package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jzx17/framepipe/internal/synth"
	"github.com/jzx17/framepipe/pkg/encoder"
	"github.com/jzx17/framepipe/pkg/output"
	"github.com/jzx17/framepipe/pkg/types"
)

var rootCmd = &cobra.Command{
	Use:   "framepipe",
	Short: "Parallel order-preserving frame encoder",
	Long: `framepipe captures synthetic frames, compresses them on a pool of
workers and writes them out strictly in capture order, even though the
workers finish out of order.`,
	SilenceUsage: true,
	RunE:         run,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.String("codec", "jpeg", "codec: jpeg, mjpeg or null")
	flags.Int("quality", 93, "JPEG quality (1-100)")
	flags.Int("workers", 4, "number of encode workers")
	flags.Int("frames", 30, "frames to capture (0 = until interrupted)")
	flags.Int("timeout", 0, "stop after this many milliseconds (0 = none)")
	flags.StringP("output", "o", "frame%05d.jpg", `output filename pattern, "-" for stdout`)
	flags.Int("wrap", 0, "wrap the file counter after this many frames")
	flags.Bool("flush", false, "flush each output file to stable storage")
	flags.Int("width", 640, "frame width in pixels")
	flags.Int("height", 480, "frame height in pixels")
	flags.Float64("framerate", 30, "capture frame rate")
	flags.String("metrics-addr", "", "prometheus listen address, e.g. :9090")
	flags.BoolP("verbose", "v", false, "enable per-frame diagnostics")

	viper.SetEnvPrefix("FRAMEPIPE")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding flags: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	if viper.GetBool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}

	width := viper.GetInt("width")
	height := viper.GetInt("height")
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("frame dimensions must be positive and even, got %dx%d", width, height)
	}
	framerate := viper.GetFloat64("framerate")
	if framerate <= 0 {
		return fmt.Errorf("framerate must be positive, got %v", framerate)
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	out, err := output.New(&output.Options{
		Pattern: viper.GetString("output"),
		Wrap:    viper.GetInt("wrap"),
		Flush:   viper.GetBool("flush"),
		Verbose: viper.GetBool("verbose"),
		Logger:  log,
	})
	if err != nil {
		return err
	}

	// Sensor-style row alignment.
	geom := encoder.Geometry{
		Width:  width,
		Height: height,
		Stride: (width + 63) &^ 63,
	}
	src := synth.NewSource(geom, float32(framerate))

	enc, err := encoder.New(&encoder.Options{
		Codec:   viper.GetString("codec"),
		Workers: viper.GetInt("workers"),
		Quality: viper.GetInt("quality"),
		Verbose: viper.GetBool("verbose"),
		Logger:  log,
	})
	if err != nil {
		return err
	}
	enc.SetInputDoneCallback(src.Release)
	enc.SetOutputReadyCallback(out.OutputReady)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if ms := viper.GetInt("timeout"); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	// The encoder gets its own context: a signal stops the capture loop,
	// after which Close drains everything already submitted.
	if err := enc.Start(context.Background()); err != nil {
		return err
	}

	clock := types.NewRealClock()
	ticker := clock.NewTicker(time.Duration(float64(time.Second) / framerate))
	defer ticker.Stop()

	const infoFormat = "frame=%frame fps=%fps exposure=%exp gain=%ag lux=%lux"
	frames := viper.GetInt("frames")
	count := 0

loop:
	for frames == 0 || count < frames {
		select {
		case <-ctx.Done():
			log.Info("capture interrupted")
			break loop
		case <-ticker.C():
			raw, info := src.Acquire()
			if err := enc.EncodeBuffer(raw, geom, info, clock.Now().UnixMicro()); err != nil {
				src.Release(raw)
				log.WithError(err).Error("frame submission failed")
				break loop
			}
			log.Debug(info.Expand(infoFormat))
			count++
		}
	}

	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	log.WithField("frames", count).Info("capture complete")
	return nil
}
