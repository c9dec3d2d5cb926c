package encoder

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jzx17/framepipe/pkg/frameinfo"
	"github.com/jzx17/framepipe/pkg/types"
)

// Geometry describes the layout of a raw frame buffer.
type Geometry struct {
	// Width in pixels
	Width int

	// Height in pixels
	Height int

	// Stride is the number of bytes per luma row, >= Width
	Stride int
}

// CompressFunc compresses one raw buffer into an encoded payload. It is
// called outside any pipeline lock and must not retain raw after returning.
type CompressFunc func(raw []byte, geom Geometry, quality int) ([]byte, error)

// MetadataFunc builds the embedded-metadata blob for one frame.
type MetadataFunc func(info frameinfo.FrameInfo) ([]byte, error)

// OutputReadyFunc receives finished frames. It is invoked exactly once per
// submitted frame, strictly in submission order, and never concurrently.
// Ownership of buf transfers to the callback.
type OutputReadyFunc func(buf []byte, timestampUS int64, final bool)

// InputDoneFunc signals that the encoder has finished reading a raw buffer
// and the producer may reuse it. Buffers can be released out of frame order.
type InputDoneFunc func(raw []byte)

// Encoder converts raw frame buffers into encoded output delivered in
// submission order.
type Encoder interface {
	// Start launches the encoder's goroutines
	Start(ctx context.Context) error

	// EncodeBuffer submits one raw frame. Submission never blocks on the
	// pipeline; the queue is unbounded.
	EncodeBuffer(raw []byte, geom Geometry, info frameinfo.FrameInfo, timestampUS int64) error

	// SetInputDoneCallback registers the raw-buffer release callback.
	// Must be called before Start.
	SetInputDoneCallback(fn InputDoneFunc)

	// SetOutputReadyCallback registers the consumer callback.
	// Must be called before Start.
	SetOutputReadyCallback(fn OutputReadyFunc)

	// Close drains frames already submitted, waits for delivery, and
	// releases resources. Returns the fatal error if the pipeline failed.
	Close() error

	// Err returns the fatal pipeline error, or nil
	Err() error

	// Done is closed when the pipeline has drained or failed
	Done() <-chan struct{}
}

// Options configures an encoder.
type Options struct {
	// Codec selects the encoder implementation: "jpeg", "mjpeg" or "null"
	Codec string

	// Workers is the fixed number of encode goroutines
	Workers int

	// Quality is passed opaquely to the compression function
	Quality int

	// Verbose enables per-frame diagnostic logging
	Verbose bool

	// Logger receives diagnostics; a discarding logger is used when nil
	Logger *logrus.Logger

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Compress overrides the default YUV420-to-JPEG compression function
	Compress CompressFunc

	// Metadata overrides the default EXIF metadata builder
	Metadata MetadataFunc

	// PollInterval bounds the wait between queue re-checks (optional)
	PollInterval time.Duration
}

// DefaultOptions returns the default encoder configuration.
func DefaultOptions() *Options {
	return &Options{
		Codec:   "jpeg",
		Workers: 4,
		Quality: 93,
	}
}

// New creates an encoder for the configured codec.
func New(opts *Options) (Encoder, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	switch strings.ToLower(opts.Codec) {
	case "jpeg", "mjpeg":
		return NewJPEGEncoder(opts)
	case "null", "yuv420":
		return NewNullEncoder(opts), nil
	default:
		return nil, fmt.Errorf("%w %q", types.ErrUnknownCodec, opts.Codec)
	}
}

// newLogger returns the configured logger entry, discarding output when no
// logger was supplied.
func newLogger(opts *Options, id string) *logrus.Entry {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log.WithFields(logrus.Fields{
		"component": "encoder",
		"codec":     opts.Codec,
		"id":        id,
	})
}
