// Package output writes finished frames delivered by the encoder. It sits
// on the consumer side of the pipeline's ordering contract: OutputReady is
// called once per frame, in order, from a single goroutine.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Output consumes finished frames.
type Output interface {
	// OutputReady receives one assembled frame. Ownership of buf
	// transfers to the Output.
	OutputReady(buf []byte, timestampUS int64, final bool)

	// Close releases resources and reports any deferred write error.
	Close() error
}

// Options configures output creation.
type Options struct {
	// Pattern is a printf-style filename pattern with one integer verb,
	// e.g. "frame%05d.jpg". "-" writes every frame to stdout and ""
	// discards frames.
	Pattern string

	// Wrap resets the file counter after this many frames (0 = never)
	Wrap int

	// Flush syncs each file to stable storage before closing it
	Flush bool

	// Verbose enables per-frame diagnostic logging
	Verbose bool

	// Logger receives diagnostics; a discarding logger is used when nil
	Logger *logrus.Logger
}

// New creates an Output for the configured pattern.
func New(opts *Options) (Output, error) {
	if opts == nil {
		opts = &Options{}
	}

	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := log.WithField("component", "output")

	switch {
	case opts.Pattern == "":
		return &discardOutput{}, nil
	case opts.Pattern == "-":
		return &streamOutput{w: os.Stdout, log: entry}, nil
	default:
		if !strings.Contains(opts.Pattern, "%") {
			return nil, fmt.Errorf("filename pattern %q has no counter verb", opts.Pattern)
		}
		return &FileOutput{
			pattern: opts.Pattern,
			wrap:    opts.Wrap,
			flush:   opts.Flush,
			log:     entry,
		}, nil
	}
}

// FileOutput writes each frame to its own file, named by expanding the
// counter into the filename pattern.
type FileOutput struct {
	pattern string
	wrap    int
	flush   bool
	count   int
	err     error
	log     *logrus.Entry
}

// OutputReady writes one frame. Write errors are sticky: the first one is
// kept and reported by Close, and later frames are dropped.
func (o *FileOutput) OutputReady(buf []byte, timestampUS int64, final bool) {
	if o.err != nil {
		return
	}

	filename := fmt.Sprintf(o.pattern, o.count)
	o.count++
	if o.wrap > 0 {
		o.count %= o.wrap
	}

	if err := o.writeFile(filename, buf); err != nil {
		o.err = err
		o.log.WithError(err).Error("frame write failed")
		return
	}

	o.log.WithFields(logrus.Fields{
		"file":         filename,
		"bytes":        len(buf),
		"timestamp_us": timestampUS,
	}).Debug("frame written")
}

func (o *FileOutput) writeFile(filename string, buf []byte) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "open output file %s", filename)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Wrapf(err, "write output file %s", filename)
	}
	if o.flush {
		if err := f.Sync(); err != nil {
			f.Close()
			return errors.Wrapf(err, "sync output file %s", filename)
		}
	}
	return errors.Wrapf(f.Close(), "close output file %s", filename)
}

// Close reports the first deferred write error, if any.
func (o *FileOutput) Close() error {
	return o.err
}

// streamOutput appends every frame to one writer.
type streamOutput struct {
	w   io.Writer
	err error
	log *logrus.Entry
}

func (o *streamOutput) OutputReady(buf []byte, timestampUS int64, final bool) {
	if o.err != nil {
		return
	}
	if _, err := o.w.Write(buf); err != nil {
		o.err = errors.Wrap(err, "write output stream")
		o.log.WithError(err).Error("frame write failed")
	}
}

func (o *streamOutput) Close() error {
	return o.err
}

// discardOutput drops frames.
type discardOutput struct{}

func (discardOutput) OutputReady(buf []byte, timestampUS int64, final bool) {}

func (discardOutput) Close() error { return nil }
