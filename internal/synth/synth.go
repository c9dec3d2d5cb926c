// Package synth generates planar YUV420 test frames. It stands in for the
// capture device, which is outside the pipeline's scope, and honours the
// producer side of the buffer-ownership contract: buffers handed to the
// encoder stay owned by the source's pool until the encoder releases them.
package synth

import (
	"sync"

	"github.com/jzx17/framepipe/pkg/encoder"
	"github.com/jzx17/framepipe/pkg/frameinfo"
)

// Source produces a deterministic moving-gradient test pattern.
type Source struct {
	geom encoder.Geometry
	fps  float32
	pool sync.Pool

	mu  sync.Mutex
	seq uint64
}

// NewSource creates a frame source for the given geometry.
func NewSource(geom encoder.Geometry, fps float32) *Source {
	s := &Source{geom: geom, fps: fps}
	size := FrameSize(geom)
	s.pool.New = func() interface{} {
		return make([]byte, size)
	}
	return s
}

// FrameSize returns the byte size of one YUV420 frame for geom.
func FrameSize(geom encoder.Geometry) int {
	ySize := geom.Stride * geom.Height
	cSize := (geom.Stride / 2) * (geom.Height / 2)
	return ySize + 2*cSize
}

// Geometry returns the source's frame geometry.
func (s *Source) Geometry() encoder.Geometry {
	return s.geom
}

// Acquire returns the next frame and its capture metadata. The buffer must
// be handed back through Release once the consumer is done reading it.
func (s *Source) Acquire() ([]byte, frameinfo.FrameInfo) {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	raw := s.pool.Get().([]byte)
	s.fill(raw, seq)

	info := frameinfo.FrameInfo{
		Sequence:          seq,
		ColourTemperature: 5000,
		FrameDuration:     int64(1e6 / float64(s.fps)),
		ExposureTime:      16666,
		AnalogueGain:      1.0,
		DigitalGain:       1.0,
		ColourGains:       [2]float32{1.8, 1.5},
		FPS:               s.fps,
		Lux:               400,
	}
	return raw, info
}

// Release returns a buffer to the pool. Safe to call from any goroutine, in
// any order relative to frame sequence.
func (s *Source) Release(raw []byte) {
	s.pool.Put(raw)
}

// fill paints a luma gradient that shifts with the sequence number, with
// flat chroma planes.
func (s *Source) fill(raw []byte, seq uint64) {
	ySize := s.geom.Stride * s.geom.Height
	cStride := s.geom.Stride / 2
	cSize := cStride * (s.geom.Height / 2)

	for row := 0; row < s.geom.Height; row++ {
		base := row * s.geom.Stride
		for col := 0; col < s.geom.Width; col++ {
			raw[base+col] = byte(row + col + int(seq)*4)
		}
	}
	cb := raw[ySize : ySize+cSize]
	cr := raw[ySize+cSize : ySize+2*cSize]
	for i := range cb {
		cb[i] = 128
		cr[i] = 128
	}
}
