package encoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/framepipe/internal/testutils"
	"github.com/jzx17/framepipe/pkg/frameinfo"
	"github.com/jzx17/framepipe/pkg/types"
)

var testGeom = Geometry{Width: 8, Height: 8, Stride: 8}

// frameRaw builds a raw buffer carrying the producer's frame id in its
// first 8 bytes so tests can trace frames through the pipeline.
func frameRaw(id uint64) []byte {
	raw := make([]byte, 32)
	binary.BigEndian.PutUint64(raw, id)
	return raw
}

func rawID(raw []byte) uint64 {
	return binary.BigEndian.Uint64(raw[:8])
}

// traceCompress fakes compression: the payload is a padded header (which
// assembleFrame drops) followed by the frame id, with an optional per-frame
// delay to force out-of-order completion.
func traceCompress(delays map[uint64]time.Duration) CompressFunc {
	return func(raw []byte, geom Geometry, quality int) ([]byte, error) {
		if d, ok := delays[rawID(raw)]; ok {
			time.Sleep(d)
		}
		payload := make([]byte, payloadHeaderSkip+8)
		copy(payload[payloadHeaderSkip:], raw[:8])
		return payload, nil
	}
}

func traceMetadata(info frameinfo.FrameInfo) ([]byte, error) {
	return []byte{'M'}, nil
}

// deliveredID recovers the frame id from a buffer assembled by the trace
// compress/metadata pair: marker(4) + length(2) + meta(1) + id(8).
func deliveredID(t *testing.T, buf []byte) uint64 {
	t.Helper()
	require.Len(t, buf, 15)
	return binary.BigEndian.Uint64(buf[7:])
}

// collector records delivered frames.
type collector struct {
	mu   sync.Mutex
	bufs [][]byte
}

func (c *collector) callback(buf []byte, timestampUS int64, final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufs = append(c.bufs, buf)
}

func (c *collector) ids(t *testing.T) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, len(c.bufs))
	for i, buf := range c.bufs {
		ids[i] = deliveredID(t, buf)
	}
	return ids
}

func newTraceEncoder(t *testing.T, workers int, delays map[uint64]time.Duration) (*JPEGEncoder, *collector) {
	t.Helper()
	enc, err := NewJPEGEncoder(&Options{
		Codec:    "jpeg",
		Workers:  workers,
		Quality:  90,
		Compress: traceCompress(delays),
		Metadata: traceMetadata,
	})
	require.NoError(t, err)

	c := &collector{}
	enc.SetOutputReadyCallback(c.callback)
	return enc, c
}

func TestNewJPEGEncoder(t *testing.T) {
	tests := []struct {
		name        string
		opts        *Options
		expectError bool
	}{
		{
			name: "nil options uses defaults",
			opts: nil,
		},
		{
			name: "valid options",
			opts: &Options{Workers: 2, Quality: 80},
		},
		{
			name:        "zero workers should error",
			opts:        &Options{Workers: 0},
			expectError: true,
		},
		{
			name:        "negative workers should error",
			opts:        &Options{Workers: -1},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewJPEGEncoder(tt.opts)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, enc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, enc)
			}
		})
	}
}

func TestOrderPreservedAcrossWorkerCounts(t *testing.T) {
	const frames = 24

	for _, workers := range []int{1, 2, 4, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(workers)))
			delays := make(map[uint64]time.Duration, frames)
			for i := uint64(0); i < frames; i++ {
				delays[i] = time.Duration(rng.Intn(15)) * time.Millisecond
			}

			enc, c := newTraceEncoder(t, workers, delays)
			require.NoError(t, enc.Start(context.Background()))

			for i := uint64(0); i < frames; i++ {
				require.NoError(t, enc.EncodeBuffer(frameRaw(i), testGeom, frameinfo.FrameInfo{}, int64(i)))
			}
			require.NoError(t, enc.Close())

			ids := c.ids(t)
			require.Len(t, ids, frames)
			for i := uint64(0); i < frames; i++ {
				assert.Equal(t, i, ids[i], "frame %d delivered out of order", i)
			}
		})
	}
}

func TestStaggeredCompletionDeliversInOrder(t *testing.T) {
	// Worker completion order differs wildly from submission order, but
	// the callback must still see 0,1,2,3,4.
	delays := map[uint64]time.Duration{
		0: 50 * time.Millisecond,
		1: 10 * time.Millisecond,
		2: 30 * time.Millisecond,
		3: 5 * time.Millisecond,
		4: 40 * time.Millisecond,
	}

	enc, c := newTraceEncoder(t, 2, delays)
	require.NoError(t, enc.Start(context.Background()))

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, enc.EncodeBuffer(frameRaw(i), testGeom, frameinfo.FrameInfo{}, int64(i)))
	}
	require.NoError(t, enc.Close())

	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, c.ids(t))
}

func TestConcurrentSubmissionExactlyOnce(t *testing.T) {
	const producers = 4
	const perProducer = 8

	enc, c := newTraceEncoder(t, 4, nil)
	require.NoError(t, enc.Start(context.Background()))

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := uint64(p*perProducer + i)
				assert.NoError(t, enc.EncodeBuffer(frameRaw(id), testGeom, frameinfo.FrameInfo{}, 0))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, enc.Close())

	ids := c.ids(t)
	require.Len(t, ids, producers*perProducer)

	seen := make(map[uint64]int)
	for _, id := range ids {
		seen[id]++
	}
	for id := uint64(0); id < producers*perProducer; id++ {
		assert.Equal(t, 1, seen[id], "frame %d delivered %d times", id, seen[id])
	}
}

func TestBufferReleaseIndependentOfDeliveryOrder(t *testing.T) {
	delays := map[uint64]time.Duration{
		0: 40 * time.Millisecond,
		1: 5 * time.Millisecond,
	}

	enc, c := newTraceEncoder(t, 2, delays)

	var relMu sync.Mutex
	var released []uint64
	enc.SetInputDoneCallback(func(raw []byte) {
		relMu.Lock()
		defer relMu.Unlock()
		released = append(released, rawID(raw))
	})
	require.NoError(t, enc.Start(context.Background()))

	for i := uint64(0); i < 2; i++ {
		require.NoError(t, enc.EncodeBuffer(frameRaw(i), testGeom, frameinfo.FrameInfo{}, 0))
	}
	require.NoError(t, enc.Close())

	// frame 1 finishes first, so its buffer is released first
	relMu.Lock()
	defer relMu.Unlock()
	assert.Equal(t, []uint64{1, 0}, released)

	// delivery order is unaffected
	assert.Equal(t, []uint64{0, 1}, c.ids(t))
}

func TestGracefulDrainWithNoFrames(t *testing.T) {
	enc, c := newTraceEncoder(t, 2, nil)
	require.NoError(t, enc.Start(context.Background()))
	require.NoError(t, enc.Close())

	assert.Empty(t, c.ids(t))
	assert.NoError(t, enc.Err())

	select {
	case <-enc.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestFatalCompressError(t *testing.T) {
	failErr := errors.New("codec exploded")
	compress := func(raw []byte, geom Geometry, quality int) ([]byte, error) {
		if rawID(raw) == 2 {
			return nil, failErr
		}
		time.Sleep(time.Millisecond)
		payload := make([]byte, payloadHeaderSkip+8)
		copy(payload[payloadHeaderSkip:], raw[:8])
		return payload, nil
	}

	enc, err := NewJPEGEncoder(&Options{
		Codec:    "jpeg",
		Workers:  2,
		Compress: compress,
		Metadata: traceMetadata,
	})
	require.NoError(t, err)

	c := &collector{}
	enc.SetOutputReadyCallback(c.callback)
	require.NoError(t, enc.Start(context.Background()))

	for i := uint64(0); i < 5; i++ {
		_ = enc.EncodeBuffer(frameRaw(i), testGeom, frameinfo.FrameInfo{}, 0)
	}

	assert.Eventually(t, func() bool {
		select {
		case <-enc.Done():
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "pipeline should reach terminal error state")

	err = enc.Close()
	require.Error(t, err)

	var encErr *types.EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "encode", encErr.Stage)
	assert.Equal(t, uint64(2), encErr.Index)
	assert.ErrorIs(t, err, failErr)

	// nothing at or after the failed index may be delivered
	for _, id := range c.ids(t) {
		assert.Less(t, id, uint64(2))
	}

	// further submissions are refused with the pipeline error
	submitErr := enc.EncodeBuffer(frameRaw(9), testGeom, frameinfo.FrameInfo{}, 0)
	assert.Error(t, submitErr)
}

func TestFatalMetadataError(t *testing.T) {
	metaErr := errors.New("malformed metadata")
	enc, err := NewJPEGEncoder(&Options{
		Codec:    "jpeg",
		Workers:  1,
		Compress: traceCompress(nil),
		Metadata: func(info frameinfo.FrameInfo) ([]byte, error) {
			return nil, metaErr
		},
	})
	require.NoError(t, err)
	require.NoError(t, enc.Start(context.Background()))

	require.NoError(t, enc.EncodeBuffer(frameRaw(0), testGeom, frameinfo.FrameInfo{}, 0))

	closeErr := enc.Close()
	require.Error(t, closeErr)
	assert.ErrorIs(t, closeErr, metaErr)
}

func TestLifecycleErrors(t *testing.T) {
	enc, _ := newTraceEncoder(t, 2, nil)

	// submit before start
	err := enc.EncodeBuffer(frameRaw(0), testGeom, frameinfo.FrameInfo{}, 0)
	assert.ErrorIs(t, err, types.ErrEncoderNotStarted)

	require.NoError(t, enc.Start(context.Background()))

	// double start
	assert.Error(t, enc.Start(context.Background()))

	require.NoError(t, enc.Close())

	// submit after close
	err = enc.EncodeBuffer(frameRaw(0), testGeom, frameinfo.FrameInfo{}, 0)
	assert.ErrorIs(t, err, types.ErrEncoderClosed)

	// close is idempotent
	assert.NoError(t, enc.Close())

	// start after close
	assert.ErrorIs(t, enc.Start(context.Background()), types.ErrEncoderClosed)
}

func TestCloseWithoutStart(t *testing.T) {
	enc, _ := newTraceEncoder(t, 2, nil)
	assert.NoError(t, enc.Close())

	select {
	case <-enc.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestEncoderWithMockClock(t *testing.T) {
	// Wakeups flow through the notify channels, so the pipeline must
	// drain even when the poll timers never fire.
	mock := testutils.NewMockClock(t)
	clock := testutils.NewClockWrapper(mock)

	enc, err := NewJPEGEncoder(&Options{
		Codec:    "jpeg",
		Workers:  2,
		Clock:    clock,
		Compress: traceCompress(nil),
		Metadata: traceMetadata,
	})
	require.NoError(t, err)

	c := &collector{}
	enc.SetOutputReadyCallback(c.callback)
	require.NoError(t, enc.Start(context.Background()))

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, enc.EncodeBuffer(frameRaw(i), testGeom, frameinfo.FrameInfo{}, 0))
	}
	require.NoError(t, enc.Close())

	assert.Equal(t, []uint64{0, 1, 2}, c.ids(t))
}

func TestDefaultPipelineEndToEnd(t *testing.T) {
	geom := Geometry{Width: 64, Height: 48, Stride: 64}
	raw := make([]byte, geom.Stride*geom.Height*3/2)
	for i := range raw {
		raw[i] = 128
	}

	enc, err := NewJPEGEncoder(&Options{Codec: "jpeg", Workers: 2, Quality: 85})
	require.NoError(t, err)

	c := &collector{}
	enc.SetOutputReadyCallback(c.callback)
	require.NoError(t, enc.Start(context.Background()))

	require.NoError(t, enc.EncodeBuffer(raw, geom, frameinfo.FrameInfo{
		ExposureTime: 16666,
		AnalogueGain: 1.5,
	}, 123456))
	require.NoError(t, enc.Close())

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.bufs, 1)
	buf := c.bufs[0]

	// marker, then the EXIF segment with its identifier
	assert.Equal(t, frameMarker, buf[:4])
	segLen := int(buf[4])<<8 | int(buf[5])
	assert.Greater(t, segLen, 2)
	assert.Equal(t, "Exif\x00\x00", string(buf[6:12]))
	// compressed payload follows the metadata segment
	assert.Greater(t, len(buf), 4+segLen)
}
