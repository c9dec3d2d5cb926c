package encoder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jzx17/framepipe/internal/metrics"
	"github.com/jzx17/framepipe/pkg/exif"
	"github.com/jzx17/framepipe/pkg/frameinfo"
	"github.com/jzx17/framepipe/pkg/types"
)

// defaultPollInterval bounds every wait in the pipeline so stop signals are
// observed even if a wakeup is missed.
const defaultPollInterval = 200 * time.Millisecond

const (
	stateCreated int32 = iota
	stateRunning
	stateClosed
)

// encodeItem is one raw frame waiting in the submission queue. The raw
// buffer stays owned by the producer until the input-done callback fires.
type encodeItem struct {
	raw         []byte
	geom        Geometry
	info        frameinfo.FrameInfo
	timestampUS int64
	index       uint64
}

// outputItem is one finished frame waiting in a worker's completion queue.
type outputItem struct {
	buf         []byte
	timestampUS int64
	index       uint64
}

// JPEGEncoder compresses frames on a fixed pool of workers and reassembles
// the results into submission order.
//
// Ordering model: EncodeBuffer assigns each frame the next sequence index
// under the submission lock. Workers dequeue and compress independently, so
// completion order is arbitrary; each worker appends to its own completion
// queue. A single output goroutine scans all completion-queue heads for the
// next expected index and delivers matches to the consumer callback, which
// is therefore invoked exactly once per frame, in order, never concurrently.
type JPEGEncoder struct {
	workers      int
	quality      int
	pollInterval time.Duration
	clock        types.Clock
	compress     CompressFunc
	metadata     MetadataFunc
	log          *logrus.Entry

	outputReady OutputReadyFunc
	inputDone   InputDoneFunc

	// submission queue; sequence indices are assigned under mu. The notify
	// channel holds one wakeup token per worker so consecutive submissions
	// can rouse the whole pool.
	mu           sync.Mutex
	queue        []encodeItem
	nextIndex    uint64
	encodeNotify chan struct{}

	// one completion queue per worker
	outMu        sync.Mutex
	outQueues    [][]outputItem
	outputNotify chan struct{}

	// encodeCtx stops acceptance of queued work by workers; outputCtx is
	// cancelled only after the workers have been joined, so every result a
	// worker will ever produce is queued before the output loop may drain.
	encodeCtx    context.Context
	cancelEncode context.CancelFunc
	outputCtx    context.Context
	cancelOutput context.CancelFunc

	workerWG   sync.WaitGroup
	outputDone chan struct{}

	state     int32
	closeOnce sync.Once

	failed   atomic.Bool
	errOnce  sync.Once
	errMu    sync.RWMutex
	err      error
	doneOnce sync.Once
	done     chan struct{}
}

// NewJPEGEncoder creates the parallel JPEG encoder.
func NewJPEGEncoder(opts *Options) (*JPEGEncoder, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", opts.Workers)
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = DefaultOptions().Quality
	}

	clock := opts.Clock
	if clock == nil {
		clock = types.NewRealClock()
	}

	compress := opts.Compress
	if compress == nil {
		compress = CompressYUV420
	}

	metadata := opts.Metadata
	if metadata == nil {
		builder := exif.NewBuilder()
		metadata = builder.Build
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	e := &JPEGEncoder{
		workers:      opts.Workers,
		quality:      quality,
		pollInterval: pollInterval,
		clock:        clock,
		compress:     compress,
		metadata:     metadata,
		log:          newLogger(opts, uuid.NewString()),
		encodeNotify: make(chan struct{}, opts.Workers),
		outQueues:    make([][]outputItem, opts.Workers),
		outputNotify: make(chan struct{}, 1),
		outputDone:   make(chan struct{}),
		done:         make(chan struct{}),
	}
	return e, nil
}

// SetInputDoneCallback registers the raw-buffer release callback.
func (e *JPEGEncoder) SetInputDoneCallback(fn InputDoneFunc) {
	e.inputDone = fn
}

// SetOutputReadyCallback registers the consumer callback.
func (e *JPEGEncoder) SetOutputReadyCallback(fn OutputReadyFunc) {
	e.outputReady = fn
}

// Start launches the worker pool and the output goroutine.
func (e *JPEGEncoder) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, stateCreated, stateRunning) {
		if atomic.LoadInt32(&e.state) == stateRunning {
			return fmt.Errorf("encoder is already running")
		}
		return types.ErrEncoderClosed
	}

	e.encodeCtx, e.cancelEncode = context.WithCancel(ctx)
	e.outputCtx, e.cancelOutput = context.WithCancel(context.Background())

	e.workerWG.Add(e.workers)
	for i := 0; i < e.workers; i++ {
		go e.worker(i)
	}
	go e.outputLoop()

	e.log.WithField("workers", e.workers).Debug("encoder started")
	return nil
}

// EncodeBuffer submits one raw frame for encoding. The submission queue is
// unbounded, so this never blocks on the pipeline.
func (e *JPEGEncoder) EncodeBuffer(raw []byte, geom Geometry, info frameinfo.FrameInfo, timestampUS int64) error {
	switch atomic.LoadInt32(&e.state) {
	case stateCreated:
		return types.ErrEncoderNotStarted
	case stateClosed:
		return types.ErrEncoderClosed
	}
	if e.failed.Load() {
		return fmt.Errorf("%w: %w", types.ErrEncoderFailed, e.Err())
	}

	e.mu.Lock()
	item := encodeItem{
		raw:         raw,
		geom:        geom,
		info:        info,
		timestampUS: timestampUS,
		index:       e.nextIndex,
	}
	e.nextIndex++
	e.queue = append(e.queue, item)
	depth := len(e.queue)
	e.mu.Unlock()

	notify(e.encodeNotify)
	metrics.FramesSubmitted.Inc()
	metrics.SubmissionQueueDepth.Set(float64(depth))
	e.log.WithField("frame", item.index).Debug("frame queued")
	return nil
}

// Err returns the fatal pipeline error, or nil.
func (e *JPEGEncoder) Err() error {
	e.errMu.RLock()
	defer e.errMu.RUnlock()
	return e.err
}

// Done is closed once the pipeline has drained or failed.
func (e *JPEGEncoder) Done() <-chan struct{} {
	return e.done
}

// Close stops accepting work, lets the workers drain everything already
// queued, waits for the output loop to deliver the last frame, and releases
// resources. Returns the fatal error if the pipeline failed.
func (e *JPEGEncoder) Close() error {
	e.closeOnce.Do(func() {
		prev := atomic.SwapInt32(&e.state, stateClosed)
		if prev != stateRunning {
			e.doneOnce.Do(func() { close(e.done) })
			return
		}

		// Workers must be joined before the output loop is told to
		// drain: only then is every result it will ever see queued.
		e.cancelEncode()
		e.workerWG.Wait()
		e.cancelOutput()
		<-e.outputDone

		e.doneOnce.Do(func() { close(e.done) })
		e.log.Debug("encoder closed")
	})
	return e.Err()
}

// fail records the first fatal error and tears the pipeline down. Later
// calls are no-ops.
func (e *JPEGEncoder) fail(stage string, index uint64, cause error) {
	e.errOnce.Do(func() {
		err := types.NewEncodeError(stage, index, cause)
		e.errMu.Lock()
		e.err = err
		e.errMu.Unlock()
		e.failed.Store(true)

		metrics.EncodeErrors.WithLabelValues(stage).Inc()
		e.log.WithError(cause).WithFields(logrus.Fields{
			"stage": stage,
			"frame": index,
		}).Error("fatal encode error")

		e.cancelEncode()
		e.cancelOutput()
		e.doneOnce.Do(func() { close(e.done) })
	})
}

// dequeue pops the head of the submission queue.
func (e *JPEGEncoder) dequeue() (encodeItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return encodeItem{}, false
	}
	item := e.queue[0]
	e.queue = e.queue[1:]
	metrics.SubmissionQueueDepth.Set(float64(len(e.queue)))
	return item, true
}

// worker pulls frames from the submission queue until the queue is empty
// and a stop has been observed. Frames already queued when the stop arrives
// are still encoded.
func (e *JPEGEncoder) worker(id int) {
	defer e.workerWG.Done()

	var frames int
	var encodeTime time.Duration
	defer func() {
		if frames > 0 {
			e.log.WithFields(logrus.Fields{
				"worker":  id,
				"frames":  frames,
				"avg_enc": encodeTime / time.Duration(frames),
			}).Debug("worker exiting")
		}
	}()

	for {
		if e.failed.Load() {
			return
		}

		item, ok := e.dequeue()
		if !ok {
			if e.encodeCtx.Err() != nil {
				return
			}
			timer := e.clock.NewTimer(e.pollInterval)
			select {
			case <-e.encodeNotify:
			case <-timer.C():
			case <-e.encodeCtx.Done():
			}
			timer.Stop()
			continue
		}

		start := e.clock.Now()
		if err := e.encodeOne(id, item); err != nil {
			e.fail("encode", item.index, err)
			return
		}
		dur := e.clock.Since(start)
		encodeTime += dur
		frames++
		metrics.FramesEncoded.Inc()
		metrics.EncodeDuration.Observe(dur.Seconds())
	}
}

// encodeOne compresses a frame, builds its metadata segment and queues the
// assembled result on this worker's completion queue. Compression happens
// outside every lock.
func (e *JPEGEncoder) encodeOne(id int, item encodeItem) error {
	payload, err := e.compress(item.raw, item.geom, e.quality)
	if err != nil {
		return err
	}

	// Compression has read the raw buffer; hand it back to the producer.
	// Release order is whatever order workers finish in, not frame order.
	if e.inputDone != nil {
		e.inputDone(item.raw)
	}

	meta, err := e.metadata(item.info)
	if err != nil {
		return err
	}

	buf, err := assembleFrame(meta, nil, payload)
	if err != nil {
		return err
	}

	e.outMu.Lock()
	e.outQueues[id] = append(e.outQueues[id], outputItem{
		buf:         buf,
		timestampUS: item.timestampUS,
		index:       item.index,
	})
	e.outMu.Unlock()
	notify(e.outputNotify)

	e.log.WithFields(logrus.Fields{
		"worker": id,
		"frame":  item.index,
		"bytes":  len(buf),
	}).Debug("frame encoded")
	return nil
}

// claimNext scans the head of every completion queue for the next expected
// index. drained reports that a stop has been observed with all queues
// empty on this same pass; the emptiness re-check on every pass matters
// because a worker may queue its final item concurrently with the stop.
func (e *JPEGEncoder) claimNext(next uint64) (item outputItem, ok bool, drained bool) {
	e.outMu.Lock()
	defer e.outMu.Unlock()

	stop := e.outputCtx.Err() != nil
	for i := range e.outQueues {
		q := e.outQueues[i]
		if len(q) == 0 {
			continue
		}
		stop = false
		if q[0].index == next {
			item = q[0]
			e.outQueues[i] = q[1:]
			return item, true, false
		}
	}
	return outputItem{}, false, stop
}

// outputLoop is the reassembly stage: it restores global order from the
// out-of-order completion queues and is the only goroutine that invokes the
// consumer callback.
func (e *JPEGEncoder) outputLoop() {
	defer close(e.outputDone)

	var next uint64
	for {
		if e.failed.Load() {
			return
		}

		item, ok, drained := e.claimNext(next)
		if drained {
			e.log.WithField("frames", next).Debug("output drained")
			return
		}
		if !ok {
			timer := e.clock.NewTimer(e.pollInterval)
			select {
			case <-e.outputNotify:
			case <-timer.C():
			case <-e.outputCtx.Done():
			}
			timer.Stop()
			continue
		}

		if e.outputReady != nil {
			e.outputReady(item.buf, item.timestampUS, true)
		}
		metrics.FramesDelivered.Inc()
		e.log.WithField("frame", item.index).Debug("frame delivered")
		next++
	}
}

// notify performs a non-blocking wakeup; a full channel means a wakeup is
// already pending.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
