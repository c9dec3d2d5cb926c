package encoder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jzx17/framepipe/pkg/frameinfo"
	"github.com/jzx17/framepipe/pkg/types"
)

// NullEncoder passes raw frames through uncompressed. A single delivery
// goroutine preserves arrival order, so the callback contract matches the
// JPEG encoder exactly; only the payload differs.
type NullEncoder struct {
	clock        types.Clock
	pollInterval time.Duration
	log          *logrus.Entry

	outputReady OutputReadyFunc
	inputDone   InputDoneFunc

	mu     sync.Mutex
	queue  []encodeItem
	next   uint64
	notify chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	state     int32
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// NewNullEncoder creates the pass-through encoder.
func NewNullEncoder(opts *Options) *NullEncoder {
	if opts == nil {
		opts = DefaultOptions()
	}

	clock := opts.Clock
	if clock == nil {
		clock = types.NewRealClock()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &NullEncoder{
		clock:        clock,
		pollInterval: pollInterval,
		log:          newLogger(opts, uuid.NewString()),
		notify:       make(chan struct{}, 1),
		loopDone:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetInputDoneCallback registers the raw-buffer release callback.
func (e *NullEncoder) SetInputDoneCallback(fn InputDoneFunc) {
	e.inputDone = fn
}

// SetOutputReadyCallback registers the consumer callback.
func (e *NullEncoder) SetOutputReadyCallback(fn OutputReadyFunc) {
	e.outputReady = fn
}

// Start launches the delivery goroutine.
func (e *NullEncoder) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, stateCreated, stateRunning) {
		if atomic.LoadInt32(&e.state) == stateRunning {
			return fmt.Errorf("encoder is already running")
		}
		return types.ErrEncoderClosed
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.loop()
	return nil
}

// EncodeBuffer queues one raw frame for in-order delivery.
func (e *NullEncoder) EncodeBuffer(raw []byte, geom Geometry, info frameinfo.FrameInfo, timestampUS int64) error {
	switch atomic.LoadInt32(&e.state) {
	case stateCreated:
		return types.ErrEncoderNotStarted
	case stateClosed:
		return types.ErrEncoderClosed
	}

	e.mu.Lock()
	e.queue = append(e.queue, encodeItem{
		raw:         raw,
		geom:        geom,
		info:        info,
		timestampUS: timestampUS,
		index:       e.next,
	})
	e.next++
	e.mu.Unlock()

	notify(e.notify)
	return nil
}

func (e *NullEncoder) loop() {
	defer close(e.loopDone)

	for {
		e.mu.Lock()
		var item encodeItem
		ok := len(e.queue) > 0
		if ok {
			item = e.queue[0]
			e.queue = e.queue[1:]
		}
		e.mu.Unlock()

		if !ok {
			if e.ctx.Err() != nil {
				return
			}
			timer := e.clock.NewTimer(e.pollInterval)
			select {
			case <-e.notify:
			case <-timer.C():
			case <-e.ctx.Done():
			}
			timer.Stop()
			continue
		}

		// The consumer owns the delivered buffer while the producer
		// reclaims the raw one, so the bytes are copied out.
		out := append([]byte(nil), item.raw...)
		if e.inputDone != nil {
			e.inputDone(item.raw)
		}
		if e.outputReady != nil {
			e.outputReady(out, item.timestampUS, true)
		}
		e.log.WithField("frame", item.index).Debug("frame delivered")
	}
}

// Err always returns nil: the pass-through encoder has no failure modes.
func (e *NullEncoder) Err() error {
	return nil
}

// Done is closed when the encoder has been closed.
func (e *NullEncoder) Done() <-chan struct{} {
	return e.done
}

// Close drains queued frames and stops the delivery goroutine.
func (e *NullEncoder) Close() error {
	e.closeOnce.Do(func() {
		prev := atomic.SwapInt32(&e.state, stateClosed)
		if prev != stateRunning {
			e.doneOnce.Do(func() { close(e.done) })
			return
		}
		e.cancel()
		<-e.loopDone
		e.doneOnce.Do(func() { close(e.done) })
	})
	return nil
}
