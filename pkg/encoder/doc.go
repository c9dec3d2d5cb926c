/*
Package encoder implements a parallel, order-preserving frame encoder.

# Overview

Raw frames are submitted in sequence order, compressed concurrently by a
fixed pool of workers, and delivered to the consumer callback strictly in
submission order even though workers finish out of order.

# Core Components

## Submission Queue

An unbounded, mutex-guarded FIFO. EncodeBuffer assigns each frame the next
sequence index under the queue lock, so exactly one submission receives each
index, then wakes a waiting worker.

## Worker Pool

A fixed number of goroutines. Each worker dequeues the head frame, runs the
compression and metadata functions outside every lock, assembles the output
buffer and appends it to its own completion queue. On shutdown a worker
drains the frames already queued before exiting.

## Reassembly

A single output goroutine scans the head of every worker's completion queue
for the next expected index and delivers matches to the consumer callback.
The callback is therefore invoked exactly once per frame, in ascending index
order, and never concurrently. A stop signal is honoured only on a scan pass
where every completion queue is empty and the workers have been joined.

# Failure Model

Any compression, metadata or assembly failure is fatal to the whole
pipeline: the strict no-gap ordering contract has no way to represent a
skipped index, so a single corrupted frame cannot be dropped. The first
error is recorded with its stage and sequence index, both stages shut down,
and Err reports it.

# Usage

	enc, err := encoder.New(&encoder.Options{
		Codec:   "jpeg",
		Workers: 4,
		Quality: 93,
	})
	if err != nil {
		log.Fatal(err)
	}

	enc.SetInputDoneCallback(source.Release)
	enc.SetOutputReadyCallback(func(buf []byte, timestampUS int64, final bool) {
		// consume the frame; ownership of buf transfers here
	})

	if err := enc.Start(ctx); err != nil {
		log.Fatal(err)
	}
	// submit frames with enc.EncodeBuffer, then:
	if err := enc.Close(); err != nil {
		log.Fatal(err)
	}
*/
package encoder
