// Package ringbuf provides the lock-free single-producer single-consumer
// ring buffers used on the real-time audio path.
//
// Two variants exist: FrameRing carries fixed-size PCM frames between the
// audio callback thread and the application thread, and PacketRing carries
// variable-length encoded packets with a per-slot length prefix.
//
// Both follow the same SPSC protocol: the write index is mutated only by
// the producer and the read index only by the consumer. Indices are
// published with atomic stores after the slot data has been written, and
// each side observes the other's index with an atomic load before trusting
// the slot contents. Go's sync/atomic operations are sequentially
// consistent, which subsumes the acquire/release ordering this protocol
// requires. No mutex is ever taken; Write and Read are O(1) and
// allocation-free, which makes them safe to call from a real-time audio
// callback.
//
// Capacity is slots-1: one slot is always left empty so that the full and
// empty conditions are distinguishable from the two wrapping indices.
package ringbuf

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// FrameRing is a lock-free SPSC ring buffer of constant-size PCM frames.
//
// Every slot holds exactly frameSamples int16 values; Write and Read
// reject any other length. Partial frames never cross the buffer boundary.
type FrameRing struct {
	slots        int32
	frameSamples int
	buf          []int16

	// writeIdx is mutated only by the producer, readIdx only by the
	// consumer. Each side loads the other's index before touching a slot.
	writeIdx atomic.Int32
	readIdx  atomic.Int32
}

// NewFrameRing creates a frame ring with maxFrames slots of frameSamples
// int16 samples each. Usable capacity is maxFrames-1.
//
// Parameters:
//   - maxFrames: number of slots in the backing array (must be >= 2)
//   - frameSamples: samples per frame (must be > 0)
//
// Returns:
//   - *FrameRing: new ring buffer
//   - error: validation error for out-of-range parameters
func NewFrameRing(maxFrames, frameSamples int) (*FrameRing, error) {
	if maxFrames < 2 {
		return nil, fmt.Errorf("frame ring needs at least 2 slots, got %d", maxFrames)
	}
	if frameSamples <= 0 {
		return nil, fmt.Errorf("frame samples must be positive, got %d", frameSamples)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewFrameRing",
		"max_frames":    maxFrames,
		"frame_samples": frameSamples,
	}).Debug("Creating frame ring buffer")

	return &FrameRing{
		slots:        int32(maxFrames),
		frameSamples: frameSamples,
		buf:          make([]int16, maxFrames*frameSamples),
	}, nil
}

// Write stores one frame into the next slot (producer side only).
//
// Returns false if the buffer is full or len(samples) != FrameSamples().
// Never blocks; the caller decides the overflow policy (the pipelines
// evict the oldest frame and retry once).
func (r *FrameRing) Write(samples []int16) bool {
	if len(samples) != r.frameSamples {
		return false
	}

	w := r.writeIdx.Load()
	rd := r.readIdx.Load()

	next := (w + 1) % r.slots
	if next == rd {
		// Full. One slot stays empty so full != empty.
		return false
	}

	copy(r.buf[int(w)*r.frameSamples:], samples)
	r.writeIdx.Store(next)
	return true
}

// Read copies the oldest unread frame into dest (consumer side only).
//
// Returns false if the buffer is empty or len(dest) != FrameSamples().
func (r *FrameRing) Read(dest []int16) bool {
	if len(dest) != r.frameSamples {
		return false
	}

	rd := r.readIdx.Load()
	w := r.writeIdx.Load()

	if rd == w {
		return false
	}

	copy(dest, r.buf[int(rd)*r.frameSamples:int(rd+1)*r.frameSamples])
	r.readIdx.Store((rd + 1) % r.slots)
	return true
}

// Available returns the number of frames ready to be read.
func (r *FrameRing) Available() int {
	d := r.writeIdx.Load() - r.readIdx.Load()
	if d < 0 {
		d += r.slots
	}
	return int(d)
}

// Capacity returns the number of usable slots (slots-1).
func (r *FrameRing) Capacity() int {
	return int(r.slots) - 1
}

// FrameSamples returns the fixed number of int16 samples per frame.
func (r *FrameRing) FrameSamples() int {
	return r.frameSamples
}

// Reset empties the buffer. Not thread-safe; call only while both sides
// are idle.
func (r *FrameRing) Reset() {
	r.writeIdx.Store(0)
	r.readIdx.Store(0)
}

// Drain discards frames until at most keep remain, by advancing the read
// index without copying. Consumer side only: the producer merely observes
// an advanced read index as extra free space. Used to resynchronize
// buffering levels after a pause.
func (r *FrameRing) Drain(keep int) {
	if keep < 0 {
		keep = 0
	}
	toDrain := r.Available() - keep
	if toDrain <= 0 {
		return
	}

	rd := r.readIdx.Load()
	r.readIdx.Store((rd + int32(toDrain)) % r.slots)

	logrus.WithFields(logrus.Fields{
		"function": "FrameRing.Drain",
		"drained":  toDrain,
		"kept":     keep,
	}).Debug("Drained frame ring buffer")
}
