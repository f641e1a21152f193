package ringbuf

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// lenPrefixSize is the per-slot length prefix, little-endian uint32.
const lenPrefixSize = 4

// PacketRing is a lock-free SPSC ring buffer of variable-length encoded
// packets.
//
// Each slot has a fixed maximum size but tracks the actual packet length
// in a 4-byte prefix. This wastes some tail bytes per slot but keeps the
// lock-free protocol identical to FrameRing (same SPSC index discipline).
//
// Slot layout in the flat backing array:
//
//	[uint32 length][data ... maxBytesPerSlot] x maxSlots
type PacketRing struct {
	slots    int32
	maxBytes int
	slotSize int
	buf      []byte

	writeIdx atomic.Int32
	readIdx  atomic.Int32
}

// NewPacketRing creates a packet ring with maxSlots slots holding up to
// maxBytesPerSlot bytes each. Usable capacity is maxSlots-1.
//
// Parameters:
//   - maxSlots: number of slots in the backing array (must be >= 2)
//   - maxBytesPerSlot: maximum encoded packet size per slot (must be > 0)
//
// Returns:
//   - *PacketRing: new ring buffer
//   - error: validation error for out-of-range parameters
func NewPacketRing(maxSlots, maxBytesPerSlot int) (*PacketRing, error) {
	if maxSlots < 2 {
		return nil, fmt.Errorf("packet ring needs at least 2 slots, got %d", maxSlots)
	}
	if maxBytesPerSlot <= 0 {
		return nil, fmt.Errorf("max bytes per slot must be positive, got %d", maxBytesPerSlot)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewPacketRing",
		"max_slots": maxSlots,
		"max_bytes": maxBytesPerSlot,
	}).Debug("Creating packet ring buffer")

	slotSize := lenPrefixSize + maxBytesPerSlot
	return &PacketRing{
		slots:    int32(maxSlots),
		maxBytes: maxBytesPerSlot,
		slotSize: slotSize,
		buf:      make([]byte, maxSlots*slotSize),
	}, nil
}

// Write stores one packet into the next slot (producer side only).
//
// Returns false if data is empty, exceeds the per-slot maximum, or the
// buffer is full. Never blocks.
func (r *PacketRing) Write(data []byte) bool {
	if len(data) == 0 || len(data) > r.maxBytes {
		return false
	}

	w := r.writeIdx.Load()
	rd := r.readIdx.Load()

	next := (w + 1) % r.slots
	if next == rd {
		return false
	}

	slot := r.buf[int(w)*r.slotSize:]
	binary.LittleEndian.PutUint32(slot, uint32(len(data)))
	copy(slot[lenPrefixSize:], data)

	r.writeIdx.Store(next)
	return true
}

// Read copies the oldest unread packet into dest (consumer side only).
//
// Returns the packet length and true on success, or (0, false) if the
// buffer is empty. If dest is smaller than the stored packet, the packet
// is dropped (the read index still advances) rather than partially
// copied: losing a whole unit beats corrupting the stream.
func (r *PacketRing) Read(dest []byte) (int, bool) {
	rd := r.readIdx.Load()
	w := r.writeIdx.Load()

	if rd == w {
		return 0, false
	}

	slot := r.buf[int(rd)*r.slotSize:]
	length := int(binary.LittleEndian.Uint32(slot))

	if length > len(dest) {
		// Destination too small: skip this packet entirely.
		r.readIdx.Store((rd + 1) % r.slots)
		return 0, false
	}

	copy(dest, slot[lenPrefixSize:lenPrefixSize+length])
	r.readIdx.Store((rd + 1) % r.slots)
	return length, true
}

// Available returns the number of packets ready to be read.
func (r *PacketRing) Available() int {
	d := r.writeIdx.Load() - r.readIdx.Load()
	if d < 0 {
		d += r.slots
	}
	return int(d)
}

// Capacity returns the number of usable slots (slots-1).
func (r *PacketRing) Capacity() int {
	return int(r.slots) - 1
}

// MaxBytesPerSlot returns the maximum packet size a slot can hold.
func (r *PacketRing) MaxBytesPerSlot() int {
	return r.maxBytes
}

// Reset empties the buffer. Not thread-safe; call only while both sides
// are idle.
func (r *PacketRing) Reset() {
	r.writeIdx.Store(0)
	r.readIdx.Store(0)
}
