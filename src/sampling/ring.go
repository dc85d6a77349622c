package sampling

import (
	"errors"
	"fmt"
)

// ErrUnknownChannel is returned when a channel index is outside the ring
var ErrUnknownChannel = errors.New("unknown channel")

// SampleRing holds the samples of one aggregation window for every channel.
// All channels share a single write index so one Advance per boundary moves
// every channel forward together.
type SampleRing struct {
	slots     [][]Reading // channel -> capacity slots
	index     int
	populated int
}

// NewSampleRing creates a ring for the given number of channels, each
// holding capacity samples. Capacity is fixed for the life of the ring.
func NewSampleRing(channels, capacity int) *SampleRing {
	if capacity < 1 {
		capacity = 1
	}
	r := &SampleRing{slots: make([][]Reading, channels)}
	for i := range r.slots {
		r.slots[i] = make([]Reading, capacity)
	}
	r.Reset()
	return r
}

// Write stores a reading at the current write index for channel. Writing
// again before Advance overwrites the same slot.
func (r *SampleRing) Write(channel int, reading Reading) error {
	if channel < 0 || channel >= len(r.slots) {
		return fmt.Errorf("write channel %d: %w", channel, ErrUnknownChannel)
	}
	r.slots[channel][r.index] = reading
	return nil
}

// Advance moves the write index forward and counts the slot as populated,
// clamped to capacity.
func (r *SampleRing) Advance() {
	capacity := r.Capacity()
	r.index = (r.index + 1) % capacity
	r.populated = min(r.populated+1, capacity)
}

// Reset marks every slot invalid and starts a new window
func (r *SampleRing) Reset() {
	for _, ch := range r.slots {
		for i := range ch {
			ch[i] = Invalid()
		}
	}
	r.index = 0
	r.populated = 0
}

// Snapshot returns a copy of the populated slots for channel
func (r *SampleRing) Snapshot(channel int) ([]Reading, error) {
	if channel < 0 || channel >= len(r.slots) {
		return nil, fmt.Errorf("snapshot channel %d: %w", channel, ErrUnknownChannel)
	}
	out := make([]Reading, r.populated)
	copy(out, r.slots[channel][:r.populated])
	return out, nil
}

// Populated returns how many slots have been filled this window
func (r *SampleRing) Populated() int {
	return r.populated
}

// Capacity returns the number of slots per channel
func (r *SampleRing) Capacity() int {
	if len(r.slots) == 0 {
		return 1
	}
	return len(r.slots[0])
}

// Channels returns the number of channels in the ring
func (r *SampleRing) Channels() int {
	return len(r.slots)
}

// Index returns the current write index
func (r *SampleRing) Index() int {
	return r.index
}
