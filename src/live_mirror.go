package main

import (
	"log"
	"math"
	"time"

	"github.com/ryansname/sensorctl/src/sampling"
)

// maxPublishJitter caps how early against the sink's minimum interval a
// publish may land when mirror ticks arrive slightly off their slot
const maxPublishJitter = time.Second

// StatePublisher receives the live value of every channel that has one
type StatePublisher interface {
	PublishState(device DeviceInfo, values map[string]float64) error
}

// LiveMirror mirrors channel values to the live telemetry sink. An invalid
// read keeps the channel's previous valid value; a channel never read valid
// is left out. Publishes are spaced at least minInterval apart. Owned by the
// scheduler goroutine.
type LiveMirror struct {
	device      DeviceInfo
	keys        []string
	last        []sampling.Reading
	minInterval time.Duration
	sink        StatePublisher
	lastPublish time.Time
}

// NewLiveMirror creates a mirror for the given channel keys
func NewLiveMirror(device DeviceInfo, keys []string, minInterval time.Duration, sink StatePublisher) *LiveMirror {
	return &LiveMirror{
		device:      device,
		keys:        keys,
		last:        make([]sampling.Reading, len(keys)),
		minInterval: minInterval,
		sink:        sink,
	}
}

// Update merges readings (in channel order) into the held values and
// publishes if the sink's minimum interval has passed. Returns true if a
// publish happened.
func (m *LiveMirror) Update(now time.Time, readings []sampling.Reading) bool {
	for i, r := range readings {
		if i < len(m.last) && r.IsValid() {
			m.last[i] = r
		}
	}

	values := m.Values()
	if len(values) == 0 {
		return false
	}
	if !m.lastPublish.IsZero() && now.Sub(m.lastPublish) < m.minInterval-m.jitter() {
		return false
	}
	if m.sink == nil {
		return false
	}

	if err := m.sink.PublishState(m.device, values); err != nil {
		log.Printf("Live mirror: publish failed: %v\n", err)
		return false
	}
	m.lastPublish = now
	return true
}

// jitter is the tolerated early arrival, a tenth of the interval at most
func (m *LiveMirror) jitter() time.Duration {
	return min(maxPublishJitter, m.minInterval/10)
}

// Values returns the held value of every channel seen valid, rounded for
// display
func (m *LiveMirror) Values() map[string]float64 {
	values := make(map[string]float64, len(m.keys))
	for i, r := range m.last {
		if v, ok := r.Value(); ok {
			values[m.keys[i]] = math.Round(v*100) / 100
		}
	}
	return values
}

// Held returns the held reading of every channel in channel order
func (m *LiveMirror) Held() []sampling.Reading {
	return append([]sampling.Reading(nil), m.last...)
}
