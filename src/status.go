package main

import (
	"time"

	"github.com/ryansname/sensorctl/src/sampling"
)

// StatusSnapshot is a copy of the scheduler state for the status endpoint and
// the debug console. Invalid readings are null.
type StatusSnapshot struct {
	Time         time.Time       `json:"time"`
	ClockValid   bool            `json:"clock_valid"`
	Populated    int             `json:"populated"`
	Capacity     int             `json:"capacity"`
	LastSample   *time.Time      `json:"last_sample,omitempty"`
	LastDelivery *DeliveryResult `json:"last_delivery,omitempty"`
	Channels     []ChannelStatus `json:"channels"`
}

// ChannelStatus is one channel's slice of a StatusSnapshot
type ChannelStatus struct {
	Key     string     `json:"key"`
	Name    string     `json:"name"`
	Unit    string     `json:"unit"`
	Window  []*float64 `json:"window"`
	Live    *float64   `json:"live"`
	HourMin *float64   `json:"hour_min"`
	HourMax *float64   `json:"hour_max"`
}

// Channel returns the status of the channel with the given key
func (s StatusSnapshot) Channel(key string) (ChannelStatus, bool) {
	for _, ch := range s.Channels {
		if ch.Key == key {
			return ch, true
		}
	}
	return ChannelStatus{}, false
}

func readingPtr(r sampling.Reading) *float64 {
	v, ok := r.Value()
	if !ok {
		return nil
	}
	return &v
}

// Snapshot copies the current state
func (s *Scheduler) Snapshot() StatusSnapshot {
	now := s.clock.Now()
	snap := StatusSnapshot{
		Time:       now,
		ClockValid: s.clockState == clockValid,
		Populated:  s.ring.Populated(),
		Capacity:   s.ring.Capacity(),
		Channels:   make([]ChannelStatus, len(s.cfg.Channels)),
	}
	if !s.lastSample.IsZero() {
		t := s.lastSample
		snap.LastSample = &t
	}
	if s.lastDelivery != nil {
		d := *s.lastDelivery
		snap.LastDelivery = &d
	}

	var held []sampling.Reading
	if s.mirror != nil {
		held = s.mirror.Held()
	}

	for i, ch := range s.cfg.Channels {
		status := ChannelStatus{
			Key:     ch.Key,
			Name:    ch.Name,
			Unit:    ch.Unit,
			HourMin: readingPtr(s.hourly[i].Min()),
			HourMax: readingPtr(s.hourly[i].Max()),
		}
		window, _ := s.ring.Snapshot(i)
		status.Window = make([]*float64, len(window))
		for j, r := range window {
			status.Window[j] = readingPtr(r)
		}
		if i < len(held) {
			status.Live = readingPtr(held[i])
		}
		snap.Channels[i] = status
	}

	return snap
}
