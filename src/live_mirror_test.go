package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/sensorctl/src/sampling"
)

func TestLiveMirror_HoldsLastValidValue(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1", "dhthumidity"}, 10*time.Second, pub)
	start := at(9, 0, 0)

	assert.True(t, m.Update(start, []sampling.Reading{sampling.Valid(21.456), sampling.Valid(60)}))
	assert.True(t, m.Update(start.Add(10*time.Second), []sampling.Reading{sampling.Invalid(), sampling.Valid(61)}))

	require.Len(t, pub.published, 2)
	assert.Equal(t, map[string]float64{"sensor1": 21.46, "dhthumidity": 61}, pub.published[1])
}

func TestLiveMirror_NeverValidChannelIsOmitted(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1", "sensor2"}, 10*time.Second, pub)

	assert.False(t, m.Update(at(9, 0, 0), []sampling.Reading{sampling.Invalid(), sampling.Invalid()}),
		"nothing to publish yet")
	assert.True(t, m.Update(at(9, 0, 10), []sampling.Reading{sampling.Invalid(), sampling.Valid(18)}))

	require.Len(t, pub.published, 1)
	assert.Equal(t, map[string]float64{"sensor2": 18}, pub.published[0])
}

func TestLiveMirror_RespectsMinimumInterval(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1"}, 10*time.Second, pub)
	start := at(9, 0, 0)

	assert.True(t, m.Update(start, []sampling.Reading{sampling.Valid(20)}))
	assert.False(t, m.Update(start.Add(3*time.Second), []sampling.Reading{sampling.Valid(21)}))
	assert.True(t, m.Update(start.Add(10*time.Second), []sampling.Reading{sampling.Invalid()}))

	require.Len(t, pub.published, 2)
	assert.Equal(t, map[string]float64{"sensor1": 21}, pub.published[1],
		"value merged during the quiet period is published next time")
}

func TestLiveMirror_ToleratesTickJitter(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1"}, 10*time.Second, pub)
	start := at(9, 0, 0)

	assert.True(t, m.Update(start.Add(5*time.Millisecond), []sampling.Reading{sampling.Valid(20)}))
	assert.True(t, m.Update(start.Add(10*time.Second), []sampling.Reading{sampling.Valid(21)}),
		"a tick arriving 5ms earlier than the last is not skipped")
	assert.False(t, m.Update(start.Add(18*time.Second), []sampling.Reading{sampling.Valid(22)}),
		"well inside the minimum interval")
	assert.Len(t, pub.published, 2)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishState(device DeviceInfo, values map[string]float64) error {
	p.calls++
	return errors.New("encode failed")
}

func TestLiveMirror_FailedPublishRetriesNextUpdate(t *testing.T) {
	pub := &failingPublisher{}
	m := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1"}, 10*time.Second, pub)

	assert.False(t, m.Update(at(9, 0, 0), []sampling.Reading{sampling.Valid(20)}))
	assert.False(t, m.Update(at(9, 0, 1), []sampling.Reading{sampling.Valid(20)}))
	assert.Equal(t, 2, pub.calls)
}

func TestLiveMirror_Held(t *testing.T) {
	m := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"a", "b"}, time.Second, nil)
	m.Update(at(9, 0, 0), []sampling.Reading{sampling.Valid(1), sampling.Invalid()})

	held := m.Held()
	assert.Equal(t, []sampling.Reading{sampling.Valid(1), sampling.Invalid()}, held)

	held[0] = sampling.Valid(99)
	assert.Equal(t, sampling.Valid(1), m.Held()[0], "Held returns a copy")
}
