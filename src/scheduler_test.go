package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/sensorctl/src/clock"
	"github.com/ryansname/sensorctl/src/config"
	"github.com/ryansname/sensorctl/src/sampling"
)

// scriptedSource returns the next scripted row on each call, repeating the
// last row once the script runs out
type scriptedSource struct {
	rows  [][]sampling.Reading
	calls int
}

func (s *scriptedSource) SampleAll(ctx context.Context) []sampling.Reading {
	row := s.rows[min(s.calls, len(s.rows)-1)]
	s.calls++
	return append([]sampling.Reading(nil), row...)
}

func singleChannel(values ...sampling.Reading) *scriptedSource {
	rows := make([][]sampling.Reading, len(values))
	for i, v := range values {
		rows[i] = []sampling.Reading{v}
	}
	return &scriptedSource{rows: rows}
}

type recordingSink struct {
	reports []sampling.Report
	status  int
	err     error
}

func (s *recordingSink) Deliver(ctx context.Context, report sampling.Report) (int, error) {
	s.reports = append(s.reports, report)
	if s.status == 0 {
		return 200, s.err
	}
	return s.status, s.err
}

func at(hour, minute, second int) time.Time {
	return time.Date(2024, 3, 1, hour, minute, second, 0, time.UTC)
}

func testSchedulerConfig(keys ...string) SchedulerConfig {
	channels := make([]config.ChannelConfig, len(keys))
	for i, k := range keys {
		channels[i] = config.ChannelConfig{Key: k, Name: k, Kind: config.KindProbe, Address: k, Unit: "°C"}
	}
	return SchedulerConfig{
		Channels:       channels,
		Gate:           sampling.NewClockGate(10, 5, sampling.MinValidEpoch, time.UTC),
		Capacity:       6,
		PollInterval:   200 * time.Millisecond,
		MirrorInterval: 10 * time.Second,
	}
}

// tickAt polls the scheduler several times within the same second, the way
// the 200ms loop does
func tickAt(ctx context.Context, s *Scheduler, clk *clock.Fixed, t time.Time) {
	for i := 0; i < 5; i++ {
		clk.Set(t.Add(time.Duration(i) * 200 * time.Millisecond))
		s.Tick(ctx)
	}
}

func TestScheduler_AverageOverWindow(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(
		sampling.Valid(10), sampling.Valid(20), sampling.Invalid(),
		sampling.Valid(40), sampling.Valid(50), sampling.Valid(60),
	)
	sink := &recordingSink{}
	clk := clock.NewFixed(at(9, 0, 30))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, sink, nil)

	for _, minute := range []int{10, 20, 30, 40, 50} {
		tickAt(ctx, s, clk, at(9, minute, 0))
	}
	tickAt(ctx, s, clk, at(10, 0, 0))
	assert.Equal(t, 6, s.ring.Populated())

	tickAt(ctx, s, clk, at(10, 0, 5))

	require.Len(t, sink.reports, 1)
	report := sink.reports[0]
	avg, ok := report.Average("sensor1")
	require.True(t, ok)
	assert.Equal(t, sampling.Valid(36), avg)
	assert.Equal(t, 6, report.Samples())
	assert.Equal(t, at(10, 0, 5), report.WindowEnd())

	assert.Equal(t, 0, s.ring.Populated(), "window resets after the report")
	require.NotNil(t, s.lastDelivery)
	assert.Equal(t, 200, s.lastDelivery.Status)
	assert.Empty(t, s.lastDelivery.Error)
}

func TestScheduler_EachBoundaryFiresOnce(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	sink := &recordingSink{}
	clk := clock.NewFixed(at(9, 59, 59))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, sink, nil)

	// Poll every 250ms across three hours
	for now := at(9, 59, 59); now.Before(at(12, 59, 59)); now = now.Add(250 * time.Millisecond) {
		clk.Set(now)
		s.Tick(ctx)
	}

	assert.Equal(t, 18, src.calls, "one sample per 10 minute mark")
	assert.Len(t, sink.reports, 3, "one report per hour")
}

func TestScheduler_EmptyWindowSkipsReport(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	sink := &recordingSink{}
	clk := clock.NewFixed(at(10, 0, 5))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, sink, nil)

	tickAt(ctx, s, clk, at(10, 0, 5))

	assert.Empty(t, sink.reports)
	assert.Zero(t, src.calls)
	assert.Equal(t, 0, s.ring.Populated())
	assert.Equal(t, 0, s.ring.Index(), "window untouched")
	assert.Nil(t, s.lastDelivery)
}

func TestScheduler_InvalidClockDoesNothing(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	sink := &recordingSink{}
	// 00:10:00 on 1970-01-01 would be a sample boundary with a valid clock
	clk := clock.NewFixed(time.Unix(600, 0))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, sink, nil)

	assert.False(t, s.Tick(ctx))
	clk.Set(time.Unix(3605, 0))
	assert.False(t, s.Tick(ctx))

	assert.Zero(t, src.calls)
	assert.Empty(t, sink.reports)
	assert.Equal(t, -1, s.boundary.LastSampleMinute())
	assert.False(t, s.Snapshot().ClockValid)
}

func TestScheduler_DeliveryFailureStillResets(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	sink := &recordingSink{err: errors.New("connection refused")}
	clk := clock.NewFixed(at(9, 0, 30))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, sink, nil)

	tickAt(ctx, s, clk, at(9, 50, 0))
	tickAt(ctx, s, clk, at(10, 0, 5))

	require.Len(t, sink.reports, 1, "attempted once, never retried")
	assert.Equal(t, 0, s.ring.Populated())
	require.NotNil(t, s.lastDelivery)
	assert.Contains(t, s.lastDelivery.Error, "connection refused")

	tickAt(ctx, s, clk, at(10, 0, 6))
	assert.Len(t, sink.reports, 1)
}

func TestScheduler_ZeroTriggerSecondIncludesHourSample(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(1), sampling.Valid(2))
	sink := &recordingSink{}
	cfg := testSchedulerConfig("sensor1")
	cfg.Gate = sampling.NewClockGate(10, 0, sampling.MinValidEpoch, time.UTC)
	clk := clock.NewFixed(at(9, 0, 30))
	s := NewScheduler(cfg, clk, src, sink, nil)

	tickAt(ctx, s, clk, at(9, 50, 0))
	tickAt(ctx, s, clk, at(10, 0, 0))

	require.Len(t, sink.reports, 1)
	assert.Equal(t, 2, sink.reports[0].Samples())
	avg, _ := sink.reports[0].Average("sensor1")
	assert.Equal(t, sampling.Valid(1.5), avg)
}

func TestScheduler_AsyncDeliveryEnqueues(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	sink := &recordingSink{}
	clk := clock.NewFixed(at(9, 0, 30))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, sink, nil)

	reports := make(chan sampling.Report, 1)
	s.DeliverAsync(reports)

	tickAt(ctx, s, clk, at(9, 50, 0))
	tickAt(ctx, s, clk, at(10, 0, 5))

	assert.Empty(t, sink.reports, "scheduler never posts itself")
	assert.Equal(t, 0, s.ring.Populated())
	select {
	case r := <-reports:
		assert.Equal(t, 1, r.Samples())
	default:
		t.Fatal("report was not enqueued")
	}
}

type recordingPublisher struct {
	published []map[string]float64
}

func (p *recordingPublisher) PublishState(device DeviceInfo, values map[string]float64) error {
	p.published = append(p.published, values)
	return nil
}

func TestScheduler_DisconnectedProbeHoldsLiveValue(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{celsius: map[string]float64{"probe-a": 21.5}}
	cfg := testSchedulerConfig("sensor1")
	cfg.Channels[0].Address = "probe-a"
	sampler := NewSampler(cfg.Channels, bus, nil)

	pub := &recordingPublisher{}
	mirror := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1"}, 10*time.Second, pub)
	clk := clock.NewFixed(at(9, 0, 30))
	s := NewScheduler(cfg, clk, sampler, &recordingSink{}, mirror)

	tickAt(ctx, s, clk, at(9, 10, 0))
	bus.celsius["probe-a"] = -127
	tickAt(ctx, s, clk, at(9, 20, 0))

	window, err := s.ring.Snapshot(0)
	require.NoError(t, err)
	assert.Equal(t, []sampling.Reading{sampling.Valid(21.5), sampling.Invalid()}, window)

	require.Len(t, pub.published, 2)
	assert.Equal(t, map[string]float64{"sensor1": 21.5}, pub.published[1])

	snap := s.Snapshot()
	ch, ok := snap.Channel("sensor1")
	require.True(t, ok)
	require.NotNil(t, ch.Live)
	assert.Equal(t, 21.5, *ch.Live)
	require.Len(t, ch.Window, 2)
	assert.Nil(t, ch.Window[1])
}

func TestScheduler_MirrorTickAvoidsMarks(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	pub := &recordingPublisher{}
	mirror := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1"}, 10*time.Second, pub)
	clk := clock.NewFixed(at(9, 9, 57))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, &recordingSink{}, mirror)

	assert.False(t, s.MirrorTick(ctx))
	clk.Set(at(10, 0, 3))
	assert.False(t, s.MirrorTick(ctx))
	assert.Zero(t, src.calls)

	clk.Set(at(10, 4, 30))
	assert.True(t, s.MirrorTick(ctx))
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 0, s.ring.Populated(), "mirror reads never enter the window")
}

func TestScheduler_MirrorTickWithoutMirror(t *testing.T) {
	src := singleChannel(sampling.Valid(21))
	s := NewScheduler(testSchedulerConfig("sensor1"), clock.NewFixed(at(9, 4, 0)), src, &recordingSink{}, nil)
	assert.False(t, s.MirrorTick(context.Background()))
	assert.Zero(t, src.calls)
}

// nextStatus waits for a snapshot matching ok, skipping any others
func nextStatus(t *testing.T, statusChan <-chan StatusSnapshot, ok func(StatusSnapshot) bool) StatusSnapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-statusChan:
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("no matching status snapshot")
			return StatusSnapshot{}
		}
	}
}

func TestSchedulerWorker_PublishesStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := singleChannel(sampling.Valid(21))
	s := NewScheduler(testSchedulerConfig("sensor1"), clock.NewFixed(at(9, 4, 0)), src, &recordingSink{}, nil)

	statusChan := make(chan StatusSnapshot, 1)
	resultChan := make(chan DeliveryResult)
	go schedulerWorker(ctx, s, statusChan, nil, resultChan)

	first := nextStatus(t, statusChan, func(StatusSnapshot) bool { return true })
	assert.Equal(t, 6, first.Capacity)
	require.Len(t, first.Channels, 1)
	assert.Equal(t, "sensor1", first.Channels[0].Key)

	resultChan <- DeliveryResult{ReportID: "abc", Status: 204}
	snap := nextStatus(t, statusChan, func(s StatusSnapshot) bool { return s.LastDelivery != nil })
	assert.Equal(t, "abc", snap.LastDelivery.ReportID)
}

func TestSchedulerWorker_PublishesClockChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The clock becomes valid at 09:04, away from any sample or report mark,
	// so only the clock change can trigger the second snapshot
	clk := clock.NewFixed(time.Unix(600, 0))
	src := singleChannel(sampling.Valid(21))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, &recordingSink{}, nil)

	statusChan := make(chan StatusSnapshot, 1)
	go schedulerWorker(ctx, s, statusChan, nil, nil)

	nextStatus(t, statusChan, func(StatusSnapshot) bool { return true })

	clk.Set(at(9, 4, 0))
	snap := nextStatus(t, statusChan, func(s StatusSnapshot) bool { return s.ClockValid })
	assert.Zero(t, snap.Populated)
	assert.Zero(t, src.calls)
}

func TestScheduler_ClockChangedOnlyOnTransition(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Unix(600, 0))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, singleChannel(sampling.Valid(21)), &recordingSink{}, nil)

	s.Tick(ctx)
	assert.True(t, s.ClockChanged())
	s.Tick(ctx)
	assert.False(t, s.ClockChanged())

	clk.Set(at(9, 4, 0))
	s.Tick(ctx)
	assert.True(t, s.ClockChanged())
	assert.False(t, s.ClockChanged())
}

func TestScheduler_MirrorTickKeepsCadenceUnderJitter(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	pub := &recordingPublisher{}
	mirror := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1"}, 10*time.Second, pub)
	clk := clock.NewFixed(at(9, 1, 0))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, &recordingSink{}, mirror)

	// Ticks every 10s, each received a few ms after its slot
	latencies := []time.Duration{3, 1, 4, 2, 5, 0}
	for i, l := range latencies {
		clk.Set(at(9, 1, 0).Add(time.Duration(i)*10*time.Second + l*time.Millisecond))
		assert.True(t, s.MirrorTick(ctx), "tick %d", i)
	}
	assert.Len(t, pub.published, len(latencies))
}

func TestScheduler_MirrorTickIgnoresHourlyRangeWithInvalidClock(t *testing.T) {
	ctx := context.Background()
	src := singleChannel(sampling.Valid(21))
	mirror := NewLiveMirror(DeviceInfo{Name: "Sensor Node"}, []string{"sensor1"}, 10*time.Second, &recordingPublisher{})
	clk := clock.NewFixed(time.Unix(-3600, 0))
	s := NewScheduler(testSchedulerConfig("sensor1"), clk, src, &recordingSink{}, mirror)

	assert.NotPanics(t, func() { s.MirrorTick(ctx) })

	ch, ok := s.Snapshot().Channel("sensor1")
	require.True(t, ok)
	assert.Nil(t, ch.HourMin)
	assert.Nil(t, ch.HourMax)
	require.NotNil(t, ch.Live, "the live value is still mirrored")
	assert.Equal(t, 21.0, *ch.Live)
}
