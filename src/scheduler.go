package main

import (
	"context"
	"log"
	"time"

	"github.com/ryansname/sensorctl/src/clock"
	"github.com/ryansname/sensorctl/src/config"
	"github.com/ryansname/sensorctl/src/sampling"
)

// mirrorGuard is how many seconds before a sample mark mirror reads pause
const mirrorGuard = 5

// SchedulerConfig holds the scheduler's timing and channel layout
type SchedulerConfig struct {
	Channels       []config.ChannelConfig
	Gate           sampling.ClockGate
	Capacity       int
	PollInterval   time.Duration
	MirrorInterval time.Duration
	ResyncInterval time.Duration
}

// schedulerConfigFrom derives the scheduler configuration from the app config
func schedulerConfigFrom(cfg *config.Config) SchedulerConfig {
	return SchedulerConfig{
		Channels: cfg.Channels,
		Gate: sampling.NewClockGate(
			cfg.Sampling.IntervalMinutes,
			cfg.Sampling.ReportTriggerSecond,
			cfg.Clock.MinEpoch,
			cfg.Location(),
		),
		Capacity:       cfg.Sampling.SamplesPerWindow,
		PollInterval:   cfg.Sampling.PollInterval,
		MirrorInterval: cfg.MQTT.MirrorInterval,
		ResyncInterval: cfg.Clock.ResyncInterval,
	}
}

type clockState int

const (
	clockUnknown clockState = iota
	clockValid
	clockInvalid
)

// Scheduler owns the sample window, the boundary debounce state and the live
// mirror. Every method must be called from the scheduler goroutine.
type Scheduler struct {
	cfg      SchedulerConfig
	keys     []string
	clock    clock.Clock
	source   ReadingSource
	sink     ReportSink
	mirror   *LiveMirror
	ring     *sampling.SampleRing
	boundary sampling.BoundaryState
	hourly   []sampling.RollingMinMax

	asyncReports chan<- sampling.Report
	clockState   clockState
	clockChanged bool
	lastSample   time.Time
	lastDelivery *DeliveryResult
}

// NewScheduler creates a scheduler with an empty window. mirror may be nil.
func NewScheduler(
	cfg SchedulerConfig,
	clk clock.Clock,
	source ReadingSource,
	sink ReportSink,
	mirror *LiveMirror,
) *Scheduler {
	keys := make([]string, len(cfg.Channels))
	hourly := make([]sampling.RollingMinMax, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		keys[i] = ch.Key
		hourly[i] = sampling.NewRollingMinMax()
	}

	return &Scheduler{
		cfg:      cfg,
		keys:     keys,
		clock:    clk,
		source:   source,
		sink:     sink,
		mirror:   mirror,
		ring:     sampling.NewSampleRing(len(cfg.Channels), cfg.Capacity),
		boundary: sampling.NewBoundaryState(),
		hourly:   hourly,
	}
}

// DeliverAsync hands completed reports to a delivery worker instead of
// posting them from the scheduler loop
func (s *Scheduler) DeliverAsync(reports chan<- sampling.Report) {
	s.asyncReports = reports
}

// Tick classifies the current time and acts on any due boundary. Returns true
// if a sample or report boundary was acted on.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.clock.Now()
	c := s.cfg.Gate.Classify(now)
	s.noteClock(c, now)
	if !c.Valid {
		return false
	}

	s.boundary.Observe(c, s.cfg.Gate.SampleIntervalMinutes)
	acted := false

	// Sample before report so a zero trigger second still includes the
	// sample taken on the hour
	if s.boundary.SampleDue(c) {
		s.sample(ctx, c, now)
		s.boundary.MarkSampled(c)
		acted = true
	}

	if s.boundary.ReportDue(c) {
		if s.ring.Populated() == 0 {
			log.Printf("Scheduler: no samples in window ending %02d:00, skipping report\n", c.Hour)
		} else {
			s.report(ctx, now)
		}
		s.boundary.MarkReported(c)
		acted = true
	}

	return acted
}

func (s *Scheduler) noteClock(c sampling.Classification, now time.Time) {
	state := clockInvalid
	if c.Valid {
		state = clockValid
	}
	if state == s.clockState {
		return
	}
	s.clockState = state
	s.clockChanged = true

	if c.Valid {
		log.Printf("Scheduler: clock valid (%02d:%02d:%02d local), sampling enabled\n", c.Hour, c.Minute, c.Second)
	} else {
		log.Printf("Scheduler: clock not set (epoch %d), waiting for time sync\n", now.Unix())
	}
}

// ClockChanged reports whether the clock moved between valid and invalid
// since the last call
func (s *Scheduler) ClockChanged() bool {
	changed := s.clockChanged
	s.clockChanged = false
	return changed
}

func (s *Scheduler) sample(ctx context.Context, c sampling.Classification, now time.Time) {
	readings := s.source.SampleAll(ctx)

	for i, r := range readings {
		if err := s.ring.Write(i, r); err != nil {
			log.Printf("Scheduler: dropping reading %d: %v\n", i, err)
			continue
		}
		s.hourly[i].Update(r, now)
		log.Printf("Sample %02d:%02d %s: %s\n", c.Hour, c.Minute, s.keys[i], r)
	}
	s.ring.Advance()
	s.lastSample = now

	if s.mirror != nil {
		s.mirror.Update(now, readings)
	}
}

// report closes the window. The window is reset whatever the delivery
// outcome; a failed report is not retried.
func (s *Scheduler) report(ctx context.Context, now time.Time) {
	defer s.ring.Reset()

	averages := sampling.ComputeAverages(s.ring)
	report, err := sampling.BuildReport(s.keys, averages, now, s.ring.Populated())
	if err != nil {
		log.Printf("Scheduler: failed to build report: %v\n", err)
		return
	}
	log.Printf("Scheduler: report %s built from %d samples\n", report.ID(), report.Samples())

	if s.asyncReports != nil {
		select {
		case s.asyncReports <- report:
		default:
			log.Printf("Scheduler: delivery worker busy, dropping report %s\n", report.ID())
		}
		return
	}

	result := deliver(ctx, s.sink, report, now)
	s.lastDelivery = &result
}

// MirrorTick reads every channel for the live mirror only. The readings never
// enter the sample window. Skipped near a sample or report mark.
func (s *Scheduler) MirrorTick(ctx context.Context) bool {
	if s.mirror == nil {
		return false
	}

	now := s.clock.Now()
	c := s.cfg.Gate.Classify(now)
	if c.Valid && s.nearBoundary(c) {
		return false
	}

	readings := s.source.SampleAll(ctx)
	for i, r := range readings {
		if c.Valid && i < len(s.hourly) {
			s.hourly[i].Update(r, now)
		}
	}
	return s.mirror.Update(now, readings)
}

func (s *Scheduler) nearBoundary(c sampling.Classification) bool {
	interval := s.cfg.Gate.SampleIntervalMinutes
	if interval > 0 && (c.Minute+1)%interval == 0 && c.Second >= 60-mirrorGuard {
		return true
	}
	return c.Minute == 0 && c.Second <= s.cfg.Gate.ReportTriggerSecond
}

// schedulerWorker is the polling loop. Sampling, mirror reads and delivery
// results are serialised here; a status snapshot goes out after each action.
func schedulerWorker(
	ctx context.Context,
	s *Scheduler,
	statusChan chan<- StatusSnapshot,
	resyncChan chan<- struct{},
	resultChan <-chan DeliveryResult,
) {
	log.Println("Scheduler started")

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	var mirrorC <-chan time.Time
	if s.mirror != nil && s.cfg.MirrorInterval > 0 {
		t := time.NewTicker(s.cfg.MirrorInterval)
		defer t.Stop()
		mirrorC = t.C
	}

	var resyncC <-chan time.Time
	if resyncChan != nil && s.cfg.ResyncInterval > 0 {
		t := time.NewTicker(s.cfg.ResyncInterval)
		defer t.Stop()
		resyncC = t.C
	}

	publish := func() {
		select {
		case statusChan <- s.Snapshot():
		default:
		}
	}
	publish()

	for {
		select {
		case <-poll.C:
			acted := s.Tick(ctx)
			if s.ClockChanged() || acted {
				publish()
			}
		case <-mirrorC:
			if s.MirrorTick(ctx) {
				publish()
			}
		case <-resyncC:
			select {
			case resyncChan <- struct{}{}:
			default:
				// Previous resync still running
			}
		case result := <-resultChan:
			s.lastDelivery = &result
			publish()
		case <-ctx.Done():
			log.Println("Scheduler stopped")
			return
		}
	}
}
