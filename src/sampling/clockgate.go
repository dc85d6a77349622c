package sampling

import "time"

// MinValidEpoch is 2000-01-01T00:00:00Z. Anything earlier means the clock has
// not been synchronised since boot.
const MinValidEpoch int64 = 946684800

// Classification describes one wall-clock instant
type Classification struct {
	Valid            bool
	IsSampleBoundary bool
	IsReportBoundary bool
	Hour             int
	Minute           int
	Second           int
}

// ClockGate classifies wall-clock time into sample and report boundaries.
// It has no state beyond its configuration.
type ClockGate struct {
	SampleIntervalMinutes int
	ReportTriggerSecond   int
	MinEpoch              int64
	Location              *time.Location
}

// NewClockGate creates a ClockGate. A nil location means UTC.
func NewClockGate(sampleIntervalMinutes, reportTriggerSecond int, minEpoch int64, loc *time.Location) ClockGate {
	if loc == nil {
		loc = time.UTC
	}
	return ClockGate{
		SampleIntervalMinutes: sampleIntervalMinutes,
		ReportTriggerSecond:   reportTriggerSecond,
		MinEpoch:              minEpoch,
		Location:              loc,
	}
}

// Classify returns the classification of now. Boundaries are only reported
// for a valid clock.
func (g ClockGate) Classify(now time.Time) Classification {
	if now.Unix() < g.MinEpoch {
		return Classification{}
	}

	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	c := Classification{
		Valid:  true,
		Hour:   local.Hour(),
		Minute: local.Minute(),
		Second: local.Second(),
	}
	c.IsSampleBoundary = g.isSampleMinute(c.Minute) && c.Second == 0
	c.IsReportBoundary = c.Minute == 0 && c.Second == g.ReportTriggerSecond
	return c
}

func (g ClockGate) isSampleMinute(minute int) bool {
	if g.SampleIntervalMinutes <= 0 {
		return false
	}
	return minute%g.SampleIntervalMinutes == 0
}
