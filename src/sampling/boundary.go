package sampling

const noBoundary = -1

// BoundaryState remembers which sample minute and report hour have already
// been acted on so each boundary fires at most once no matter how often the
// clock is polled during it.
//
// The sample marker is cleared as soon as the clock leaves a sample minute
// and the report marker as soon as it leaves minute 0, so the same minute or
// hour can fire again on the next cycle.
type BoundaryState struct {
	lastSampleMinute int
	lastReportHour   int
}

// NewBoundaryState returns a state with nothing acted on
func NewBoundaryState() BoundaryState {
	return BoundaryState{lastSampleMinute: noBoundary, lastReportHour: noBoundary}
}

// Observe applies the reset rule for the current classification. Call it on
// every tick with a valid clock before asking whether a boundary is due.
func (b *BoundaryState) Observe(c Classification, sampleIntervalMinutes int) {
	if sampleIntervalMinutes <= 0 || c.Minute%sampleIntervalMinutes != 0 {
		b.lastSampleMinute = noBoundary
	}
	if c.Minute != 0 {
		b.lastReportHour = noBoundary
	}
}

// SampleDue reports whether c is a sample boundary not yet acted on
func (b *BoundaryState) SampleDue(c Classification) bool {
	return c.Valid && c.IsSampleBoundary && b.lastSampleMinute != c.Minute
}

// MarkSampled records that the sample for c's minute has been taken
func (b *BoundaryState) MarkSampled(c Classification) {
	b.lastSampleMinute = c.Minute
}

// ReportDue reports whether c is a report boundary not yet acted on
func (b *BoundaryState) ReportDue(c Classification) bool {
	return c.Valid && c.IsReportBoundary && b.lastReportHour != c.Hour
}

// MarkReported records that the report for c's hour has been sent
func (b *BoundaryState) MarkReported(c Classification) {
	b.lastReportHour = c.Hour
}

// LastSampleMinute returns the last sampled minute, or -1
func (b *BoundaryState) LastSampleMinute() int {
	return b.lastSampleMinute
}

// LastReportHour returns the last reported hour, or -1
func (b *BoundaryState) LastReportHour() int {
	return b.lastReportHour
}
