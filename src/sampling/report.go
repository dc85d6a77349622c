package sampling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ReportPrecision is the number of decimal places carried in a report
const ReportPrecision = 2

// ReportEntry is one channel's average in a report
type ReportEntry struct {
	Key     string
	Average Reading
}

// Report is the snapshot of per-channel averages for one completed window.
// It is immutable once built.
type Report struct {
	id        uuid.UUID
	windowEnd time.Time
	samples   int
	entries   []ReportEntry
}

// BuildReport creates a report from per-channel averages. keys and averages
// are matched by index and must have the same length.
func BuildReport(keys []string, averages []Reading, windowEnd time.Time, samples int) (Report, error) {
	if len(keys) != len(averages) {
		return Report{}, fmt.Errorf("build report: %d keys for %d averages", len(keys), len(averages))
	}

	entries := make([]ReportEntry, len(keys))
	for i, key := range keys {
		avg := averages[i]
		if v, ok := avg.Value(); ok {
			avg = Valid(roundTo(v, ReportPrecision))
		}
		entries[i] = ReportEntry{Key: key, Average: avg}
	}

	return Report{
		id:        uuid.New(),
		windowEnd: windowEnd,
		samples:   samples,
		entries:   entries,
	}, nil
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// ID returns the unique report id
func (r Report) ID() uuid.UUID {
	return r.id
}

// WindowEnd returns the time the window was closed
func (r Report) WindowEnd() time.Time {
	return r.windowEnd
}

// Samples returns how many sample boundaries the window held
func (r Report) Samples() int {
	return r.samples
}

// Entries returns a copy of the report entries in channel order
func (r Report) Entries() []ReportEntry {
	out := make([]ReportEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Average looks up the average for key
func (r Report) Average(key string) (Reading, bool) {
	for _, e := range r.entries {
		if e.Key == key {
			return e.Average, true
		}
	}
	return Invalid(), false
}

// MarshalJSON encodes the report as a flat object with one key per channel in
// channel order. Averages carry two decimals; invalid averages are null.
func (r Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if v, ok := e.Average.Value(); ok {
			buf.Write(strconv.AppendFloat(nil, v, 'f', ReportPrecision, 64))
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
