package sampling

import (
	"math"
	"time"
)

const rollingBuckets = 60

// minMaxBucket holds min/max values for a single minute
type minMaxBucket struct {
	min, max float64
}

func emptyBucket() minMaxBucket {
	return minMaxBucket{min: math.MaxFloat64, max: -math.MaxFloat64}
}

// RollingMinMax tracks the min/max of valid readings over a rolling hour
// using 60 one-minute buckets. Invalid readings are ignored.
type RollingMinMax struct {
	buckets       [rollingBuckets]minMaxBucket
	currentMinute int64 // Minutes since the epoch, -1 = uninitialized
}

// NewRollingMinMax creates an empty RollingMinMax
func NewRollingMinMax() RollingMinMax {
	r := RollingMinMax{currentMinute: -1}
	for i := range r.buckets {
		r.buckets[i] = emptyBucket()
	}
	return r
}

// Update records a reading taken at the given time
func (r *RollingMinMax) Update(reading Reading, at time.Time) {
	v, ok := reading.Value()
	if !ok {
		return
	}
	r.updateAt(v, at.Unix()/60)
}

func (r *RollingMinMax) updateAt(value float64, minute int64) {
	if minute < 0 {
		// Pre-epoch clock, no valid bucket
		return
	}
	if r.currentMinute >= 0 && (minute < r.currentMinute || minute-r.currentMinute >= rollingBuckets) {
		// Clock stepped backwards or an hour passed silently, nothing is current
		*r = NewRollingMinMax()
	}

	if r.currentMinute >= 0 && minute != r.currentMinute {
		// Clear missed buckets
		for m := r.currentMinute + 1; m < minute; m++ {
			r.buckets[m%rollingBuckets] = emptyBucket()
		}
	}

	slot := minute % rollingBuckets
	if minute != r.currentMinute {
		// First value for this minute - init directly
		r.buckets[slot] = minMaxBucket{min: value, max: value}
		r.currentMinute = minute
		return
	}

	b := &r.buckets[slot]
	b.min = min(b.min, value)
	b.max = max(b.max, value)
}

// Min returns the minimum over the last hour, invalid if nothing was recorded
func (r *RollingMinMax) Min() Reading {
	result := math.MaxFloat64
	for _, b := range r.buckets {
		result = min(result, b.min)
	}
	if result == math.MaxFloat64 {
		return Invalid()
	}
	return Valid(result)
}

// Max returns the maximum over the last hour, invalid if nothing was recorded
func (r *RollingMinMax) Max() Reading {
	result := -math.MaxFloat64
	for _, b := range r.buckets {
		result = max(result, b.max)
	}
	if result == -math.MaxFloat64 {
		return Invalid()
	}
	return Valid(result)
}
