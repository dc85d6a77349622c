package sampling

// Mean averages the valid readings. It is invalid when there are none.
func Mean(readings []Reading) Reading {
	var sum float64
	var count int
	for _, r := range readings {
		if v, ok := r.Value(); ok {
			sum += v
			count++
		}
	}
	if count == 0 {
		return Invalid()
	}
	return Valid(sum / float64(count))
}

// ComputeAverages returns the mean of the populated window for every channel
// in channel order. With nothing populated every average is invalid.
func ComputeAverages(ring *SampleRing) []Reading {
	averages := make([]Reading, ring.Channels())
	for ch := range averages {
		// Channel indices come from the ring itself so Snapshot cannot fail
		window, _ := ring.Snapshot(ch)
		averages[ch] = Mean(window)
	}
	return averages
}
