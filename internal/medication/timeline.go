package medication

import "time"

// DefaultPreviewCount is how many upcoming doses NextDoses returns by default.
const DefaultPreviewCount = 5

// NextDoses lists the next count instants on the grid start + k*interval,
// starting with the earliest one at or after now. count <= 0 means
// DefaultPreviewCount. A non-positive interval yields nil.
func NextDoses(start time.Time, interval time.Duration, now time.Time, count int) []time.Time {
	if interval <= 0 {
		return nil
	}
	if count <= 0 {
		count = DefaultPreviewCount
	}

	first := start
	if now.After(start) {
		elapsed := now.Sub(start)
		k := elapsed / interval
		if elapsed%interval != 0 {
			k++
		}
		first = start.Add(k * interval)
	}

	out := make([]time.Time, count)
	for i := range out {
		out[i] = first.Add(time.Duration(i) * interval)
	}
	return out
}

// PhaseOffset is how far now lies past the most recent grid instant. The
// second result is false while the medication has not started yet.
func PhaseOffset(start time.Time, interval time.Duration, now time.Time) (time.Duration, bool) {
	if interval <= 0 || now.Before(start) {
		return 0, false
	}
	return now.Sub(start) % interval, true
}
