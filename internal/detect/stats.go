package detect

import (
	"math"
	"slices"
)

const (
	// madConsistency makes MAD comparable to a standard deviation under
	// normality.
	madConsistency = 0.6745
	// meanADConsistency does the same for the mean absolute deviation.
	meanADConsistency = 1.253314
)

// Median returns the median of xs, or NaN for an empty slice. xs is not
// modified.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// ModifiedZScore scores x against history with the median absolute
// deviation. When more than half the history sits on the median (MAD of 0)
// the mean absolute deviation around the median is used instead. When that
// is also 0 every observation equals the median, so x scores 0 if it equals
// the median too and ±Inf otherwise.
//
// ok is false for an empty history.
func ModifiedZScore(x float64, history []float64) (score float64, ok bool) {
	if len(history) == 0 {
		return 0, false
	}
	med := Median(history)
	dev := make([]float64, len(history))
	var sum float64
	for i, h := range history {
		dev[i] = math.Abs(h - med)
		sum += dev[i]
	}

	if mad := Median(dev); mad > 0 {
		return madConsistency * (x - med) / mad, true
	}
	if meanAD := sum / float64(len(dev)); meanAD > 0 {
		return (x - med) / (meanADConsistency * meanAD), true
	}
	switch {
	case x > med:
		return math.Inf(1), true
	case x < med:
		return math.Inf(-1), true
	}
	return 0, true
}
