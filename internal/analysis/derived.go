package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCrossing means the relative MTF never drops below 50%.
	ErrNoCrossing = errors.New("no 50% MTF crossing found")
	// ErrDegenerate means a derived metric has a degenerate denominator.
	ErrDegenerate = errors.New("degenerate denominator in derived metric")
)

// IntegralNonUniformity is (max-min)/(max+min) over the uniformity means.
// Invariant under positive scaling of the inputs, not under offsets.
func IntegralNonUniformity(means []float64) (float64, error) {
	if len(means) == 0 {
		return 0, fmt.Errorf("%w: no uniformity means", ErrDegenerate)
	}
	min, max := means[0], means[0]
	for _, v := range means {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max+min == 0 {
		return 0, fmt.Errorf("%w: max+min == 0", ErrDegenerate)
	}
	return (max - min) / (max + min), nil
}

// RelativeMTF normalizes the high-contrast std values by the first
// (reference) value.
func RelativeMTF(stds []float64) ([]float64, error) {
	if len(stds) == 0 {
		return nil, fmt.Errorf("%w: no high-contrast values", ErrDegenerate)
	}
	if stds[0] == 0 {
		return nil, fmt.Errorf("%w: reference std is zero", ErrDegenerate)
	}
	out := make([]float64, len(stds))
	for i, v := range stds {
		out[i] = v / stds[0]
	}
	return out, nil
}

// MTF50 locates the 50% crossing of the relative MTF curve by linear
// interpolation, in units of mask index: the crossing sits between the
// last sample at or above 0.5 and the first sample below it.
func MTF50(rmtf []float64) (float64, error) {
	first := -1
	for i, v := range rmtf {
		if v < 0.5 {
			first = i
			break
		}
	}
	if first <= 0 {
		if first == 0 {
			return 0, fmt.Errorf("%w: curve starts below 0.5", ErrNoCrossing)
		}
		return 0, ErrNoCrossing
	}
	i := first - 1
	a, b := rmtf[i], rmtf[first]
	return float64(i) + (a-0.5)/(a-b), nil
}
