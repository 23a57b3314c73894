// Package analysis computes the QA metrics: per-mask statistics, centroid
// distances, and the derived uniformity and resolution figures, each
// compared to its baseline with a per-region tolerance.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/phantom"
)

var (
	// ErrGeometryMismatch means a mask does not share the volume's grid.
	ErrGeometryMismatch = errors.New("mask geometry does not match volume")
	// ErrEmptyMask means a measurement mask selects no voxels.
	ErrEmptyMask = errors.New("measurement mask is empty")
	// ErrEmptyFeature means thresholding removed every voxel of a centroid
	// feature.
	ErrEmptyFeature = errors.New("no feature voxels after threshold")
)

// maskedValues gathers the volume intensities under one mask.
func maskedValues(v *geometry.Volume, m *geometry.Mask) ([]float64, error) {
	if !m.Geom.Equal(v.Geom, geometry.Tolerance) {
		return nil, ErrGeometryMismatch
	}
	var xs []float64
	for i, b := range m.Data {
		if b != 0 {
			xs = append(xs, float64(v.Data[i]))
		}
	}
	if len(xs) == 0 {
		return nil, ErrEmptyMask
	}
	return xs, nil
}

// MeanValues returns the mean intensity under each mask, in mask order.
func MeanValues(v *geometry.Volume, masks []*geometry.Mask) ([]float64, error) {
	out := make([]float64, len(masks))
	for i, m := range masks {
		xs, err := maskedValues(v, m)
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", i+1, err)
		}
		out[i] = stat.Mean(xs, nil)
	}
	return out, nil
}

// StdValues returns the population standard deviation of the intensity
// under each mask, in mask order.
func StdValues(v *geometry.Volume, masks []*geometry.Mask) ([]float64, error) {
	out := make([]float64, len(masks))
	for i, m := range masks {
		xs, err := maskedValues(v, m)
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", i+1, err)
		}
		out[i] = stat.PopStdDev(xs, nil)
	}
	return out, nil
}

// Centroids localizes the feature under each mask: the mask's bounding box
// is cropped from the volume, binarized by th, and the weight-averaged
// position of the surviving voxels is returned in physical millimeters.
func Centroids(v *geometry.Volume, masks []*geometry.Mask, th phantom.Threshold) ([][3]float64, error) {
	out := make([][3]float64, len(masks))
	for i, m := range masks {
		if !m.Geom.Equal(v.Geom, geometry.Tolerance) {
			return nil, fmt.Errorf("mask %d: %w", i+1, ErrGeometryMismatch)
		}
		lo, hi, ok := m.Bounds()
		if !ok {
			return nil, fmt.Errorf("mask %d: %w", i+1, ErrEmptyMask)
		}

		var wsum float64
		var acc [3]float64
		for z := lo[2]; z <= hi[2]; z++ {
			for y := lo[1]; y <= hi[1]; y++ {
				for x := lo[0]; x <= hi[0]; x++ {
					w := th.Above
					if float64(v.At(x, y, z)) < th.Cutoff {
						w = th.Below
					}
					if w == 0 {
						continue
					}
					p := v.Geom.PointFromIndex(float64(x), float64(y), float64(z))
					acc[0] += w * p[0]
					acc[1] += w * p[1]
					acc[2] += w * p[2]
					wsum += w
				}
			}
		}
		if wsum == 0 {
			return nil, fmt.Errorf("mask %d: %w", i+1, ErrEmptyFeature)
		}
		out[i] = [3]float64{acc[0] / wsum, acc[1] / wsum, acc[2] / wsum}
	}
	return out, nil
}

// Distances returns the Euclidean distances between consecutive centroids
// in mask order, closing the loop from the last centroid back to the
// first. len(out) == len(centroids).
func Distances(centroids [][3]float64) []float64 {
	n := len(centroids)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		a := centroids[i]
		b := centroids[(i+1)%n]
		dx := a[0] - b[0]
		dy := a[1] - b[1]
		dz := a[2] - b[2]
		out[i] = math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	return out
}
