package registration

import (
	"math"

	"github.com/openmedphys/ctqa/internal/geometry"
)

// maxMetricSamples caps how many fixed-grid voxels feed the joint
// histogram per evaluation; beyond this the grid is strided.
const maxMetricSamples = 200000

// metricContext evaluates the negated mutual information between a fixed
// volume and a moving volume under a candidate transform. Intensity ranges
// are fixed per pyramid level so histogram binning stays stable across
// optimizer steps.
type metricContext struct {
	fixed, moving         *geometry.Volume
	fixedMask, movingMask *geometry.Mask
	bins                  int

	fMin, fScale float64
	mMin, mScale float64
	stride       int
}

func newMetricContext(fixed, moving *geometry.Volume, fixedMask, movingMask *geometry.Mask, bins int) *metricContext {
	if bins <= 1 {
		bins = 50
	}
	mc := &metricContext{
		fixed:      fixed,
		moving:     moving,
		fixedMask:  fixedMask,
		movingMask: movingMask,
		bins:       bins,
		stride:     len(fixed.Data)/maxMetricSamples + 1,
	}
	mc.fMin, mc.fScale = binScale(fixed.Data, bins)
	mc.mMin, mc.mScale = binScale(moving.Data, bins)
	return mc
}

func binScale(data []float32, bins int) (min, scale float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return float64(lo), 0
	}
	return float64(lo), float64(bins-1) / float64(hi-lo)
}

func (mc *metricContext) bin(v float64, min, scale float64) int {
	b := int((v - min) * scale)
	if b < 0 {
		return 0
	}
	if b >= mc.bins {
		return mc.bins - 1
	}
	return b
}

// negMI returns the negated mutual information of the joint intensity
// distribution sampled over the fixed grid, mapping each sample point into
// moving space through t. Samples leaving the moving volume or excluded by
// a metric mask do not contribute.
func (mc *metricContext) negMI(t geometry.RigidTransform) float64 {
	joint := make([]float64, mc.bins*mc.bins)
	fMarg := make([]float64, mc.bins)
	mMarg := make([]float64, mc.bins)
	total := 0.0

	size := mc.fixed.Geom.Size
	flat := 0
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				idx := flat
				flat++
				if idx%mc.stride != 0 {
					continue
				}
				if mc.fixedMask != nil && mc.fixedMask.Data[idx] == 0 {
					continue
				}

				p := mc.fixed.Geom.PointFromIndex(float64(x), float64(y), float64(z))
				q := t.Apply(p)
				mv, ok := mc.sampleMoving(q)
				if !ok {
					continue
				}

				fb := mc.bin(float64(mc.fixed.Data[idx]), mc.fMin, mc.fScale)
				mb := mc.bin(mv, mc.mMin, mc.mScale)
				joint[fb*mc.bins+mb]++
				fMarg[fb]++
				mMarg[mb]++
				total++
			}
		}
	}

	if total == 0 {
		return 0
	}

	mi := 0.0
	for fb := 0; fb < mc.bins; fb++ {
		if fMarg[fb] == 0 {
			continue
		}
		for mb := 0; mb < mc.bins; mb++ {
			n := joint[fb*mc.bins+mb]
			if n == 0 || mMarg[mb] == 0 {
				continue
			}
			mi += (n / total) * math.Log(n*total/(fMarg[fb]*mMarg[mb]))
		}
	}
	return -mi
}

func (mc *metricContext) sampleMoving(p [3]float64) (float64, bool) {
	ci := mc.moving.Geom.ContinuousIndex(p)
	size := mc.moving.Geom.Size
	for i := 0; i < 3; i++ {
		if ci[i] < 0 || ci[i] > float64(size[i]-1) {
			return 0, false
		}
	}
	if mc.movingMask != nil {
		x := int(math.Round(ci[0]))
		y := int(math.Round(ci[1]))
		z := int(math.Round(ci[2]))
		if !mc.movingMask.At(x, y, z) {
			return 0, false
		}
	}
	x0 := int(ci[0])
	y0 := int(ci[1])
	z0 := int(ci[2])
	fx := ci[0] - float64(x0)
	fy := ci[1] - float64(y0)
	fz := ci[2] - float64(z0)

	var acc, wsum float64
	for dz := 0; dz <= 1; dz++ {
		for dy := 0; dy <= 1; dy++ {
			for dx := 0; dx <= 1; dx++ {
				x, y, z := x0+dx, y0+dy, z0+dz
				if !mc.moving.Inside(x, y, z) {
					continue
				}
				w := weight(fx, dx) * weight(fy, dy) * weight(fz, dz)
				acc += w * float64(mc.moving.At(x, y, z))
				wsum += w
			}
		}
	}
	if wsum == 0 {
		return 0, false
	}
	return acc / wsum, true
}

func weight(f float64, d int) float64 {
	if d == 1 {
		return f
	}
	return 1 - f
}
