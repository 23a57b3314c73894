package geometry

import "math"

// Interpolation selects how Resample samples the source volume.
type Interpolation int

const (
	Nearest Interpolation = iota
	Linear
)

// Resample maps src onto the reference grid through t. For each reference
// voxel center the physical point is pushed through t and sampled in src;
// points falling outside src take fill. This follows the usual imaging
// convention: t maps reference-space (fixed) points into src (moving) space,
// so passing a fixed-to-moving transform pulls the moving volume into the
// fixed grid.
func Resample(src *Volume, ref Geometry, t RigidTransform, interp Interpolation, fill float32) *Volume {
	out := NewVolume(ref)
	i := 0
	for z := 0; z < ref.Size[2]; z++ {
		for y := 0; y < ref.Size[1]; y++ {
			for x := 0; x < ref.Size[0]; x++ {
				p := ref.PointFromIndex(float64(x), float64(y), float64(z))
				q := t.Apply(p)
				out.Data[i] = sample(src, q, interp, fill)
				i++
			}
		}
	}
	return out
}

func sample(v *Volume, p [3]float64, interp Interpolation, fill float32) float32 {
	ci := v.Geom.ContinuousIndex(p)
	switch interp {
	case Linear:
		return sampleLinear(v, ci, fill)
	default:
		return sampleNearest(v, ci, fill)
	}
}

func sampleNearest(v *Volume, ci [3]float64, fill float32) float32 {
	x := int(math.Round(ci[0]))
	y := int(math.Round(ci[1]))
	z := int(math.Round(ci[2]))
	if !v.Inside(x, y, z) {
		return fill
	}
	return v.At(x, y, z)
}

func sampleLinear(v *Volume, ci [3]float64, fill float32) float32 {
	x0 := int(math.Floor(ci[0]))
	y0 := int(math.Floor(ci[1]))
	z0 := int(math.Floor(ci[2]))
	fx := ci[0] - float64(x0)
	fy := ci[1] - float64(y0)
	fz := ci[2] - float64(z0)

	var acc, wsum float64
	for dz := 0; dz <= 1; dz++ {
		for dy := 0; dy <= 1; dy++ {
			for dx := 0; dx <= 1; dx++ {
				x, y, z := x0+dx, y0+dy, z0+dz
				if !v.Inside(x, y, z) {
					continue
				}
				w := lerpWeight(fx, dx) * lerpWeight(fy, dy) * lerpWeight(fz, dz)
				acc += w * float64(v.At(x, y, z))
				wsum += w
			}
		}
	}
	if wsum == 0 {
		return fill
	}
	return float32(acc / wsum)
}

func lerpWeight(f float64, d int) float64 {
	if d == 1 {
		return f
	}
	return 1 - f
}
