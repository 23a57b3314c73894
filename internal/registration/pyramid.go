package registration

import (
	"math"

	"github.com/openmedphys/ctqa/internal/geometry"
)

// downsampleVolume builds one pyramid level: gaussian smoothing (sigma in
// voxel units, 0 disables it) followed by decimation by factor. Spacing
// grows with the factor so physical coordinates are preserved.
func downsampleVolume(v *geometry.Volume, factor int, sigma float64) *geometry.Volume {
	s := v
	if sigma > 0 {
		s = gaussianSmooth(v, sigma)
	}
	if factor <= 1 {
		return s
	}

	g := s.Geom
	out := geometry.NewVolume(geometry.Geometry{
		Size: [3]int{
			(g.Size[0] + factor - 1) / factor,
			(g.Size[1] + factor - 1) / factor,
			(g.Size[2] + factor - 1) / factor,
		},
		Spacing: [3]float64{
			g.Spacing[0] * float64(factor),
			g.Spacing[1] * float64(factor),
			g.Spacing[2] * float64(factor),
		},
		Origin:    g.Origin,
		Direction: g.Direction,
	})
	i := 0
	for z := 0; z < out.Geom.Size[2]; z++ {
		for y := 0; y < out.Geom.Size[1]; y++ {
			for x := 0; x < out.Geom.Size[0]; x++ {
				out.Data[i] = s.At(x*factor, y*factor, z*factor)
				i++
			}
		}
	}
	return out
}

// downsampleMask decimates a metric mask to match a pyramid level.
// nil stays nil.
func downsampleMask(m *geometry.Mask, factor int) *geometry.Mask {
	if m == nil || factor <= 1 {
		return m
	}
	g := m.Geom
	out := geometry.NewMask(geometry.Geometry{
		Size: [3]int{
			(g.Size[0] + factor - 1) / factor,
			(g.Size[1] + factor - 1) / factor,
			(g.Size[2] + factor - 1) / factor,
		},
		Spacing: [3]float64{
			g.Spacing[0] * float64(factor),
			g.Spacing[1] * float64(factor),
			g.Spacing[2] * float64(factor),
		},
		Origin:    g.Origin,
		Direction: g.Direction,
	})
	i := 0
	for z := 0; z < out.Geom.Size[2]; z++ {
		for y := 0; y < out.Geom.Size[1]; y++ {
			for x := 0; x < out.Geom.Size[0]; x++ {
				if m.At(x*factor, y*factor, z*factor) {
					out.Data[i] = 1
				}
				i++
			}
		}
	}
	return out
}

// gaussianSmooth applies a separable gaussian along each axis.
func gaussianSmooth(v *geometry.Volume, sigma float64) *geometry.Volume {
	kernel := gaussianKernel(sigma)
	out := smoothAxis(v, kernel, 0)
	out = smoothAxis(out, kernel, 1)
	return smoothAxis(out, kernel, 2)
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range k {
		d := float64(i - radius)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func smoothAxis(v *geometry.Volume, kernel []float64, axis int) *geometry.Volume {
	out := geometry.NewVolume(v.Geom)
	radius := len(kernel) / 2
	size := v.Geom.Size

	i := 0
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				var acc, wsum float64
				for ki, w := range kernel {
					d := ki - radius
					xx, yy, zz := x, y, z
					switch axis {
					case 0:
						xx += d
					case 1:
						yy += d
					default:
						zz += d
					}
					if !v.Inside(xx, yy, zz) {
						continue
					}
					acc += w * float64(v.At(xx, yy, zz))
					wsum += w
				}
				if wsum > 0 {
					out.Data[i] = float32(acc / wsum)
				}
				i++
			}
		}
	}
	return out
}
