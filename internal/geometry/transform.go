package geometry

import "math"

// RigidTransform is a 6-DOF spatial transform: rotation (Euler angles in
// radians, applied as Rz*Ry*Rx) about Center, followed by Translation.
//
//	p' = R*(p - c) + c + t
//
// The zero value is the identity transform.
type RigidTransform struct {
	Angles      [3]float64 `json:"angles"`
	Translation [3]float64 `json:"translation"`
	Center      [3]float64 `json:"center"`
}

// Matrix returns the row-major 3x3 rotation matrix Rz*Ry*Rx.
func (t RigidTransform) Matrix() [9]float64 {
	cx, sx := math.Cos(t.Angles[0]), math.Sin(t.Angles[0])
	cy, sy := math.Cos(t.Angles[1]), math.Sin(t.Angles[1])
	cz, sz := math.Cos(t.Angles[2]), math.Sin(t.Angles[2])
	return [9]float64{
		cz * cy, cz*sy*sx - sz*cx, cz*sy*cx + sz*sx,
		sz * cy, sz*sy*sx + cz*cx, sz*sy*cx - cz*sx,
		-sy, cy * sx, cy * cx,
	}
}

// Apply maps a physical point through the transform.
func (t RigidTransform) Apply(p [3]float64) [3]float64 {
	r := t.Matrix()
	vx := p[0] - t.Center[0]
	vy := p[1] - t.Center[1]
	vz := p[2] - t.Center[2]
	return [3]float64{
		r[0]*vx + r[1]*vy + r[2]*vz + t.Center[0] + t.Translation[0],
		r[3]*vx + r[4]*vy + r[5]*vz + t.Center[1] + t.Translation[1],
		r[6]*vx + r[7]*vy + r[8]*vz + t.Center[2] + t.Translation[2],
	}
}

// Params returns the transform's free parameters in optimizer order:
// three angles, then three translations.
func (t RigidTransform) Params() [6]float64 {
	return [6]float64{
		t.Angles[0], t.Angles[1], t.Angles[2],
		t.Translation[0], t.Translation[1], t.Translation[2],
	}
}

// FromParams builds a transform from optimizer parameters and a fixed
// rotation center.
func FromParams(p [6]float64, center [3]float64) RigidTransform {
	return RigidTransform{
		Angles:      [3]float64{p[0], p[1], p[2]},
		Translation: [3]float64{p[3], p[4], p[5]},
		Center:      center,
	}
}
