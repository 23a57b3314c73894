// Package geometry provides the voxel-grid types shared by the pipeline:
// volumes, binary masks, rigid transforms, and resampling between grids.
//
// Voxel data is stored flat, x fastest: index = (z*ny+y)*nx + x.
// Physical points are patient-space millimeters.
package geometry

import "math"

// Tolerance is the floating-point tolerance used when comparing grid
// geometries for equality.
const Tolerance = 1e-6

// Geometry describes a voxel grid embedded in physical space.
// Direction is a row-major 3x3 matrix of direction cosines; its columns are
// the physical directions of the x, y and z index axes. It must be
// orthonormal (true for DICOM orientation vectors), which the inverse
// mapping relies on.
type Geometry struct {
	Size      [3]int     `json:"size"`
	Spacing   [3]float64 `json:"spacing"`
	Origin    [3]float64 `json:"origin"`
	Direction [9]float64 `json:"direction"`
}

// IdentityDirection returns the axis-aligned direction matrix.
func IdentityDirection() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// NumVoxels returns the total voxel count of the grid.
func (g Geometry) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// Equal reports whether two geometries match: identical sizes and all
// floating fields within tol of each other.
func (g Geometry) Equal(o Geometry, tol float64) bool {
	if g.Size != o.Size {
		return false
	}
	for i := 0; i < 3; i++ {
		if math.Abs(g.Spacing[i]-o.Spacing[i]) > tol {
			return false
		}
		if math.Abs(g.Origin[i]-o.Origin[i]) > tol {
			return false
		}
	}
	for i := 0; i < 9; i++ {
		if math.Abs(g.Direction[i]-o.Direction[i]) > tol {
			return false
		}
	}
	return true
}

// PointFromIndex maps a (possibly fractional) voxel index to a physical
// point: origin + D * (index .* spacing).
func (g Geometry) PointFromIndex(x, y, z float64) [3]float64 {
	sx := x * g.Spacing[0]
	sy := y * g.Spacing[1]
	sz := z * g.Spacing[2]
	d := g.Direction
	return [3]float64{
		g.Origin[0] + d[0]*sx + d[1]*sy + d[2]*sz,
		g.Origin[1] + d[3]*sx + d[4]*sy + d[5]*sz,
		g.Origin[2] + d[6]*sx + d[7]*sy + d[8]*sz,
	}
}

// ContinuousIndex maps a physical point back to fractional voxel
// coordinates. Uses the transpose of Direction as its inverse, hence the
// orthonormality requirement.
func (g Geometry) ContinuousIndex(p [3]float64) [3]float64 {
	vx := p[0] - g.Origin[0]
	vy := p[1] - g.Origin[1]
	vz := p[2] - g.Origin[2]
	d := g.Direction
	return [3]float64{
		(d[0]*vx + d[3]*vy + d[6]*vz) / g.Spacing[0],
		(d[1]*vx + d[4]*vy + d[7]*vz) / g.Spacing[1],
		(d[2]*vx + d[5]*vy + d[8]*vz) / g.Spacing[2],
	}
}

// Center returns the physical center of the grid.
func (g Geometry) Center() [3]float64 {
	return g.PointFromIndex(
		float64(g.Size[0]-1)/2,
		float64(g.Size[1]-1)/2,
		float64(g.Size[2]-1)/2,
	)
}
