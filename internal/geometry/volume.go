package geometry

// Volume is a scalar voxel grid in calibrated intensity units (HU for CT).
type Volume struct {
	Geom Geometry
	Data []float32
}

// NewVolume allocates a zero-filled volume with the given geometry.
func NewVolume(g Geometry) *Volume {
	return &Volume{Geom: g, Data: make([]float32, g.NumVoxels())}
}

func (v *Volume) index(x, y, z int) int {
	return (z*v.Geom.Size[1]+y)*v.Geom.Size[0] + x
}

// At returns the voxel value at integer index (x, y, z).
func (v *Volume) At(x, y, z int) float32 {
	return v.Data[v.index(x, y, z)]
}

// Set writes the voxel value at integer index (x, y, z).
func (v *Volume) Set(x, y, z int, val float32) {
	v.Data[v.index(x, y, z)] = val
}

// Inside reports whether the integer index lies in the grid.
func (v *Volume) Inside(x, y, z int) bool {
	s := v.Geom.Size
	return x >= 0 && x < s[0] && y >= 0 && y < s[1] && z >= 0 && z < s[2]
}

// Mask is a binary voxel grid sharing a volume's geometry.
type Mask struct {
	Geom Geometry
	Data []uint8
}

// NewMask allocates an empty mask with the given geometry.
func NewMask(g Geometry) *Mask {
	return &Mask{Geom: g, Data: make([]uint8, g.NumVoxels())}
}

func (m *Mask) index(x, y, z int) int {
	return (z*m.Geom.Size[1]+y)*m.Geom.Size[0] + x
}

// At reports whether voxel (x, y, z) is set.
func (m *Mask) At(x, y, z int) bool {
	return m.Data[m.index(x, y, z)] != 0
}

// Set marks voxel (x, y, z).
func (m *Mask) Set(x, y, z int) {
	m.Data[m.index(x, y, z)] = 1
}

// Count returns the number of set voxels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Bounds returns the inclusive index bounding box of set voxels.
// ok is false for an empty mask.
func (m *Mask) Bounds() (lo, hi [3]int, ok bool) {
	s := m.Geom.Size
	lo = [3]int{s[0], s[1], s[2]}
	hi = [3]int{-1, -1, -1}
	i := 0
	for z := 0; z < s[2]; z++ {
		for y := 0; y < s[1]; y++ {
			for x := 0; x < s[0]; x++ {
				if m.Data[i] != 0 {
					if x < lo[0] {
						lo[0] = x
					}
					if y < lo[1] {
						lo[1] = y
					}
					if z < lo[2] {
						lo[2] = z
					}
					if x > hi[0] {
						hi[0] = x
					}
					if y > hi[1] {
						hi[1] = y
					}
					if z > hi[2] {
						hi[2] = z
					}
				}
				i++
			}
		}
	}
	return lo, hi, hi[0] >= 0
}
