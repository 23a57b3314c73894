package transfer

import (
	"errors"
	"testing"

	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/registration"
)

func grid(n int) geometry.Geometry {
	return geometry.Geometry{
		Size:      [3]int{n, n, n},
		Spacing:   [3]float64{1, 1, 1},
		Direction: geometry.IdentityDirection(),
	}
}

// boxMask fills the inclusive index box lo..hi.
func boxMask(g geometry.Geometry, lo, hi [3]int) *geometry.Mask {
	m := geometry.NewMask(g)
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				m.Set(x, y, z)
			}
		}
	}
	return m
}

func sameVoxels(a, b *geometry.Mask) bool {
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if (a.Data[i] != 0) != (b.Data[i] != 0) {
			return false
		}
	}
	return true
}

func TestCompositeRoundTripIdentity(t *testing.T) {
	g := grid(10)
	masks := []*geometry.Mask{
		boxMask(g, [3]int{1, 1, 1}, [3]int{2, 2, 2}),
		boxMask(g, [3]int{5, 5, 5}, [3]int{6, 6, 6}),
		boxMask(g, [3]int{8, 1, 1}, [3]int{9, 2, 2}),
	}

	eng := NewEngine(registration.NewEngine())
	var identity geometry.RigidTransform
	res, err := eng.Transfer(masks, identity, g)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(res.Masks) != 3 {
		t.Fatalf("got %d masks, want 3", len(res.Masks))
	}
	for i, m := range res.Masks {
		if !sameVoxels(m, masks[i]) {
			t.Errorf("mask %d: identity round trip changed voxel set", i+1)
		}
		if m.Count() != masks[i].Count() {
			t.Errorf("mask %d: count %d, want %d", i+1, m.Count(), masks[i].Count())
		}
		if !m.Geom.Equal(g, geometry.Tolerance) {
			t.Errorf("mask %d: geometry differs from fixed grid", i+1)
		}
	}
	if res.Composite == nil || res.Transferred == nil {
		t.Error("intermediate composites must be returned for persistence")
	}
}

func TestCompositeOverlapLastLabelWins(t *testing.T) {
	g := grid(6)
	a := boxMask(g, [3]int{1, 1, 1}, [3]int{3, 3, 3})
	b := boxMask(g, [3]int{3, 3, 3}, [3]int{4, 4, 4}) // overlaps a at (3,3,3)

	comp, err := Composite([]*geometry.Mask{a, b})
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if got := comp.At(3, 3, 3); got != 2 {
		t.Errorf("overlap voxel = %v, want later label 2", got)
	}
	if got := comp.At(1, 1, 1); got != 1 {
		t.Errorf("mask-1 voxel = %v, want 1", got)
	}
	if got := comp.At(0, 0, 0); got != 0 {
		t.Errorf("background voxel = %v, want 0", got)
	}
}

func TestCompositeGeometryMismatch(t *testing.T) {
	a := boxMask(grid(6), [3]int{1, 1, 1}, [3]int{2, 2, 2})
	b := boxMask(grid(8), [3]int{1, 1, 1}, [3]int{2, 2, 2})
	_, err := Composite([]*geometry.Mask{a, b})
	if !errors.Is(err, ErrMaskGeometryMismatch) {
		t.Fatalf("err = %v, want ErrMaskGeometryMismatch", err)
	}
}

func TestTransferEmptyMaskIsFatal(t *testing.T) {
	g := grid(8)
	m := boxMask(g, [3]int{1, 1, 1}, [3]int{2, 2, 2})

	// A transform far outside the grid leaves nothing behind.
	tr := geometry.RigidTransform{Translation: [3]float64{1000, 0, 0}}
	eng := NewEngine(registration.NewEngine())
	_, err := eng.Transfer([]*geometry.Mask{m}, tr, g)
	if !errors.Is(err, ErrEmptyMaskAfterTransfer) {
		t.Fatalf("err = %v, want ErrEmptyMaskAfterTransfer", err)
	}
}

func TestTransferTranslation(t *testing.T) {
	g := grid(10)
	m := boxMask(g, [3]int{4, 4, 4}, [3]int{5, 5, 5})

	// The transform maps fixed points into baseline space, so a +2 x
	// translation pulls the mask two voxels toward -x in the fixed grid.
	tr := geometry.RigidTransform{Translation: [3]float64{2, 0, 0}}
	eng := NewEngine(registration.NewEngine())
	res, err := eng.Transfer([]*geometry.Mask{m}, tr, g)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	got := res.Masks[0]
	if got.Count() != m.Count() {
		t.Fatalf("count = %d, want %d", got.Count(), m.Count())
	}
	if !got.At(2, 4, 4) || got.At(4, 4, 4) {
		t.Error("mask did not shift as expected")
	}
}

func TestDecodeBandAbsorbsDrift(t *testing.T) {
	g := grid(4)
	comp := geometry.NewVolume(g)
	comp.Data[0] = 1.4  // inside band for label 1
	comp.Data[1] = 1.7  // outside band for label 1, inside for 2
	comp.Data[2] = 0.45 // background drift, no label

	m1 := Decode(comp, 1)
	if m1.Data[0] != 1 || m1.Data[1] != 0 || m1.Data[2] != 0 {
		t.Errorf("label 1 decode = %v %v %v", m1.Data[0], m1.Data[1], m1.Data[2])
	}
	m2 := Decode(comp, 2)
	if m2.Data[1] != 1 {
		t.Error("1.7 should decode into label 2's band")
	}
}
