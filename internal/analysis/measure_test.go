package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/phantom"
)

func grid(n int) geometry.Geometry {
	return geometry.Geometry{
		Size:      [3]int{n, n, n},
		Spacing:   [3]float64{1, 1, 1},
		Direction: geometry.IdentityDirection(),
	}
}

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

func TestUniformVolumeMeanAndStd(t *testing.T) {
	const v = 123.5
	g := grid(8)
	vol := geometry.NewVolume(g)
	for i := range vol.Data {
		vol.Data[i] = v
	}
	mask := boxMask(g, [3]int{2, 2, 2}, [3]int{5, 5, 5})

	means, err := MeanValues(vol, []*geometry.Mask{mask})
	if err != nil {
		t.Fatalf("MeanValues: %v", err)
	}
	if math.Abs(means[0]-v) > 1e-9 {
		t.Errorf("mean = %v, want %v", means[0], v)
	}

	stds, err := StdValues(vol, []*geometry.Mask{mask})
	if err != nil {
		t.Fatalf("StdValues: %v", err)
	}
	if stds[0] != 0 {
		t.Errorf("std = %v, want 0 for uniform volume", stds[0])
	}
}

func TestPopulationStd(t *testing.T) {
	g := grid(4)
	vol := geometry.NewVolume(g)
	vol.Set(0, 0, 0, 0)
	vol.Set(1, 0, 0, 100)
	mask := boxMask(g, [3]int{0, 0, 0}, [3]int{1, 0, 0})

	stds, err := StdValues(vol, []*geometry.Mask{mask})
	if err != nil {
		t.Fatalf("StdValues: %v", err)
	}
	// Population std of {0, 100} is 50, not the sample std ~70.7.
	if math.Abs(stds[0]-50) > 1e-9 {
		t.Errorf("std = %v, want 50", stds[0])
	}
}

func TestMeanValuesGeometryMismatch(t *testing.T) {
	vol := geometry.NewVolume(grid(4))
	mask := boxMask(grid(6), [3]int{0, 0, 0}, [3]int{1, 1, 1})
	_, err := MeanValues(vol, []*geometry.Mask{mask})
	if !errors.Is(err, ErrGeometryMismatch) {
		t.Fatalf("err = %v, want ErrGeometryMismatch", err)
	}
}

func TestMeanValuesEmptyMask(t *testing.T) {
	g := grid(4)
	vol := geometry.NewVolume(g)
	_, err := MeanValues(vol, []*geometry.Mask{geometry.NewMask(g)})
	if !errors.Is(err, ErrEmptyMask) {
		t.Fatalf("err = %v, want ErrEmptyMask", err)
	}
}

func TestCentroidsAirHole(t *testing.T) {
	g := grid(10)
	vol := geometry.NewVolume(g) // background 0 HU
	vol.Set(4, 5, 6, -1000)      // one air voxel

	mask := boxMask(g, [3]int{3, 4, 5}, [3]int{5, 6, 7})
	th, _ := phantom.Geo.Threshold()

	cents, err := Centroids(vol, []*geometry.Mask{mask}, th)
	if err != nil {
		t.Fatalf("Centroids: %v", err)
	}
	want := [3]float64{4, 5, 6}
	for i := range want {
		if math.Abs(cents[0][i]-want[i]) > 1e-9 {
			t.Fatalf("centroid = %v, want %v", cents[0], want)
		}
	}
}

func TestCentroidsEmptyFeature(t *testing.T) {
	g := grid(6)
	vol := geometry.NewVolume(g) // all 0, nothing below -500
	mask := boxMask(g, [3]int{1, 1, 1}, [3]int{2, 2, 2})
	th, _ := phantom.Geo.Threshold()
	_, err := Centroids(vol, []*geometry.Mask{mask}, th)
	if !errors.Is(err, ErrEmptyFeature) {
		t.Fatalf("err = %v, want ErrEmptyFeature", err)
	}
}

func TestDistancesWraparound(t *testing.T) {
	cents := [][3]float64{
		{0, 0, 0},
		{3, 0, 0},
		{3, 4, 0},
	}
	d := Distances(cents)
	want := []float64{3, 4, 5} // last entry closes the loop back to the first
	if len(d) != len(want) {
		t.Fatalf("got %d distances, want %d", len(d), len(want))
	}
	for i := range want {
		if math.Abs(d[i]-want[i]) > 1e-9 {
			t.Errorf("d[%d] = %v, want %v", i, d[i], want[i])
		}
	}
}
