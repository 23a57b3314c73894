package registration

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/openmedphys/ctqa/internal/geometry"
)

// blobVolume builds a small volume with a gaussian blob offset from the
// grid center, giving the metric real structure to compare.
func blobVolume(n int, cx, cy, cz float64) *geometry.Volume {
	g := geometry.Geometry{
		Size:      [3]int{n, n, n},
		Spacing:   [3]float64{1, 1, 1},
		Origin:    [3]float64{0, 0, 0},
		Direction: geometry.IdentityDirection(),
	}
	v := geometry.NewVolume(g)
	i := 0
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx := float64(x) - cx
				dy := float64(y) - cy
				dz := float64(z) - cz
				v.Data[i] = float32(1000 * math.Exp(-(dx*dx+dy*dy+dz*dz)/18))
				i++
			}
		}
	}
	return v
}

func TestNegMIPrefersAlignment(t *testing.T) {
	v := blobVolume(16, 6, 8, 8)
	mc := newMetricContext(v, v, nil, nil, 32)

	var identity geometry.RigidTransform
	aligned := mc.negMI(identity)
	shifted := mc.negMI(geometry.RigidTransform{Translation: [3]float64{6, 0, 0}})

	if aligned >= shifted {
		t.Fatalf("negMI(identity) = %v should be below negMI(shifted) = %v", aligned, shifted)
	}
}

func TestNegMIRespectsFixedMask(t *testing.T) {
	v := blobVolume(12, 6, 6, 6)
	empty := geometry.NewMask(v.Geom)
	mc := newMetricContext(v, v, empty, nil, 16)
	var identity geometry.RigidTransform
	if got := mc.negMI(identity); got != 0 {
		t.Fatalf("negMI with empty fixed mask = %v, want 0 (no samples)", got)
	}
}

func TestAlignSelf(t *testing.T) {
	v := blobVolume(16, 6, 8, 8)
	p := Params{
		LearningRate:         0.1,
		Iterations:           5,
		ConvergenceTolerance: 1e-6,
		ConvergenceWindow:    3,
		HistogramBins:        16,
		ShrinkFactors:        []int{2, 1},
		SmoothingSigmas:      []float64{1, 0},
	}

	eng := NewEngine()
	res, err := eng.Align(context.Background(), v, v, nil, nil, p)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if res.Aligned == nil || !res.Aligned.Geom.Equal(v.Geom, geometry.Tolerance) {
		t.Fatal("aligned volume must live on the fixed grid")
	}
	for _, a := range res.Transform.Angles {
		if math.IsNaN(a) {
			t.Fatal("transform contains NaN angles")
		}
	}
	for _, tr := range res.Transform.Translation {
		if math.IsNaN(tr) || math.Abs(tr) > 16 {
			t.Fatalf("implausible translation %v for self-alignment", res.Transform.Translation)
		}
	}
}

func TestAlignRejectsBadPyramid(t *testing.T) {
	v := blobVolume(8, 4, 4, 4)
	p := DefaultParams()
	p.ShrinkFactors = []int{4, 2}
	// Sigmas still has three entries.
	if _, err := NewEngine().Align(context.Background(), v, v, nil, nil, p); err == nil {
		t.Fatal("expected error for mismatched pyramid configuration")
	}
}

func TestAlignHonorsContext(t *testing.T) {
	v := blobVolume(8, 4, 4, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine().Align(ctx, v, v, nil, nil, DefaultParams()); err == nil {
		t.Fatal("expected context error")
	}
}

func TestInitialParamsCentersVolumes(t *testing.T) {
	fixed := blobVolume(16, 8, 8, 8)
	moving := blobVolume(16, 8, 8, 8)
	moving.Geom.Origin = [3]float64{50, 0, 0}

	x := initialParams(fixed, moving)
	if math.Abs(x[3]*translationScale-50) > 1e-9 {
		t.Fatalf("initial x translation = %v mm, want 50", x[3]*translationScale)
	}
}

func TestDownsampleVolume(t *testing.T) {
	v := blobVolume(16, 8, 8, 8)
	d := downsampleVolume(v, 4, 0)
	if d.Geom.Size != [3]int{4, 4, 4} {
		t.Fatalf("size = %v", d.Geom.Size)
	}
	if d.Geom.Spacing != [3]float64{4, 4, 4} {
		t.Fatalf("spacing = %v", d.Geom.Spacing)
	}
	if d.At(2, 2, 2) != v.At(8, 8, 8) {
		t.Error("decimation should pick every factor-th voxel")
	}
}

func TestGaussianSmoothPreservesConstant(t *testing.T) {
	g := geometry.Geometry{
		Size:      [3]int{6, 6, 6},
		Spacing:   [3]float64{1, 1, 1},
		Direction: geometry.IdentityDirection(),
	}
	v := geometry.NewVolume(g)
	for i := range v.Data {
		v.Data[i] = 42
	}
	s := gaussianSmooth(v, 1.5)
	for i, val := range s.Data {
		if math.Abs(float64(val)-42) > 1e-3 {
			t.Fatalf("voxel %d = %v, want 42", i, val)
		}
	}
}

func TestWriteTrace(t *testing.T) {
	trace := []Iteration{
		{Level: 0, Iteration: 0, Metric: -0.5},
		{Level: 0, Iteration: 1, Metric: -0.75},
		{Level: 1, Iteration: 0, Metric: -0.8},
	}
	var buf bytes.Buffer
	if err := WriteTrace(&buf, trace); err != nil {
		t.Fatalf("WriteTrace: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3 rows:\n%s", len(lines), buf.String())
	}
	if lines[0] != "level,iteration,metric" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "0,1,-0.75" {
		t.Errorf("row = %q", lines[2])
	}
}
