package analysis

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/phantom"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDevice() *config.Device {
	return &config.Device{
		ID: "ct-test",
		Masks: map[string]int{
			"HU": 2, "UF": 3, "HC": 3, "LC": 1, "geo": 3, "DT": 2,
		},
		Tolerances: config.Tolerances{
			HU: 5, UF: 5, LC: 2, Geo: 1, DT: 1,
			Uniformity: 0.02, RMTF: 0.1, RMTF50: 0.5,
		},
	}
}

// syntheticCase builds a 12-cube phantom volume with measurable features
// for every region, plus the matching masks and baseline values.
func syntheticCase(t *testing.T) Inputs {
	t.Helper()
	g := grid(12)
	vol := geometry.NewVolume(g)

	paintBox := func(lo, hi [3]int, v float32) *geometry.Mask {
		m := boxMask(g, lo, hi)
		for z := lo[2]; z <= hi[2]; z++ {
			for y := lo[1]; y <= hi[1]; y++ {
				for x := lo[0]; x <= hi[0]; x++ {
					vol.Set(x, y, z, v)
				}
			}
		}
		return m
	}

	// HU inserts: constant 100 and 200.
	hu := []*geometry.Mask{
		paintBox([3]int{1, 1, 1}, [3]int{2, 2, 2}, 100),
		paintBox([3]int{4, 1, 1}, [3]int{5, 2, 2}, 200),
	}

	// Uniformity regions: all 100, perfect field.
	uf := []*geometry.Mask{
		paintBox([3]int{1, 4, 4}, [3]int{2, 5, 5}, 100),
		paintBox([3]int{4, 4, 4}, [3]int{5, 5, 5}, 100),
		paintBox([3]int{7, 4, 4}, [3]int{8, 5, 5}, 100),
	}

	// High-contrast inserts: two-voxel masks with stds 50, 30, 10.
	twoVoxel := func(x int, v float32) *geometry.Mask {
		m := boxMask(g, [3]int{x, 7, 1}, [3]int{x + 1, 7, 1})
		vol.Set(x, 7, 1, v) // second voxel stays 0
		return m
	}
	hc := []*geometry.Mask{twoVoxel(1, 100), twoVoxel(4, 60), twoVoxel(7, 20)}

	// Low contrast: std 5.
	lcMask := boxMask(g, [3]int{1, 9, 1}, [3]int{2, 9, 1})
	vol.Set(1, 9, 1, 10)

	// In-plane geometry: air holes at known positions.
	hole := func(x, y, z int) *geometry.Mask {
		vol.Set(x, y, z, -1000)
		return boxMask(g, [3]int{x - 1, y - 1, z - 1}, [3]int{x + 1, y + 1, z + 1})
	}
	geo := []*geometry.Mask{hole(2, 2, 8), hole(8, 2, 8), hole(5, 8, 8)}

	// Depth features: dense markers.
	marker := func(x, y, z int) *geometry.Mask {
		vol.Set(x, y, z, 1000)
		return boxMask(g, [3]int{x - 1, y - 1, z - 1}, [3]int{x + 1, y + 1, z + 1})
	}
	dt := []*geometry.Mask{marker(3, 3, 10), marker(9, 3, 10)}

	s45 := math.Sqrt(45)
	return Inputs{
		Device: testDevice(),
		Meta:   Metadata{Device: "ct-test", CaseID: "20260826_073000"},
		Volume: vol,
		Masks: map[phantom.Key][]*geometry.Mask{
			phantom.HU: hu, phantom.UF: uf, phantom.HC: hc,
			phantom.LC: {lcMask}, phantom.Geo: geo, phantom.DT: dt,
		},
		Labels: map[phantom.Key][]string{
			phantom.HU: {"Water", "Bone"},
		},
		Baseline: map[phantom.Key][]float64{
			phantom.HU:  {100, 200},
			phantom.UF:  {100, 100, 100},
			phantom.HC:  {50, 30, 10},
			phantom.LC:  {5},
			phantom.Geo: {6, s45, s45},
			phantom.DT:  {6, 6},
		},
	}
}

func TestEngineRunAllPass(t *testing.T) {
	in := syntheticCase(t)
	outDir := t.TempDir()

	res, err := NewEngine(discard()).Run(in, outDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !res.OverallPassed {
		for _, s := range res.Sections() {
			for _, m := range s.Measurements {
				if !m.Passed {
					t.Logf("failed: %s %s value=%v baseline=%v tol=%v", s.Name, m.ID, m.Value, m.Baseline, m.Tolerance)
				}
			}
		}
		t.Fatal("expected all sections to pass")
	}

	if got := res.HUConsistency.Measurements[0].Label; got != "Water" {
		t.Errorf("HU label = %q, want configured label", got)
	}
	if got := len(res.HighContrastRMTF.Measurements); got != 3 {
		t.Errorf("RMTF measurements = %d, want 3", got)
	}
	m50 := res.HighContrastRMTF50.Measurements[0]
	if math.Abs(m50.Value-1.25) > 1e-9 {
		t.Errorf("MTF50 = %v, want 1.25", m50.Value)
	}
	if got := len(res.GeometricAccuracyInPlane.Measurements); got != 3 {
		t.Errorf("in-plane distances = %d, want 3 (incl. wraparound)", got)
	}

	for _, name := range []string{
		"HU.csv", "UF.csv", "UF.uniformity.csv", "HC.csv",
		"HC.RMTF.csv", "HC.RMTF.calc.csv", "LC.csv",
		"geo.csv", "geo.dist.csv", "DT.csv", "DT.dist.csv",
	} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing table %s: %v", name, err)
		}
	}
}

func TestEngineRunFailurePropagatesToOverall(t *testing.T) {
	in := syntheticCase(t)
	in.Baseline[phantom.HU] = []float64{90, 200} // drift beyond the 5 HU band

	res, err := NewEngine(discard()).Run(in, t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OverallPassed {
		t.Fatal("overall must fail when one measurement fails")
	}
	if res.HUConsistency.Passed {
		t.Error("hu_consistency section should have failed")
	}
	if res.LowContrast.Passed != true {
		t.Error("unrelated sections should still pass")
	}
}

func TestEngineRunMaskCountMismatch(t *testing.T) {
	in := syntheticCase(t)
	in.Masks[phantom.HU] = in.Masks[phantom.HU][:1]
	if _, err := NewEngine(discard()).Run(in, t.TempDir()); err == nil {
		t.Fatal("expected error for mask count mismatch")
	}
}
