// Package registration aligns a case volume to its baseline with a rigid
// transform. The numerical machinery sits behind the narrow Aligner and
// Resampler interfaces; the rest of the pipeline never talks to the
// optimizer directly.
package registration

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/openmedphys/ctqa/internal/geometry"
)

// Params configures the alignment run.
type Params struct {
	LearningRate         float64
	Iterations           int
	ConvergenceTolerance float64
	ConvergenceWindow    int
	HistogramBins        int
	ShrinkFactors        []int
	SmoothingSigmas      []float64
}

// DefaultParams returns the production alignment configuration: a
// three-level coarse-to-fine pyramid driven by a mutual-information metric.
func DefaultParams() Params {
	return Params{
		LearningRate:         1.0,
		Iterations:           200,
		ConvergenceTolerance: 1e-6,
		ConvergenceWindow:    10,
		HistogramBins:        50,
		ShrinkFactors:        []int{4, 2, 1},
		SmoothingSigmas:      []float64{2, 1, 0},
	}
}

// Iteration is one optimizer step of the cost trace.
type Iteration struct {
	Level     int
	Iteration int
	Metric    float64
}

// Result is the outcome of an alignment. FinalMetric is the last metric
// value the optimizer produced; no convergence-quality judgment is applied
// to it here.
type Result struct {
	Transform   geometry.RigidTransform
	FinalMetric float64
	Trace       []Iteration
	Aligned     *geometry.Volume
}

// Aligner produces a rigid transform mapping fixed-space points into
// moving space. The metric masks, when non-nil, restrict the comparison to
// the masked tissue.
type Aligner interface {
	Align(ctx context.Context, fixed, moving *geometry.Volume, fixedMask, movingMask *geometry.Mask, p Params) (*Result, error)
}

// Resampler pulls a source volume onto a reference grid through a rigid
// transform.
type Resampler interface {
	Resample(src *geometry.Volume, ref geometry.Geometry, t geometry.RigidTransform, interp geometry.Interpolation, fill float32) *geometry.Volume
}

// WriteTrace writes the per-iteration cost trace as CSV for diagnostics.
func WriteTrace(w io.Writer, trace []Iteration) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"level", "iteration", "metric"}); err != nil {
		return err
	}
	for _, it := range trace {
		rec := []string{
			strconv.Itoa(it.Level),
			strconv.Itoa(it.Iteration),
			strconv.FormatFloat(it.Metric, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing cost trace: %w", err)
	}
	return nil
}
