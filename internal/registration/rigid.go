package registration

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/optimize"

	"github.com/openmedphys/ctqa/internal/geometry"
)

// translationScale is the millimeters represented by one unit of a
// translation parameter, keeping rotation and translation comparably
// sensitive to a single optimizer step.
const translationScale = 100.0

// Engine is the gonum-backed Aligner/Resampler adapter.
type Engine struct{}

// NewEngine returns the concrete registration engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Resample implements Resampler.
func (e *Engine) Resample(src *geometry.Volume, ref geometry.Geometry, t geometry.RigidTransform, interp geometry.Interpolation, fill float32) *geometry.Volume {
	return geometry.Resample(src, ref, t, interp, fill)
}

// Align implements Aligner. The transform is initialized by matching the
// geometric centers of the two volumes, then refined level by level over
// the shrink pyramid with gradient descent on the negated mutual
// information. The context is checked between pyramid levels.
func (e *Engine) Align(ctx context.Context, fixed, moving *geometry.Volume, fixedMask, movingMask *geometry.Mask, p Params) (*Result, error) {
	if len(p.ShrinkFactors) == 0 || len(p.ShrinkFactors) != len(p.SmoothingSigmas) {
		return nil, fmt.Errorf("invalid pyramid: %d shrink factors, %d smoothing sigmas",
			len(p.ShrinkFactors), len(p.SmoothingSigmas))
	}

	center := fixed.Geom.Center()
	x := initialParams(fixed, moving)

	var trace []Iteration
	finalMetric := 0.0

	for level, shrink := range p.ShrinkFactors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sigma := p.SmoothingSigmas[level]
		fl := downsampleVolume(fixed, shrink, sigma)
		ml := downsampleVolume(moving, shrink, sigma)
		mc := newMetricContext(fl, ml, downsampleMask(fixedMask, shrink), downsampleMask(movingMask, shrink), p.HistogramBins)

		problem := optimize.Problem{
			Func: func(params []float64) float64 {
				return mc.negMI(transformFromParams(params, center))
			},
		}

		rec := &traceRecorder{level: level}
		settings := &optimize.Settings{
			MajorIterations: p.Iterations,
			Converger: &optimize.FunctionConverge{
				Absolute:   p.ConvergenceTolerance,
				Iterations: p.ConvergenceWindow,
			},
			Recorder: rec,
		}
		method := &optimize.GradientDescent{
			StepSizer: optimize.ConstantStepSize{Size: p.LearningRate},
		}

		res, err := optimize.Minimize(problem, x, settings, method)
		if err != nil {
			return nil, fmt.Errorf("optimizing level %d: %w", level, err)
		}

		x = res.X
		finalMetric = res.F
		trace = append(trace, rec.trace...)
	}

	t := transformFromParams(x, center)
	return &Result{
		Transform:   t,
		FinalMetric: finalMetric,
		Trace:       trace,
		Aligned:     geometry.Resample(moving, fixed.Geom, t, geometry.Linear, 0),
	}, nil
}

// initialParams centers the moving volume on the fixed one.
func initialParams(fixed, moving *geometry.Volume) []float64 {
	fc := fixed.Geom.Center()
	mc := moving.Geom.Center()
	return []float64{
		0, 0, 0,
		(mc[0] - fc[0]) / translationScale,
		(mc[1] - fc[1]) / translationScale,
		(mc[2] - fc[2]) / translationScale,
	}
}

func transformFromParams(x []float64, center [3]float64) geometry.RigidTransform {
	return geometry.RigidTransform{
		Angles: [3]float64{x[0], x[1], x[2]},
		Translation: [3]float64{
			x[3] * translationScale,
			x[4] * translationScale,
			x[5] * translationScale,
		},
		Center: center,
	}
}

// traceRecorder collects the metric value at every major optimizer
// iteration.
type traceRecorder struct {
	level int
	n     int
	trace []Iteration
}

func (r *traceRecorder) Init() error { return nil }

func (r *traceRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	r.trace = append(r.trace, Iteration{Level: r.level, Iteration: r.n, Metric: loc.F})
	r.n++
	return nil
}
