// Package transfer moves a region's baseline masks into case-volume space.
// The masks are folded into a single integer-labeled composite volume,
// resampled once with nearest-neighbor interpolation, and split back into
// binary masks. One resample per region guarantees every output mask lands
// on the identical grid and sidesteps per-mask interpolation drift.
package transfer

import (
	"errors"
	"fmt"
	"math"

	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/registration"
)

var (
	// ErrMaskGeometryMismatch means the input masks of one region do not
	// share a grid.
	ErrMaskGeometryMismatch = errors.New("mask geometry mismatch")
	// ErrEmptyMaskAfterTransfer means a mask vanished during transfer; the
	// alignment moved it outside the case volume. Always fatal.
	ErrEmptyMaskAfterTransfer = errors.New("empty mask after transfer")
	// ErrOutputGeometryMismatch means a transferred mask does not sit on
	// the case-volume grid.
	ErrOutputGeometryMismatch = errors.New("transferred mask geometry does not match case volume")
)

// labelBand is the half-width of the closed band [i-labelBand, i+labelBand]
// used to recover label i from the resampled composite; it absorbs
// floating-point drift around integer labels.
const labelBand = 0.6

// Engine transfers mask sets through a rigid transform.
type Engine struct {
	res registration.Resampler
}

// NewEngine returns a transfer engine using res for the composite resample.
func NewEngine(res registration.Resampler) *Engine {
	return &Engine{res: res}
}

// Result carries the transferred masks plus the intermediate composites,
// which the pipeline persists for inspection.
type Result struct {
	Masks       []*geometry.Mask
	Composite   *geometry.Volume
	Transferred *geometry.Volume
}

// Transfer moves masks (ordered 1..N for one region) into the fixed grid
// through t. Every output mask is verified non-empty and grid-exact.
func (e *Engine) Transfer(masks []*geometry.Mask, t geometry.RigidTransform, fixed geometry.Geometry) (*Result, error) {
	comp, err := Composite(masks)
	if err != nil {
		return nil, err
	}

	moved := e.res.Resample(comp, fixed, t, geometry.Nearest, 0)

	out := make([]*geometry.Mask, len(masks))
	for i := range masks {
		label := i + 1
		m := Decode(moved, label)
		if m.Count() == 0 {
			return nil, fmt.Errorf("%w: label %d", ErrEmptyMaskAfterTransfer, label)
		}
		if !m.Geom.Equal(fixed, geometry.Tolerance) {
			return nil, fmt.Errorf("%w: label %d", ErrOutputGeometryMismatch, label)
		}
		out[i] = m
	}

	return &Result{Masks: out, Composite: comp, Transferred: moved}, nil
}

// Composite folds N binary masks into one labeled volume: voxel = i where
// mask i (1-based) is set, 0 elsewhere. Where masks overlap the later
// index wins; the domain assumes disjoint masks, and this tie-break is the
// documented behavior for the case where they are not.
func Composite(masks []*geometry.Mask) (*geometry.Volume, error) {
	if len(masks) == 0 {
		return nil, fmt.Errorf("%w: empty mask set", ErrMaskGeometryMismatch)
	}
	g := masks[0].Geom
	for i, m := range masks {
		if !m.Geom.Equal(g, geometry.Tolerance) {
			return nil, fmt.Errorf("%w: mask %d differs from mask 1", ErrMaskGeometryMismatch, i+1)
		}
	}

	comp := geometry.NewVolume(g)
	for i, m := range masks {
		label := float32(i + 1)
		for j, b := range m.Data {
			if b != 0 {
				comp.Data[j] = label
			}
		}
	}
	return comp, nil
}

// Decode recovers the binary mask for label from a (possibly resampled)
// composite volume.
func Decode(comp *geometry.Volume, label int) *geometry.Mask {
	m := geometry.NewMask(comp.Geom)
	lo := float64(label) - labelBand
	hi := float64(label) + labelBand
	for i, v := range comp.Data {
		f := float64(v)
		if f >= lo && f <= hi && !math.IsNaN(f) {
			m.Data[i] = 1
		}
	}
	return m
}
