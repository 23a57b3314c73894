// Package dicomio converts a directory of DICOM slice files into a single
// calibrated volume with geometry metadata.
package dicomio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"

	"github.com/openmedphys/ctqa/internal/geometry"
)

// ErrNoValidSlices is returned when the input directory yields no usable
// DICOM slices (nothing matched, or every candidate lacked a position).
var ErrNoValidSlices = errors.New("no valid DICOM slices in input directory")

// sliceData is one parsed DICOM slice, reduced to the fields volume
// construction needs. Parsing and stacking are split so the latter stays
// testable without DICOM fixtures.
type sliceData struct {
	path     string
	position [3]float64 // ImagePositionPatient, required

	orientation    [6]float64 // ImageOrientationPatient row/col vectors
	hasOrientation bool

	pixelSpacing    [2]float64 // row spacing, column spacing
	hasPixelSpacing bool

	slope, intercept float64 // rescale coefficients
	hasRescale       bool

	rows, cols int
	pixels     []int32 // raw stored values, row-major
}

// Ingestor builds calibrated volumes from DICOM series directories.
type Ingestor struct {
	log *slog.Logger
}

// NewIngestor returns an Ingestor logging degraded-mode warnings to log.
func NewIngestor(log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{log: log}
}

// Ingest reads the slice files in inputDir and stacks them into a volume.
// Files missing ImagePositionPatient are skipped with a warning; an
// unparsable file is likewise skipped rather than failing the whole series.
func (in *Ingestor) Ingest(inputDir string) (*geometry.Volume, error) {
	files, err := listSliceFiles(inputDir)
	if err != nil {
		return nil, err
	}

	var slices []sliceData
	for _, f := range files {
		sd, err := parseSliceFile(f)
		if err != nil {
			in.log.Warn("skipping unreadable DICOM file", "file", f, "error", err)
			continue
		}
		slices = append(slices, sd)
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoValidSlices, inputDir)
	}

	return buildVolume(slices, in.log)
}

// listSliceFiles enumerates candidate slice files, preferring the scanner's
// canonical CT.*.dcm naming so an unrelated series dropped into the same
// directory is not mixed in. Duplicates from overlapping patterns are
// removed.
func listSliceFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "CT.*.dcm"))
	if err != nil {
		return nil, fmt.Errorf("scanning input directory: %w", err)
	}
	if len(matches) == 0 {
		matches, err = filepath.Glob(filepath.Join(dir, "*.dcm"))
		if err != nil {
			return nil, fmt.Errorf("scanning input directory: %w", err)
		}
	}

	seen := make(map[string]bool, len(matches))
	var files []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// buildVolume sorts slices by through-plane position and stacks them into a
// calibrated volume. Geometry falls back to documented defaults when
// attributes are absent; those degradations are warnings, not failures.
func buildVolume(slices []sliceData, log *slog.Logger) (*geometry.Volume, error) {
	if len(slices) == 0 {
		return nil, ErrNoValidSlices
	}

	sortSlices(slices)

	first := slices[0]
	nx, ny := first.cols, first.rows
	for _, s := range slices {
		if s.cols != nx || s.rows != ny {
			return nil, fmt.Errorf("inconsistent slice dimensions: %s is %dx%d, expected %dx%d",
				s.path, s.cols, s.rows, nx, ny)
		}
	}

	slope, intercept := 1.0, 0.0
	if first.hasRescale {
		// Per-slice coefficients are assumed constant across the series;
		// the first slice's pair is applied throughout.
		slope, intercept = first.slope, first.intercept
	} else {
		log.Warn("rescale slope/intercept absent, using raw stored values")
	}

	g := deriveGeometry(slices, log)

	v := geometry.NewVolume(g)
	for z, s := range slices {
		base := z * ny * nx
		for i, raw := range s.pixels {
			v.Data[base+i] = float32(slope*float64(raw) + intercept)
		}
	}
	return v, nil
}

// sortSlices orders slices ascending by the through-plane component of
// their position.
func sortSlices(slices []sliceData) {
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].position[2] < slices[j].position[2]
	})
}

func deriveGeometry(slices []sliceData, log *slog.Logger) geometry.Geometry {
	first := slices[0]

	g := geometry.Geometry{
		Size:      [3]int{first.cols, first.rows, len(slices)},
		Spacing:   [3]float64{1, 1, 1},
		Origin:    first.position,
		Direction: geometry.IdentityDirection(),
	}

	if first.hasPixelSpacing {
		// PixelSpacing is (row spacing, column spacing): row spacing is the
		// y step, column spacing the x step.
		g.Spacing[0] = first.pixelSpacing[1]
		g.Spacing[1] = first.pixelSpacing[0]
	} else {
		log.Warn("pixel spacing absent, defaulting to 1.0mm")
	}

	if len(slices) > 1 {
		g.Spacing[2] = math.Abs(slices[1].position[2] - slices[0].position[2])
		if g.Spacing[2] == 0 {
			log.Warn("duplicate slice positions, defaulting slice spacing to 1.0mm")
			g.Spacing[2] = 1
		}
	} else {
		log.Warn("single-slice series, defaulting slice spacing to 1.0mm")
	}

	if first.hasOrientation {
		g.Direction = directionFromOrientation(first.orientation)
	} else {
		log.Warn("image orientation absent, defaulting to identity direction")
	}
	return g
}

// directionFromOrientation builds the direction cosine matrix from the
// DICOM row/column orientation vectors; the slice normal is their cross
// product.
func directionFromOrientation(iop [6]float64) [9]float64 {
	r := [3]float64{iop[0], iop[1], iop[2]}
	c := [3]float64{iop[3], iop[4], iop[5]}
	n := [3]float64{
		r[1]*c[2] - r[2]*c[1],
		r[2]*c[0] - r[0]*c[2],
		r[0]*c[1] - r[1]*c[0],
	}
	return [9]float64{
		r[0], c[0], n[0],
		r[1], c[1], n[1],
		r[2], c[2], n[2],
	}
}
