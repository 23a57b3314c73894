package analysis

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/phantom"
)

// Inputs is everything the metrics engine needs for one case: the ingested
// volume, the transferred masks, the human labels and baseline values per
// region, and the device's tolerance set.
type Inputs struct {
	Device *config.Device
	Meta   Metadata
	Volume *geometry.Volume

	Masks  map[phantom.Key][]*geometry.Mask
	Labels map[phantom.Key][]string

	// Baseline holds the per-mask reference values in mask order: means
	// for HU/UF, stds for HC/LC, centroid distances for geo/DT.
	Baseline map[phantom.Key][]float64
}

// Engine computes the analysis result and writes the raw measurement
// tables.
type Engine struct {
	log *slog.Logger
}

// NewEngine returns a metrics engine logging to log.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log}
}

// Run measures every region, writes the CSV tables into outDir, and
// returns the assembled result document.
func (e *Engine) Run(in Inputs, outDir string) (*Result, error) {
	res := &Result{Metadata: in.Meta}

	huMeans, err := e.measureMeans(in, phantom.HU, outDir)
	if err != nil {
		return nil, err
	}
	res.HUConsistency = newSection("hu_consistency",
		e.compare(in, phantom.HU, huMeans, in.Device.Tolerances.HU))

	ufMeans, err := e.measureMeans(in, phantom.UF, outDir)
	if err != nil {
		return nil, err
	}
	res.UniformityHU = newSection("uniformity_hu",
		e.compare(in, phantom.UF, ufMeans, in.Device.Tolerances.UF))

	inu, err := e.uniformityIntegral(in, ufMeans, outDir)
	if err != nil {
		return nil, err
	}
	res.UniformityIntegral = *inu

	hcSections, err := e.highContrast(in, outDir)
	if err != nil {
		return nil, err
	}
	res.HighContrastRMTF = hcSections[0]
	res.HighContrastRMTF50 = hcSections[1]

	lcStds, err := e.measureStds(in, phantom.LC, outDir)
	if err != nil {
		return nil, err
	}
	res.LowContrast = newSection("low_contrast",
		e.compare(in, phantom.LC, lcStds, in.Device.Tolerances.LC))

	geoSec, err := e.distanceSection(in, phantom.Geo, "geometric_accuracy_inplane", in.Device.Tolerances.Geo, outDir)
	if err != nil {
		return nil, err
	}
	res.GeometricAccuracyInPlane = *geoSec

	dtSec, err := e.distanceSection(in, phantom.DT, "geometric_accuracy_outofplane", in.Device.Tolerances.DT, outDir)
	if err != nil {
		return nil, err
	}
	res.GeometricAccuracyOutOfPlane = *dtSec

	res.ComputeOverall()
	return res, nil
}

func (e *Engine) masksFor(in Inputs, k phantom.Key) ([]*geometry.Mask, error) {
	masks := in.Masks[k]
	if want := in.Device.MaskCount(k); len(masks) != want {
		return nil, fmt.Errorf("region %s: %d masks, device expects %d", k, len(masks), want)
	}
	return masks, nil
}

func (e *Engine) baselineFor(in Inputs, k phantom.Key, n int) ([]float64, error) {
	base := in.Baseline[k]
	if len(base) != n {
		return nil, fmt.Errorf("region %s: %d baseline values, want %d", k, len(base), n)
	}
	return base, nil
}

func (e *Engine) label(in Inputs, k phantom.Key, i int) string {
	if labels := in.Labels[k]; i < len(labels) && labels[i] != "" {
		return labels[i]
	}
	return k.String() + strconv.Itoa(i+1)
}

func (e *Engine) labels(in Inputs, k phantom.Key, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = e.label(in, k, i)
	}
	return out
}

func (e *Engine) measureMeans(in Inputs, k phantom.Key, outDir string) ([]float64, error) {
	masks, err := e.masksFor(in, k)
	if err != nil {
		return nil, err
	}
	values, err := MeanValues(in.Volume, masks)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", k, err)
	}
	if err := writeTable(filepath.Join(outDir, k.String()+".csv"), e.labels(in, k, len(values)), values); err != nil {
		return nil, err
	}
	return values, nil
}

func (e *Engine) measureStds(in Inputs, k phantom.Key, outDir string) ([]float64, error) {
	masks, err := e.masksFor(in, k)
	if err != nil {
		return nil, err
	}
	values, err := StdValues(in.Volume, masks)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", k, err)
	}
	if err := writeTable(filepath.Join(outDir, k.String()+".csv"), e.labels(in, k, len(values)), values); err != nil {
		return nil, err
	}
	return values, nil
}

func (e *Engine) compare(in Inputs, k phantom.Key, values []float64, tol float64) []Measurement {
	base := in.Baseline[k]
	ms := make([]Measurement, len(values))
	for i, v := range values {
		b := 0.0
		if i < len(base) {
			b = base[i]
		}
		id := k.String() + strconv.Itoa(i+1)
		ms[i] = Compare(id, e.label(in, k, i), v, b, tol)
	}
	return ms
}

func (e *Engine) uniformityIntegral(in Inputs, ufMeans []float64, outDir string) (*Section, error) {
	base, err := e.baselineFor(in, phantom.UF, len(ufMeans))
	if err != nil {
		return nil, err
	}
	value, err := IntegralNonUniformity(ufMeans)
	if err != nil {
		return nil, err
	}
	ref, err := IntegralNonUniformity(base)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	if err := writeTable(filepath.Join(outDir, "UF.uniformity.csv"), []string{"INU"}, []float64{value}); err != nil {
		return nil, err
	}
	m := Compare("UF.INU", "Integral non-uniformity", value, ref, in.Device.Tolerances.Uniformity)
	s := newSection("uniformity_integral", []Measurement{m})
	return &s, nil
}

// highContrast produces the RMTF section and the MTF-50 section. Both the
// case and the baseline std profiles are normalized by their own first
// insert, so the comparison is between relative curves.
func (e *Engine) highContrast(in Inputs, outDir string) ([2]Section, error) {
	var out [2]Section

	stds, err := e.measureStds(in, phantom.HC, outDir)
	if err != nil {
		return out, err
	}
	base, err := e.baselineFor(in, phantom.HC, len(stds))
	if err != nil {
		return out, err
	}

	rmtf, err := RelativeMTF(stds)
	if err != nil {
		return out, fmt.Errorf("region HC: %w", err)
	}
	baseRMTF, err := RelativeMTF(base)
	if err != nil {
		return out, fmt.Errorf("region HC baseline: %w", err)
	}
	if err := writeTable(filepath.Join(outDir, "HC.RMTF.csv"), e.labels(in, phantom.HC, len(rmtf)), rmtf); err != nil {
		return out, err
	}

	ms := make([]Measurement, len(rmtf))
	for i := range rmtf {
		id := "HC.RMTF" + strconv.Itoa(i+1)
		ms[i] = Compare(id, e.label(in, phantom.HC, i), rmtf[i], baseRMTF[i], in.Device.Tolerances.RMTF)
	}
	out[0] = newSection("high_contrast_rmtf", ms)

	mtf50, err := MTF50(rmtf)
	if err != nil {
		return out, fmt.Errorf("region HC: %w", err)
	}
	baseMTF50, err := MTF50(baseRMTF)
	if err != nil {
		return out, fmt.Errorf("region HC baseline: %w", err)
	}
	if err := writeTable(filepath.Join(outDir, "HC.RMTF.calc.csv"), []string{"MTF50"}, []float64{mtf50}); err != nil {
		return out, err
	}
	m := Compare("HC.RMTF50", "50% MTF crossing", mtf50, baseMTF50, in.Device.Tolerances.RMTF50)
	out[1] = newSection("high_contrast_rmtf50", []Measurement{m})
	return out, nil
}

func (e *Engine) distanceSection(in Inputs, k phantom.Key, name string, tol float64, outDir string) (*Section, error) {
	masks, err := e.masksFor(in, k)
	if err != nil {
		return nil, err
	}
	th, ok := k.Threshold()
	if !ok {
		return nil, fmt.Errorf("region %s has no centroid threshold", k)
	}

	cents, err := Centroids(in.Volume, masks, th)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", k, err)
	}
	dists := Distances(cents)

	base, err := e.baselineFor(in, k, len(dists))
	if err != nil {
		return nil, err
	}

	labels := e.labels(in, k, len(masks))
	if err := writeCentroidTable(filepath.Join(outDir, k.String()+".csv"), labels, cents); err != nil {
		return nil, err
	}
	pairLabels := make([]string, len(dists))
	for i := range dists {
		pairLabels[i] = labels[i] + "-" + labels[(i+1)%len(labels)]
	}
	if err := writeTable(filepath.Join(outDir, k.String()+".dist.csv"), pairLabels, dists); err != nil {
		return nil, err
	}

	ms := make([]Measurement, len(dists))
	for i, d := range dists {
		id := k.String() + ".dist" + strconv.Itoa(i+1)
		ms[i] = Compare(id, pairLabels[i], d, base[i], tol)
	}
	s := newSection(name, ms)
	return &s, nil
}
