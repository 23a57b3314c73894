package analysis

import "math"

// Measurement is one value compared against its baseline.
type Measurement struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	Baseline   float64 `json:"baseline"`
	Difference float64 `json:"difference"`
	Tolerance  float64 `json:"tolerance"`
	Passed     bool    `json:"passed"`
}

// Compare builds a Measurement; it passes when |value-baseline| <= tol.
func Compare(id, label string, value, baseline, tol float64) Measurement {
	diff := value - baseline
	return Measurement{
		ID:         id,
		Label:      label,
		Value:      value,
		Baseline:   baseline,
		Difference: diff,
		Tolerance:  tol,
		Passed:     math.Abs(diff) <= tol,
	}
}

// Section is one named group of measurements in the result document.
type Section struct {
	Name         string        `json:"name"`
	Measurements []Measurement `json:"measurements"`
	Passed       bool          `json:"passed"`
}

func newSection(name string, ms []Measurement) Section {
	s := Section{Name: name, Measurements: ms, Passed: true}
	for _, m := range ms {
		if !m.Passed {
			s.Passed = false
		}
	}
	return s
}

// Metadata identifies the analyzed study.
type Metadata struct {
	Device    string `json:"device"`
	CaseID    string `json:"case_id"`
	StudyDate string `json:"study_date"`
	StudyTime string `json:"study_time"`
	Operator  string `json:"operator"`
}

// Result is the structured outcome of a case analysis; it serializes
// directly to the analysis_results.json document.
type Result struct {
	Metadata                    Metadata `json:"metadata"`
	HUConsistency               Section  `json:"hu_consistency"`
	GeometricAccuracyInPlane    Section  `json:"geometric_accuracy_inplane"`
	GeometricAccuracyOutOfPlane Section  `json:"geometric_accuracy_outofplane"`
	UniformityHU                Section  `json:"uniformity_hu"`
	UniformityIntegral          Section  `json:"uniformity_integral"`
	LowContrast                 Section  `json:"low_contrast"`
	HighContrastRMTF            Section  `json:"high_contrast_rmtf"`
	HighContrastRMTF50          Section  `json:"high_contrast_rmtf50"`
	OverallPassed               bool     `json:"overall_passed"`
}

// Sections returns the sections in reporting order.
func (r *Result) Sections() []*Section {
	return []*Section{
		&r.HUConsistency,
		&r.GeometricAccuracyInPlane,
		&r.GeometricAccuracyOutOfPlane,
		&r.UniformityHU,
		&r.UniformityIntegral,
		&r.LowContrast,
		&r.HighContrastRMTF,
		&r.HighContrastRMTF50,
	}
}

// ComputeOverall sets OverallPassed to the conjunction of every
// measurement.
func (r *Result) ComputeOverall() {
	r.OverallPassed = true
	for _, s := range r.Sections() {
		if !s.Passed {
			r.OverallPassed = false
		}
	}
}
