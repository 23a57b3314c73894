// Package report renders the human-readable HTML report and the structured
// JSON result document. HTML generation is literal placeholder
// substitution only: every {{{name}}} marker in the template is replaced
// with its value, and a configured find/replace word pass runs last.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openmedphys/ctqa/internal/analysis"
	"github.com/openmedphys/ctqa/internal/config"
)

// sectionFormats maps a section name to the numeric display format of its
// table rows.
var sectionFormats = map[string]string{
	"hu_consistency":                "%.1f",
	"geometric_accuracy_inplane":    "%.1f",
	"geometric_accuracy_outofplane": "%.1f",
	"uniformity_hu":                 "%.1f",
	"uniformity_integral":           "%.2f",
	"low_contrast":                  "%.1f",
	"high_contrast_rmtf":            "%.2f",
	"high_contrast_rmtf50":          "%.2f",
}

// rowPlaceholders maps a section name to its template marker.
var rowPlaceholders = map[string]string{
	"hu_consistency":                "HU_rows",
	"geometric_accuracy_inplane":    "geo_rows",
	"geometric_accuracy_outofplane": "DT_rows",
	"uniformity_hu":                 "UF_rows",
	"uniformity_integral":           "UF.uniformity_rows",
	"low_contrast":                  "LC_rows",
	"high_contrast_rmtf":            "HC_RMTF_rows",
	"high_contrast_rmtf50":          "HC_RMTF50_rows",
}

// Render substitutes the result into the template and applies the device's
// find/replace pairs.
func Render(tpl string, res *analysis.Result, dev *config.Device, now time.Time) string {
	subs := map[string]string{
		"date":    now.Format("2006-01-02"),
		"time":    now.Format("15:04:05"),
		"user":    dev.Operator,
		"device":  dev.ID,
		"case_id": res.Metadata.CaseID,
		"overall": passLabel(res.OverallPassed),

		"HU_tol":            fmt.Sprintf("%.1f", dev.Tolerances.HU),
		"geo_tol":           fmt.Sprintf("%.1f", dev.Tolerances.Geo),
		"DT_tol":            fmt.Sprintf("%.1f", dev.Tolerances.DT),
		"UF_tol":            fmt.Sprintf("%.1f", dev.Tolerances.UF),
		"LC_tol":            fmt.Sprintf("%.1f", dev.Tolerances.LC),
		"UF.uniformity_tol": fmt.Sprintf("%.2f", dev.Tolerances.Uniformity),
		"HC_RMTF_tol":       fmt.Sprintf("%.2f", dev.Tolerances.RMTF),
		"HC_RMTF50_tol":     fmt.Sprintf("%.2f", dev.Tolerances.RMTF50),
	}

	for _, s := range res.Sections() {
		marker, ok := rowPlaceholders[s.Name]
		if !ok {
			continue
		}
		subs[marker] = rowBlock(s, sectionFormats[s.Name])
	}

	out := tpl
	for name, value := range subs {
		out = strings.ReplaceAll(out, "{{{"+name+"}}}", value)
	}

	for _, rp := range dev.Replace {
		out = strings.ReplaceAll(out, rp.From, rp.To)
	}
	return out
}

// rowBlock builds one table row per measurement: label, measured,
// baseline, difference, verdict.
func rowBlock(s *analysis.Section, format string) string {
	if format == "" {
		format = "%.2f"
	}
	var b strings.Builder
	for _, m := range s.Measurements {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>"+format+"</td><td>"+format+"</td><td>"+format+"</td><td>%s</td></tr>\n",
			m.Label, m.Value, m.Baseline, m.Difference, passLabel(m.Passed))
	}
	return b.String()
}

func passLabel(passed bool) string {
	if passed {
		return "Pass"
	}
	return "Fail"
}

// WriteJSON serializes the result document. It is independent of the HTML
// path so one artifact survives if the other fails.
func WriteJSON(path string, res *analysis.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding analysis result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteHTML renders the template file and writes the report.
func WriteHTML(templatePath, outPath string, res *analysis.Result, dev *config.Device, now time.Time) error {
	tpl, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("reading report template: %w", err)
	}
	html := Render(string(tpl), res, dev, now)
	if err := os.WriteFile(outPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return nil
}
