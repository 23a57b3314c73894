package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openmedphys/ctqa/internal/phantom"
)

// Device is the immutable parameter document for one scanner: where its
// baseline reference data lives, how many masks each region carries, and
// the pass/fail tolerances. Loaded once at startup and injected into the
// pipeline; never mutated afterwards.
type Device struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	BaselineDir string `yaml:"baseline_dir"`
	Template    string `yaml:"template"`
	Operator    string `yaml:"operator"`

	// Masks maps a region key name (HU, UF, HC, LC, geo, DT) to its mask
	// count in the baseline set.
	Masks map[string]int `yaml:"masks"`

	Tolerances Tolerances `yaml:"tolerances"`

	// Replace is applied to the rendered report as literal find/replace
	// word pairs, in order.
	Replace []ReplacePair `yaml:"replace"`
}

// Tolerances are the per-metric pass/fail bands, in the metric's own units.
type Tolerances struct {
	HU         float64 `yaml:"HU"`
	Geo        float64 `yaml:"geo"`
	DT         float64 `yaml:"DT"`
	UF         float64 `yaml:"UF"`
	LC         float64 `yaml:"LC"`
	Uniformity float64 `yaml:"uniformity"`
	RMTF       float64 `yaml:"rmtf"`
	RMTF50     float64 `yaml:"rmtf50"`
}

type ReplacePair struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// MaskCount returns the configured mask count for a region key.
func (d *Device) MaskCount(k phantom.Key) int {
	return d.Masks[k.String()]
}

// Tolerance returns the per-mask tolerance for a region key.
func (d *Device) Tolerance(k phantom.Key) float64 {
	switch k {
	case phantom.HU:
		return d.Tolerances.HU
	case phantom.UF:
		return d.Tolerances.UF
	case phantom.HC:
		return d.Tolerances.RMTF
	case phantom.LC:
		return d.Tolerances.LC
	case phantom.Geo:
		return d.Tolerances.Geo
	default:
		return d.Tolerances.DT
	}
}

// Validate checks the document for the fields the pipeline cannot run
// without.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device document missing id")
	}
	if d.BaselineDir == "" {
		return fmt.Errorf("device %s: missing baseline_dir", d.ID)
	}
	if d.Template == "" {
		return fmt.Errorf("device %s: missing template path", d.ID)
	}
	for _, k := range phantom.All {
		n, ok := d.Masks[k.String()]
		if !ok {
			return fmt.Errorf("device %s: missing mask count for region %s", d.ID, k)
		}
		if n <= 0 {
			return fmt.Errorf("device %s: mask count for region %s must be positive, got %d", d.ID, k, n)
		}
	}
	return nil
}

// LoadDevice reads and validates a single device document.
func LoadDevice(path string) (*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device document: %w", err)
	}
	var d Device
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing device document %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDevices reads every *.yaml document in dir, keyed by device id.
func LoadDevices(dir string) (map[string]*Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading devices directory: %w", err)
	}
	devices := make(map[string]*Device)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		d, err := LoadDevice(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := devices[d.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %s", d.ID)
		}
		devices[d.ID] = d
	}
	return devices, nil
}
