// Package baseline loads a device's read-only reference data: the baseline
// volume, the labeled mask sets per region, the human-readable mask
// labels, and the reference measurement values.
//
// Layout of a baseline directory:
//
//	CT.{vol,meta}            reference volume
//	<key>.<i>.{vol,meta}     mask i (1-based) of region <key>
//	labels.yaml              region name -> ordered label list
//	<key>.csv                reference values (label row, value row)
//	geo.dist.csv, DT.dist.csv  reference centroid distances
//	reg_mask.{vol,meta}      optional metric mask for registration
package baseline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/geometry"
	"github.com/openmedphys/ctqa/internal/phantom"
)

// Set is one device's reference data, loaded once per case run.
type Set struct {
	Volume *geometry.Volume
	Masks  map[phantom.Key][]*geometry.Mask
	Labels map[phantom.Key][]string
	Values map[phantom.Key][]float64

	// RegMask restricts the registration metric to the phantom body.
	// nil when the baseline does not provide one.
	RegMask *geometry.Mask
}

// Load reads the baseline directory for dev, validating mask and value
// counts against the device document. Every mask of a region must share
// the reference volume's geometry.
func Load(dir string, dev *config.Device) (*Set, error) {
	vol, err := geometry.ReadVolume(filepath.Join(dir, "CT"))
	if err != nil {
		return nil, fmt.Errorf("loading baseline volume: %w", err)
	}

	s := &Set{
		Volume: vol,
		Masks:  make(map[phantom.Key][]*geometry.Mask),
		Labels: make(map[phantom.Key][]string),
		Values: make(map[phantom.Key][]float64),
	}

	for _, k := range phantom.All {
		n := dev.MaskCount(k)
		masks := make([]*geometry.Mask, n)
		for i := 0; i < n; i++ {
			base := filepath.Join(dir, fmt.Sprintf("%s.%d", k, i+1))
			m, err := geometry.ReadMask(base)
			if err != nil {
				return nil, fmt.Errorf("loading baseline mask %s.%d: %w", k, i+1, err)
			}
			if !m.Geom.Equal(vol.Geom, geometry.Tolerance) {
				return nil, fmt.Errorf("baseline mask %s.%d geometry does not match baseline volume", k, i+1)
			}
			masks[i] = m
		}
		s.Masks[k] = masks

		values, err := referenceValues(dir, k)
		if err != nil {
			return nil, err
		}
		if len(values) != n {
			return nil, fmt.Errorf("baseline region %s: %d reference values, want %d", k, len(values), n)
		}
		s.Values[k] = values
	}

	if err := s.loadLabels(dir, dev); err != nil {
		return nil, err
	}

	if m, err := geometry.ReadMask(filepath.Join(dir, "reg_mask")); err == nil {
		s.RegMask = m
	}

	return s, nil
}

// referenceValues reads the reference table for a region; centroid regions
// store distances in the .dist table.
func referenceValues(dir string, k phantom.Key) ([]float64, error) {
	name := k.String() + ".csv"
	if k.Kind() == phantom.KindDistance {
		name = k.String() + ".dist.csv"
	}
	_, values, err := readTable(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("loading baseline values for region %s: %w", k, err)
	}
	return values, nil
}

func (s *Set) loadLabels(dir string, dev *config.Device) error {
	data, err := os.ReadFile(filepath.Join(dir, "labels.yaml"))
	if err != nil {
		return fmt.Errorf("loading baseline labels: %w", err)
	}
	raw := make(map[string][]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing labels.yaml: %w", err)
	}
	for name, labels := range raw {
		k, err := phantom.ParseKey(name)
		if err != nil {
			return fmt.Errorf("labels.yaml: %w", err)
		}
		if len(labels) != dev.MaskCount(k) {
			return fmt.Errorf("labels.yaml: region %s has %d labels, device expects %d", k, len(labels), dev.MaskCount(k))
		}
		s.Labels[k] = labels
	}
	return nil
}

// readTable reads a two-line reference table: a label row and a value row.
func readTable(path string) ([]string, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(rows) != 2 || len(rows[0]) != len(rows[1]) {
		return nil, nil, fmt.Errorf("%s: want a label row and a matching value row", path)
	}

	values := make([]float64, len(rows[1]))
	for i, cell := range rows[1] {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: parsing value %q: %w", path, cell, err)
		}
		values[i] = v
	}
	return rows[0], values, nil
}
