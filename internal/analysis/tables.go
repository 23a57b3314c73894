package analysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// The raw measurement tables mirror the reference-data layout: a label row
// followed by a value row, full precision. The report applies display
// formatting separately.

func writeTable(path string, labels []string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := make([]string, len(values))
	if err := w.Write(labels); err != nil {
		return err
	}
	for i, v := range values {
		row[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func writeCentroidTable(path string, labels []string, centroids [][3]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"label", "x", "y", "z"}); err != nil {
		return err
	}
	for i, c := range centroids {
		rec := []string{
			labels[i],
			strconv.FormatFloat(c[0], 'g', -1, 64),
			strconv.FormatFloat(c[1], 'g', -1, 64),
			strconv.FormatFloat(c[2], 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
