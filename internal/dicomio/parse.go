package dicomio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// parseSliceFile extracts the stacking-relevant attributes from one DICOM
// file. A missing ImagePositionPatient disqualifies the slice; the other
// attributes are optional and reported through the has* flags.
func parseSliceFile(path string) (sliceData, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return sliceData{}, fmt.Errorf("parsing DICOM file: %w", err)
	}

	sd := sliceData{path: path}

	pos, err := floatValues(&ds, tag.ImagePositionPatient, 3)
	if err != nil {
		return sliceData{}, fmt.Errorf("missing image position: %w", err)
	}
	copy(sd.position[:], pos)

	if iop, err := floatValues(&ds, tag.ImageOrientationPatient, 6); err == nil {
		copy(sd.orientation[:], iop)
		sd.hasOrientation = true
	}
	if ps, err := floatValues(&ds, tag.PixelSpacing, 2); err == nil {
		copy(sd.pixelSpacing[:], ps)
		sd.hasPixelSpacing = true
	}
	if slope, err := floatValues(&ds, tag.RescaleSlope, 1); err == nil {
		if intercept, err := floatValues(&ds, tag.RescaleIntercept, 1); err == nil {
			sd.slope = slope[0]
			sd.intercept = intercept[0]
			sd.hasRescale = true
		}
	}

	if err := readPixels(&ds, &sd); err != nil {
		return sliceData{}, err
	}
	return sd, nil
}

func readPixels(ds *dicom.Dataset, sd *sliceData) error {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return fmt.Errorf("missing pixel data: %w", err)
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return fmt.Errorf("pixel data contains no frames")
	}

	frame, err := info.Frames[0].GetNativeFrame()
	if err != nil {
		return fmt.Errorf("decoding pixel frame: %w", err)
	}

	sd.rows = frame.Rows
	sd.cols = frame.Cols
	sd.pixels = make([]int32, len(frame.Data))
	for i, px := range frame.Data {
		// One stored sample per pixel for CT; extra samples are ignored.
		sd.pixels[i] = int32(px[0])
	}
	return nil
}

// floatValues reads a decimal-string attribute and parses exactly n floats.
func floatValues(ds *dicom.Dataset, t tag.Tag, n int) ([]float64, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, err
	}
	raw, ok := el.Value.GetValue().([]string)
	if !ok {
		return nil, fmt.Errorf("attribute %v is not a string list", t)
	}
	if len(raw) < n {
		return nil, fmt.Errorf("attribute %v has %d values, want %d", t, len(raw), n)
	}
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(raw[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("parsing attribute %v value %q: %w", t, raw[i], err)
		}
		vals[i] = f
	}
	return vals, nil
}
