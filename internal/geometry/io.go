package geometry

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
)

// Volumes are persisted as a pair of files sharing a base path:
// <base>.vol holds gzip-compressed raw little-endian float32 voxels,
// <base>.meta holds the Geometry as JSON.

// WriteVolume persists v under base.
func WriteVolume(base string, v *Volume) error {
	meta, err := json.MarshalIndent(v.Geom, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding geometry: %w", err)
	}
	if err := os.WriteFile(base+".meta", meta, 0o644); err != nil {
		return fmt.Errorf("writing %s.meta: %w", base, err)
	}

	f, err := os.Create(base + ".vol")
	if err != nil {
		return fmt.Errorf("creating %s.vol: %w", base, err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if err := binary.Write(zw, binary.LittleEndian, v.Data); err != nil {
		zw.Close()
		return fmt.Errorf("writing voxel data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing %s.vol: %w", base, err)
	}
	return f.Close()
}

// ReadVolume loads a volume persisted under base.
func ReadVolume(base string) (*Volume, error) {
	meta, err := os.ReadFile(base + ".meta")
	if err != nil {
		return nil, fmt.Errorf("reading %s.meta: %w", base, err)
	}
	var g Geometry
	if err := json.Unmarshal(meta, &g); err != nil {
		return nil, fmt.Errorf("decoding %s.meta: %w", base, err)
	}
	if g.NumVoxels() <= 0 {
		return nil, fmt.Errorf("invalid geometry in %s.meta: size %v", base, g.Size)
	}

	f, err := os.Open(base + ".vol")
	if err != nil {
		return nil, fmt.Errorf("opening %s.vol: %w", base, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s.vol: %w", base, err)
	}
	defer zr.Close()

	v := NewVolume(g)
	if err := binary.Read(zr, binary.LittleEndian, v.Data); err != nil {
		return nil, fmt.Errorf("reading voxel data from %s.vol: %w", base, err)
	}
	return v, nil
}

// WriteMask persists m under base using the volume codec (0/1 voxels).
func WriteMask(base string, m *Mask) error {
	v := NewVolume(m.Geom)
	for i, b := range m.Data {
		if b != 0 {
			v.Data[i] = 1
		}
	}
	return WriteVolume(base, v)
}

// ReadMask loads a mask persisted under base; voxels above 0.5 are set.
func ReadMask(base string) (*Mask, error) {
	v, err := ReadVolume(base)
	if err != nil {
		return nil, err
	}
	m := NewMask(v.Geom)
	for i, val := range v.Data {
		if val > 0.5 {
			m.Data[i] = 1
		}
	}
	return m, nil
}
