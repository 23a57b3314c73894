// Package phantom defines the analysis regions of the QA phantom: which
// groups of masks exist, what is measured inside each group, and how
// centroid features are binarized before localization.
package phantom

import "fmt"

// Key identifies one anatomical grouping of analysis masks. All masks under
// a key share one measurement kind and one tolerance.
type Key int

const (
	HU  Key = iota // sensitometry inserts, mean HU per insert
	UF             // uniformity regions, mean HU per region
	HC             // high-contrast resolution inserts, HU std per insert
	LC             // low-contrast inserts, HU std per insert
	Geo            // in-plane geometry air holes, centroid distances
	DT             // out-of-plane depth features, centroid distances
)

// All lists the region keys in processing and reporting order.
var All = []Key{HU, UF, HC, LC, Geo, DT}

func (k Key) String() string {
	switch k {
	case HU:
		return "HU"
	case UF:
		return "UF"
	case HC:
		return "HC"
	case LC:
		return "LC"
	case Geo:
		return "geo"
	case DT:
		return "DT"
	}
	return fmt.Sprintf("Key(%d)", int(k))
}

// ParseKey maps the on-disk region name back to its Key.
func ParseKey(s string) (Key, error) {
	for _, k := range All {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown region key %q", s)
}

// Kind is the measurement computed per mask of a region key.
type Kind int

const (
	KindMean Kind = iota
	KindStd
	KindDistance
)

func (k Kind) String() string {
	switch k {
	case KindMean:
		return "mean"
	case KindStd:
		return "std"
	case KindDistance:
		return "distance"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kind returns the measurement kind for the key.
func (k Key) Kind() Kind {
	switch k {
	case HU, UF:
		return KindMean
	case HC, LC:
		return KindStd
	default:
		return KindDistance
	}
}

// Threshold binarizes a cropped region before centroid computation.
// Voxels strictly below Cutoff map to Below, the rest to Above.
type Threshold struct {
	Cutoff float64
	Below  float64
	Above  float64
}

// Threshold returns the binarization rule for centroid keys. The geometry
// holes are air-filled so the feature sits below the cutoff; the depth
// features are dense so the feature sits at or above it. ok is false for
// mean/std keys.
func (k Key) Threshold() (th Threshold, ok bool) {
	switch k {
	case Geo:
		return Threshold{Cutoff: -500, Below: 1, Above: 0}, true
	case DT:
		return Threshold{Cutoff: 200, Below: 0, Above: 1}, true
	}
	return Threshold{}, false
}
