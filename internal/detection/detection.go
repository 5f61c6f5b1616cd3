// Package detection defines the stable detection schema returned to clients
// and stored in audit events.
package detection

import (
	"math"

	"github.com/vzahanych/view-guard-detect/internal/ai"
)

// UnknownClass is the class name used when an id is missing from the label table
const UnknownClass = "Unknown"

// Detection is one detected object instance
type Detection struct {
	BBoxNormalized [4]float64 `json:"bbox_normalized"` // xmin, ymin, xmax, ymax in [0,1]
	ClassID        int        `json:"class_id"`
	ClassName      string     `json:"class_name"`
	Confidence     float64    `json:"confidence"`
}

// Normalize maps raw model output to detections in model order. Values are
// passed through; only out-of-range floats are clamped and inverted corners
// swapped so every detection satisfies the schema bounds. A nil or empty
// result yields an empty, non-nil slice.
func Normalize(raw ai.RawResult) []Detection {
	if raw == nil {
		return []Detection{}
	}

	names := raw.Names()
	out := make([]Detection, 0, raw.Len())
	for i := 0; i < raw.Len(); i++ {
		classID := raw.ClassID(i)
		name, ok := names[classID]
		if !ok || classID < 0 {
			name = UnknownClass
		}
		// class_id is non-negative on the wire
		if classID < 0 {
			classID = 0
		}
		out = append(out, Detection{
			BBoxNormalized: normalizeBox(raw.Box(i)),
			ClassID:        classID,
			ClassName:      name,
			Confidence:     clamp01(raw.Score(i)),
		})
	}
	return out
}

func normalizeBox(b [4]float64) [4]float64 {
	xmin, ymin, xmax, ymax := clamp01(b[0]), clamp01(b[1]), clamp01(b[2]), clamp01(b[3])
	if xmin > xmax {
		xmin, xmax = xmax, xmin
	}
	if ymin > ymax {
		ymin, ymax = ymax, ymin
	}
	return [4]float64{xmin, ymin, xmax, ymax}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
