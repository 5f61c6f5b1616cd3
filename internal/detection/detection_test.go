package detection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-detect/internal/ai"
)

type rawStub struct {
	boxes  [][4]float64
	scores []float64
	ids    []int
	names  ai.LabelTable
}

func (r rawStub) Len() int             { return len(r.boxes) }
func (r rawStub) Box(i int) [4]float64 { return r.boxes[i] }
func (r rawStub) Score(i int) float64  { return r.scores[i] }
func (r rawStub) ClassID(i int) int    { return r.ids[i] }
func (r rawStub) Names() ai.LabelTable { return r.names }

func TestNormalize_PassesThroughValues(t *testing.T) {
	raw := rawStub{
		boxes:  [][4]float64{{0.1, 0.2, 0.3, 0.4}, {0.5, 0.5, 0.9, 0.8}},
		scores: []float64{0.87, 0.25},
		ids:    []int{2, 0},
		names:  ai.LabelTable{0: "person", 2: "car"},
	}

	got := Normalize(raw)
	require.Len(t, got, 2)

	assert.Equal(t, Detection{
		BBoxNormalized: [4]float64{0.1, 0.2, 0.3, 0.4},
		ClassID:        2,
		ClassName:      "car",
		Confidence:     0.87,
	}, got[0])
	assert.Equal(t, "person", got[1].ClassName)
	assert.Equal(t, 0.25, got[1].Confidence, "low confidence is not filtered")
}

func TestNormalize_UnknownClass(t *testing.T) {
	raw := rawStub{
		boxes:  [][4]float64{{0, 0, 1, 1}},
		scores: []float64{0.5},
		ids:    []int{42},
		names:  ai.LabelTable{0: "person"},
	}

	got := Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, UnknownClass, got[0].ClassName)
	assert.Equal(t, 42, got[0].ClassID)
}

func TestNormalize_NegativeClassID(t *testing.T) {
	raw := rawStub{
		boxes:  [][4]float64{{0.1, 0.1, 0.2, 0.2}, {0.3, 0.3, 0.4, 0.4}},
		scores: []float64{0.6, 0.7},
		ids:    []int{-1, -3},
		names:  ai.LabelTable{0: "person", -3: "bogus"},
	}

	got := Normalize(raw)
	require.Len(t, got, 2)
	for _, det := range got {
		assert.Equal(t, 0, det.ClassID)
		assert.Equal(t, UnknownClass, det.ClassName)
	}
}

func TestNormalize_Empty(t *testing.T) {
	got := Normalize(rawStub{})
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = Normalize(nil)
	assert.NotNil(t, got)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestNormalize_Bounds(t *testing.T) {
	raw := rawStub{
		boxes:  [][4]float64{{0.9, -0.1, 0.2, 1.3}},
		scores: []float64{1.02},
		ids:    []int{0},
	}

	got := Normalize(raw)
	require.Len(t, got, 1)

	d := got[0]
	for _, v := range d.BBoxNormalized {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.LessOrEqual(t, d.BBoxNormalized[0], d.BBoxNormalized[2])
	assert.LessOrEqual(t, d.BBoxNormalized[1], d.BBoxNormalized[3])
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDetection_WireRoundTrip(t *testing.T) {
	in := Detection{
		BBoxNormalized: [4]float64{0.123456789012345, 0.2, 0.987654321, 1},
		ClassID:        16,
		ClassName:      "dog",
		Confidence:     0.8765432109876,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"bbox_normalized":[`)
	assert.Contains(t, string(data), `"class_name":"dog"`)

	var out Detection
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
