package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/vzahanych/view-guard-detect/internal/intake"
)

var (
	// ErrModelUnavailable is returned for every call once the model failed to load
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInferenceFailed wraps runtime failures during a single inference
	ErrInferenceFailed = errors.New("inference failed")
)

// LabelTable maps class ids to human-readable class names
type LabelTable map[int]string

// Detector is the contract of an object-detection model
type Detector interface {
	// Load prepares the model identified by modelID and returns its label table
	Load(ctx context.Context, modelID string) (LabelTable, error)
	// Infer runs the model on a single image
	Infer(ctx context.Context, img *intake.Image) (RawResult, error)
}

// RawResult is the model-native output of one inference: parallel arrays of
// normalized xyxy boxes, scores and class ids, plus the class name table.
type RawResult interface {
	Len() int
	Box(i int) [4]float64
	Score(i int) float64
	ClassID(i int) int
	Names() LabelTable
}

// LoadRequest represents a model load request to the model service
type LoadRequest struct {
	Model string `json:"model"`
}

// LoadResponse represents the model service reply to a load request
type LoadResponse struct {
	Model string            `json:"model"`
	Names map[string]string `json:"names"` // class id (as string) -> class name
}

// InferenceRequest represents a request to the model service
type InferenceRequest struct {
	Model string `json:"model"`
	Image string `json:"image"` // Base64-encoded PNG image
}

// InferenceResponse represents the response from the model service
type InferenceResponse struct {
	BoxesXYXYN      [][4]float64      `json:"boxes_xyxyn"`       // Normalized (xmin, ymin, xmax, ymax)
	Scores          []float64         `json:"scores"`            // Confidence per box
	ClassIDs        []int             `json:"class_ids"`         // Class index per box
	Names           map[string]string `json:"names,omitempty"`   // Optional label table override
	InferenceTimeMs float64           `json:"inference_time_ms"` // Inference duration
}

// validate checks that the parallel arrays line up
func (r *InferenceResponse) validate() error {
	n := len(r.BoxesXYXYN)
	if len(r.Scores) != n || len(r.ClassIDs) != n {
		return fmt.Errorf("mismatched result arrays: boxes=%d scores=%d class_ids=%d",
			n, len(r.Scores), len(r.ClassIDs))
	}
	return nil
}

// responseResult adapts an InferenceResponse to RawResult
type responseResult struct {
	resp  *InferenceResponse
	names LabelTable
}

func (r *responseResult) Len() int             { return len(r.resp.BoxesXYXYN) }
func (r *responseResult) Box(i int) [4]float64 { return r.resp.BoxesXYXYN[i] }
func (r *responseResult) Score(i int) float64  { return r.resp.Scores[i] }
func (r *responseResult) ClassID(i int) int    { return r.resp.ClassIDs[i] }
func (r *responseResult) Names() LabelTable    { return r.names }

// parseNames converts a JSON label table with string keys. Non-numeric keys are skipped.
func parseNames(raw map[string]string) LabelTable {
	table := make(LabelTable, len(raw))
	for key, name := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		table[id] = name
	}
	return table
}
