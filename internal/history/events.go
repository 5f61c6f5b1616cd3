package history

import (
	"encoding/json"
	"time"

	"github.com/vzahanych/view-guard-detect/internal/detection"
)

// Event types as stored in the "type" field
const (
	EventTypeDetection = "detection"
	EventTypeTraining  = "training_upload"
)

// DetectionStatus is the outcome of one detection request
type DetectionStatus string

const (
	DetectionSuccess DetectionStatus = "success"
	DetectionFailure DetectionStatus = "failure"
)

// SourceType identifies how the image reached the service
type SourceType string

const (
	SourceUpload    SourceType = "upload"
	SourceLiveFrame SourceType = "live_frame"
)

// TrainingStatus is the outcome of one training upload batch
type TrainingStatus string

const (
	TrainingSuccess        TrainingStatus = "success"
	TrainingPartialSuccess TrainingStatus = "partial_success"
	TrainingFailure        TrainingStatus = "failure"
)

// TrainingStatusFor derives the batch status from saved and total file counts
func TrainingStatusFor(saved, total int) TrainingStatus {
	switch {
	case saved == 0:
		return TrainingFailure
	case saved == total:
		return TrainingSuccess
	default:
		return TrainingPartialSuccess
	}
}

// Event is a document the EventLogger can persist. The timestamp is always
// assigned by the logger at write time.
type Event interface {
	eventType() string
	eventStatus() string
	stamp(t time.Time)
}

// DetectionEvent records one detection request's outcome
type DetectionEvent struct {
	Type           string                `json:"type"`
	Timestamp      time.Time             `json:"timestamp"`
	Status         DetectionStatus       `json:"status"`
	SourceType     SourceType            `json:"source_type"`
	SourceFilename string                `json:"source_filename,omitempty"`
	Detections     []detection.Detection `json:"detections"`
	ErrorMessage   string                `json:"error_message,omitempty"`
}

// NewDetectionEvent builds a successful detection event
func NewDetectionEvent(source SourceType, filename string, detections []detection.Detection) *DetectionEvent {
	if detections == nil {
		detections = []detection.Detection{}
	}
	return &DetectionEvent{
		Type:           EventTypeDetection,
		Status:         DetectionSuccess,
		SourceType:     source,
		SourceFilename: filename,
		Detections:     detections,
	}
}

// NewDetectionFailure builds a failed detection event with no detections
func NewDetectionFailure(source SourceType, filename string, err error) *DetectionEvent {
	ev := NewDetectionEvent(source, filename, nil)
	ev.Status = DetectionFailure
	if err != nil {
		ev.ErrorMessage = err.Error()
	}
	return ev
}

func (e *DetectionEvent) eventType() string   { return EventTypeDetection }
func (e *DetectionEvent) eventStatus() string { return string(e.Status) }
func (e *DetectionEvent) stamp(t time.Time)   { e.Timestamp = t }

// MarshalJSON forces the type discriminator regardless of how the event was built
func (e *DetectionEvent) MarshalJSON() ([]byte, error) {
	type plain DetectionEvent
	out := plain(*e)
	out.Type = EventTypeDetection
	if out.Detections == nil {
		out.Detections = []detection.Detection{}
	}
	return json.Marshal(out)
}

// TrainingEvent records one training upload batch
type TrainingEvent struct {
	Type               string         `json:"type"`
	Timestamp          time.Time      `json:"timestamp"`
	Status             TrainingStatus `json:"status"`
	Label              string         `json:"label"`
	UploadedFilenames  []string       `json:"uploaded_filenames"`
	SavedRelativePaths []string       `json:"saved_relative_paths"`
	FileCount          int            `json:"file_count"`
}

func (e *TrainingEvent) eventType() string   { return EventTypeTraining }
func (e *TrainingEvent) eventStatus() string { return string(e.Status) }
func (e *TrainingEvent) stamp(t time.Time)   { e.Timestamp = t }

// MarshalJSON forces the type discriminator and empty arrays instead of null
func (e *TrainingEvent) MarshalJSON() ([]byte, error) {
	type plain TrainingEvent
	out := plain(*e)
	out.Type = EventTypeTraining
	if out.UploadedFilenames == nil {
		out.UploadedFilenames = []string{}
	}
	if out.SavedRelativePaths == nil {
		out.SavedRelativePaths = []string{}
	}
	return json.Marshal(out)
}
