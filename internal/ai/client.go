package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-detect/internal/intake"
	"github.com/vzahanych/view-guard-detect/internal/logger"
)

// maxResponseBytes bounds how much of a model service response is read
const maxResponseBytes = 16 << 20

// ClientConfig contains configuration for the model service client
type ClientConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// HTTPDetector is a Detector backed by an HTTP model-serving process
type HTTPDetector struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
	encoder    png.Encoder

	mu      sync.RWMutex
	modelID string
	labels  LabelTable
}

// NewHTTPDetector creates a new model service client
func NewHTTPDetector(config ClientConfig, log *logger.Logger) *HTTPDetector {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPDetector{
		serviceURL: config.ServiceURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  log,
		encoder: png.Encoder{CompressionLevel: png.BestSpeed},
	}
}

// Load asks the model service to load modelID and fetches its label table
func (d *HTTPDetector) Load(ctx context.Context, modelID string) (LabelTable, error) {
	var loadResp LoadResponse
	if err := d.postJSON(ctx, "/api/v1/models/load", LoadRequest{Model: modelID}, &loadResp); err != nil {
		return nil, err
	}

	labels := parseNames(loadResp.Names)

	d.mu.Lock()
	d.modelID = modelID
	d.labels = labels
	d.mu.Unlock()

	d.logger.Debug("Model loaded by model service", "model", modelID, "classes", len(labels))
	return labels, nil
}

// Infer performs inference on a single image
func (d *HTTPDetector) Infer(ctx context.Context, img *intake.Image) (RawResult, error) {
	d.mu.RLock()
	modelID, labels := d.modelID, d.labels
	d.mu.RUnlock()

	var buf bytes.Buffer
	if err := d.encoder.Encode(&buf, img.RGBA); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req := InferenceRequest{
		Model: modelID,
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}

	startTime := time.Now()
	var inferenceResp InferenceResponse
	if err := d.postJSON(ctx, "/api/v1/inference", req, &inferenceResp); err != nil {
		return nil, err
	}
	if err := inferenceResp.validate(); err != nil {
		return nil, err
	}

	names := labels
	if len(inferenceResp.Names) > 0 {
		names = parseNames(inferenceResp.Names)
	}

	d.logger.Debug(
		"Inference completed",
		"detection_count", len(inferenceResp.BoxesXYXYN),
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &responseResult{resp: &inferenceResp, names: names}, nil
}

// HealthCheck checks if the model service is ready
func (d *HTTPDetector) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", d.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service health check failed: status %d", resp.StatusCode)
	}

	return nil
}

// postJSON sends a JSON request and decodes a JSON response
func (d *HTTPDetector) postJSON(ctx context.Context, path string, in, out interface{}) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := d.serviceURL + path
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	d.logger.Debug("Sending model service request", "url", url)
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn(
			"Model service returned error",
			"url", url,
			"status", resp.StatusCode,
			"response", string(body),
		)
		return fmt.Errorf("model service returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}
