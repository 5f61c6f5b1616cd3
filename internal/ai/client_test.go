package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-detect/internal/intake"
	"github.com/vzahanych/view-guard-detect/internal/logger"
)

const testServiceURL = "http://model.test"

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func newTestDetector() *HTTPDetector {
	return NewHTTPDetector(ClientConfig{
		ServiceURL: testServiceURL,
		Timeout:    5 * time.Second,
	}, logger.NewNopLogger())
}

func testImage() *intake.Image {
	return &intake.Image{RGBA: image.NewRGBA(image.Rect(0, 0, 8, 6)), Format: "png"}
}

func registerLoadResponder(t *testing.T) {
	t.Helper()
	httpmock.RegisterResponder("POST", testServiceURL+"/api/v1/models/load",
		func(req *http.Request) (*http.Response, error) {
			var body LoadRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			return httpmock.NewJsonResponse(http.StatusOK, LoadResponse{
				Model: body.Model,
				Names: map[string]string{"0": "person", "2": "car", "bogus": "skipped"},
			})
		})
}

func TestHTTPDetector_Load(t *testing.T) {
	setupHTTPMock(t)
	registerLoadResponder(t)

	labels, err := newTestDetector().Load(context.Background(), "yolov8n.pt")
	require.NoError(t, err)

	assert.Equal(t, LabelTable{0: "person", 2: "car"}, labels)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPDetector_LoadFailure(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("POST", testServiceURL+"/api/v1/models/load",
		httpmock.NewStringResponder(http.StatusNotFound, `{"detail":"model not found"}`))

	_, err := newTestDetector().Load(context.Background(), "missing.pt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestHTTPDetector_Infer(t *testing.T) {
	setupHTTPMock(t)
	registerLoadResponder(t)

	httpmock.RegisterResponder("POST", testServiceURL+"/api/v1/inference",
		func(req *http.Request) (*http.Response, error) {
			var body InferenceRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "yolov8n.pt", body.Model)
			decoded, err := base64.StdEncoding.DecodeString(body.Image)
			require.NoError(t, err)
			assert.Equal(t, "\x89PNG", string(decoded[:4]))

			return httpmock.NewJsonResponse(http.StatusOK, InferenceResponse{
				BoxesXYXYN:      [][4]float64{{0.1, 0.2, 0.5, 0.9}, {0.4, 0.4, 0.6, 0.7}},
				Scores:          []float64{0.91, 0.42},
				ClassIDs:        []int{0, 7},
				InferenceTimeMs: 12.5,
			})
		})

	d := newTestDetector()
	_, err := d.Load(context.Background(), "yolov8n.pt")
	require.NoError(t, err)

	raw, err := d.Infer(context.Background(), testImage())
	require.NoError(t, err)

	require.Equal(t, 2, raw.Len())
	assert.Equal(t, [4]float64{0.1, 0.2, 0.5, 0.9}, raw.Box(0))
	assert.InDelta(t, 0.91, raw.Score(0), 1e-9)
	assert.Equal(t, 7, raw.ClassID(1))
	assert.Equal(t, "person", raw.Names()[0])
}

func TestHTTPDetector_InferMismatchedArrays(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("POST", testServiceURL+"/api/v1/inference",
		httpmock.NewStringResponder(http.StatusOK, `{"boxes_xyxyn":[[0,0,1,1]],"scores":[],"class_ids":[0]}`))

	_, err := newTestDetector().Infer(context.Background(), testImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched result arrays")
}

func TestHTTPDetector_InferServerError(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("POST", testServiceURL+"/api/v1/inference",
		httpmock.NewStringResponder(http.StatusInternalServerError, "CUDA out of memory"))

	_, err := newTestDetector().Infer(context.Background(), testImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestHTTPDetector_HealthCheck(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("GET", testServiceURL+"/health/ready",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	err := newTestDetector().HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
