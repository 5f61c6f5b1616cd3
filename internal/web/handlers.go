package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-detect/internal/ai"
	"github.com/vzahanych/view-guard-detect/internal/detection"
	"github.com/vzahanych/view-guard-detect/internal/history"
	"github.com/vzahanych/view-guard-detect/internal/intake"
	"github.com/vzahanych/view-guard-detect/internal/training"
)

// Client-facing messages
const (
	msgModelUnavailable  = "YOLO model is not available."
	msgInvalidFileType   = "Invalid file type. Please upload an image."
	msgInvalidImageData  = "Invalid image data."
	msgNoFile            = "No image file provided."
	msgNoFrame           = "No image data provided."
	msgDetectionFailed   = "Detection failed."
	msgLabelRequired     = "Object label is required."
	msgNoTrainingFiles   = "No image files provided."
	msgNoValidImages     = "No valid images were uploaded."
	msgUploadFailed      = "Failed to process training upload."
	msgRequestTooLarge   = "Request body too large."
	msgServiceNotReady   = "Service not available"
	msgTrainingDirFailed = "Failed to read training data."
)

// respondError writes the common error body {success:false, error, detail?}
func respondError(c *gin.Context, status int, message string, detail interface{}) {
	body := gin.H{
		"success": false,
		"error":   message,
	}
	if detail != nil {
		body["detail"] = detail
	}
	c.JSON(status, body)
}

// handleRoot reports that the API is up
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "YOLO API is running."})
}

// handleDetect runs detection on one uploaded image file
func (s *Server) handleDetect(c *gin.Context) {
	// Model availability is checked before the input is looked at
	if !s.modelAvailable() {
		respondError(c, http.StatusServiceUnavailable, msgModelUnavailable, nil)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, msgRequestTooLarge, nil)
			return
		}
		respondError(c, http.StatusBadRequest, msgNoFile, err.Error())
		return
	}

	data, err := readFormFile(fileHeader)
	if err != nil {
		if isTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, msgRequestTooLarge, nil)
			return
		}
		respondError(c, http.StatusBadRequest, msgNoFile, err.Error())
		return
	}

	img, err := s.decoder.Decode(fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		s.respondInvalidInput(c, err)
		return
	}

	s.Logger().Info("Received file for detection", "filename", fileHeader.Filename, "width", img.Width(), "height", img.Height())

	detections, ok := s.detect(c, history.SourceUpload, fileHeader.Filename, img)
	if !ok {
		return
	}

	s.logEvent(history.NewDetectionEvent(history.SourceUpload, fileHeader.Filename, detections))

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"filename":   fileHeader.Filename,
		"detections": detections,
	})
}

// handleDetectFrame runs detection on one base64-encoded live frame
func (s *Server) handleDetectFrame(c *gin.Context) {
	if !s.modelAvailable() {
		respondError(c, http.StatusServiceUnavailable, msgModelUnavailable, nil)
		return
	}

	payload, present := c.GetPostForm("image_data")
	if !present || payload == "" {
		respondError(c, http.StatusBadRequest, msgNoFrame, nil)
		return
	}

	img, err := s.decoder.DecodeBase64Frame(payload)
	if err != nil {
		s.respondInvalidInput(c, err)
		return
	}

	detections, ok := s.detect(c, history.SourceLiveFrame, "", img)
	if !ok {
		return
	}

	// Frames are polled at a high rate, only frames with objects are recorded
	if len(detections) > 0 {
		s.logEvent(history.NewDetectionEvent(history.SourceLiveFrame, "", detections))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"detections": detections,
	})
}

// detect runs the model and normalizes its output. On failure it writes the
// error response, records a failure event and returns false.
func (s *Server) detect(c *gin.Context, source history.SourceType, filename string, img *intake.Image) ([]detection.Detection, bool) {
	raw, err := s.model.Run(c.Request.Context(), img)
	if err != nil {
		if errors.Is(err, ai.ErrModelUnavailable) {
			respondError(c, http.StatusServiceUnavailable, msgModelUnavailable, nil)
			return nil, false
		}
		s.Logger().Error("Detection failed", "source", source, "filename", filename, "error", err)
		s.logEvent(history.NewDetectionFailure(source, filename, err))
		respondError(c, http.StatusInternalServerError, msgDetectionFailed, err.Error())
		return nil, false
	}

	detections := detection.Normalize(raw)
	s.Logger().Info("Detection complete", "source", source, "objects", len(detections))
	return detections, true
}

// respondInvalidInput maps an intake rejection to a 400 response
func (s *Server) respondInvalidInput(c *gin.Context, err error) {
	var invalid *intake.InvalidInputError
	if !errors.As(err, &invalid) {
		s.Logger().Error("Unexpected intake error", "error", err)
		respondError(c, http.StatusInternalServerError, msgDetectionFailed, err.Error())
		return
	}

	message := msgInvalidImageData
	if invalid.Reason == intake.ReasonUnsupportedContentType {
		message = msgInvalidFileType
	}
	s.Logger().Warn("Rejected detection input", "reason", invalid.Reason, "error", err)
	respondError(c, http.StatusBadRequest, message, invalid.Reason)
}

// handleUploadTrain stores a labeled batch of training images
func (s *Server) handleUploadTrain(c *gin.Context) {
	if s.ingestor == nil {
		respondError(c, http.StatusServiceUnavailable, msgServiceNotReady, nil)
		return
	}

	var fileHeaders []*multipart.FileHeader
	form, err := c.MultipartForm()
	if err != nil {
		if isTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, msgRequestTooLarge, nil)
			return
		}
	} else {
		fileHeaders = form.File["files"]
	}

	label := c.PostForm("label")
	uploads := make([]training.Upload, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		uploads = append(uploads, training.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}

	s.Logger().Info("Received training upload", "label", label, "files", len(uploads))

	result, err := s.ingestor.Ingest(c.Request.Context(), label, uploads)
	switch {
	case errors.Is(err, training.ErrLabelRequired):
		respondError(c, http.StatusBadRequest, msgLabelRequired, nil)
		return
	case errors.Is(err, training.ErrNoFiles):
		respondError(c, http.StatusBadRequest, msgNoTrainingFiles, nil)
		return
	case err != nil:
		s.Logger().Error("Training upload failed", "label", label, "error", err)
		respondError(c, http.StatusInternalServerError, msgUploadFailed, err.Error())
		return
	}

	if result.SavedCount == 0 && len(result.Errors) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":              false,
			"error":                msgNoValidImages,
			"message":              msgNoValidImages,
			"label":                result.Label,
			"saved_count":          0,
			"saved_relative_paths": []string{},
			"errors":               result.Errors,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"message":              fmt.Sprintf("Successfully received %d out of %d files.", result.SavedCount, len(uploads)),
		"saved_count":          result.SavedCount,
		"label":                result.Label,
		"saved_relative_paths": result.SavedRelativePaths,
		"saved_filenames":      result.SavedFilenames,
		"errors":               result.Errors,
	})
}

// handleTrainingLabels reports how many training images each label holds
func (s *Server) handleTrainingLabels(c *gin.Context) {
	if s.ingestor == nil {
		respondError(c, http.StatusServiceUnavailable, msgServiceNotReady, nil)
		return
	}

	counts, total, err := s.ingestor.LabelCounts()
	if err != nil {
		s.Logger().Error("Failed to count training images", "error", err)
		respondError(c, http.StatusInternalServerError, msgTrainingDirFailed, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"labels":  counts,
		"total":   total,
	})
}

// handleHistory returns stored events, newest first. Store problems yield an empty list.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "logs": []history.Document{}})
		return
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil {
			limit = v
		}
	}

	skip := 0
	if skipStr := c.Query("skip"); skipStr != "" {
		if v, err := strconv.Atoi(skipStr); err == nil && v > 0 {
			skip = v
		}
	}

	limit = s.history.ClampLimit(limit)
	logs := s.history.Get(c.Request.Context(), limit, skip)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"logs":    logs,
		"limit":   limit,
		"skip":    skip,
	})
}

// handleHealth returns the aggregated component health
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "web-server",
			"version": s.version,
		})
		return
	}

	c.JSON(http.StatusOK, s.health.Check(c.Request.Context()))
}

// handleReady reports readiness. Only an unavailable model makes the service unready.
func (s *Server) handleReady(c *gin.Context) {
	if !s.modelAvailable() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  msgModelUnavailable,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"model":   s.model.ID(),
		"version": s.version,
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "Metrics not available", nil)
		return
	}
	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) modelAvailable() bool {
	return s.model != nil && s.model.Available()
}

// logEvent hands a detection event to the logger without waiting on the store
func (s *Server) logEvent(ev history.Event) {
	if s.events == nil {
		return
	}
	s.events.LogAsync(ev)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
