// Package training stores labeled image batches for offline training.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/vzahanych/view-guard-detect/internal/history"
	"github.com/vzahanych/view-guard-detect/internal/intake"
	"github.com/vzahanych/view-guard-detect/internal/logger"
	"github.com/vzahanych/view-guard-detect/internal/metrics"
)

const (
	// DefaultChunkSize is the read size used when streaming uploads to disk
	DefaultChunkSize = 1 << 20
	// defaultExtension is used when neither the filename nor the content reveal one
	defaultExtension = ".jpg"
)

var (
	// ErrLabelRequired is returned when the label is empty after sanitizing
	ErrLabelRequired = errors.New("object label is required")
	// ErrNoFiles is returned for an empty batch
	ErrNoFiles = errors.New("no image files provided")
	// ErrInsufficientSpace is reported per file when the training volume is full
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// Upload is one file of a training batch
type Upload struct {
	Filename    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// ItemError describes why one upload was not saved
type ItemError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Result is the outcome of one batch
type Result struct {
	Label              string
	SavedCount         int
	SavedRelativePaths []string
	SavedFilenames     []string
	Errors             []ItemError
	Status             history.TrainingStatus
}

// EventSink receives training events
type EventSink interface {
	Log(ctx context.Context, ev history.Event) (string, bool)
}

// Ingestor writes labeled uploads under root/<label>/<uuid><ext>
type Ingestor struct {
	root      string
	chunkSize int
	events    EventSink
	disk      *DiskMonitor
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewIngestor creates the training root if needed
func NewIngestor(root string, chunkSize int, events EventSink, log *logger.Logger, m *metrics.Metrics) (*Ingestor, error) {
	if root == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &Ingestor{
		root:      root,
		chunkSize: chunkSize,
		events:    events,
		logger:    log,
		metrics:   m,
	}, nil
}

// SetDiskMonitor enables refusing uploads while the training volume is full
func (i *Ingestor) SetDiskMonitor(d *DiskMonitor) {
	i.disk = d
}

// HasSpace reports whether the training volume accepts more files
func (i *Ingestor) HasSpace() (bool, error) {
	if i.disk == nil {
		return true, nil
	}
	return i.disk.HasSpace()
}

// Root returns the training data root directory
func (i *Ingestor) Root() string {
	return i.root
}

// Ingest saves every valid upload of the batch, collects per-item errors
// without aborting, and logs one training event for the batch.
func (i *Ingestor) Ingest(ctx context.Context, label string, uploads []Upload) (*Result, error) {
	safeLabel := SanitizeLabel(label)
	if safeLabel == "" {
		return nil, ErrLabelRequired
	}
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	result := &Result{
		Label:              safeLabel,
		SavedRelativePaths: make([]string, 0, len(uploads)),
		SavedFilenames:     make([]string, 0, len(uploads)),
		Errors:             make([]ItemError, 0),
	}
	uploaded := make([]string, 0, len(uploads))

	for _, up := range uploads {
		uploaded = append(uploaded, up.Filename)

		if !intake.IsImageContentType(up.ContentType) {
			i.metrics.RecordTrainingFile(metrics.OutcomeRejected)
			i.logger.Warn("Skipping non-image training file", "filename", up.Filename, "content_type", up.ContentType)
			result.Errors = append(result.Errors, ItemError{
				Filename: up.Filename,
				Error:    "Invalid file type. Only images are allowed.",
			})
			continue
		}

		if ok, err := i.HasSpace(); err == nil && !ok {
			i.metrics.RecordTrainingFile(metrics.OutcomeFailed)
			i.logger.Warn("Refusing training file, disk nearly full", "filename", up.Filename)
			result.Errors = append(result.Errors, ItemError{Filename: up.Filename, Error: ErrInsufficientSpace.Error()})
			continue
		}

		relPath, err := i.save(ctx, safeLabel, up)
		if err != nil {
			i.metrics.RecordTrainingFile(metrics.OutcomeFailed)
			i.logger.Error("Failed to save training file", "filename", up.Filename, "error", err)
			result.Errors = append(result.Errors, ItemError{Filename: up.Filename, Error: err.Error()})
			continue
		}

		i.metrics.RecordTrainingFile(metrics.OutcomeSaved)
		i.logger.Info("Saved training image", "filename", up.Filename, "path", relPath)
		result.SavedRelativePaths = append(result.SavedRelativePaths, relPath)
		result.SavedFilenames = append(result.SavedFilenames, up.Filename)
	}

	result.SavedCount = len(result.SavedRelativePaths)
	result.Status = history.TrainingStatusFor(result.SavedCount, len(uploads))

	if i.events != nil {
		i.events.Log(ctx, &history.TrainingEvent{
			Status:             result.Status,
			Label:              safeLabel,
			UploadedFilenames:  uploaded,
			SavedRelativePaths: result.SavedRelativePaths,
			FileCount:          result.SavedCount,
		})
	}

	return result, nil
}

// save streams one upload to a freshly generated path and returns the path
// relative to the training root. Partial files are removed on failure.
func (i *Ingestor) save(ctx context.Context, label string, up Upload) (string, error) {
	if up.Open == nil {
		return "", fmt.Errorf("upload has no content")
	}
	src, err := up.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	buf := make([]byte, i.chunkSize)
	n, err := io.ReadFull(src, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	first := buf[:n]
	eof := err != nil

	labelDir := filepath.Join(i.root, label)
	if err := os.MkdirAll(labelDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create label directory: %w", err)
	}

	name := uuid.New().String() + i.extensionFor(up.Filename, first)
	path := filepath.Join(labelDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if err := writeChunks(ctx, f, src, first, buf, eof); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	return filepath.ToSlash(filepath.Join(label, name)), nil
}

// writeChunks writes the already-read first chunk, then the rest of src in
// chunks of len(buf), in order.
func writeChunks(ctx context.Context, dst io.Writer, src io.Reader, first, buf []byte, eof bool) error {
	if len(first) > 0 {
		if _, err := dst.Write(first); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
	}
	for !eof {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload aborted: %w", err)
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write file: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read upload: %w", err)
		}
	}
	return nil
}

// extensionFor keeps the client's extension when safe, otherwise sniffs the content
func (i *Ingestor) extensionFor(filename string, head []byte) string {
	if ext := safeExtension(filename); ext != "" {
		return ext
	}
	if len(head) > 0 {
		mt := mimetype.Detect(head)
		if strings.HasPrefix(mt.String(), "image/") && mt.Extension() != "" {
			return mt.Extension()
		}
	}
	return defaultExtension
}

// LabelCounts returns the number of stored files per label directory
func (i *Ingestor) LabelCounts() (map[string]int, int, error) {
	counts := make(map[string]int)
	total := 0

	entries, err := os.ReadDir(i.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return counts, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		err := filepath.WalkDir(filepath.Join(i.root, entry.Name()), func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
				counts[entry.Name()]++
				total++
			}
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to walk label directory: %w", err)
		}
	}

	return counts, total, nil
}

// CheckWritable verifies the training root accepts new files
func (i *Ingestor) CheckWritable() error {
	f, err := os.CreateTemp(i.root, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
