package ai

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vzahanych/view-guard-detect/internal/intake"
	"github.com/vzahanych/view-guard-detect/internal/logger"
	"github.com/vzahanych/view-guard-detect/internal/metrics"
	"github.com/vzahanych/view-guard-detect/internal/service"
)

// ModelConfig contains configuration for the process-wide model
type ModelConfig struct {
	ID       string        // Model identifier
	Workers  int           // Max concurrent inference calls
	LoadWait time.Duration // Bound on the one-time load at startup
}

// Model is the process-wide detection model. It is loaded once; a failed
// load leaves it permanently unavailable for the process lifetime.
type Model struct {
	*service.ServiceBase

	detector Detector
	metrics  *metrics.Metrics
	id       string
	labels   LabelTable
	loadErr  error

	workers int64
	sem     *semaphore.Weighted
}

type inferResult struct {
	raw RawResult
	err error
}

// NewModel loads the model through detector. It never fails: a load error
// is recorded and every later Run returns ErrModelUnavailable.
func NewModel(ctx context.Context, detector Detector, cfg ModelConfig, log *logger.Logger, m *metrics.Metrics) *Model {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	model := &Model{
		ServiceBase: service.NewServiceBase("model", log),
		detector:    detector,
		metrics:     m,
		id:          cfg.ID,
		workers:     int64(workers),
		sem:         semaphore.NewWeighted(int64(workers)),
	}

	loadCtx := ctx
	if cfg.LoadWait > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, cfg.LoadWait)
		defer cancel()
	}

	labels, err := detector.Load(loadCtx, cfg.ID)
	if err != nil {
		model.loadErr = err
		model.LogError("Failed to load model, detection disabled", err, "model", cfg.ID)
		return model
	}

	model.labels = labels
	model.LogInfo("Model loaded", "model", cfg.ID, "classes", len(labels), "workers", workers)
	return model
}

// ID returns the configured model identifier
func (m *Model) ID() string {
	return m.id
}

// Available reports whether the model loaded successfully
func (m *Model) Available() bool {
	return m.loadErr == nil
}

// LoadError returns the startup load error, if any
func (m *Model) LoadError() error {
	return m.loadErr
}

// Labels returns the label table reported at load time
func (m *Model) Labels() LabelTable {
	return m.labels
}

// Run performs inference off the calling goroutine, bounded by the worker pool.
// Errors are ErrModelUnavailable or wrap ErrInferenceFailed.
func (m *Model) Run(ctx context.Context, img *intake.Image) (RawResult, error) {
	if m.loadErr != nil {
		return nil, ErrModelUnavailable
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for worker: %v", ErrInferenceFailed, err)
	}

	start := time.Now()
	done := make(chan inferResult, 1)
	go func() {
		defer m.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- inferResult{err: fmt.Errorf("panic in detector: %v", r)}
			}
		}()
		raw, err := m.detector.Infer(ctx, img)
		done <- inferResult{raw: raw, err: err}
	}()

	var res inferResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = inferResult{err: ctx.Err()}
	}

	objects := 0
	if res.err == nil && res.raw != nil {
		objects = res.raw.Len()
	}
	m.metrics.RecordInference(time.Since(start).Seconds(), objects, res.err)

	if res.err != nil {
		if errors.Is(res.err, ErrInferenceFailed) {
			return nil, res.err
		}
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, res.err)
	}
	if res.raw == nil {
		return nil, fmt.Errorf("%w: detector returned no result", ErrInferenceFailed)
	}
	return res.raw, nil
}

// Start implements service.Service. Loading happens in NewModel.
func (m *Model) Start(ctx context.Context) error {
	return nil
}

// Stop waits for in-flight inferences to finish
func (m *Model) Stop(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, m.workers); err != nil {
		return fmt.Errorf("waiting for in-flight inferences: %w", err)
	}
	m.sem.Release(m.workers)
	return nil
}
