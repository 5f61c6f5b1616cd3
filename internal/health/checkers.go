package health

import (
	"context"
	"fmt"
	"time"
)

// ModelState is the view of the model the checker needs
type ModelState interface {
	ID() string
	Available() bool
	LoadError() error
}

// RemoteProbe reports whether a remote dependency is ready
type RemoteProbe interface {
	HealthCheck(ctx context.Context) error
}

// ModelChecker reports unhealthy when the model failed to load and degraded
// when the model service stops answering its readiness probe.
type ModelChecker struct {
	model ModelState
	probe RemoteProbe
}

func NewModelChecker(model ModelState, probe RemoteProbe) *ModelChecker {
	return &ModelChecker{model: model, probe: probe}
}

func (c *ModelChecker) Name() string {
	return "model"
}

func (c *ModelChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"model": c.model.ID()},
	}

	if !c.model.Available() {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Model failed to load: %v", c.model.LoadError())
		return check
	}

	if c.probe != nil {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := c.probe.HealthCheck(ctx); err != nil {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Model service not ready: %v", err)
			return check
		}
	}

	check.Status = StatusHealthy
	check.Message = "Model loaded"
	return check
}

// Pinger is anything that can verify its connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker checks the history document store. A missing store is degraded, never unhealthy.
type StoreChecker struct {
	store Pinger
}

func NewStoreChecker(store Pinger) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) Name() string {
	return "history_store"
}

func (c *StoreChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	if c.store == nil {
		check.Status = StatusDegraded
		check.Message = "History store not configured or unreachable at startup; events are not persisted"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("History store ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "History store connection OK"
	return check
}

// WritableDir is a directory that can verify it accepts writes
type WritableDir interface {
	Root() string
	CheckWritable() error
}

// SpaceReporter is optionally implemented by a WritableDir that tracks free space
type SpaceReporter interface {
	HasSpace() (bool, error)
}

// UploadDirChecker checks the training upload root
type UploadDirChecker struct {
	dir WritableDir
}

func NewUploadDirChecker(dir WritableDir) *UploadDirChecker {
	return &UploadDirChecker{dir: dir}
}

func (c *UploadDirChecker) Name() string {
	return "upload_dir"
}

func (c *UploadDirChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": c.dir.Root()},
	}

	if err := c.dir.CheckWritable(); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Upload directory not writable: %v", err)
		return check
	}

	if sr, ok := c.dir.(SpaceReporter); ok {
		hasSpace, err := sr.HasSpace()
		switch {
		case err != nil:
			check.Details["disk_error"] = err.Error()
		case !hasSpace:
			check.Status = StatusDegraded
			check.Message = "Upload directory disk nearly full"
			return check
		}
	}

	check.Status = StatusHealthy
	check.Message = "Upload directory writable"
	return check
}
