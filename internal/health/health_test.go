package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-detect/internal/logger"
	"github.com/vzahanych/view-guard-detect/internal/service"
)

type modelStub struct {
	err error
}

func (m modelStub) ID() string       { return "yolov8n.pt" }
func (m modelStub) Available() bool  { return m.err == nil }
func (m modelStub) LoadError() error { return m.err }

type probeStub struct{ err error }

func (p probeStub) HealthCheck(ctx context.Context) error { return p.err }
func (p probeStub) Ping(ctx context.Context) error        { return p.err }

type dirStub struct{ err error }

func (d dirStub) Root() string         { return "/data/training" }
func (d dirStub) CheckWritable() error { return d.err }

func TestManager_AllHealthy(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), nil)
	m.RegisterChecker(NewModelChecker(modelStub{}, probeStub{}))
	m.RegisterChecker(NewStoreChecker(probeStub{}))
	m.RegisterChecker(NewUploadDirChecker(dirStub{}))

	report := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 3)
	assert.Equal(t, StatusHealthy, report.Checks["history_store"].Status)
}

func TestManager_MissingStoreIsDegraded(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), nil)
	m.RegisterChecker(NewModelChecker(modelStub{}, nil))
	m.RegisterChecker(NewStoreChecker(nil))

	report := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Checks["history_store"].Status)
}

func TestManager_ModelUnavailableIsUnhealthy(t *testing.T) {
	m := NewManager(logger.NewNopLogger(), nil)
	m.RegisterChecker(NewModelChecker(modelStub{err: errors.New("weights missing")}, nil))
	m.RegisterChecker(NewStoreChecker(nil))

	report := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks["model"].Message, "weights missing")
}

func TestCheckers_Degraded(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, StatusDegraded, NewModelChecker(modelStub{}, probeStub{err: errors.New("503")}).Check(ctx).Status)
	assert.Equal(t, StatusDegraded, NewStoreChecker(probeStub{err: errors.New("closed")}).Check(ctx).Status)
	assert.Equal(t, StatusDegraded, NewUploadDirChecker(dirStub{err: errors.New("read-only")}).Check(ctx).Status)
}

type fullDirStub struct {
	dirStub
	hasSpace bool
	spaceErr error
}

func (d fullDirStub) HasSpace() (bool, error) { return d.hasSpace, d.spaceErr }

func TestUploadDirChecker_DiskSpace(t *testing.T) {
	ctx := context.Background()

	check := NewUploadDirChecker(fullDirStub{hasSpace: false}).Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "nearly full")

	check = NewUploadDirChecker(fullDirStub{hasSpace: true}).Check(ctx)
	assert.Equal(t, StatusHealthy, check.Status)

	check = NewUploadDirChecker(fullDirStub{spaceErr: errors.New("statfs failed")}).Check(ctx)
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "statfs failed", check.Details["disk_error"])
}

type svcStub struct {
	name     string
	startErr error
}

func (s svcStub) Start(ctx context.Context) error { return s.startErr }
func (s svcStub) Stop(ctx context.Context) error  { return nil }
func (s svcStub) Name() string                    { return s.name }

func TestManager_ReportsServices(t *testing.T) {
	svcMgr := service.NewManager(logger.NewNopLogger())
	svcMgr.Register(svcStub{name: "event-logger"})
	svcMgr.Register(svcStub{name: "web-server", startErr: errors.New("address in use")})
	require.Error(t, svcMgr.Start(context.Background()))

	m := NewManager(logger.NewNopLogger(), svcMgr)
	report := m.Check(context.Background())
	require.Len(t, report.Services, 2)

	// The event logger was rolled back when the web server failed
	stopped := report.Services["event-logger"].(map[string]interface{})
	assert.Equal(t, service.StatusStopped, stopped["status"])
	assert.NotContains(t, stopped, "uptime")

	failed := report.Services["web-server"].(map[string]interface{})
	assert.Equal(t, service.StatusError, failed["status"])
	assert.Equal(t, "address in use", failed["error"])
	assert.NotContains(t, failed, "uptime")
}

func TestManager_ReportsRunningServiceUptime(t *testing.T) {
	svcMgr := service.NewManager(logger.NewNopLogger())
	svcMgr.Register(svcStub{name: "event-logger"})
	require.NoError(t, svcMgr.Start(context.Background()))

	report := NewManager(logger.NewNopLogger(), svcMgr).Check(context.Background())

	running := report.Services["event-logger"].(map[string]interface{})
	assert.Equal(t, service.StatusRunning, running["status"])
	assert.Contains(t, running, "uptime")
}
