package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-detect/internal/logger"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	if mgr == nil {
		t.Fatal("NewManager returned nil")
	}

	if len(mgr.GetAllStatuses()) != 0 {
		t.Errorf("Expected 0 services, got %d", len(mgr.GetAllStatuses()))
	}
}

func TestManager_Register(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	mgr.Register(&mockService{name: "test-service"})

	if len(mgr.GetAllStatuses()) != 1 {
		t.Errorf("Expected 1 service, got %d", len(mgr.GetAllStatuses()))
	}

	status := mgr.GetAllStatuses()["test-service"]
	if status == nil {
		t.Fatal("Service status should be created")
	}

	if status.GetStatus() != StatusStopped {
		t.Errorf("Expected status %s, got %s", StatusStopped, status.GetStatus())
	}
}

func TestManager_Start(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	mockSvc := &mockService{name: "test-service"}
	mgr.Register(mockSvc)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := mgr.GetAllStatuses()["test-service"]
	if !status.IsRunning() {
		t.Errorf("Expected status %s, got %s", StatusRunning, status.GetStatus())
	}

	if !mockSvc.started {
		t.Error("Service should have been started")
	}
}

func TestManager_Start_ServiceErrorRollsBack(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	first := &mockService{name: "first"}
	failing := &mockService{name: "failing-service", startError: errors.New("start failed")}
	never := &mockService{name: "never"}
	mgr.Register(first)
	mgr.Register(failing)
	mgr.Register(never)

	err := mgr.Start(context.Background())
	if err == nil {
		t.Fatal("Start should fail when a service fails to start")
	}

	status := mgr.GetAllStatuses()["failing-service"]
	if status.GetStatus() != StatusError {
		t.Errorf("Expected status %s, got %s", StatusError, status.GetStatus())
	}

	if !first.stopped {
		t.Error("Already started services should be stopped on failure")
	}

	if never.started {
		t.Error("Services after the failing one should not start")
	}
}

func TestManager_Shutdown_ReverseOrder(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	var stopOrder []string
	for _, name := range []string{"service-1", "service-2", "service-3"} {
		name := name
		mgr.Register(&mockService{
			name:   name,
			onStop: func() { stopOrder = append(stopOrder, name) },
		})
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if len(stopOrder) != 3 {
		t.Fatalf("Expected 3 services stopped, got %d", len(stopOrder))
	}

	expected := []string{"service-3", "service-2", "service-1"}
	for i, name := range expected {
		if stopOrder[i] != name {
			t.Errorf("Expected %s at position %d, got %s", name, i, stopOrder[i])
		}
	}

	for name, status := range mgr.GetAllStatuses() {
		if status.GetStatus() != StatusStopped {
			t.Errorf("Service %s should be stopped, got %s", name, status.GetStatus())
		}
	}
}

func TestManager_Shutdown_StopError(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "bad-stop", stopError: errors.New("stop failed")})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown should not fail on stop errors: %v", err)
	}

	if mgr.GetAllStatuses()["bad-stop"].GetError() == nil {
		t.Error("Stop error should be recorded")
	}
}

func TestManager_Shutdown_Timeout(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "slow-service", stopDelay: 500 * time.Millisecond})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err == nil {
		t.Error("Shutdown should timeout and return error")
	}

	// Let the stop goroutine finish
	time.Sleep(600 * time.Millisecond)
}

type mockService struct {
	name       string
	started    bool
	stopped    bool
	startError error
	stopError  error
	stopDelay  time.Duration
	onStop     func()
}

func (m *mockService) Name() string {
	return m.name
}

func (m *mockService) Start(ctx context.Context) error {
	if m.startError != nil {
		return m.startError
	}
	m.started = true
	return nil
}

func (m *mockService) Stop(ctx context.Context) error {
	if m.stopDelay > 0 {
		time.Sleep(m.stopDelay)
	}
	if m.onStop != nil {
		m.onStop()
	}
	if m.stopError != nil {
		return m.stopError
	}
	m.stopped = true
	return nil
}
