package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-detect/internal/logger"
	"github.com/vzahanych/view-guard-detect/internal/metrics"
	"github.com/vzahanych/view-guard-detect/internal/service"
)

// DefaultWriteTimeout bounds a single store write
const DefaultWriteTimeout = 2 * time.Second

// EventLogger is the best-effort writer of audit events. It never returns
// errors to callers. Without a store it runs permanently in degraded mode
// and every call is a no-op.
type EventLogger struct {
	*service.ServiceBase

	store   DocumentStore
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

type insertResult struct {
	id  string
	err error
}

// NewEventLogger creates an event logger. A nil store selects degraded mode.
func NewEventLogger(store DocumentStore, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *EventLogger {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &EventLogger{
		ServiceBase: service.NewServiceBase("event-logger", log),
		store:       store,
		timeout:     timeout,
		metrics:     m,
		now:         time.Now,
	}
}

// Degraded reports whether persistence is disabled for the process lifetime
func (l *EventLogger) Degraded() bool {
	return l.store == nil
}

// Store returns the underlying document store, or nil in degraded mode
func (l *EventLogger) Store() DocumentStore {
	return l.store
}

// Log stamps the event with the current UTC time and writes it, waiting at
// most the write timeout. It returns the stored id and true on success.
func (l *EventLogger) Log(ctx context.Context, ev Event) (string, bool) {
	if l.store == nil {
		l.metrics.RecordHistoryEvent(ev.eventType(), metrics.OutcomeDegraded)
		return "", false
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		l.metrics.RecordHistoryEvent(ev.eventType(), metrics.OutcomeDropped)
		return "", false
	}
	l.pending.Add(1)
	l.mu.RUnlock()
	defer l.pending.Done()

	return l.write(ctx, ev)
}

// LogAsync writes the event in the background. The caller never waits on the store.
func (l *EventLogger) LogAsync(ev Event) {
	if l.store == nil {
		l.metrics.RecordHistoryEvent(ev.eventType(), metrics.OutcomeDegraded)
		return
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		l.metrics.RecordHistoryEvent(ev.eventType(), metrics.OutcomeDropped)
		return
	}
	l.pending.Add(1)
	l.mu.RUnlock()

	go func() {
		defer l.pending.Done()
		l.write(context.Background(), ev)
	}()
}

func (l *EventLogger) write(ctx context.Context, ev Event) (string, bool) {
	ts := l.now().UTC()
	ev.stamp(ts)

	body, err := json.Marshal(ev)
	if err != nil {
		l.drop(ev, fmt.Errorf("failed to marshal event: %w", err))
		return "", false
	}

	// Request cancellation must not abort the audit write, only the timeout does
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	rec := Record{
		Type:      ev.eventType(),
		Status:    ev.eventStatus(),
		Timestamp: ts,
		Body:      body,
	}

	done := make(chan insertResult, 1)
	go func() {
		id, err := l.store.Insert(writeCtx, rec)
		done <- insertResult{id: id, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			l.drop(ev, res.err)
			return "", false
		}
		l.metrics.RecordHistoryEvent(ev.eventType(), metrics.OutcomeWritten)
		l.LogDebug("Event logged", "type", ev.eventType(), "id", res.id)
		return res.id, true
	case <-writeCtx.Done():
		l.drop(ev, fmt.Errorf("store write timed out after %v", l.timeout))
		return "", false
	}
}

func (l *EventLogger) drop(ev Event, err error) {
	l.metrics.RecordHistoryEvent(ev.eventType(), metrics.OutcomeDropped)
	l.LogWarn("Failed to log event, dropping", "type", ev.eventType(), "error", err)
}

// Start implements service.Service. The store is opened before the logger is built.
func (l *EventLogger) Start(ctx context.Context) error {
	if l.store == nil {
		l.LogWarn("History store not configured or unreachable, events will not be persisted")
	}
	return nil
}

// Stop rejects new events, drains in-flight writes and closes the store
func (l *EventLogger) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("waiting for pending events: %w", ctx.Err())
	}

	if l.store != nil {
		return l.store.Close()
	}
	return nil
}
