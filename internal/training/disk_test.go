package training

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedUsage(percent float64, calls *int) func(string) (*DiskUsage, error) {
	return func(string) (*DiskUsage, error) {
		if calls != nil {
			*calls++
		}
		return &DiskUsage{TotalBytes: 100, UsedBytes: int64(percent), AvailableBytes: 100 - int64(percent), UsagePercent: percent}, nil
	}
}

func TestDiskMonitor_Usage(t *testing.T) {
	monitor := NewDiskMonitor(t.TempDir(), 80)

	usage, err := monitor.Usage()
	require.NoError(t, err)
	assert.Greater(t, usage.TotalBytes, int64(0))
	assert.GreaterOrEqual(t, usage.AvailableBytes, int64(0))
	assert.GreaterOrEqual(t, usage.UsagePercent, 0.0)
	assert.LessOrEqual(t, usage.UsagePercent, 100.0)
}

func TestDiskMonitor_MissingPath(t *testing.T) {
	monitor := NewDiskMonitor(filepath.Join(t.TempDir(), "absent"), 80)

	_, err := monitor.Usage()
	assert.Error(t, err)
}

func TestDiskMonitor_HasSpace(t *testing.T) {
	tests := []struct {
		name    string
		limit   float64
		percent float64
		want    bool
	}{
		{"below limit", 90, 50, true},
		{"at limit", 90, 90, false},
		{"above limit", 90, 97, false},
		{"guard disabled", 100, 99.9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewDiskMonitor(t.TempDir(), tt.limit)
			monitor.statfs = fixedUsage(tt.percent, nil)

			ok, err := monitor.HasSpace()
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestDiskMonitor_CachesUsage(t *testing.T) {
	calls := 0
	monitor := NewDiskMonitor(t.TempDir(), 90)
	monitor.statfs = fixedUsage(10, &calls)

	for i := 0; i < 5; i++ {
		_, err := monitor.Usage()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	monitor.cacheDuration = 0
	_, err := monitor.Usage()
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDiskMonitor_StatError(t *testing.T) {
	monitor := NewDiskMonitor(t.TempDir(), 90)
	monitor.statfs = func(string) (*DiskUsage, error) {
		return nil, errors.New("statfs failed")
	}

	ok, err := monitor.HasSpace()
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestIngest_RefusesFilesWhenDiskFull(t *testing.T) {
	ing, sink := newTestIngestor(t, 0)
	monitor := NewDiskMonitor(ing.Root(), 90)
	monitor.statfs = fixedUsage(95, nil)
	monitor.cacheDuration = time.Hour
	ing.SetDiskMonitor(monitor)

	result, err := ing.Ingest(context.Background(), "cat", []Upload{
		bytesUpload("a.png", "image/png", pngBytes(t)),
		bytesUpload("b.png", "image/png", pngBytes(t)),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.SavedCount)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, ErrInsufficientSpace.Error(), result.Errors[0].Error)

	_, statErr := os.Stat(filepath.Join(ing.Root(), "cat"))
	assert.True(t, os.IsNotExist(statErr))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "failure", string(sink.events[0].Status))
}

func TestIngest_StatErrorDoesNotBlockUploads(t *testing.T) {
	ing, _ := newTestIngestor(t, 0)
	monitor := NewDiskMonitor(ing.Root(), 90)
	monitor.statfs = func(string) (*DiskUsage, error) {
		return nil, errors.New("statfs failed")
	}
	ing.SetDiskMonitor(monitor)

	result, err := ing.Ingest(context.Background(), "cat", []Upload{
		bytesUpload("a.png", "image/png", pngBytes(t)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SavedCount)
}
