package training

import (
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// DiskUsage describes the filesystem holding the training root
type DiskUsage struct {
	TotalBytes     int64
	UsedBytes      int64
	AvailableBytes int64
	UsagePercent   float64
}

// DiskMonitor reports filesystem usage for the training root
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	cacheDuration   time.Duration
	statfs          func(path string) (*DiskUsage, error)

	mu          sync.RWMutex
	lastCheck   time.Time
	cachedUsage *DiskUsage
}

// NewDiskMonitor creates a monitor that reports no space once usage reaches
// maxUsagePercent. A limit of 100 or more never refuses writes.
func NewDiskMonitor(path string, maxUsagePercent float64) *DiskMonitor {
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		cacheDuration:   10 * time.Second,
		statfs:          statfsUsage,
	}
}

// Usage returns current disk usage, cached briefly so batch uploads do not
// stat the filesystem once per file.
func (d *DiskMonitor) Usage() (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.statfs(d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	return usage, nil
}

// HasSpace reports whether usage is below the configured limit
func (d *DiskMonitor) HasSpace() (bool, error) {
	if d.maxUsagePercent >= 100 {
		return true, nil
	}
	usage, err := d.Usage()
	if err != nil {
		return false, err
	}
	return usage.UsagePercent < d.maxUsagePercent, nil
}

func statfsUsage(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	usage := &DiskUsage{
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
	}
	if totalBytes > 0 {
		usage.UsagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}
	return usage, nil
}
