package monitoring

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

// DiskStatus is a point-in-time usage reading for the state volume.
type DiskStatus struct {
	Path        string  `json:"path"`
	UsedPercent float64 `json:"used_percent"`
	FreeBytes   uint64  `json:"free_bytes"`
	Warning     bool    `json:"warning"`
}

// UsageFunc reads disk usage for a path.
type UsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// DiskMonitor warns when the state directory's volume fills up. It never
// blocks a cycle.
type DiskMonitor struct {
	path      string
	threshold float64
	usage     UsageFunc
	logger    *logrus.Logger
}

// NewDiskMonitor watches path and warns above thresholdPct (0-100).
func NewDiskMonitor(path string, thresholdPct float64, logger *logrus.Logger) *DiskMonitor {
	return &DiskMonitor{
		path:      path,
		threshold: thresholdPct,
		usage:     disk.UsageWithContext,
		logger:    logger,
	}
}

// Check reads usage and logs a warning above the threshold.
func (m *DiskMonitor) Check(ctx context.Context) (*DiskStatus, error) {
	stat, err := m.usage(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", m.path, err)
	}

	status := &DiskStatus{
		Path:        m.path,
		UsedPercent: stat.UsedPercent,
		FreeBytes:   stat.Free,
		Warning:     stat.UsedPercent > m.threshold,
	}

	fields := logrus.Fields{
		"path":         m.path,
		"used_percent": fmt.Sprintf("%.1f", stat.UsedPercent),
		"threshold":    m.threshold,
	}
	if status.Warning {
		m.logger.WithFields(fields).Warn("Disk usage above threshold")
	} else {
		m.logger.WithFields(fields).Debug("Disk usage healthy")
	}
	return status, nil
}
