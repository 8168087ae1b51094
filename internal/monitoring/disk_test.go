package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskMonitor_Check(t *testing.T) {
	tests := []struct {
		name        string
		usedPercent float64
		wantWarning bool
		wantLevel   logrus.Level
	}{
		{"healthy", 42.0, false, logrus.DebugLevel},
		{"at threshold", 90.0, false, logrus.DebugLevel},
		{"over threshold", 95.5, true, logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)

			m := NewDiskMonitor("/state", 90, logger)
			m.usage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
				assert.Equal(t, "/state", path)
				return &disk.UsageStat{Path: path, UsedPercent: tt.usedPercent, Free: 1024}, nil
			}

			status, err := m.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantWarning, status.Warning)
			assert.Equal(t, uint64(1024), status.FreeBytes)
			assert.Equal(t, tt.wantLevel, hook.LastEntry().Level)
		})
	}
}

func TestDiskMonitor_Error(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewDiskMonitor("/missing", 90, logger)
	m.usage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return nil, errors.New("no such file or directory")
	}

	_, err := m.Check(context.Background())
	assert.Error(t, err)
}

func TestDiskMonitor_RealPath(t *testing.T) {
	logger, _ := test.NewNullLogger()
	status, err := NewDiskMonitor(t.TempDir(), 100, logger).Check(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, status.UsedPercent, 0.0)
	assert.False(t, status.Warning)
}
