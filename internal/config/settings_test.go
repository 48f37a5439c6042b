package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsFile_LoadMissingReturnsDefaults(t *testing.T) {
	f := NewSettingsFile(filepath.Join(t.TempDir(), "scheduler.yaml"))

	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedulerSettings(), got)
}

func TestSettingsFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scheduler.yaml")
	f := NewSettingsFile(path)

	want := SchedulerSettings{IntervalMinutes: 45, NotifyOnComplete: true}
	require.NoError(t, f.Save(want))

	got, err := NewSettingsFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSettingsFile_RejectsOutOfRangeInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval_minutes: 2\n"), 0o600))

	_, err := NewSettingsFile(path).Load()
	assert.Error(t, err)
}

func TestValidInterval(t *testing.T) {
	assert.False(t, ValidInterval(4))
	assert.True(t, ValidInterval(5))
	assert.True(t, ValidInterval(30))
	assert.True(t, ValidInterval(1440))
	assert.False(t, ValidInterval(1441))
}
