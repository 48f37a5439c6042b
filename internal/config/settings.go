package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Interval bounds for the periodic run, in minutes.
const (
	MinIntervalMinutes     = 5
	MaxIntervalMinutes     = 1440
	DefaultIntervalMinutes = 30
)

// SchedulerSettings is the process-wide scheduler configuration that
// survives restarts.
type SchedulerSettings struct {
	IntervalMinutes  int  `yaml:"interval_minutes"`
	NotifyOnComplete bool `yaml:"notify_on_complete"`
}

// DefaultSchedulerSettings returns the settings used before anything is saved.
func DefaultSchedulerSettings() SchedulerSettings {
	return SchedulerSettings{IntervalMinutes: DefaultIntervalMinutes}
}

// ValidInterval reports whether minutes is within [MinIntervalMinutes, MaxIntervalMinutes].
func ValidInterval(minutes int) bool {
	return minutes >= MinIntervalMinutes && minutes <= MaxIntervalMinutes
}

// SettingsFile persists SchedulerSettings as YAML.
type SettingsFile struct {
	path string
	mu   sync.Mutex
}

// NewSettingsFile returns a store backed by path. The file is created on first Save.
func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: ExpandPath(path)}
}

// Load reads the settings, returning defaults when the file does not exist yet.
func (f *SettingsFile) Load() (SchedulerSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSchedulerSettings(), nil
	}
	if err != nil {
		return SchedulerSettings{}, fmt.Errorf("reading scheduler settings: %w", err)
	}

	settings := DefaultSchedulerSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return SchedulerSettings{}, fmt.Errorf("parsing scheduler settings: %w", err)
	}
	if !ValidInterval(settings.IntervalMinutes) {
		return SchedulerSettings{}, fmt.Errorf("parsing scheduler settings: interval %d outside [%d, %d]",
			settings.IntervalMinutes, MinIntervalMinutes, MaxIntervalMinutes)
	}
	return settings, nil
}

// Save writes the settings atomically.
func (f *SettingsFile) Save(settings SchedulerSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling scheduler settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing scheduler settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("writing scheduler settings: %w", err)
	}
	return nil
}
