package model

import "time"

// Trigger identifies what started a run.
type Trigger string

// Trigger constants.
const (
	TriggerScheduled   Trigger = "scheduled"
	TriggerManualRange Trigger = "manual-range"
)

// RunStatus is the phase of a run.
type RunStatus string

// Run status constants.
const (
	RunIdle        RunStatus = "idle"
	RunFetching    RunStatus = "fetching"
	RunFiltering   RunStatus = "filtering"
	RunExtracting  RunStatus = "extracting"
	RunSummarizing RunStatus = "summarizing"
	RunDone        RunStatus = "done"
	RunFailed      RunStatus = "failed"
)

// Active reports whether the run still holds the run slot.
func (s RunStatus) Active() bool {
	switch s {
	case RunFetching, RunFiltering, RunExtracting, RunSummarizing:
		return true
	default:
		return false
	}
}

// RunState is the live progress of one run.
type RunState struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
	Range            DateRange `json:"range"`
	RunID            string    `json:"run_id"`
	Trigger          Trigger   `json:"trigger"`
	Status           RunStatus `json:"status"`
	CurrentMessageID string    `json:"current_message_id,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	TotalCandidates  int       `json:"total_candidates"`
	ProcessedCount   int       `json:"processed_count"`
	ExtractedCount   int       `json:"extracted_count"`
	FailedCount      int       `json:"failed_count"`
	SkippedCount     int       `json:"skipped_count"`
	Halted           bool      `json:"halted"`
}

// Lifecycle is the scheduler's start/stop axis.
type Lifecycle string

// Lifecycle constants.
const (
	LifecycleStopped Lifecycle = "stopped"
	LifecycleRunning Lifecycle = "running"
)

// Snapshot is the status payload handed to observers.
type Snapshot struct {
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Run       *RunState  `json:"run,omitempty"`
	Lifecycle Lifecycle  `json:"lifecycle"`
}

// Processing reports whether a run is active in this snapshot.
func (s Snapshot) Processing() bool {
	return s.Run != nil && s.Run.Status.Active()
}
