package types

// ProcessStatus is the lifecycle state of a run process.
type ProcessStatus string

// Process statuses: pending -> running -> (done | stopped | exec-error).
const (
	StatusPending   ProcessStatus = "pending"
	StatusRunning   ProcessStatus = "running"
	StatusDone      ProcessStatus = "done"
	StatusStopped   ProcessStatus = "stopped"
	StatusExecError ProcessStatus = "exec-error"
)

// IsTerminal returns true if no further transitions are possible.
func (s ProcessStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusStopped || s == StatusExecError
}

// IsTracked returns true if the process counts toward the scheduler's table.
func (s ProcessStatus) IsTracked() bool {
	return s == StatusPending || s == StatusRunning
}

// StopReason distinguishes an intentional stop from an unexpected exit.
// The zero value means no stop was recorded.
type StopReason string

const (
	StopOnDemand StopReason = "on-demand"
	StopCrash    StopReason = "crash"
)
