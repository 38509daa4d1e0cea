package models

import (
	"errors"
	"fmt"
)

// ErrUnknownOperation is returned by ParseOperation for a string outside
// the closed operation set.
var ErrUnknownOperation = errors.New("unknown operation")

// Operation is the closed set of fleet-wide deployment operations.
type Operation string

const (
	OpInstall    Operation = "install"
	OpUpdate     Operation = "update"
	OpPushConfig Operation = "pushconfig"
	OpUninstall  Operation = "uninstall"
	OpTest       Operation = "test"
)

// ParseOperation validates an operation string from the API boundary.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpInstall, OpUpdate, OpPushConfig, OpUninstall, OpTest:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
}

// RequiresConfig reports whether the operation needs a stored Sysmon config.
func (o Operation) RequiresConfig() bool {
	return o == OpUpdate || o == OpPushConfig
}

// JobStatus is the lifecycle state of a deployment job.
// Transitions are monotonic: Pending -> Running -> terminal.
type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobRunning             JobStatus = "running"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobCancelled           JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCompletedWithErrors || s == JobCancelled
}

// ResultState is the per-host outcome state within a job.
type ResultState string

const (
	ResultPending   ResultState = "pending"
	ResultSucceeded ResultState = "succeeded"
	ResultFailed    ResultState = "failed"
)

// Terminal reports whether the result state is final.
func (s ResultState) Terminal() bool {
	return s == ResultSucceeded || s == ResultFailed
}

// DispatchMode records which delivery path owns a result row's terminal
// write: direct remote execution, or asynchronous agent completion.
// Decided once at dispatch time so the two paths never race on the same row.
type DispatchMode string

const (
	DispatchDirect DispatchMode = "direct"
	DispatchAgent  DispatchMode = "agent"
)

// ManagementMode describes how a host is reached.
type ManagementMode string

const (
	ManagedDirect ManagementMode = "direct"
	ManagedAgent  ManagementMode = "agent"
)
