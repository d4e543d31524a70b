package domain

import (
	"fmt"
	"time"

	"github.com/eleven-am/loom/internal/xjson"
)

type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunStarted RunStatus = "started"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunCrashed RunStatus = "crashed"
)

// RunRequest asks the server to execute a workflow once from an explicit
// entry point. At most one of StartJobID and StartTriggerID may be set;
// both empty means the workflow's default trigger.
type RunRequest struct {
	WorkflowID     string `json:"workflow_id"`
	StartJobID     string `json:"start_job_id,omitempty"`
	StartTriggerID string `json:"start_trigger_id,omitempty"`
	// DataclipID references stored input; Input carries ad hoc JSON.
	DataclipID   string           `json:"dataclip_id,omitempty"`
	Input        xjson.RawMessage `json:"input,omitempty"`
	RetryOfRunID string           `json:"retry_of_run_id,omitempty"`
}

func (r RunRequest) Validate() error {
	if r.WorkflowID == "" {
		return NewValidationError("invalid run request: workflow id is required", ErrInvalidInput)
	}
	if r.StartJobID != "" && r.StartTriggerID != "" {
		return NewValidationError("invalid run request: job and trigger entry points are mutually exclusive", ErrInvalidInput)
	}
	if r.DataclipID != "" && len(r.Input) > 0 {
		return NewValidationError("invalid run request: dataclip and custom input are mutually exclusive", ErrInvalidInput)
	}
	if len(r.Input) > 0 && !xjson.Valid(r.Input) {
		return NewValidationError("invalid run request: input is not valid JSON", ErrInvalidInput)
	}
	return nil
}

// RunState is the server's view of one run, reflected into the editor
// state so the UI can render progress.
type RunState struct {
	RunID      string     `json:"run_id"`
	WorkflowID string     `json:"workflow_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func (s RunState) Finished() bool {
	switch s.Status {
	case RunSuccess, RunFailed, RunCrashed:
		return true
	default:
		return false
	}
}

func (s RunState) String() string {
	return fmt.Sprintf("run %s [%s]", s.RunID, s.Status)
}
