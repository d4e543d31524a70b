package domain

import (
	"github.com/eleven-am/loom/internal/xjson"
)

type TriggerType string

const (
	TriggerWebhook TriggerType = "webhook"
	TriggerCron    TriggerType = "cron"
	TriggerKafka   TriggerType = "kafka"
)

type ConditionType string

const (
	ConditionOnSuccess  ConditionType = "on_job_success"
	ConditionOnFailure  ConditionType = "on_job_failure"
	ConditionAlways     ConditionType = "always"
	ConditionExpression ConditionType = "js_expression"
)

// Job is one executable step of a workflow. Body is the unit of
// collaborative text editing. At most one of the credential references
// may be set at a time.
type Job struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Body                 string  `json:"body"`
	Adaptor              string  `json:"adaptor"`
	Enabled              bool    `json:"enabled"`
	ProjectCredentialID  *string `json:"project_credential_id"`
	KeychainCredentialID *string `json:"keychain_credential_id"`
}

type Trigger struct {
	ID             string      `json:"id"`
	Type           TriggerType `json:"type"`
	Enabled        bool        `json:"enabled"`
	CronExpression string      `json:"cron_expression"`
	HasAuthMethod  bool        `json:"has_auth_method"`
}

// Edge is a directed arc in the workflow graph. Exactly one of
// SourceJobID and SourceTriggerID is set; the target is always a job.
type Edge struct {
	ID                  string        `json:"id"`
	SourceJobID         *string       `json:"source_job_id"`
	SourceTriggerID     *string       `json:"source_trigger_id"`
	TargetJobID         string        `json:"target_job_id"`
	ConditionType       ConditionType `json:"condition_type"`
	ConditionExpression string        `json:"condition_expression"`
	Enabled             bool          `json:"enabled"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Workflow struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	LockVersion int64               `json:"lock_version"`
	Jobs        []Job               `json:"jobs"`
	Triggers    []Trigger           `json:"triggers"`
	Edges       []Edge              `json:"edges"`
	Positions   map[string]Position `json:"positions"`
}

// Normalized returns a copy with nil collections replaced by empty ones,
// so the JSON tree always carries the container keys patches point into.
func (w Workflow) Normalized() Workflow {
	if w.Jobs == nil {
		w.Jobs = []Job{}
	}
	if w.Triggers == nil {
		w.Triggers = []Trigger{}
	}
	if w.Edges == nil {
		w.Edges = []Edge{}
	}
	if w.Positions == nil {
		w.Positions = map[string]Position{}
	}
	return w
}

// Clone deep-copies the workflow so callers can mutate the result without
// aliasing the original's slices and maps.
func (w Workflow) Clone() (Workflow, error) {
	clone, err := xjson.Clone(w)
	if err != nil {
		return Workflow{}, NewInternalError("failed to clone workflow", err)
	}
	return clone.Normalized(), nil
}

func (w Workflow) JobIndex(id string) int {
	for i := range w.Jobs {
		if w.Jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (w Workflow) FindJob(id string) (Job, bool) {
	if i := w.JobIndex(id); i >= 0 {
		return w.Jobs[i], true
	}
	return Job{}, false
}

func (w Workflow) TriggerIndex(id string) int {
	for i := range w.Triggers {
		if w.Triggers[i].ID == id {
			return i
		}
	}
	return -1
}

func (w Workflow) FindTrigger(id string) (Trigger, bool) {
	if i := w.TriggerIndex(id); i >= 0 {
		return w.Triggers[i], true
	}
	return Trigger{}, false
}

func (w Workflow) EdgeIndex(id string) int {
	for i := range w.Edges {
		if w.Edges[i].ID == id {
			return i
		}
	}
	return -1
}

func (w Workflow) FindEdge(id string) (Edge, bool) {
	if i := w.EdgeIndex(id); i >= 0 {
		return w.Edges[i], true
	}
	return Edge{}, false
}

// EdgesTouching returns the ids of all edges whose source or target is the
// given node id.
func (w Workflow) EdgesTouching(id string) []string {
	var ids []string
	for _, e := range w.Edges {
		if e.TargetJobID == id ||
			(e.SourceJobID != nil && *e.SourceJobID == id) ||
			(e.SourceTriggerID != nil && *e.SourceTriggerID == id) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

type NodeKind string

const (
	NodeJob     NodeKind = "job"
	NodeTrigger NodeKind = "trigger"
	NodeEdge    NodeKind = "edge"
)

// Selection identifies the node the editor currently has focused, if any.
type Selection struct {
	Kind NodeKind `json:"kind,omitempty"`
	ID   string   `json:"id,omitempty"`
}

func (s Selection) IsEmpty() bool {
	return s.ID == ""
}

// EditorState is the view model both sync paths project into. The workflow
// is the reconciled source of truth; selection and run state are local.
type EditorState struct {
	Workflow  Workflow  `json:"workflow"`
	Selection Selection `json:"selection"`
	LastRun   *RunState `json:"last_run,omitempty"`
}
