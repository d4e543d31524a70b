package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type CommandType uint8

const (
	CommandAddJob CommandType = iota
	CommandUpdateJob
	CommandRemoveJob
	CommandAddTrigger
	CommandUpdateTrigger
	CommandRemoveTrigger
	CommandAddEdge
	CommandUpdateEdge
	CommandRemoveEdge
	CommandMoveNode
	CommandRenameWorkflow
	CommandBatch
)

func (c CommandType) String() string {
	switch c {
	case CommandAddJob:
		return "ADD_JOB"
	case CommandUpdateJob:
		return "UPDATE_JOB"
	case CommandRemoveJob:
		return "REMOVE_JOB"
	case CommandAddTrigger:
		return "ADD_TRIGGER"
	case CommandUpdateTrigger:
		return "UPDATE_TRIGGER"
	case CommandRemoveTrigger:
		return "REMOVE_TRIGGER"
	case CommandAddEdge:
		return "ADD_EDGE"
	case CommandUpdateEdge:
		return "UPDATE_EDGE"
	case CommandRemoveEdge:
		return "REMOVE_EDGE"
	case CommandMoveNode:
		return "MOVE_NODE"
	case CommandRenameWorkflow:
		return "RENAME_WORKFLOW"
	case CommandBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// Command is one editor mutation. Apply never mutates its input: it
// returns the next state together with the patch set describing exactly
// what changed, with paths resolved against the state at diff time.
type Command interface {
	Type() CommandType
	Apply(w Workflow) (Workflow, []Patch, error)
}

type AddJob struct {
	Job      Job       `json:"job"`
	Position *Position `json:"position,omitempty"`
}

// NewAddJob assigns an id when the job carries none, so replaying the
// command is deterministic.
func NewAddJob(job Job, position *Position) AddJob {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	return AddJob{Job: job, Position: position}
}

func (c AddJob) Type() CommandType { return CommandAddJob }

func (c AddJob) Apply(w Workflow) (Workflow, []Patch, error) {
	if c.Job.ID == "" {
		return w, nil, NewValidationError("job id is required", nil)
	}
	if c.Job.Name == "" {
		return w, nil, NewValidationError("job name is required", nil)
	}
	if c.Job.ProjectCredentialID != nil && c.Job.KeychainCredentialID != nil {
		return w, nil, NewValidationError("invalid job: project and keychain credentials are mutually exclusive", nil)
	}
	if idTaken(w, c.Job.ID) {
		return w, nil, NewValidationError("duplicate id: "+c.Job.ID, nil)
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	idx := len(next.Jobs)
	next.Jobs = append(next.Jobs, c.Job)

	p, err := NewAddPatch(fmt.Sprintf("/jobs/%d", idx), c.Job)
	if err != nil {
		return w, nil, err
	}
	patches := []Patch{p}

	if c.Position != nil {
		next.Positions[c.Job.ID] = *c.Position
		pp, err := NewAddPatch(pointerPath("positions", c.Job.ID), *c.Position)
		if err != nil {
			return w, nil, err
		}
		patches = append(patches, pp)
	}

	return next, patches, nil
}

// JobUpdate names the fields an UpdateJob touches. Nil fields are left
// alone. Credential fields use the empty string to mean "clear";
// assigning one credential clears the other.
type JobUpdate struct {
	Name                 *string `json:"name,omitempty"`
	Body                 *string `json:"body,omitempty"`
	Adaptor              *string `json:"adaptor,omitempty"`
	Enabled              *bool   `json:"enabled,omitempty"`
	ProjectCredentialID  *string `json:"project_credential_id,omitempty"`
	KeychainCredentialID *string `json:"keychain_credential_id,omitempty"`
}

type UpdateJob struct {
	ID     string    `json:"id"`
	Update JobUpdate `json:"update"`
}

func (c UpdateJob) Type() CommandType { return CommandUpdateJob }

func (c UpdateJob) Apply(w Workflow) (Workflow, []Patch, error) {
	idx := w.JobIndex(c.ID)
	if idx < 0 {
		return w, nil, NewValidationError("job not found: "+c.ID, ErrNotFound)
	}
	if p, k := c.Update.ProjectCredentialID, c.Update.KeychainCredentialID; p != nil && k != nil && *p != "" && *k != "" {
		return w, nil, NewValidationError("invalid update: project and keychain credentials are mutually exclusive", nil)
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	job := &next.Jobs[idx]
	base := fmt.Sprintf("/jobs/%d", idx)
	var patches []Patch

	appendReplace := func(path string, value any) error {
		p, err := NewReplacePatch(path, value)
		if err != nil {
			return err
		}
		patches = append(patches, p)
		return nil
	}

	if v := c.Update.Name; v != nil && *v != job.Name {
		if *v == "" {
			return w, nil, NewValidationError("job name is required", nil)
		}
		job.Name = *v
		if err := appendReplace(base+"/name", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.Body; v != nil && *v != job.Body {
		job.Body = *v
		if err := appendReplace(base+"/body", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.Adaptor; v != nil && *v != job.Adaptor {
		job.Adaptor = *v
		if err := appendReplace(base+"/adaptor", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.Enabled; v != nil && *v != job.Enabled {
		job.Enabled = *v
		if err := appendReplace(base+"/enabled", *v); err != nil {
			return w, nil, err
		}
	}

	if v := c.Update.ProjectCredentialID; v != nil {
		var target *string
		if *v != "" {
			target = v
		}
		if !strPtrEq(job.ProjectCredentialID, target) {
			job.ProjectCredentialID = target
			if err := appendReplace(base+"/project_credential_id", target); err != nil {
				return w, nil, err
			}
		}
		if target != nil && job.KeychainCredentialID != nil {
			job.KeychainCredentialID = nil
			if err := appendReplace(base+"/keychain_credential_id", nil); err != nil {
				return w, nil, err
			}
		}
	}
	if v := c.Update.KeychainCredentialID; v != nil {
		var target *string
		if *v != "" {
			target = v
		}
		if !strPtrEq(job.KeychainCredentialID, target) {
			job.KeychainCredentialID = target
			if err := appendReplace(base+"/keychain_credential_id", target); err != nil {
				return w, nil, err
			}
		}
		if target != nil && job.ProjectCredentialID != nil {
			job.ProjectCredentialID = nil
			if err := appendReplace(base+"/project_credential_id", nil); err != nil {
				return w, nil, err
			}
		}
	}

	if len(patches) == 0 {
		return w, nil, nil
	}
	return next, patches, nil
}

type RemoveJob struct {
	ID string `json:"id"`
}

func (c RemoveJob) Type() CommandType { return CommandRemoveJob }

// Apply is a no-op when the job is already gone.
func (c RemoveJob) Apply(w Workflow) (Workflow, []Patch, error) {
	idx := w.JobIndex(c.ID)
	if idx < 0 {
		return w, nil, nil
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	next.Jobs = append(next.Jobs[:idx], next.Jobs[idx+1:]...)
	patches := []Patch{NewRemovePatch(fmt.Sprintf("/jobs/%d", idx))}

	if _, ok := next.Positions[c.ID]; ok {
		delete(next.Positions, c.ID)
		patches = append(patches, NewRemovePatch(pointerPath("positions", c.ID)))
	}

	return next, patches, nil
}

type AddTrigger struct {
	Trigger  Trigger   `json:"trigger"`
	Position *Position `json:"position,omitempty"`
}

func NewAddTrigger(trigger Trigger, position *Position) AddTrigger {
	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}
	return AddTrigger{Trigger: trigger, Position: position}
}

func (c AddTrigger) Type() CommandType { return CommandAddTrigger }

func (c AddTrigger) Apply(w Workflow) (Workflow, []Patch, error) {
	if c.Trigger.ID == "" {
		return w, nil, NewValidationError("trigger id is required", nil)
	}
	if err := validateTrigger(c.Trigger); err != nil {
		return w, nil, err
	}
	if idTaken(w, c.Trigger.ID) {
		return w, nil, NewValidationError("duplicate id: "+c.Trigger.ID, nil)
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	idx := len(next.Triggers)
	next.Triggers = append(next.Triggers, c.Trigger)

	p, err := NewAddPatch(fmt.Sprintf("/triggers/%d", idx), c.Trigger)
	if err != nil {
		return w, nil, err
	}
	patches := []Patch{p}

	if c.Position != nil {
		next.Positions[c.Trigger.ID] = *c.Position
		pp, err := NewAddPatch(pointerPath("positions", c.Trigger.ID), *c.Position)
		if err != nil {
			return w, nil, err
		}
		patches = append(patches, pp)
	}

	return next, patches, nil
}

type TriggerUpdate struct {
	Type           *TriggerType `json:"type,omitempty"`
	Enabled        *bool        `json:"enabled,omitempty"`
	CronExpression *string      `json:"cron_expression,omitempty"`
	HasAuthMethod  *bool        `json:"has_auth_method,omitempty"`
}

type UpdateTrigger struct {
	ID     string        `json:"id"`
	Update TriggerUpdate `json:"update"`
}

func (c UpdateTrigger) Type() CommandType { return CommandUpdateTrigger }

func (c UpdateTrigger) Apply(w Workflow) (Workflow, []Patch, error) {
	idx := w.TriggerIndex(c.ID)
	if idx < 0 {
		return w, nil, NewValidationError("trigger not found: "+c.ID, ErrNotFound)
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	trigger := &next.Triggers[idx]
	base := fmt.Sprintf("/triggers/%d", idx)
	var patches []Patch

	appendReplace := func(path string, value any) error {
		p, err := NewReplacePatch(path, value)
		if err != nil {
			return err
		}
		patches = append(patches, p)
		return nil
	}

	if v := c.Update.Type; v != nil && *v != trigger.Type {
		trigger.Type = *v
		if err := appendReplace(base+"/type", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.Enabled; v != nil && *v != trigger.Enabled {
		trigger.Enabled = *v
		if err := appendReplace(base+"/enabled", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.CronExpression; v != nil && *v != trigger.CronExpression {
		trigger.CronExpression = *v
		if err := appendReplace(base+"/cron_expression", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.HasAuthMethod; v != nil && *v != trigger.HasAuthMethod {
		trigger.HasAuthMethod = *v
		if err := appendReplace(base+"/has_auth_method", *v); err != nil {
			return w, nil, err
		}
	}

	if err := validateTrigger(*trigger); err != nil {
		return w, nil, err
	}

	if len(patches) == 0 {
		return w, nil, nil
	}
	return next, patches, nil
}

type RemoveTrigger struct {
	ID string `json:"id"`
}

func (c RemoveTrigger) Type() CommandType { return CommandRemoveTrigger }

func (c RemoveTrigger) Apply(w Workflow) (Workflow, []Patch, error) {
	idx := w.TriggerIndex(c.ID)
	if idx < 0 {
		return w, nil, nil
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	next.Triggers = append(next.Triggers[:idx], next.Triggers[idx+1:]...)
	patches := []Patch{NewRemovePatch(fmt.Sprintf("/triggers/%d", idx))}

	if _, ok := next.Positions[c.ID]; ok {
		delete(next.Positions, c.ID)
		patches = append(patches, NewRemovePatch(pointerPath("positions", c.ID)))
	}

	return next, patches, nil
}

type AddEdge struct {
	Edge Edge `json:"edge"`
}

func NewAddEdge(edge Edge) AddEdge {
	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	if edge.ConditionType == "" {
		edge.ConditionType = ConditionAlways
	}
	return AddEdge{Edge: edge}
}

func (c AddEdge) Type() CommandType { return CommandAddEdge }

func (c AddEdge) Apply(w Workflow) (Workflow, []Patch, error) {
	if err := ValidateEdge(w, c.Edge); err != nil {
		return w, nil, err
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	idx := len(next.Edges)
	next.Edges = append(next.Edges, c.Edge)

	p, err := NewAddPatch(fmt.Sprintf("/edges/%d", idx), c.Edge)
	if err != nil {
		return w, nil, err
	}

	return next, []Patch{p}, nil
}

type EdgeUpdate struct {
	ConditionType       *ConditionType `json:"condition_type,omitempty"`
	ConditionExpression *string        `json:"condition_expression,omitempty"`
	Enabled             *bool          `json:"enabled,omitempty"`
}

type UpdateEdge struct {
	ID     string     `json:"id"`
	Update EdgeUpdate `json:"update"`
}

func (c UpdateEdge) Type() CommandType { return CommandUpdateEdge }

func (c UpdateEdge) Apply(w Workflow) (Workflow, []Patch, error) {
	idx := w.EdgeIndex(c.ID)
	if idx < 0 {
		return w, nil, NewValidationError("edge not found: "+c.ID, ErrNotFound)
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	edge := &next.Edges[idx]
	base := fmt.Sprintf("/edges/%d", idx)
	var patches []Patch

	appendReplace := func(path string, value any) error {
		p, err := NewReplacePatch(path, value)
		if err != nil {
			return err
		}
		patches = append(patches, p)
		return nil
	}

	if v := c.Update.ConditionType; v != nil && *v != edge.ConditionType {
		edge.ConditionType = *v
		if err := appendReplace(base+"/condition_type", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.ConditionExpression; v != nil && *v != edge.ConditionExpression {
		edge.ConditionExpression = *v
		if err := appendReplace(base+"/condition_expression", *v); err != nil {
			return w, nil, err
		}
	}
	if v := c.Update.Enabled; v != nil && *v != edge.Enabled {
		edge.Enabled = *v
		if err := appendReplace(base+"/enabled", *v); err != nil {
			return w, nil, err
		}
	}

	if err := validateEdgeCondition(*edge); err != nil {
		return w, nil, err
	}

	if len(patches) == 0 {
		return w, nil, nil
	}
	return next, patches, nil
}

type RemoveEdge struct {
	ID string `json:"id"`
}

func (c RemoveEdge) Type() CommandType { return CommandRemoveEdge }

func (c RemoveEdge) Apply(w Workflow) (Workflow, []Patch, error) {
	idx := w.EdgeIndex(c.ID)
	if idx < 0 {
		return w, nil, nil
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	next.Edges = append(next.Edges[:idx], next.Edges[idx+1:]...)

	return next, []Patch{NewRemovePatch(fmt.Sprintf("/edges/%d", idx))}, nil
}

type MoveNode struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
}

func (c MoveNode) Type() CommandType { return CommandMoveNode }

func (c MoveNode) Apply(w Workflow) (Workflow, []Patch, error) {
	if w.JobIndex(c.ID) < 0 && w.TriggerIndex(c.ID) < 0 {
		return w, nil, NewValidationError("node not found: "+c.ID, ErrNotFound)
	}

	current, exists := w.Positions[c.ID]
	if exists && current == c.Position {
		return w, nil, nil
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	next.Positions[c.ID] = c.Position

	path := pointerPath("positions", c.ID)
	var p Patch
	if exists {
		p, err = NewReplacePatch(path, c.Position)
	} else {
		p, err = NewAddPatch(path, c.Position)
	}
	if err != nil {
		return w, nil, err
	}

	return next, []Patch{p}, nil
}

type RenameWorkflow struct {
	Name string `json:"name"`
}

func (c RenameWorkflow) Type() CommandType { return CommandRenameWorkflow }

func (c RenameWorkflow) Apply(w Workflow) (Workflow, []Patch, error) {
	if c.Name == "" {
		return w, nil, NewValidationError("workflow name is required", nil)
	}
	if c.Name == w.Name {
		return w, nil, nil
	}

	next, err := w.Clone()
	if err != nil {
		return w, nil, err
	}
	next.Name = c.Name

	p, err := NewReplacePatch("/name", c.Name)
	if err != nil {
		return w, nil, err
	}

	return next, []Patch{p}, nil
}

// Batch applies its commands in order and reports their patches as one
// set, so a multi-entity edit reaches the server as a single round trip.
// Application is atomic: any failure leaves the original state untouched.
type Batch struct {
	Commands []Command `json:"-"`
}

func NewBatch(commands ...Command) Batch {
	return Batch{Commands: commands}
}

func (c Batch) Type() CommandType { return CommandBatch }

func (c Batch) Apply(w Workflow) (Workflow, []Patch, error) {
	next := w
	var patches []Patch
	for _, cmd := range c.Commands {
		applied, ps, err := cmd.Apply(next)
		if err != nil {
			return w, nil, err
		}
		next = applied
		patches = append(patches, ps...)
	}
	return next, patches, nil
}

func validateTrigger(t Trigger) error {
	switch t.Type {
	case TriggerWebhook, TriggerKafka:
	case TriggerCron:
		if t.CronExpression == "" {
			return NewValidationError("cron expression is required", nil)
		}
	default:
		return NewValidationError(fmt.Sprintf("invalid trigger type: %q", t.Type), nil)
	}
	return nil
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
