package domain

import (
	"errors"
	"reflect"
	"testing"

	"github.com/eleven-am/loom/internal/xjson"
)

func TestAddJobAppendsAndEmitsPatches(t *testing.T) {
	w := fixtureWorkflow()
	cmd := NewAddJob(Job{Name: "Notify", Adaptor: "@openfn/language-common@2.0.0", Enabled: true}, &Position{X: 360, Y: 240})

	if cmd.Job.ID == "" {
		t.Fatal("expected the constructor to assign an id")
	}

	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(next.Jobs) != 3 || next.Jobs[2].Name != "Notify" {
		t.Errorf("expected the job appended, got %+v", next.Jobs)
	}
	if len(patches) != 2 {
		t.Fatalf("expected a job patch and a position patch, got %d", len(patches))
	}
	if patches[0].Op != PatchAdd || patches[0].Path != "/jobs/2" {
		t.Errorf("unexpected job patch %+v", patches[0])
	}
	if patches[1].Op != PatchAdd || patches[1].Path != "/positions/"+cmd.Job.ID {
		t.Errorf("unexpected position patch %+v", patches[1])
	}
	if len(w.Jobs) != 2 {
		t.Error("apply mutated its input workflow")
	}
}

func TestAddJobRejectsDuplicateID(t *testing.T) {
	w := fixtureWorkflow()
	cmd := AddJob{Job: Job{ID: "job-a", Name: "Copy"}}

	if _, _, err := cmd.Apply(w); err == nil {
		t.Fatal("expected a duplicate id to be rejected")
	} else if GetErrorCategory(err) != CategoryValidation {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestAddJobRejectsBothCredentials(t *testing.T) {
	w := fixtureWorkflow()
	cmd := NewAddJob(Job{
		Name:                 "Push upstream",
		ProjectCredentialID:  strPtr("pc-1"),
		KeychainCredentialID: strPtr("kc-1"),
	}, nil)

	if _, _, err := cmd.Apply(w); err == nil {
		t.Fatal("expected both credentials set to be rejected")
	}
}

func TestUpdateJobRenameEmitsSinglePatch(t *testing.T) {
	w := fixtureWorkflow()
	cmd := UpdateJob{ID: "job-a", Update: JobUpdate{Name: strPtr("Fetch all records")}}

	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(patches) != 1 {
		t.Fatalf("expected exactly one patch for a rename, got %d: %+v", len(patches), patches)
	}
	if patches[0].Op != PatchReplace || patches[0].Path != "/jobs/0/name" {
		t.Errorf("unexpected patch %+v", patches[0])
	}

	var renamed string
	if err := xjson.Unmarshal(patches[0].Value, &renamed); err != nil || renamed != "Fetch all records" {
		t.Errorf("expected the patch to carry the new name, got %q (%v)", renamed, err)
	}
	if next.Jobs[0].Name != "Fetch all records" {
		t.Errorf("expected the job renamed, got %q", next.Jobs[0].Name)
	}
}

func TestUpdateJobNoChangeEmitsNothing(t *testing.T) {
	w := fixtureWorkflow()
	cmd := UpdateJob{ID: "job-a", Update: JobUpdate{Name: strPtr("Fetch records"), Enabled: boolPtr(true)}}

	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(patches) != 0 {
		t.Errorf("expected no patches for a no-op update, got %+v", patches)
	}
	if !reflect.DeepEqual(next, w) {
		t.Error("expected the state to pass through unchanged")
	}
}

func TestUpdateJobSwitchingCredentialClearsOther(t *testing.T) {
	w := fixtureWorkflow()
	w.Jobs[0].ProjectCredentialID = strPtr("pc-1")

	cmd := UpdateJob{ID: "job-a", Update: JobUpdate{KeychainCredentialID: strPtr("kc-9")}}
	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	job := next.Jobs[0]
	if job.KeychainCredentialID == nil || *job.KeychainCredentialID != "kc-9" {
		t.Errorf("expected the keychain credential assigned, got %+v", job.KeychainCredentialID)
	}
	if job.ProjectCredentialID != nil {
		t.Errorf("expected the project credential cleared, got %v", *job.ProjectCredentialID)
	}
	if len(patches) != 2 {
		t.Fatalf("expected patches for both credential fields, got %+v", patches)
	}
	for _, p := range patches {
		if p.Op != PatchReplace {
			t.Errorf("expected replace patches, got %+v", p)
		}
	}
}

func TestUpdateJobClearCredential(t *testing.T) {
	w := fixtureWorkflow()
	w.Jobs[0].ProjectCredentialID = strPtr("pc-1")

	cmd := UpdateJob{ID: "job-a", Update: JobUpdate{ProjectCredentialID: strPtr("")}}
	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if next.Jobs[0].ProjectCredentialID != nil {
		t.Error("expected the credential cleared")
	}
	if len(patches) != 1 || patches[0].Path != "/jobs/0/project_credential_id" {
		t.Fatalf("unexpected patches %+v", patches)
	}
	if string(patches[0].Value) != "null" {
		t.Errorf("expected a null patch value, got %s", patches[0].Value)
	}
}

func TestUpdateJobNotFound(t *testing.T) {
	w := fixtureWorkflow()
	cmd := UpdateJob{ID: "ghost", Update: JobUpdate{Name: strPtr("x")}}

	_, _, err := cmd.Apply(w)
	if err == nil {
		t.Fatal("expected an error for an unknown job")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound in the chain, got %v", err)
	}
}

func TestRemoveJobMissingIsNoOp(t *testing.T) {
	w := fixtureWorkflow()

	next, patches, err := RemoveJob{ID: "ghost"}.Apply(w)
	if err != nil {
		t.Fatalf("expected removing a missing job to succeed, got %v", err)
	}
	if patches != nil {
		t.Errorf("expected no patches, got %+v", patches)
	}
	if !reflect.DeepEqual(next, w) {
		t.Error("expected the state to pass through unchanged")
	}
}

func TestRemoveJobRemovesPosition(t *testing.T) {
	w := fixtureWorkflow()

	next, patches, err := RemoveJob{ID: "job-b"}.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(next.Jobs) != 1 {
		t.Errorf("expected one job to remain, got %+v", next.Jobs)
	}
	if _, ok := next.Positions["job-b"]; ok {
		t.Error("expected the job's position entry removed")
	}
	if len(patches) != 2 || patches[0].Path != "/jobs/1" || patches[1].Path != "/positions/job-b" {
		t.Errorf("unexpected patches %+v", patches)
	}
}

func TestAddTriggerValidatesCron(t *testing.T) {
	w := fixtureWorkflow()

	cmd := NewAddTrigger(Trigger{Type: TriggerCron, Enabled: true}, nil)
	if _, _, err := cmd.Apply(w); err == nil {
		t.Fatal("expected a cron trigger without an expression to be rejected")
	}

	cmd = NewAddTrigger(Trigger{Type: TriggerCron, CronExpression: "0 * * * *", Enabled: true}, &Position{X: 0, Y: 200})
	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(next.Triggers) != 2 || len(patches) != 2 {
		t.Errorf("expected the trigger appended with a position, got %d triggers, %d patches", len(next.Triggers), len(patches))
	}
}

func TestUpdateTriggerTypeSwitch(t *testing.T) {
	w := fixtureWorkflow()
	cron := TriggerCron
	cmd := UpdateTrigger{ID: "trigger-1", Update: TriggerUpdate{Type: &cron, CronExpression: strPtr("*/5 * * * *")}}

	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if next.Triggers[0].Type != TriggerCron || next.Triggers[0].CronExpression != "*/5 * * * *" {
		t.Errorf("unexpected trigger %+v", next.Triggers[0])
	}
	if len(patches) != 2 {
		t.Errorf("expected patches for type and cron expression, got %+v", patches)
	}

	// Switching to cron without an expression must fail as a unit.
	cmd = UpdateTrigger{ID: "trigger-1", Update: TriggerUpdate{Type: &cron}}
	if _, _, err := cmd.Apply(w); err == nil {
		t.Fatal("expected the type switch without an expression to be rejected")
	}
}

func TestAddEdgeAppends(t *testing.T) {
	w := fixtureWorkflow()
	cmd := NewAddEdge(Edge{SourceTriggerID: strPtr("trigger-1"), TargetJobID: "job-b", Enabled: true})

	if cmd.Edge.ConditionType != ConditionAlways {
		t.Fatalf("expected the condition to default to always, got %q", cmd.Edge.ConditionType)
	}

	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(next.Edges) != 3 {
		t.Errorf("expected the edge appended, got %+v", next.Edges)
	}
	if len(patches) != 1 || patches[0].Path != "/edges/2" {
		t.Errorf("unexpected patches %+v", patches)
	}
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	w := fixtureWorkflow()
	cmd := NewAddEdge(Edge{SourceJobID: strPtr("job-b"), TargetJobID: "job-a", ConditionType: ConditionAlways})

	if _, _, err := cmd.Apply(w); err == nil {
		t.Fatal("expected a back edge to be rejected")
	}
}

func TestAddEdgeRequiresSingleSource(t *testing.T) {
	w := fixtureWorkflow()

	both := NewAddEdge(Edge{SourceJobID: strPtr("job-a"), SourceTriggerID: strPtr("trigger-1"), TargetJobID: "job-b"})
	if _, _, err := both.Apply(w); err == nil {
		t.Error("expected an edge with two sources to be rejected")
	}

	neither := NewAddEdge(Edge{TargetJobID: "job-b"})
	if _, _, err := neither.Apply(w); err == nil {
		t.Error("expected an edge with no source to be rejected")
	}
}

func TestUpdateEdgeConditionSwitch(t *testing.T) {
	w := fixtureWorkflow()
	expr := ConditionExpression
	cmd := UpdateEdge{ID: "edge-2", Update: EdgeUpdate{
		ConditionType:       &expr,
		ConditionExpression: strPtr("state.data.count > 0"),
	}}

	next, patches, err := cmd.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	edge := next.Edges[1]
	if edge.ConditionType != ConditionExpression || edge.ConditionExpression != "state.data.count > 0" {
		t.Errorf("unexpected edge %+v", edge)
	}
	if len(patches) != 2 {
		t.Errorf("expected patches for both condition fields, got %+v", patches)
	}

	bare := UpdateEdge{ID: "edge-2", Update: EdgeUpdate{ConditionType: &expr}}
	if _, _, err := bare.Apply(w); err == nil {
		t.Fatal("expected an expression condition without text to be rejected")
	}
}

func TestRemoveEdgeMissingIsNoOp(t *testing.T) {
	w := fixtureWorkflow()

	next, patches, err := RemoveEdge{ID: "ghost"}.Apply(w)
	if err != nil || patches != nil {
		t.Fatalf("expected a silent no-op, got patches=%+v err=%v", patches, err)
	}
	if !reflect.DeepEqual(next, w) {
		t.Error("expected the state to pass through unchanged")
	}
}

func TestMoveNodeUpsertsPosition(t *testing.T) {
	w := fixtureWorkflow()
	delete(w.Positions, "job-b")

	moved, patches, err := MoveNode{ID: "job-a", Position: Position{X: 500, Y: 80}}.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if patches[0].Op != PatchReplace {
		t.Errorf("expected a replace for an existing position, got %+v", patches[0])
	}
	if moved.Positions["job-a"] != (Position{X: 500, Y: 80}) {
		t.Errorf("unexpected position %+v", moved.Positions["job-a"])
	}

	placed, patches, err := MoveNode{ID: "job-b", Position: Position{X: 240, Y: 160}}.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if patches[0].Op != PatchAdd {
		t.Errorf("expected an add for a first position, got %+v", patches[0])
	}
	if placed.Positions["job-b"] != (Position{X: 240, Y: 160}) {
		t.Errorf("unexpected position %+v", placed.Positions["job-b"])
	}

	if _, _, err := (MoveNode{ID: "edge-1", Position: Position{}}).Apply(w); err == nil {
		t.Error("expected moving an edge id to be rejected")
	}
}

func TestMoveNodeSamePositionIsNoOp(t *testing.T) {
	w := fixtureWorkflow()

	_, patches, err := MoveNode{ID: "job-a", Position: Position{X: 120, Y: 80}}.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if patches != nil {
		t.Errorf("expected no patches for an unchanged position, got %+v", patches)
	}
}

func TestRenameWorkflow(t *testing.T) {
	w := fixtureWorkflow()

	next, patches, err := RenameWorkflow{Name: "Hourly Sync"}.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if next.Name != "Hourly Sync" {
		t.Errorf("expected the workflow renamed, got %q", next.Name)
	}
	if len(patches) != 1 || patches[0].Path != "/name" || patches[0].Op != PatchReplace {
		t.Errorf("unexpected patches %+v", patches)
	}

	if _, patches, err := (RenameWorkflow{Name: "Nightly Sync"}).Apply(w); err != nil || patches != nil {
		t.Errorf("expected a same-name rename to be a no-op, got patches=%+v err=%v", patches, err)
	}
	if _, _, err := (RenameWorkflow{}).Apply(w); err == nil {
		t.Error("expected an empty name to be rejected")
	}
}

func TestBatchConcatenatesPatches(t *testing.T) {
	w := fixtureWorkflow()
	batch := NewBatch(
		RemoveEdge{ID: "edge-2"},
		RemoveJob{ID: "job-b"},
	)

	next, patches, err := batch.Apply(w)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(next.Jobs) != 1 || len(next.Edges) != 1 {
		t.Errorf("expected the edge and job removed, got %d jobs, %d edges", len(next.Jobs), len(next.Edges))
	}
	if len(patches) != 3 {
		t.Fatalf("expected three patches in one set, got %+v", patches)
	}
	if patches[0].Path != "/edges/1" || patches[1].Path != "/jobs/1" || patches[2].Path != "/positions/job-b" {
		t.Errorf("unexpected patch paths %+v", patches)
	}
}

func TestBatchIsAtomic(t *testing.T) {
	w := fixtureWorkflow()
	batch := NewBatch(
		NewAddJob(Job{Name: "Notify"}, nil),
		NewAddEdge(Edge{SourceJobID: strPtr("job-b"), TargetJobID: "job-a", ConditionType: ConditionAlways}),
	)

	next, patches, err := batch.Apply(w)
	if err == nil {
		t.Fatal("expected the failing edge to abort the batch")
	}
	if patches != nil {
		t.Errorf("expected no patches from an aborted batch, got %+v", patches)
	}
	if !reflect.DeepEqual(next, w) {
		t.Error("expected the original state back from an aborted batch")
	}
}

func TestCommandTypeString(t *testing.T) {
	tests := []struct {
		ct   CommandType
		want string
	}{
		{CommandAddJob, "ADD_JOB"},
		{CommandUpdateJob, "UPDATE_JOB"},
		{CommandRemoveJob, "REMOVE_JOB"},
		{CommandAddTrigger, "ADD_TRIGGER"},
		{CommandUpdateTrigger, "UPDATE_TRIGGER"},
		{CommandRemoveTrigger, "REMOVE_TRIGGER"},
		{CommandAddEdge, "ADD_EDGE"},
		{CommandUpdateEdge, "UPDATE_EDGE"},
		{CommandRemoveEdge, "REMOVE_EDGE"},
		{CommandMoveNode, "MOVE_NODE"},
		{CommandRenameWorkflow, "RENAME_WORKFLOW"},
		{CommandBatch, "BATCH"},
		{CommandType(255), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.ct.String(); got != tt.want {
			t.Errorf("CommandType(%d).String() = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func boolPtr(b bool) *bool { return &b }
