package domain

import (
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }

func fixtureWorkflow() Workflow {
	return Workflow{
		ID:          "wf-1",
		Name:        "Nightly Sync",
		LockVersion: 3,
		Jobs: []Job{
			{ID: "job-a", Name: "Fetch records", Body: "fn(state => state);", Adaptor: "@openfn/language-http@6.0.0", Enabled: true},
			{ID: "job-b", Name: "Transform records", Body: "fn(state => state);", Adaptor: "@openfn/language-common@2.0.0", Enabled: true},
		},
		Triggers: []Trigger{
			{ID: "trigger-1", Type: TriggerWebhook, Enabled: true},
		},
		Edges: []Edge{
			{ID: "edge-1", SourceTriggerID: strPtr("trigger-1"), TargetJobID: "job-a", ConditionType: ConditionAlways, Enabled: true},
			{ID: "edge-2", SourceJobID: strPtr("job-a"), TargetJobID: "job-b", ConditionType: ConditionOnSuccess, Enabled: true},
		},
		Positions: map[string]Position{
			"trigger-1": {X: 0, Y: 0},
			"job-a":     {X: 120, Y: 80},
			"job-b":     {X: 240, Y: 160},
		},
	}
}

func TestNormalizedFillsContainers(t *testing.T) {
	w := Workflow{ID: "wf-1", Name: "Empty"}.Normalized()

	if w.Jobs == nil || w.Triggers == nil || w.Edges == nil || w.Positions == nil {
		t.Error("expected all collections to be non-nil after normalization")
	}
	if len(w.Jobs) != 0 || len(w.Positions) != 0 {
		t.Error("expected normalized collections to be empty")
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := fixtureWorkflow()
	clone, err := original.Clone()
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}

	if !reflect.DeepEqual(clone, original) {
		t.Fatal("expected clone to equal the original")
	}

	clone.Jobs[0].Name = "Mutated"
	clone.Positions["job-a"] = Position{X: -1, Y: -1}
	clone.Edges[1].SourceJobID = strPtr("job-b")

	if original.Jobs[0].Name != "Fetch records" {
		t.Error("mutating a cloned job leaked into the original")
	}
	if original.Positions["job-a"] != (Position{X: 120, Y: 80}) {
		t.Error("mutating a cloned position leaked into the original")
	}
	if *original.Edges[1].SourceJobID != "job-a" {
		t.Error("mutating a cloned edge leaked into the original")
	}
}

func TestFinders(t *testing.T) {
	w := fixtureWorkflow()

	if job, ok := w.FindJob("job-b"); !ok || job.Name != "Transform records" {
		t.Errorf("expected to find job-b, got ok=%v job=%+v", ok, job)
	}
	if _, ok := w.FindJob("missing"); ok {
		t.Error("expected FindJob to miss for an unknown id")
	}
	if trigger, ok := w.FindTrigger("trigger-1"); !ok || trigger.Type != TriggerWebhook {
		t.Errorf("expected to find trigger-1, got ok=%v trigger=%+v", ok, trigger)
	}
	if edge, ok := w.FindEdge("edge-2"); !ok || edge.TargetJobID != "job-b" {
		t.Errorf("expected to find edge-2, got ok=%v edge=%+v", ok, edge)
	}
	if w.JobIndex("job-a") != 0 || w.EdgeIndex("edge-2") != 1 {
		t.Error("index lookups returned wrong positions")
	}
}

func TestEdgesTouching(t *testing.T) {
	w := fixtureWorkflow()

	got := w.EdgesTouching("job-a")
	want := []string{"edge-1", "edge-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected edges %v touching job-a, got %v", want, got)
	}

	if got := w.EdgesTouching("trigger-1"); !reflect.DeepEqual(got, []string{"edge-1"}) {
		t.Errorf("expected [edge-1] touching trigger-1, got %v", got)
	}
	if got := w.EdgesTouching("nowhere"); got != nil {
		t.Errorf("expected no edges for an unknown id, got %v", got)
	}
}

func TestSelectionIsEmpty(t *testing.T) {
	if !(Selection{}).IsEmpty() {
		t.Error("zero selection should be empty")
	}
	if (Selection{Kind: NodeJob, ID: "job-a"}).IsEmpty() {
		t.Error("populated selection should not be empty")
	}
}
