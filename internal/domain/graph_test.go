package domain

import "testing"

func chainWorkflow() Workflow {
	return Workflow{
		ID:   "wf-chain",
		Name: "Chain",
		Jobs: []Job{
			{ID: "a", Name: "A", Enabled: true},
			{ID: "b", Name: "B", Enabled: true},
			{ID: "c", Name: "C", Enabled: true},
		},
		Triggers: []Trigger{
			{ID: "t", Type: TriggerWebhook, Enabled: true},
		},
		Edges: []Edge{
			{ID: "e-ta", SourceTriggerID: strPtr("t"), TargetJobID: "a", ConditionType: ConditionAlways},
			{ID: "e-ab", SourceJobID: strPtr("a"), TargetJobID: "b", ConditionType: ConditionOnSuccess},
			{ID: "e-bc", SourceJobID: strPtr("b"), TargetJobID: "c", ConditionType: ConditionOnSuccess},
		},
	}
}

func TestWouldCreateCycle(t *testing.T) {
	w := chainWorkflow()

	tests := []struct {
		name   string
		source string
		target string
		want   bool
	}{
		{name: "self loop", source: "a", target: "a", want: true},
		{name: "direct back edge", source: "b", target: "a", want: true},
		{name: "transitive back edge", source: "c", target: "a", want: true},
		{name: "forward shortcut", source: "a", target: "c", want: false},
		{name: "parallel edge", source: "a", target: "b", want: false},
		{name: "one hop back edge", source: "c", target: "b", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WouldCreateCycle(w, tt.source, tt.target); got != tt.want {
				t.Errorf("WouldCreateCycle(%s -> %s) = %v, want %v", tt.source, tt.target, got, tt.want)
			}
		})
	}
}

func TestValidateEdge(t *testing.T) {
	w := chainWorkflow()

	tests := []struct {
		name    string
		edge    Edge
		wantErr bool
	}{
		{
			name: "valid job source",
			edge: Edge{ID: "e-new", SourceJobID: strPtr("a"), TargetJobID: "c", ConditionType: ConditionAlways},
		},
		{
			name: "valid trigger source",
			edge: Edge{ID: "e-new", SourceTriggerID: strPtr("t"), TargetJobID: "b", ConditionType: ConditionAlways},
		},
		{
			name:    "missing id",
			edge:    Edge{SourceJobID: strPtr("a"), TargetJobID: "c", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "duplicate id",
			edge:    Edge{ID: "e-ab", SourceJobID: strPtr("a"), TargetJobID: "c", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "two sources",
			edge:    Edge{ID: "e-new", SourceJobID: strPtr("a"), SourceTriggerID: strPtr("t"), TargetJobID: "c", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "no source",
			edge:    Edge{ID: "e-new", TargetJobID: "c", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "missing target",
			edge:    Edge{ID: "e-new", SourceJobID: strPtr("a"), ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "unknown target",
			edge:    Edge{ID: "e-new", SourceJobID: strPtr("a"), TargetJobID: "ghost", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "unknown job source",
			edge:    Edge{ID: "e-new", SourceJobID: strPtr("ghost"), TargetJobID: "c", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "unknown trigger source",
			edge:    Edge{ID: "e-new", SourceTriggerID: strPtr("ghost"), TargetJobID: "c", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "cycle",
			edge:    Edge{ID: "e-new", SourceJobID: strPtr("c"), TargetJobID: "a", ConditionType: ConditionAlways},
			wantErr: true,
		},
		{
			name:    "unknown condition type",
			edge:    Edge{ID: "e-new", SourceJobID: strPtr("a"), TargetJobID: "c", ConditionType: "sometimes"},
			wantErr: true,
		},
		{
			name:    "expression without text",
			edge:    Edge{ID: "e-new", SourceJobID: strPtr("a"), TargetJobID: "c", ConditionType: ConditionExpression},
			wantErr: true,
		},
		{
			name: "expression with text",
			edge: Edge{ID: "e-new", SourceJobID: strPtr("a"), TargetJobID: "c", ConditionType: ConditionExpression, ConditionExpression: "state.ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEdge(w, tt.edge)
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateWorkflow(t *testing.T) {
	if err := ValidateWorkflow(chainWorkflow()); err != nil {
		t.Fatalf("expected the chain workflow to validate, got %v", err)
	}
	if err := ValidateWorkflow(fixtureWorkflow()); err != nil {
		t.Fatalf("expected the fixture workflow to validate, got %v", err)
	}

	t.Run("duplicate id across collections", func(t *testing.T) {
		w := chainWorkflow()
		w.Edges[0].ID = "a"
		if err := ValidateWorkflow(w); err == nil {
			t.Error("expected a duplicate id to be rejected")
		}
	})

	t.Run("dangling edge target", func(t *testing.T) {
		w := chainWorkflow()
		w.Edges[2].TargetJobID = "ghost"
		if err := ValidateWorkflow(w); err == nil {
			t.Error("expected a dangling target to be rejected")
		}
	})

	t.Run("cycle in job graph", func(t *testing.T) {
		w := chainWorkflow()
		w.Edges = append(w.Edges, Edge{ID: "e-ca", SourceJobID: strPtr("c"), TargetJobID: "a", ConditionType: ConditionAlways})
		if err := ValidateWorkflow(w); err == nil {
			t.Error("expected a cyclic job graph to be rejected")
		}
	})

	t.Run("cron trigger without expression", func(t *testing.T) {
		w := chainWorkflow()
		w.Triggers[0].Type = TriggerCron
		if err := ValidateWorkflow(w); err == nil {
			t.Error("expected a bare cron trigger to be rejected")
		}
	})

	t.Run("edge with two sources", func(t *testing.T) {
		w := chainWorkflow()
		w.Edges[1].SourceTriggerID = strPtr("t")
		if err := ValidateWorkflow(w); err == nil {
			t.Error("expected an edge with two sources to be rejected")
		}
	})
}
