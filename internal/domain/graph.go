package domain

import "fmt"

// idTaken reports whether an id is already used by any node or edge.
// Ids share one namespace so selection and position lookups stay
// unambiguous.
func idTaken(w Workflow, id string) bool {
	return w.JobIndex(id) >= 0 || w.TriggerIndex(id) >= 0 || w.EdgeIndex(id) >= 0
}

// ValidateEdge checks an edge against the workflow it is about to join:
// a unique id, exactly one source endpoint, endpoints that resolve, a
// well-formed condition, and no job cycle.
func ValidateEdge(w Workflow, e Edge) error {
	if e.ID == "" {
		return NewValidationError("edge id is required", nil)
	}
	if idTaken(w, e.ID) {
		return NewValidationError("duplicate id: "+e.ID, nil)
	}

	hasJobSource := e.SourceJobID != nil && *e.SourceJobID != ""
	hasTriggerSource := e.SourceTriggerID != nil && *e.SourceTriggerID != ""
	if hasJobSource == hasTriggerSource {
		return NewValidationError("invalid edge: exactly one source endpoint is required", nil)
	}
	if e.TargetJobID == "" {
		return NewValidationError("edge target is required", nil)
	}
	if w.JobIndex(e.TargetJobID) < 0 {
		return NewValidationError("edge target not found: "+e.TargetJobID, nil)
	}

	if hasJobSource {
		if w.JobIndex(*e.SourceJobID) < 0 {
			return NewValidationError("edge source not found: "+*e.SourceJobID, nil)
		}
		if WouldCreateCycle(w, *e.SourceJobID, e.TargetJobID) {
			return NewValidationError("edge would create a cycle", nil)
		}
	} else if w.TriggerIndex(*e.SourceTriggerID) < 0 {
		return NewValidationError("edge source not found: "+*e.SourceTriggerID, nil)
	}

	return validateEdgeCondition(e)
}

func validateEdgeCondition(e Edge) error {
	switch e.ConditionType {
	case ConditionOnSuccess, ConditionOnFailure, ConditionAlways:
	case ConditionExpression:
		if e.ConditionExpression == "" {
			return NewValidationError("condition expression is required", nil)
		}
	default:
		return NewValidationError(fmt.Sprintf("invalid condition type: %q", e.ConditionType), nil)
	}
	return nil
}

// WouldCreateCycle reports whether a job edge from source to target
// would close a loop in the job graph. Trigger-sourced edges never
// participate in cycles because triggers have no incoming edges.
func WouldCreateCycle(w Workflow, sourceJobID, targetJobID string) bool {
	if sourceJobID == targetJobID {
		return true
	}

	adjacency := jobAdjacency(w)
	seen := make(map[string]bool)
	stack := []string{targetJobID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == sourceJobID {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, adjacency[id]...)
	}
	return false
}

// ValidateWorkflow checks structural invariants across a whole
// document: unique ids, resolvable edge endpoints, well-formed
// conditions, and an acyclic job graph. Snapshots arriving from the
// server pass through here before they replace local state.
func ValidateWorkflow(w Workflow) error {
	ids := make(map[string]bool, len(w.Jobs)+len(w.Triggers)+len(w.Edges))
	claim := func(id string) error {
		if id == "" {
			return NewValidationError("id is required", nil)
		}
		if ids[id] {
			return NewValidationError("duplicate id: "+id, nil)
		}
		ids[id] = true
		return nil
	}

	for _, j := range w.Jobs {
		if err := claim(j.ID); err != nil {
			return err
		}
	}
	for _, t := range w.Triggers {
		if err := claim(t.ID); err != nil {
			return err
		}
		if err := validateTrigger(t); err != nil {
			return err
		}
	}
	for _, e := range w.Edges {
		if err := claim(e.ID); err != nil {
			return err
		}
		hasJobSource := e.SourceJobID != nil && *e.SourceJobID != ""
		hasTriggerSource := e.SourceTriggerID != nil && *e.SourceTriggerID != ""
		if hasJobSource == hasTriggerSource {
			return NewValidationError("invalid edge "+e.ID+": exactly one source endpoint is required", nil)
		}
		if hasJobSource && w.JobIndex(*e.SourceJobID) < 0 {
			return NewValidationError("edge source not found: "+*e.SourceJobID, nil)
		}
		if hasTriggerSource && w.TriggerIndex(*e.SourceTriggerID) < 0 {
			return NewValidationError("edge source not found: "+*e.SourceTriggerID, nil)
		}
		if w.JobIndex(e.TargetJobID) < 0 {
			return NewValidationError("edge target not found: "+e.TargetJobID, nil)
		}
		if err := validateEdgeCondition(e); err != nil {
			return err
		}
	}

	if jobGraphHasCycle(w) {
		return NewValidationError("cycle detected in job graph", nil)
	}
	return nil
}

func jobAdjacency(w Workflow) map[string][]string {
	adjacency := make(map[string][]string)
	for _, e := range w.Edges {
		if e.SourceJobID == nil || *e.SourceJobID == "" {
			continue
		}
		adjacency[*e.SourceJobID] = append(adjacency[*e.SourceJobID], e.TargetJobID)
	}
	return adjacency
}

func jobGraphHasCycle(w Workflow) bool {
	adjacency := jobAdjacency(w)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(w.Jobs))

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		for _, next := range adjacency[id] {
			switch state[next] {
			case visiting:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for _, j := range w.Jobs {
		if state[j.ID] == unvisited && visit(j.ID) {
			return true
		}
	}
	return false
}
