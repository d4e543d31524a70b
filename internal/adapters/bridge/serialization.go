package bridge

import (
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

func newJobMap(doc ports.DocumentPort, job domain.Job) ports.SharedMap {
	m := doc.NewMap()
	m.Set("id", job.ID)
	m.Set("name", job.Name)
	m.Set("adaptor", job.Adaptor)
	m.Set("enabled", job.Enabled)
	m.Set("body", doc.NewText(job.Body))
	if job.ProjectCredentialID != nil {
		m.Set("project_credential_id", *job.ProjectCredentialID)
	}
	if job.KeychainCredentialID != nil {
		m.Set("keychain_credential_id", *job.KeychainCredentialID)
	}
	return m
}

func newTriggerMap(doc ports.DocumentPort, trigger domain.Trigger) ports.SharedMap {
	m := doc.NewMap()
	m.Set("id", trigger.ID)
	m.Set("type", string(trigger.Type))
	m.Set("enabled", trigger.Enabled)
	m.Set("cron_expression", trigger.CronExpression)
	m.Set("has_auth_method", trigger.HasAuthMethod)
	return m
}

func newEdgeMap(doc ports.DocumentPort, edge domain.Edge) ports.SharedMap {
	m := doc.NewMap()
	m.Set("id", edge.ID)
	if edge.SourceJobID != nil && *edge.SourceJobID != "" {
		m.Set("source_job_id", *edge.SourceJobID)
	}
	if edge.SourceTriggerID != nil && *edge.SourceTriggerID != "" {
		m.Set("source_trigger_id", *edge.SourceTriggerID)
	}
	m.Set("target_job_id", edge.TargetJobID)
	m.Set("condition_type", string(edge.ConditionType))
	m.Set("condition_expression", edge.ConditionExpression)
	m.Set("enabled", edge.Enabled)
	return m
}

// setBody rewrites the collaborative text in place so editor widgets
// bound to the same text keep a stable handle across saves.
func setBody(doc ports.DocumentPort, m ports.SharedMap, body string) {
	if v, ok := m.Get("body"); ok {
		if text, ok := v.(ports.SharedText); ok {
			text.Delete(0, text.Len())
			text.Insert(0, body)
			return
		}
	}
	m.Set("body", doc.NewText(body))
}

func setPosition(h handles, id string, pos domain.Position) {
	if v, ok := h.positions.Get(id); ok {
		if m, ok := v.(ports.SharedMap); ok {
			m.Set("x", pos.X)
			m.Set("y", pos.Y)
			return
		}
	}
	m := h.doc.NewMap()
	m.Set("x", pos.X)
	m.Set("y", pos.Y)
	h.positions.Set(id, m)
}

func indexOfID(arr ports.SharedArray, id string) int {
	for i := 0; i < arr.Len(); i++ {
		v, ok := arr.Get(i)
		if !ok {
			continue
		}
		if m, ok := v.(ports.SharedMap); ok && stringAt(m, "id") == id {
			return i
		}
	}
	return -1
}

func findByID(arr ports.SharedArray, id string) (ports.SharedMap, bool) {
	i := indexOfID(arr, id)
	if i < 0 {
		return nil, false
	}
	v, ok := arr.Get(i)
	if !ok {
		return nil, false
	}
	m, ok := v.(ports.SharedMap)
	return m, ok
}

func decodeJobs(arr ports.SharedArray) []domain.Job {
	out := make([]domain.Job, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		v, ok := arr.Get(i)
		if !ok {
			continue
		}
		m, ok := v.(ports.SharedMap)
		if !ok {
			continue
		}
		out = append(out, jobFromMap(m))
	}
	return out
}

func jobFromMap(m ports.SharedMap) domain.Job {
	job := domain.Job{
		ID:      stringAt(m, "id"),
		Name:    stringAt(m, "name"),
		Adaptor: stringAt(m, "adaptor"),
		Enabled: boolAt(m, "enabled"),
	}
	if v, ok := m.Get("body"); ok {
		switch body := v.(type) {
		case ports.SharedText:
			job.Body = body.String()
		case string:
			job.Body = body
		}
	}
	if s := stringAt(m, "project_credential_id"); s != "" {
		job.ProjectCredentialID = &s
	}
	if s := stringAt(m, "keychain_credential_id"); s != "" {
		job.KeychainCredentialID = &s
	}
	return job
}

func decodeTriggers(arr ports.SharedArray) []domain.Trigger {
	out := make([]domain.Trigger, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		v, ok := arr.Get(i)
		if !ok {
			continue
		}
		m, ok := v.(ports.SharedMap)
		if !ok {
			continue
		}
		out = append(out, domain.Trigger{
			ID:             stringAt(m, "id"),
			Type:           domain.TriggerType(stringAt(m, "type")),
			Enabled:        boolAt(m, "enabled"),
			CronExpression: stringAt(m, "cron_expression"),
			HasAuthMethod:  boolAt(m, "has_auth_method"),
		})
	}
	return out
}

func decodeEdges(arr ports.SharedArray) []domain.Edge {
	out := make([]domain.Edge, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		v, ok := arr.Get(i)
		if !ok {
			continue
		}
		m, ok := v.(ports.SharedMap)
		if !ok {
			continue
		}
		edge := domain.Edge{
			ID:                  stringAt(m, "id"),
			TargetJobID:         stringAt(m, "target_job_id"),
			ConditionType:       domain.ConditionType(stringAt(m, "condition_type")),
			ConditionExpression: stringAt(m, "condition_expression"),
			Enabled:             boolAt(m, "enabled"),
		}
		if s := stringAt(m, "source_job_id"); s != "" {
			edge.SourceJobID = &s
		}
		if s := stringAt(m, "source_trigger_id"); s != "" {
			edge.SourceTriggerID = &s
		}
		out = append(out, edge)
	}
	return out
}

func decodePositions(m ports.SharedMap) map[string]domain.Position {
	out := make(map[string]domain.Position, m.Len())
	for _, key := range m.Keys() {
		v, ok := m.Get(key)
		if !ok {
			continue
		}
		switch entry := v.(type) {
		case ports.SharedMap:
			out[key] = domain.Position{X: floatAt(entry, "x"), Y: floatAt(entry, "y")}
		case map[string]any:
			// Peers that seed positions as plain JSON objects.
			out[key] = domain.Position{X: floatOf(entry["x"]), Y: floatOf(entry["y"])}
		}
	}
	return out
}

func stringAt(m ports.SharedMap, key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolAt(m ports.SharedMap, key string) bool {
	v, ok := m.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func intAt(m ports.SharedMap, key string) int64 {
	v, ok := m.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func floatAt(m ports.SharedMap, key string) float64 {
	v, ok := m.Get(key)
	if !ok {
		return 0
	}
	return floatOf(v)
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
