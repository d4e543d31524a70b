package domain

import (
	"dario.cat/mergo"

	"github.com/eleven-am/loom/internal/xjson"
)

// MergeSnapshot folds an authoritative server snapshot into local state
// after a reconnect. Every key the server sends wins, empty collections
// included, while keys only the local copy carries survive. Collections
// are replaced wholesale rather than appended so the server's ordering
// holds afterwards.
func MergeSnapshot(local, authoritative Workflow) (Workflow, error) {
	localMap, err := workflowMap(local)
	if err != nil {
		return Workflow{}, err
	}
	authMap, err := workflowMap(authoritative)
	if err != nil {
		return Workflow{}, err
	}

	if err := mergo.Merge(&localMap, authMap, mergo.WithOverwriteWithEmptyValue); err != nil {
		return Workflow{}, NewSyncError("snapshot merge failed", err)
	}

	data, err := xjson.Marshal(localMap)
	if err != nil {
		return Workflow{}, NewInternalError("failed to encode merged workflow", err)
	}
	var merged Workflow
	if err := xjson.Unmarshal(data, &merged); err != nil {
		return Workflow{}, NewSyncError("merged snapshot no longer decodes as a workflow", err)
	}
	return merged.Normalized(), nil
}

func workflowMap(w Workflow) (map[string]any, error) {
	data, err := xjson.Marshal(w.Normalized())
	if err != nil {
		return nil, NewInternalError("failed to encode workflow", err)
	}
	var m map[string]any
	if err := xjson.Unmarshal(data, &m); err != nil {
		return nil, NewInternalError("failed to decode workflow tree", err)
	}
	return m, nil
}
