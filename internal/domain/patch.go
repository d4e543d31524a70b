package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eleven-am/loom/internal/xjson"
)

type PatchOp string

const (
	PatchAdd     PatchOp = "add"
	PatchRemove  PatchOp = "remove"
	PatchReplace PatchOp = "replace"
)

// Patch is a single edit-script entry against the workflow tree, following
// RFC 6902 semantics for the add/remove/replace subset. Paths are
// slash-delimited pointers, e.g. /jobs/2/name.
type Patch struct {
	Op    PatchOp          `json:"op"`
	Path  string           `json:"path"`
	Value xjson.RawMessage `json:"value,omitempty"`
}

func NewAddPatch(path string, value any) (Patch, error) {
	raw, err := xjson.Marshal(value)
	if err != nil {
		return Patch{}, NewInternalError("failed to encode patch value", err)
	}
	return Patch{Op: PatchAdd, Path: path, Value: raw}, nil
}

func NewReplacePatch(path string, value any) (Patch, error) {
	raw, err := xjson.Marshal(value)
	if err != nil {
		return Patch{}, NewInternalError("failed to encode patch value", err)
	}
	return Patch{Op: PatchReplace, Path: path, Value: raw}, nil
}

func NewRemovePatch(path string) Patch {
	return Patch{Op: PatchRemove, Path: path}
}

// ApplyPatches applies the patch set to the workflow in order and returns
// the resulting state. The input workflow is not mutated. A patch whose
// path no longer resolves fails the whole application; callers that want
// to skip stale patches apply them one at a time.
func ApplyPatches(w Workflow, patches []Patch) (Workflow, error) {
	tree, err := workflowTree(w)
	if err != nil {
		return Workflow{}, err
	}
	for i, p := range patches {
		tree, err = applyPatchTree(tree, p)
		if err != nil {
			if derr, ok := err.(*DomainError); ok {
				return Workflow{}, derr.WithContext("patch_index", i)
			}
			return Workflow{}, err
		}
	}
	return treeWorkflow(tree)
}

// InvertPatches computes the inverse patch set relative to the state the
// patches were diffed against. Applying the result to the patched state
// restores the original.
func InvertPatches(w Workflow, patches []Patch) ([]Patch, error) {
	tree, err := workflowTree(w)
	if err != nil {
		return nil, err
	}
	inverses := make([]Patch, 0, len(patches))
	for _, p := range patches {
		inv, err := invertPatchTree(tree, p)
		if err != nil {
			return nil, err
		}
		tree, err = applyPatchTree(tree, p)
		if err != nil {
			return nil, err
		}
		inverses = append(inverses, inv)
	}
	for i, j := 0, len(inverses)-1; i < j; i, j = i+1, j-1 {
		inverses[i], inverses[j] = inverses[j], inverses[i]
	}
	return inverses, nil
}

func workflowTree(w Workflow) (any, error) {
	data, err := xjson.Marshal(w.Normalized())
	if err != nil {
		return nil, NewInternalError("failed to encode workflow", err)
	}
	var tree any
	if err := xjson.Unmarshal(data, &tree); err != nil {
		return nil, NewInternalError("failed to decode workflow tree", err)
	}
	return tree, nil
}

func treeWorkflow(tree any) (Workflow, error) {
	data, err := xjson.Marshal(tree)
	if err != nil {
		return Workflow{}, NewInternalError("failed to encode workflow tree", err)
	}
	var w Workflow
	if err := xjson.Unmarshal(data, &w); err != nil {
		return Workflow{}, NewSyncError("patched tree no longer decodes as a workflow", err)
	}
	return w.Normalized(), nil
}

func applyPatchTree(root any, p Patch) (any, error) {
	segs, err := parsePointer(p.Path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		if p.Op == PatchRemove {
			return nil, newPatchError(p, "cannot remove the document root")
		}
		return decodePatchValue(p)
	}
	return applyPatchNode(root, segs, p)
}

func applyPatchNode(node any, segs []string, p Patch) (any, error) {
	key := segs[0]
	switch n := node.(type) {
	case map[string]any:
		if len(segs) == 1 {
			return applyPatchMap(n, key, p)
		}
		child, ok := n[key]
		if !ok {
			return nil, newPatchError(p, "patch path not found")
		}
		next, err := applyPatchNode(child, segs[1:], p)
		if err != nil {
			return nil, err
		}
		n[key] = next
		return n, nil
	case []any:
		if len(segs) == 1 {
			return applyPatchSlice(n, key, p)
		}
		idx, err := sliceIndex(key, len(n), false)
		if err != nil {
			return nil, newPatchError(p, "patch path not found")
		}
		next, err := applyPatchNode(n[idx], segs[1:], p)
		if err != nil {
			return nil, err
		}
		n[idx] = next
		return n, nil
	default:
		return nil, newPatchError(p, "patch path traverses a non-container value")
	}
}

func applyPatchMap(m map[string]any, key string, p Patch) (any, error) {
	switch p.Op {
	case PatchAdd:
		v, err := decodePatchValue(p)
		if err != nil {
			return nil, err
		}
		m[key] = v
	case PatchReplace:
		if _, ok := m[key]; !ok {
			return nil, newPatchError(p, "patch path not found")
		}
		v, err := decodePatchValue(p)
		if err != nil {
			return nil, err
		}
		m[key] = v
	case PatchRemove:
		if _, ok := m[key]; !ok {
			return nil, newPatchError(p, "patch path not found")
		}
		delete(m, key)
	default:
		return nil, newPatchError(p, "unsupported patch op")
	}
	return m, nil
}

func applyPatchSlice(s []any, key string, p Patch) (any, error) {
	switch p.Op {
	case PatchAdd:
		idx, err := sliceIndex(key, len(s), true)
		if err != nil {
			return nil, newPatchError(p, "patch path not found")
		}
		v, derr := decodePatchValue(p)
		if derr != nil {
			return nil, derr
		}
		s = append(s, nil)
		copy(s[idx+1:], s[idx:])
		s[idx] = v
	case PatchReplace:
		idx, err := sliceIndex(key, len(s), false)
		if err != nil {
			return nil, newPatchError(p, "patch path not found")
		}
		v, derr := decodePatchValue(p)
		if derr != nil {
			return nil, derr
		}
		s[idx] = v
	case PatchRemove:
		idx, err := sliceIndex(key, len(s), false)
		if err != nil {
			return nil, newPatchError(p, "patch path not found")
		}
		s = append(s[:idx], s[idx+1:]...)
	default:
		return nil, newPatchError(p, "unsupported patch op")
	}
	return s, nil
}

func invertPatchTree(root any, p Patch) (Patch, error) {
	switch p.Op {
	case PatchAdd:
		return NewRemovePatch(resolveAppendPath(root, p.Path)), nil
	case PatchRemove:
		old, err := valueAtPointer(root, p.Path)
		if err != nil {
			return Patch{}, err
		}
		return NewAddPatch(p.Path, old)
	case PatchReplace:
		old, err := valueAtPointer(root, p.Path)
		if err != nil {
			return Patch{}, err
		}
		return NewReplacePatch(p.Path, old)
	default:
		return Patch{}, newPatchError(p, "unsupported patch op")
	}
}

// resolveAppendPath rewrites a trailing "-" (append) segment into the
// concrete index the element lands at, so the inverse remove targets it.
func resolveAppendPath(root any, path string) string {
	if !strings.HasSuffix(path, "/-") {
		return path
	}
	segs, err := parsePointer(path)
	if err != nil {
		return path
	}
	parent, err := valueAtSegments(root, segs[:len(segs)-1])
	if err != nil {
		return path
	}
	arr, ok := parent.([]any)
	if !ok {
		return path
	}
	return path[:len(path)-1] + strconv.Itoa(len(arr))
}

func valueAtPointer(root any, path string) (any, error) {
	segs, err := parsePointer(path)
	if err != nil {
		return nil, err
	}
	return valueAtSegments(root, segs)
}

func valueAtSegments(root any, segs []string) (any, error) {
	node := root
	for _, key := range segs {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[key]
			if !ok {
				return nil, NewSyncError("patch path not found: "+key, nil)
			}
			node = child
		case []any:
			idx, err := sliceIndex(key, len(n), false)
			if err != nil {
				return nil, NewSyncError("patch path not found: "+key, nil)
			}
			node = n[idx]
		default:
			return nil, NewSyncError("patch path traverses a non-container value", nil)
		}
	}
	return node, nil
}

func decodePatchValue(p Patch) (any, error) {
	if len(p.Value) == 0 {
		return nil, nil
	}
	var v any
	if err := xjson.Unmarshal(p.Value, &v); err != nil {
		return nil, NewSyncError("patch value is not valid JSON", err)
	}
	return v, nil
}

func sliceIndex(key string, length int, allowEnd bool) (int, error) {
	if key == "-" {
		if allowEnd {
			return length, nil
		}
		return 0, fmt.Errorf("index - not allowed here")
	}
	idx, err := strconv.Atoi(key)
	if err != nil {
		return 0, err
	}
	limit := length
	if allowEnd {
		limit = length + 1
	}
	if idx < 0 || idx >= limit {
		return 0, fmt.Errorf("index %d out of range", idx)
	}
	return idx, nil
}

func parsePointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, NewSyncError("invalid patch path: "+path, nil)
	}
	parts := strings.Split(path[1:], "/")
	for i, part := range parts {
		parts[i] = unescapePointer(part)
	}
	return parts, nil
}

func unescapePointer(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func pointerPath(segs ...string) string {
	var b strings.Builder
	for _, seg := range segs {
		b.WriteByte('/')
		b.WriteString(escapePointer(seg))
	}
	return b.String()
}

func newPatchError(p Patch, message string) *DomainError {
	return NewSyncError(message, nil,
		WithContextDetail("op", string(p.Op)),
		WithContextDetail("path", p.Path),
	)
}
