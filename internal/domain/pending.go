package domain

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eleven-am/loom/internal/xjson"
)

// PendingAction is one queued local edit awaiting server
// acknowledgement. Ids are ULIDs so lexicographic key order matches
// creation order and journal scans replay in FIFO order.
type PendingAction struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Patches    []Patch   `json:"patches"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewPendingAction(workflowID string, patches []Patch) PendingAction {
	return PendingAction{
		ID:         ulid.Make().String(),
		WorkflowID: workflowID,
		Patches:    patches,
		CreatedAt:  time.Now(),
	}
}

func (a *PendingAction) ToBytes() ([]byte, error) {
	return xjson.Marshal(a)
}

func PendingActionFromBytes(data []byte) (*PendingAction, error) {
	var a PendingAction
	if err := xjson.Unmarshal(data, &a); err != nil {
		return nil, NewSyncError("pending action decode failed", err)
	}
	return &a, nil
}
