package transport

import (
	"github.com/eleven-am/loom/internal/xjson"
)

// Wire events. Requests carry a ref the server echoes on its reply, so
// concurrent requests correlate without ordering assumptions.
const (
	EventPushChange    = "change:push"
	EventFetchWorkflow = "workflow:fetch"
	EventRequestRun    = "run:start"
	EventReply         = "reply"
)

type Envelope struct {
	Ref     string           `json:"ref,omitempty"`
	Event   string           `json:"event"`
	Payload xjson.RawMessage `json:"payload,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (e Envelope) encode() ([]byte, error) {
	return xjson.Marshal(e)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := xjson.Unmarshal(data, &env)
	return env, err
}
