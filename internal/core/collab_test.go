package core

import (
	"net/url"
	"testing"

	"github.com/eleven-am/loom/internal/adapters/keyboard"
	"github.com/eleven-am/loom/internal/adapters/memory"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnectedCollab(t *testing.T, doc ports.DocumentPort) *Collab {
	t.Helper()
	c := NewCollab("wf-1", testLogger())
	require.NoError(t, c.Connect(doc))
	t.Cleanup(c.Disconnect)
	return c
}

func TestCollabSeedAndMirror(t *testing.T) {
	doc := memory.NewDocument(testLogger())
	c := newConnectedCollab(t, doc)

	require.NoError(t, c.Seed(serverWorkflow()))

	w := c.Workflow()
	assert.Equal(t, "wf-1", w.ID)
	assert.Equal(t, "order intake", w.Name)
	assert.Equal(t, int64(4), w.LockVersion)
	assert.Len(t, w.Jobs, 1)
	assert.Len(t, w.Triggers, 1)
	assert.Len(t, w.Edges, 1)
	assert.Equal(t, domain.Position{X: 120, Y: 80}, w.Positions["j-1"])
	assert.True(t, c.Connected())
}

func TestCollabPeersConverge(t *testing.T) {
	doc := memory.NewDocument(testLogger())
	a := newConnectedCollab(t, doc)
	b := newConnectedCollab(t, doc)

	require.NoError(t, a.Seed(serverWorkflow()))
	assert.Equal(t, "order intake", b.Workflow().Name, "the seed reaches the peer")

	require.NoError(t, a.AddJob(domain.Job{ID: "j-2", Name: "notify", Adaptor: "@openfn/language-common"}, &domain.Position{X: 40, Y: 60}))
	assert.Len(t, b.Workflow().Jobs, 2)

	enabled := false
	require.NoError(t, b.UpdateJob("j-2", domain.JobUpdate{Enabled: &enabled}))
	job, ok := a.Workflow().FindJob("j-2")
	require.True(t, ok)
	assert.False(t, job.Enabled)

	require.NoError(t, b.MoveNode("j-2", domain.Position{X: 99, Y: 1}))
	assert.Equal(t, domain.Position{X: 99, Y: 1}, a.Workflow().Positions["j-2"])

	assert.Equal(t, a.Workflow(), b.Workflow(), "both peers decode the same document")
}

func TestCollabRemoveJobCascades(t *testing.T) {
	doc := memory.NewDocument(testLogger())
	a := newConnectedCollab(t, doc)
	b := newConnectedCollab(t, doc)

	require.NoError(t, a.Seed(serverWorkflow()))
	require.NoError(t, a.RemoveJob("j-1"))

	for _, peer := range []*Collab{a, b} {
		w := peer.Workflow()
		assert.Empty(t, w.Jobs)
		assert.Empty(t, w.Edges, "edges touching the job go with it")
		assert.NotContains(t, w.Positions, "j-1")
	}
}

func TestCollabJobBodyIsLiveText(t *testing.T) {
	doc := memory.NewDocument(testLogger())
	a := newConnectedCollab(t, doc)
	b := newConnectedCollab(t, doc)

	seeded := serverWorkflow()
	seeded.Jobs[0].Body = "fn(state => state)"
	require.NoError(t, a.Seed(seeded))

	text, ok := a.JobBodyText("j-1")
	require.True(t, ok)
	assert.Equal(t, "fn(state => state)", text.String())

	require.NoError(t, b.UpdateJobBody("j-1", "fn(state => state.data)"))

	assert.Equal(t, "fn(state => state.data)", text.String(), "the handle tracks remote rewrites")
	job, ok := a.Workflow().FindJob("j-1")
	require.True(t, ok)
	assert.Equal(t, "fn(state => state.data)", job.Body)

	_, ok = a.JobBodyText("ghost")
	assert.False(t, ok)
}

func TestCollabAddEdgeDefaultsAndValidation(t *testing.T) {
	doc := memory.NewDocument(testLogger())
	c := newConnectedCollab(t, doc)
	require.NoError(t, c.Seed(serverWorkflow()))
	require.NoError(t, c.AddJob(domain.Job{ID: "j-2", Name: "notify", Adaptor: "@openfn/language-common"}, nil))

	src := "j-1"
	broken := domain.Edge{
		SourceJobID:         &src,
		TargetJobID:         "j-2",
		ConditionType:       domain.ConditionExpression,
		ConditionExpression: "data.count >",
	}
	err := c.AddEdge(broken)
	require.Error(t, err)
	assert.Equal(t, domain.CategoryValidation, domain.GetErrorCategory(err))
	assert.Len(t, c.Workflow().Edges, 1, "the broken edge never reaches the document")

	require.NoError(t, c.AddEdge(domain.Edge{SourceJobID: &src, TargetJobID: "j-2", Enabled: true}))

	w := c.Workflow()
	require.Len(t, w.Edges, 2)
	var added domain.Edge
	for _, e := range w.Edges {
		if e.ID != "e-1" {
			added = e
		}
	}
	assert.NotEmpty(t, added.ID, "an id is assigned when the edge carries none")
	assert.Equal(t, domain.ConditionAlways, added.ConditionType, "the condition type defaults")
}

func TestCollabCommandsBeforeConnectAreNoOps(t *testing.T) {
	c := NewCollab("wf-1", testLogger())

	assert.NoError(t, c.AddJob(domain.Job{Name: "notify"}, nil), "document ops are safe no-ops while detached")
	assert.Empty(t, c.Workflow().Jobs)

	err := c.Seed(serverWorkflow())
	assert.True(t, domain.IsNotConnected(err))

	assert.True(t, c.SelectNode("j-1").IsEmpty())
	assert.Nil(t, c.Keyboard())
	assert.False(t, c.Connected())
}

func TestCollabSelectionAndKeyboard(t *testing.T) {
	nav := memory.NewNavigator()
	binder := memory.NewKeyBinder()
	doc := memory.NewDocument(testLogger())

	c := NewCollab("wf-1", testLogger()).WithNavigator(nav).WithKeyBinder(binder)
	require.NoError(t, c.Connect(doc))
	t.Cleanup(c.Disconnect)
	require.NoError(t, c.Seed(serverWorkflow()))

	sel := c.SelectNode("j-1")
	assert.Equal(t, domain.Selection{Kind: domain.NodeJob, ID: "j-1"}, sel)
	assert.Equal(t, "j-1", nav.Query().Get("job"))

	nav.Navigate(url.Values{"trigger": {"t-1"}})
	assert.Equal(t, domain.Selection{Kind: domain.NodeTrigger, ID: "t-1"}, c.Selection())

	var fired int
	cancel, err := c.Keyboard().Register("mod+s", func(event ports.KeyEvent) ports.KeyDecision {
		fired++
		return ports.KeyClaimed
	}, keyboard.Options{Priority: 10})
	require.NoError(t, err)
	defer cancel()

	require.True(t, binder.Press(ports.KeyEvent{Combo: "mod+s"}))
	assert.Equal(t, 1, fired)
}

func TestCollabDisconnectStopsMirroring(t *testing.T) {
	doc := memory.NewDocument(testLogger())
	a := newConnectedCollab(t, doc)
	b := newConnectedCollab(t, doc)
	require.NoError(t, a.Seed(serverWorkflow()))

	a.Disconnect()
	assert.False(t, a.Connected())

	require.NoError(t, b.AddJob(domain.Job{ID: "j-2", Name: "notify"}, nil))
	assert.Len(t, a.Workflow().Jobs, 1, "a detached session stops tracking the document")
	assert.Len(t, b.Workflow().Jobs, 2)

	// The same session can attach to a fresh document afterwards.
	other := memory.NewDocument(testLogger())
	require.NoError(t, a.Connect(other))
	fresh := serverWorkflow()
	fresh.ID = "wf-2"
	fresh.Name = "billing"
	require.NoError(t, a.Seed(fresh))
	assert.Equal(t, "billing", a.Workflow().Name)
}

func TestCollabDoubleConnect(t *testing.T) {
	doc := memory.NewDocument(testLogger())
	c := newConnectedCollab(t, doc)

	err := c.Connect(memory.NewDocument(testLogger()))
	require.Error(t, err)
}
