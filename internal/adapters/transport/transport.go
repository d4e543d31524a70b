package transport

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
	"github.com/eleven-am/loom/internal/xjson"
	"github.com/gorilla/websocket"
)

const transportComponent = "adapters.transport"

func newTransportError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(transportComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewNetworkError(message, cause, merged...)
}

// Client is the websocket TransportPort implementation. One goroutine
// owns all writes and one owns all reads; requests are correlated to
// replies by ref, so several calls can be in flight at once even though
// the outbox only ever runs one.
type Client struct {
	config     domain.TransportConfig
	workflowID string
	logger     *slog.Logger

	nextRef atomic.Uint64

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan Envelope
	writeCh   chan Envelope
	done      chan struct{}
	connected bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(workflowID string, config domain.TransportConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:     config,
		workflowID: workflowID,
		logger:     logger.With("component", "transport", "workflow_id", workflowID),
	}
}

// Connect dials the server and starts the read and write pumps. After
// Close a client can connect again, which is what a reconnect does.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return newTransportError("transport already connected", domain.ErrAlreadyConnected)
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.config.ServerURL, nil)
	if err != nil {
		opts := []domain.ErrorOption{domain.WithContextDetail("server_url", c.config.ServerURL)}
		if resp != nil {
			opts = append(opts, domain.WithContextDetail("status", resp.StatusCode))
		}
		return newTransportError("failed to dial server", err, opts...)
	}

	conn.SetReadLimit(int64(c.config.MaxMessageSizeKB) * 1024)
	conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	pumpCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan Envelope)
	c.writeCh = make(chan Envelope, 16)
	c.done = make(chan struct{})
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go c.writePump(pumpCtx, conn, c.writeCh)
	go c.readPump(conn, c.done)

	c.logger.Debug("transport connected", "server_url", c.config.ServerURL)
	return nil
}

// Close tears the connection down. In-flight requests fail with a closed
// error; the outbox keeps their actions queued.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.mu.Unlock()

	cancel()
	err := conn.Close()
	// Once the read pump exits it closes done, which unblocks every
	// waiting request with a connection-lost error.
	c.wg.Wait()
	c.logger.Debug("transport closed")

	if err != nil {
		return newTransportError("failed to close connection", err)
	}
	return nil
}

func (c *Client) PushChange(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
	payload, err := xjson.Marshal(action)
	if err != nil {
		return nil, newTransportError("failed to encode action", err)
	}

	reply, err := c.request(ctx, EventPushChange, payload)
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, domain.NewSyncError(
			"server rejected change",
			nil,
			domain.WithComponent(transportComponent),
			domain.WithContextDetail("action_id", action.ID),
			domain.WithContextDetail("server_error", reply.Error),
		)
	}

	var result struct {
		LockVersion int64          `json:"lock_version"`
		Patches     []domain.Patch `json:"patches"`
	}
	if err := xjson.Unmarshal(reply.Payload, &result); err != nil {
		return nil, newTransportError("failed to decode push reply", err)
	}
	return &ports.PushResult{LockVersion: result.LockVersion, Patches: result.Patches}, nil
}

func (c *Client) FetchWorkflow(ctx context.Context) (domain.Workflow, error) {
	payload, err := xjson.Marshal(map[string]string{"workflow_id": c.workflowID})
	if err != nil {
		return domain.Workflow{}, newTransportError("failed to encode fetch request", err)
	}

	reply, err := c.request(ctx, EventFetchWorkflow, payload)
	if err != nil {
		return domain.Workflow{}, err
	}
	if reply.Error != "" {
		return domain.Workflow{}, domain.NewSyncError(
			"server rejected fetch",
			nil,
			domain.WithComponent(transportComponent),
			domain.WithContextDetail("server_error", reply.Error),
		)
	}

	var w domain.Workflow
	if err := xjson.Unmarshal(reply.Payload, &w); err != nil {
		return domain.Workflow{}, newTransportError("failed to decode workflow", err)
	}
	return w.Normalized(), nil
}

func (c *Client) RequestRun(ctx context.Context, request domain.RunRequest) (domain.RunState, error) {
	if err := request.Validate(); err != nil {
		return domain.RunState{}, err
	}

	payload, err := xjson.Marshal(request)
	if err != nil {
		return domain.RunState{}, newTransportError("failed to encode run request", err)
	}

	reply, err := c.request(ctx, EventRequestRun, payload)
	if err != nil {
		return domain.RunState{}, err
	}
	if reply.Error != "" {
		return domain.RunState{}, domain.NewSyncError(
			"server rejected run request",
			nil,
			domain.WithComponent(transportComponent),
			domain.WithContextDetail("server_error", reply.Error),
		)
	}

	var state domain.RunState
	if err := xjson.Unmarshal(reply.Payload, &state); err != nil {
		return domain.RunState{}, newTransportError("failed to decode run state", err)
	}
	return state, nil
}

// request sends one envelope and blocks until its reply, the context, or
// the connection ends.
func (c *Client) request(ctx context.Context, event string, payload xjson.RawMessage) (Envelope, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return Envelope{}, newTransportError("transport is not connected", domain.ErrNotConnected)
	}
	ref := strconv.FormatUint(c.nextRef.Add(1), 10)
	replyCh := make(chan Envelope, 1)
	c.pending[ref] = replyCh
	writeCh := c.writeCh
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	env := Envelope{Ref: ref, Event: event, Payload: payload}
	select {
	case writeCh <- env:
	case <-done:
		return Envelope{}, newTransportError("connection lost", domain.ErrNotConnected)
	case <-ctx.Done():
		return Envelope{}, newTransportError("request cancelled", ctx.Err())
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-done:
		return Envelope{}, newTransportError("connection lost before reply", domain.ErrNotConnected, domain.WithContextDetail("event", event))
	case <-ctx.Done():
		return Envelope{}, newTransportError("request cancelled", ctx.Err(), domain.WithContextDetail("event", event))
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, writeCh <-chan Envelope) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-writeCh:
			data, err := env.encode()
			if err != nil {
				c.logger.Error("failed to encode envelope", "event", env.Event, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed", "error", err)
				return
			}
		case <-time.After(c.config.PingInterval):
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			connected := c.connected
			c.mu.Unlock()
			if connected {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}

		c.mu.Lock()
		replyCh, ok := c.pending[env.Ref]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("dropping unsolicited envelope", "event", env.Event, "ref", env.Ref)
			continue
		}

		select {
		case replyCh <- env:
		default:
		}
	}
}

var _ ports.TransportPort = (*Client)(nil)
