package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/mcp"
)

const (
	// defaultEnergyRate converts processing seconds to energy units.
	defaultEnergyRate = 2.0

	// maxAttempts bounds retries for transient transport failures.
	maxAttempts = 3

	// retryBaseDelay seeds the exponential backoff between attempts.
	retryBaseDelay = 500 * time.Millisecond

	// mockTestDelay simulates the latency of a real server handshake in
	// mock mode.
	mockTestDelay = 150 * time.Millisecond

	// accrueTick is how often an in-flight request's energy and progress
	// are updated. The loop may poll mid-request and must see the drain
	// accumulated so far, not a lump sum at the end.
	accrueTick = 50 * time.Millisecond

	// progressScale shapes the in-flight progress curve: progress is
	// elapsed/(elapsed+progressScale), capped below 100 until terminal.
	progressScale = 2 * time.Second

	// mailboxCap bounds the mailbox; oldest messages are dropped first.
	mailboxCap = 256
)

var (
	// ErrUnknownRequest is returned for request IDs the sub-agent has
	// never seen.
	ErrUnknownRequest = errors.New("unknown request")

	// ErrNotCancellable is returned when cancelling a request that has
	// already left the queue.
	ErrNotCancellable = errors.New("request is no longer queued")
)

// SubAgent is the asynchronous MCP operator. One request is in flight at
// a time; everything else waits in the priority queue.
type SubAgent struct {
	servers    *config.MCPServersFile
	client     *mcp.Client
	logger     *slog.Logger
	energyRate float64

	mu       sync.Mutex
	queues   [PriorityHigh + 1][]*Request
	requests map[string]*Request
	mailbox  []Message
	// Monotone between polls; reset when the loop reads it.
	energySinceLastPoll float64

	notifyCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a sub-agent over the servers file and the shared MCP client.
func New(servers *config.MCPServersFile, client *mcp.Client) *SubAgent {
	return &SubAgent{
		servers:    servers,
		client:     client,
		logger:     slog.Default().With("component", "subagent"),
		energyRate: defaultEnergyRate,
		requests:   make(map[string]*Request),
		notifyCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// SetEnergyRate overrides the wall-seconds to energy conversion factor.
// Call before Start.
func (a *SubAgent) SetEnergyRate(rate float64) {
	if rate > 0 {
		a.energyRate = rate
	}
}

// Start launches the worker goroutine.
func (a *SubAgent) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.run(ctx)
}

// Stop signals the worker and waits for it to finish, bounded by ctx.
// An in-flight request gets its grace period; queued work is abandoned.
func (a *SubAgent) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sub-agent shutdown: %w", ctx.Err())
	}
}

// Enqueue queues an operation and returns its request ID.
func (a *SubAgent) Enqueue(op Operation, priority Priority, params RequestParams) (string, error) {
	if err := validateRequest(op, params); err != nil {
		return "", err
	}
	if priority < PriorityLow || priority > PriorityHigh {
		return "", fmt.Errorf("unknown priority %d", priority)
	}

	req := &Request{
		ID:         uuid.New().String(),
		Operation:  op,
		Priority:   priority,
		Params:     params,
		Status:     StatusQueued,
		EnqueuedAt: time.Now(),
	}

	a.mu.Lock()
	a.queues[priority] = append(a.queues[priority], req)
	a.requests[req.ID] = req
	a.mu.Unlock()

	select {
	case a.notifyCh <- struct{}{}:
	default:
	}

	return req.ID, nil
}

// Cancel cancels a request that is still queued. In-flight requests are
// not interrupted; they may still complete normally.
func (a *SubAgent) Cancel(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	req, ok := a.requests[id]
	if !ok {
		return ErrUnknownRequest
	}
	if req.Status != StatusQueued {
		return fmt.Errorf("%w: status %s", ErrNotCancellable, req.Status)
	}

	queue := a.queues[req.Priority]
	for i, queued := range queue {
		if queued.ID == id {
			a.queues[req.Priority] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	req.Status = StatusCancelled
	req.FinishedAt = time.Now()
	return nil
}

// GetRequest returns a copy of a request's current state.
func (a *SubAgent) GetRequest(id string) (Request, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.requests[id]
	if !ok {
		return Request{}, ErrUnknownRequest
	}
	return *req, nil
}

// ListRequests returns copies of all known requests, newest first.
func (a *SubAgent) ListRequests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, 0, len(a.requests))
	for _, req := range a.requests {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
	})
	return out
}

// PollMessages drains the mailbox. Never blocks.
func (a *SubAgent) PollMessages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.mailbox
	a.mailbox = nil
	return out
}

// EnergyConsumedSinceLastPoll returns the energy accumulated since the
// previous call and resets the counter.
func (a *SubAgent) EnergyConsumedSinceLastPoll() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.energySinceLastPoll
	a.energySinceLastPoll = 0
	return e
}

// QueueDepth returns the number of queued (not in-flight) requests.
func (a *SubAgent) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, q := range a.queues {
		n += len(q)
	}
	return n
}

func validateRequest(op Operation, params RequestParams) error {
	switch op {
	case OpAddServer, OpTestServer:
		if params.Server == nil {
			return fmt.Errorf("%s requires a server record", op)
		}
		return params.Server.Validate()
	case OpRemoveServer:
		if params.ServerID == "" {
			return fmt.Errorf("%s requires server_id", op)
		}
	case OpModifyServer:
		if params.ServerID == "" {
			return fmt.Errorf("%s requires server_id", op)
		}
		if params.Modify == nil {
			return fmt.Errorf("%s requires a modify spec", op)
		}
	case OpListServers, OpSearchServers:
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return nil
}

// run is the worker loop: one request in flight at a time.
func (a *SubAgent) run(ctx context.Context) {
	defer a.wg.Done()
	a.logger.Info("Sub-agent worker started")

	for {
		select {
		case <-a.stopCh:
			a.logger.Info("Sub-agent worker shutting down")
			return
		case <-ctx.Done():
			a.logger.Info("Context cancelled, sub-agent worker shutting down")
			return
		case <-a.notifyCh:
			for {
				req := a.dequeue()
				if req == nil {
					break
				}
				a.process(ctx, req)

				select {
				case <-a.stopCh:
					return
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// dequeue pops the highest-priority queued request, FIFO within priority.
func (a *SubAgent) dequeue() *Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := PriorityHigh; p >= PriorityLow; p-- {
		if len(a.queues[p]) > 0 {
			req := a.queues[p][0]
			a.queues[p] = a.queues[p][1:]
			return req
		}
	}
	return nil
}

func (a *SubAgent) process(ctx context.Context, req *Request) {
	start := time.Now()

	a.mu.Lock()
	req.Status = StatusInProgress
	req.StartedAt = start
	a.mu.Unlock()

	a.post(Message{
		Type:      MessageStatusUpdate,
		RequestID: req.ID,
		Operation: req.Operation,
		Text:      fmt.Sprintf("%s started", req.Operation),
	})

	accrueDone := make(chan struct{})
	accrueStopped := make(chan struct{})
	go a.accrue(req, start, accrueDone, accrueStopped)

	result, err := a.executeWithRetry(ctx, req)
	elapsed := time.Since(start)

	close(accrueDone)
	<-accrueStopped

	// Post the outcome before flipping the status so anyone who observes
	// a terminal state also finds the matching mailbox message.
	if err != nil {
		a.logger.Warn("Sub-agent request failed",
			"request_id", req.ID, "operation", req.Operation, "error", err)
		a.post(Message{
			Type:      MessageError,
			RequestID: req.ID,
			Operation: req.Operation,
			Text:      err.Error(),
		})
	} else {
		a.logger.Info("Sub-agent request completed",
			"request_id", req.ID, "operation", req.Operation,
			"duration_ms", elapsed.Milliseconds())
		a.post(Message{
			Type:      MessageCompletion,
			RequestID: req.ID,
			Operation: req.Operation,
			Text:      fmt.Sprintf("%s completed", req.Operation),
			Result:    result,
		})
	}

	a.mu.Lock()
	req.FinishedAt = time.Now()
	if err != nil {
		req.Status = StatusFailed
		req.Error = err.Error()
	} else {
		req.Status = StatusCompleted
		req.Result = result
		req.Progress = 100
	}
	a.mu.Unlock()
}

// accrue charges an in-flight request's wall time to the energy counter
// on a fine tick, and advances its progress. The final partial tick is
// charged when done closes, so the total always equals elapsed · rate.
func (a *SubAgent) accrue(req *Request, start time.Time, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(accrueTick)
	defer ticker.Stop()

	last := start
	for {
		select {
		case <-done:
			a.charge(req, time.Since(last))
			return
		case now := <-ticker.C:
			a.charge(req, now.Sub(last))
			last = now
		}
	}
}

func (a *SubAgent) charge(req *Request, d time.Duration) {
	if d <= 0 {
		return
	}
	e := d.Seconds() * a.energyRate

	a.mu.Lock()
	a.energySinceLastPoll += e
	req.EnergyConsumed += e
	if req.Status == StatusInProgress {
		elapsed := time.Since(req.StartedAt)
		p := int(100 * elapsed / (elapsed + progressScale))
		if p > 99 {
			p = 99
		}
		if p > req.Progress {
			req.Progress = p
		}
	}
	a.mu.Unlock()
}

// executeWithRetry retries transient transport failures with exponential
// backoff; everything else fails on the first attempt.
func (a *SubAgent) executeWithRetry(ctx context.Context, req *Request) (any, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := a.execute(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if mcp.ClassifyError(err) == mcp.NoRetry {
			return nil, err
		}
		a.logger.Info("Retrying sub-agent operation",
			"request_id", req.ID, "operation", req.Operation,
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

func (a *SubAgent) execute(ctx context.Context, req *Request) (any, error) {
	switch req.Operation {
	case OpAddServer:
		return a.addServer(ctx, req.Params.Server)
	case OpRemoveServer:
		return a.removeServer(req.Params.ServerID)
	case OpTestServer:
		return a.testServer(ctx, req.Params.Server)
	case OpListServers:
		return a.servers.List(), nil
	case OpSearchServers:
		return searchKnownServers(req.Params.Query), nil
	case OpModifyServer:
		return a.modifyServer(ctx, req.Params.ServerID, req.Params.Modify)
	}
	return nil, fmt.Errorf("unknown operation %q", req.Operation)
}

func (a *SubAgent) addServer(ctx context.Context, rec *config.MCPServerRecord) (any, error) {
	if err := a.servers.Add(rec); err != nil {
		return nil, err
	}

	if rec.Enabled {
		if err := a.client.InitializeServer(ctx, rec.ID); err != nil {
			// The record is persisted; connection problems surface via
			// FailedServers and the next reconnect attempt.
			a.logger.Warn("Added server failed to connect",
				"server", rec.ID, "error", err)
			return map[string]any{"server_id": rec.ID, "connected": false}, nil
		}

		tools, err := a.client.ListTools(ctx, rec.ID)
		if err == nil {
			if err := a.servers.SetDiscoveredTools(rec.ID, mcp.ToolRecords(tools)); err != nil {
				a.logger.Warn("Failed to persist discovered tools",
					"server", rec.ID, "error", err)
			}
			return map[string]any{
				"server_id": rec.ID,
				"connected": true,
				"tools":     len(tools),
			}, nil
		}
	}

	return map[string]any{"server_id": rec.ID, "connected": false}, nil
}

func (a *SubAgent) removeServer(serverID string) (any, error) {
	if err := a.servers.Remove(serverID); err != nil {
		return nil, err
	}
	a.client.RemoveServer(serverID)
	return map[string]any{"server_id": serverID}, nil
}

// testServer probes a configuration without persisting anything. Mock
// mode simulates the handshake and returns the record's (or a canned)
// tool list.
func (a *SubAgent) testServer(ctx context.Context, rec *config.MCPServerRecord) (any, error) {
	if rec.MockMode() {
		select {
		case <-time.After(mockTestDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		tools := rec.Tools
		if len(tools) == 0 {
			tools = []config.MCPToolRecord{
				{Name: "echo", Description: "Echo the arguments back"},
				{Name: "describe", Description: "Describe this mock server"},
			}
		}
		return tools, nil
	}

	tools, err := mcp.Probe(ctx, rec)
	if err != nil {
		return nil, err
	}
	return mcp.ToolRecords(tools), nil
}

func (a *SubAgent) modifyServer(ctx context.Context, serverID string, spec *ModifySpec) (any, error) {
	err := a.servers.Modify(serverID, func(rec *config.MCPServerRecord) error {
		if spec.Enabled != nil {
			rec.Enabled = *spec.Enabled
		}
		if spec.Command != nil {
			rec.Command = *spec.Command
		}
		if spec.Args != nil {
			rec.Args = *spec.Args
		}
		if spec.Env != nil {
			rec.Env = *spec.Env
		}
		if spec.URL != nil {
			rec.URL = *spec.URL
		}
		if spec.BearerToken != nil {
			rec.BearerToken = *spec.BearerToken
		}
		return rec.Validate()
	})
	if err != nil {
		return nil, err
	}

	// Drop any stale session so the next use picks up the new settings.
	a.client.RemoveServer(serverID)

	rec, err := a.servers.Get(serverID)
	if err == nil && rec.Enabled {
		if err := a.client.InitializeServer(ctx, serverID); err != nil {
			a.logger.Warn("Modified server failed to reconnect",
				"server", serverID, "error", err)
		}
	}

	return map[string]any{"server_id": serverID}, nil
}

func (a *SubAgent) post(msg Message) {
	msg.Timestamp = time.Now()
	a.mu.Lock()
	a.mailbox = append(a.mailbox, msg)
	if len(a.mailbox) > mailboxCap {
		a.mailbox = a.mailbox[len(a.mailbox)-mailboxCap:]
	}
	a.mu.Unlock()
}
