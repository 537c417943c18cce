// Package loop implements the sensitive loop: the single cooperative
// cognitive scheduler. One cognitive action happens at a time; every
// cycle drains the sub-agent, wakes due conversations, picks a focus,
// invokes the LLM, executes at most one round of tool calls, and then
// either continues or sleeps to recover energy.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cortexd/cortexd/pkg/apps"
	"github.com/cortexd/cortexd/pkg/config"
	"github.com/cortexd/cortexd/pkg/energy"
	"github.com/cortexd/cortexd/pkg/events"
	"github.com/cortexd/cortexd/pkg/llm"
	"github.com/cortexd/cortexd/pkg/mcp"
	"github.com/cortexd/cortexd/pkg/models"
	"github.com/cortexd/cortexd/pkg/services"
	"github.com/cortexd/cortexd/pkg/subagent"
)

const (
	// llmFailureBackoff is the pause after a failed LLM invocation.
	llmFailureBackoff = time.Second

	// sleepTick is the granularity of sleeps: each tick replenishes
	// energy, drains the sub-agent, and re-checks wake conditions.
	sleepTick = time.Second

	// toolEnergyRate converts MCP tool wall-time to energy.
	toolEnergyRate = 1.0

	// maxAwait bounds a single await_energy request.
	maxAwait = 5 * time.Minute

	// maxNotes bounds the per-conversation scratch shown in the status.
	maxNotes = 5

	// maxSubActivity bounds the sub-agent summary shown in the status.
	maxSubActivity = 5
)

// Deps are the collaborators the loop drives. SubAgent and Catalog may
// be nil (sub-agent disabled / no MCP servers).
type Deps struct {
	Scheduler     config.SchedulerConfig
	LLM           config.LLMConfig
	Regulator     *energy.Regulator
	Conversations *services.ConversationService
	Registry      *apps.Registry
	SubAgent      *subagent.SubAgent
	Catalog       *mcp.Catalog
	Client        llm.Client
	Bus           *events.Bus
	Stats         *services.StatsService
}

// Loop is the cognitive scheduler.
type Loop struct {
	cfg           config.SchedulerConfig
	llmCfg        config.LLMConfig
	regulator     *energy.Regulator
	conversations *services.ConversationService
	registry      *apps.Registry
	subAgent      *subagent.SubAgent
	catalog       *mcp.Catalog
	client        llm.Client
	bus           *events.Bus
	stats         *services.StatsService
	logger        *slog.Logger

	mu            sync.Mutex
	currentModel  string
	focusOverride string
	notes         map[string][]string
	subActivity   []string

	forceCh  chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New assembles the loop. The preferred (large) model is active at start.
// Every regulator mutation publishes an energy_update through the
// registered hook, so callers never emit those by hand.
func New(deps Deps) *Loop {
	l := &Loop{
		cfg:           deps.Scheduler,
		llmCfg:        deps.LLM,
		regulator:     deps.Regulator,
		conversations: deps.Conversations,
		registry:      deps.Registry,
		subAgent:      deps.SubAgent,
		catalog:       deps.Catalog,
		client:        deps.Client,
		bus:           deps.Bus,
		stats:         deps.Stats,
		logger:        slog.Default().With("component", "loop"),
		currentModel:  deps.LLM.LargeModel,
		notes:         make(map[string][]string),
		forceCh:       make(chan string, 4),
		stopCh:        make(chan struct{}),
	}
	deps.Regulator.SetUpdateFunc(l.publishEnergySnapshot)
	return l
}

// Start launches the scheduler goroutine.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop asks the loop to finish its current cycle and waits, bounded by ctx.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stopCh) })

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("loop shutdown: %w", ctx.Err())
	}
}

// ProcessConversation forces the loop to focus a conversation on its
// next cycle. Admin hook.
func (l *Loop) ProcessConversation(requestID string) {
	select {
	case l.forceCh <- requestID:
	default:
	}
}

// TriggerReflection publishes a fresh system-stats snapshot and an
// energy update. Admin hook.
func (l *Loop) TriggerReflection(ctx context.Context) error {
	if l.stats == nil {
		return fmt.Errorf("stats service unavailable")
	}
	stats, err := l.stats.GetStats(ctx, l.regulator.Level())
	if err != nil {
		return fmt.Errorf("reflection: %w", err)
	}

	l.publishEnergy()
	l.bus.PublishSystemStats(events.SystemStatsPayload{
		Type:      events.EventTypeSystemStats,
		Stats:     *stats,
		Timestamp: nowRFC3339(),
	})
	return nil
}

// CurrentModel reports which model the loop is using right now.
func (l *Loop) CurrentModel() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentModel
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	l.logger.Info("Sensitive loop started", "model", l.CurrentModel())

	var deadline <-chan time.Time
	if l.cfg.Duration > 0 {
		t := time.NewTimer(l.cfg.Duration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-l.stopCh:
			l.logger.Info("Sensitive loop shutting down")
			return
		case <-ctx.Done():
			l.logger.Info("Context cancelled, sensitive loop shutting down")
			return
		case <-deadline:
			l.logger.Info("Configured duration elapsed, sensitive loop stopping")
			return
		default:
			l.cycle(ctx)
		}
	}
}

// cycle runs one cognitive action. It always blocks for some interval
// (LLM call, tool round-trip, or recovery sleep), never busy-spins.
func (l *Loop) cycle(ctx context.Context) {
	l.drainSubAgent()
	l.wakeDue(ctx)

	conv := l.nextFocus(ctx)
	if conv == nil {
		l.idleSleep(ctx)
		return
	}

	l.serve(ctx, conv)
}

// drainSubAgent pulls the energy counter and the mailbox. Sub-agent
// energy reaches the regulator only through this path.
func (l *Loop) drainSubAgent() {
	if l.subAgent == nil {
		return
	}

	if e := l.subAgent.EnergyConsumedSinceLastPoll(); e > 0 {
		l.regulator.Consume(e)
	}

	for _, msg := range l.subAgent.PollMessages() {
		switch msg.Type {
		case subagent.MessageCompletion:
			l.logger.Info("Sub-agent completed", "operation", msg.Operation, "request_id", msg.RequestID)
		case subagent.MessageError:
			l.logger.Warn("Sub-agent failed", "operation", msg.Operation,
				"request_id", msg.RequestID, "error", msg.Text)
		}

		l.mu.Lock()
		l.subActivity = append(l.subActivity, fmt.Sprintf("%s %s: %s", msg.Operation, msg.Type, msg.Text))
		if len(l.subActivity) > maxSubActivity {
			l.subActivity = l.subActivity[len(l.subActivity)-maxSubActivity:]
		}
		l.mu.Unlock()
	}
}

func (l *Loop) wakeDue(ctx context.Context) {
	woken, err := l.conversations.WakeDueConversations(ctx, time.Now())
	if err != nil {
		l.logger.Warn("Failed to wake due conversations", "error", err)
		return
	}
	for _, id := range woken {
		l.publishState(ctx, id, models.ConversationStateActive, "snooze expired", nil)
	}
}

// nextFocus decides which conversation this cycle serves: a forced id,
// a select_conversation override, or the highest-priority pending one.
func (l *Loop) nextFocus(ctx context.Context) *models.Conversation {
	select {
	case id := <-l.forceCh:
		if conv := l.loadActive(ctx, id); conv != nil {
			return conv
		}
	default:
	}

	l.mu.Lock()
	override := l.focusOverride
	l.focusOverride = ""
	l.mu.Unlock()
	if override != "" {
		if conv := l.loadActive(ctx, override); conv != nil {
			return conv
		}
	}

	pending, err := l.conversations.GetPendingConversations(ctx)
	if err != nil {
		l.logger.Warn("Failed to load pending conversations", "error", err)
		return nil
	}
	return pickFocus(pending)
}

func (l *Loop) loadActive(ctx context.Context, requestID string) *models.Conversation {
	conv, err := l.conversations.GetConversation(ctx, requestID)
	if err != nil {
		l.logger.Warn("Focused conversation unavailable", "request_id", requestID, "error", err)
		return nil
	}
	if conv.State != models.ConversationStateActive {
		return nil
	}
	return conv
}

// serve runs the LLM over the focused conversation and executes the
// outcome. Per-conversation failures never kill the loop.
func (l *Loop) serve(ctx context.Context, conv *models.Conversation) {
	zeroBudget := conv.Budget != nil && *conv.Budget == 0
	model := l.CurrentModel()

	input := &llm.GenerateInput{
		RequestID:   conv.RequestID,
		Model:       model,
		System:      systemPrompt,
		Messages:    l.composeMessages(conv),
		Tools:       l.toolDefinitions(),
		MaxTokens:   l.llmCfg.MaxTokens,
		Temperature: l.llmCfg.Temperature,
	}

	callTimeout := l.cfg.LLMCallTimeout
	if callTimeout <= 0 {
		callTimeout = time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	start := time.Now()
	result, err := l.client.Generate(callCtx, input)
	elapsed := time.Since(start)
	cancel()

	if err != nil {
		l.logger.Warn("LLM invocation failed",
			"request_id", conv.RequestID, "model", model, "error", err)
		l.pause(ctx, llmFailureBackoff)
		return
	}

	charge := elapsed.Seconds() * l.llmCfg.RateFor(model)
	l.applyCharge(ctx, conv, charge, "llm_call")

	outcome := l.executeResult(ctx, conv, result, zeroBudget)

	l.applyModelSwitch(ctx, conv.RequestID)

	if outcome.await != nil {
		l.awaitEnergy(ctx, conv.RequestID, *outcome.await)
	}
}

// applyCharge attributes one energy charge to the regulator, the
// conversation, and the owning app (the chat app when unowned).
func (l *Loop) applyCharge(ctx context.Context, conv *models.Conversation, charge float64, operation string) {
	if charge <= 0 {
		return
	}

	l.regulator.Consume(charge)

	if err := l.conversations.AddEnergyConsumed(ctx, conv.RequestID, charge); err != nil {
		l.logger.Warn("Failed to record conversation energy",
			"request_id", conv.RequestID, "error", err)
	}
	conv.TotalEnergyConsumed += charge

	appID := conv.AppID
	if appID == "" {
		appID = apps.ChatAppID
	}
	l.registry.RecordEnergy(appID, charge, conv.RequestID, operation)
}

type cycleOutcome struct {
	responded bool
	ended     bool
	await     *float64
}

// executeResult dispatches the LLM's tool calls. Plain text with no tool
// call is treated as a response to the focused conversation. Under a
// zero budget only respond and end_conversation run; if the model does
// neither, the loop enforces the last-chance rule itself.
func (l *Loop) executeResult(ctx context.Context, conv *models.Conversation, result *llm.GenerateResult, zeroBudget bool) cycleOutcome {
	var outcome cycleOutcome

	for _, call := range result.ToolCalls {
		l.handleToolCall(ctx, conv, call, zeroBudget, &outcome)
		if outcome.ended {
			break
		}
	}

	if len(result.ToolCalls) == 0 && result.Content != "" {
		l.respond(ctx, conv, result.Content)
		outcome.responded = true
	}

	if zeroBudget && !outcome.responded && !outcome.ended {
		if result.Content != "" {
			l.respond(ctx, conv, result.Content)
			outcome.responded = true
		} else {
			l.endConversation(ctx, conv, "energy budget exhausted")
			outcome.ended = true
		}
	}

	return outcome
}

func (l *Loop) handleToolCall(ctx context.Context, conv *models.Conversation, call llm.ToolCall, zeroBudget bool, outcome *cycleOutcome) {
	if !isCoreTool(call.Name) {
		l.handleMCPTool(ctx, conv, call, zeroBudget)
		return
	}
	started := time.Now()

	var tool coreTool
	for _, t := range coreTools {
		if t.name == call.Name {
			tool = t
			break
		}
	}

	args, err := decodeArgs(tool, call.Arguments)
	if err != nil {
		// Surfaced to the LLM as a synthetic tool result next cycle.
		l.addNote(conv.RequestID, fmt.Sprintf("%s failed: %v", call.Name, err))
		l.publishTool(ctx, conv.RequestID, call.Name, started, false, err.Error(), call.Arguments, "")
		return
	}

	if zeroBudget && call.Name != toolRespond && call.Name != toolEndConversation {
		msg := "refused: zero-budget conversation, only respond or end_conversation allowed"
		l.addNote(conv.RequestID, fmt.Sprintf("%s %s", call.Name, msg))
		l.publishTool(ctx, conv.RequestID, call.Name, started, false, msg, call.Arguments, "")
		return
	}

	switch call.Name {
	case toolRespond:
		target := l.resolveTarget(ctx, conv, argString(args, "request_id"))
		l.respond(ctx, target, argString(args, "content"))
		if target.RequestID == conv.RequestID {
			outcome.responded = true
		}

	case toolThink:
		l.addNote(conv.RequestID, "note: "+argString(args, "text"))
		l.publishTool(ctx, conv.RequestID, call.Name, started, true, "", call.Arguments, "")

	case toolSelectConversation:
		l.mu.Lock()
		l.focusOverride = argString(args, "request_id")
		l.mu.Unlock()
		l.publishTool(ctx, conv.RequestID, call.Name, started, true, "", call.Arguments, "")

	case toolAwaitEnergy:
		min := argFloat(args, "min_level")
		outcome.await = &min
		l.publishTool(ctx, conv.RequestID, call.Name, started, true, "", call.Arguments, "")

	case toolEndConversation:
		target := l.resolveTarget(ctx, conv, argString(args, "request_id"))
		l.endConversation(ctx, target, argString(args, "reason"))
		if target.RequestID == conv.RequestID {
			outcome.ended = true
		}

	case toolSnoozeConversation:
		target := l.resolveTarget(ctx, conv, argString(args, "request_id"))
		l.snooze(ctx, target, argFloat(args, "minutes"), argString(args, "reason"))

	case toolMCPAddServer:
		l.enqueueSubAgent(ctx, conv, call.Name, subagent.OpAddServer, subagent.RequestParams{
			Server: &config.MCPServerRecord{
				ID:        argString(args, "id"),
				Transport: config.TransportType(argString(args, "transport")),
				Command:   argString(args, "command"),
				Args:      argStrings(args, "args"),
				URL:       argString(args, "url"),
				Enabled:   true,
			},
		})

	case toolMCPListServers:
		l.enqueueSubAgent(ctx, conv, call.Name, subagent.OpListServers, subagent.RequestParams{})
	}
}

// handleMCPTool forwards a namespaced tool call to its server and
// charges the measured wall time.
func (l *Loop) handleMCPTool(ctx context.Context, conv *models.Conversation, call llm.ToolCall, zeroBudget bool) {
	started := time.Now()
	if zeroBudget {
		msg := "refused: zero-budget conversation, only respond or end_conversation allowed"
		l.addNote(conv.RequestID, fmt.Sprintf("%s %s", call.Name, msg))
		l.publishTool(ctx, conv.RequestID, call.Name, started, false, msg, call.Arguments, "")
		return
	}
	if l.catalog == nil {
		msg := fmt.Sprintf("unknown tool %q", call.Name)
		l.addNote(conv.RequestID, msg)
		l.publishTool(ctx, conv.RequestID, call.Name, started, false, msg, call.Arguments, "")
		return
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			msg := fmt.Sprintf("%s failed: arguments are not valid JSON: %v", call.Name, err)
			l.addNote(conv.RequestID, msg)
			l.publishTool(ctx, conv.RequestID, call.Name, started, false, msg, call.Arguments, "")
			return
		}
	}

	toolTimeout := l.cfg.ToolCallTimeout
	if toolTimeout <= 0 {
		toolTimeout = 2 * time.Minute
	}
	toolCtx, cancel := context.WithTimeout(ctx, toolTimeout)
	start := time.Now()
	text, err := l.catalog.Dispatch(toolCtx, call.Name, args)
	elapsed := time.Since(start)
	cancel()

	l.applyCharge(ctx, conv, elapsed.Seconds()*toolEnergyRate, "mcp_tool")

	if err != nil {
		// Unknown names and tool failures are non-fatal; the LLM sees the
		// error string and can recover next turn.
		l.logger.Warn("MCP tool failed", "tool", call.Name, "error", err)
		l.addNote(conv.RequestID, fmt.Sprintf("%s failed: %v", call.Name, err))
		l.publishTool(ctx, conv.RequestID, call.Name, started, false, err.Error(), call.Arguments, "")
		return
	}

	l.addNote(conv.RequestID, fmt.Sprintf("%s returned: %s", call.Name, truncate(text, 500)))
	l.publishTool(ctx, conv.RequestID, call.Name, started, true, "", call.Arguments, text)
}

// resolveTarget loads an explicitly addressed conversation, falling back
// to the focused one.
func (l *Loop) resolveTarget(ctx context.Context, conv *models.Conversation, requestID string) *models.Conversation {
	if requestID == "" || requestID == conv.RequestID {
		return conv
	}
	target, err := l.conversations.GetConversation(ctx, requestID)
	if err != nil {
		l.logger.Warn("Tool addressed unknown conversation",
			"request_id", requestID, "error", err)
		return conv
	}
	return target
}

// respond delivers a response through the owning app when one is live,
// writing directly to the store otherwise. Storage errors are logged and
// the loop moves on.
func (l *Loop) respond(ctx context.Context, conv *models.Conversation, content string) {
	started := time.Now()
	level := l.regulator.Level()
	model := l.CurrentModel()

	delivered := false
	if conv.AppID != "" && l.registry.HasInstance(conv.AppID) {
		err := l.registry.RouteMessage(ctx, &models.AppMessage{
			From: "loop",
			To:   conv.AppID,
			Content: map[string]any{
				"request_id":   conv.RequestID,
				"response":     content,
				"energy_level": level,
				"model_used":   model,
			},
		})
		if err != nil {
			l.logger.Warn("App delivery failed, writing response directly",
				"request_id", conv.RequestID, "app_id", conv.AppID, "error", err)
		} else {
			delivered = true
		}
	}

	if !delivered {
		_, err := l.conversations.AddResponse(ctx, services.AddResponseParams{
			RequestID:   conv.RequestID,
			Role:        "assistant",
			Content:     content,
			EnergyLevel: level,
			ModelUsed:   model,
		})
		if err != nil {
			l.logger.Error("Failed to persist response",
				"request_id", conv.RequestID, "error", err)
			return
		}
	}

	l.publishTool(ctx, conv.RequestID, toolRespond, started, true, "", "", content)
	if err := l.bus.PublishMessageAdded(ctx, events.MessageAddedPayload{
		Type:        events.EventTypeMessageAdded,
		RequestID:   conv.RequestID,
		Role:        "assistant",
		Content:     content,
		EnergyLevel: level,
		ModelUsed:   model,
		Timestamp:   nowRFC3339(),
	}); err != nil {
		l.logger.Warn("Failed to publish message_added", "error", err)
	}
}

func (l *Loop) endConversation(ctx context.Context, conv *models.Conversation, reason string) {
	started := time.Now()
	if err := l.conversations.EndConversation(ctx, conv.RequestID, reason); err != nil {
		l.logger.Warn("Failed to end conversation",
			"request_id", conv.RequestID, "error", err)
		return
	}
	l.clearNotes(conv.RequestID)
	l.publishTool(ctx, conv.RequestID, toolEndConversation, started, true, "", "", reason)
	l.publishState(ctx, conv.RequestID, models.ConversationStateEnded, reason, nil)
}

func (l *Loop) snooze(ctx context.Context, conv *models.Conversation, minutes float64, reason string) {
	started := time.Now()
	if minutes < 1 {
		minutes = 1
	}
	until := time.Now().Add(time.Duration(minutes * float64(time.Minute)))

	if err := l.conversations.SnoozeConversation(ctx, conv.RequestID, until); err != nil {
		l.logger.Warn("Failed to snooze conversation",
			"request_id", conv.RequestID, "error", err)
		return
	}
	l.publishTool(ctx, conv.RequestID, toolSnoozeConversation, started, true, "",
		"", "snoozed until "+until.UTC().Format(time.RFC3339))
	l.publishState(ctx, conv.RequestID, models.ConversationStateSnoozed, reason, &until)
}

// enqueueSubAgent queues a meta-operation and notes the request id so
// the LLM can correlate the asynchronous result.
func (l *Loop) enqueueSubAgent(ctx context.Context, conv *models.Conversation, toolName string, op subagent.Operation, params subagent.RequestParams) {
	started := time.Now()
	if l.subAgent == nil {
		msg := "sub-agent is disabled"
		l.addNote(conv.RequestID, fmt.Sprintf("%s failed: %s", toolName, msg))
		l.publishTool(ctx, conv.RequestID, toolName, started, false, msg, "", "")
		return
	}

	id, err := l.subAgent.Enqueue(op, subagent.PriorityMedium, params)
	if err != nil {
		l.addNote(conv.RequestID, fmt.Sprintf("%s failed: %v", toolName, err))
		l.publishTool(ctx, conv.RequestID, toolName, started, false, err.Error(), "", "")
		return
	}

	l.addNote(conv.RequestID, fmt.Sprintf("%s queued as request %s", toolName, id))
	l.publishTool(ctx, conv.RequestID, toolName, started, true, "", "", "queued as request "+id)
}

// applyModelSwitch downgrades to the small model on low energy and
// restores the large one once recovered.
func (l *Loop) applyModelSwitch(ctx context.Context, requestID string) {
	level := l.regulator.Level()

	l.mu.Lock()
	from := l.currentModel
	var to, reason string
	switch {
	case level <= l.cfg.LowEnergyThreshold && from == l.llmCfg.LargeModel:
		to, reason = l.llmCfg.SmallModel, "low_energy"
	case level >= l.cfg.HighEnergyThreshold && from == l.llmCfg.SmallModel:
		to, reason = l.llmCfg.LargeModel, "recovered"
	}
	if to != "" {
		l.currentModel = to
	}
	l.mu.Unlock()

	if to == "" {
		return
	}

	l.logger.Info("Model switched", "from", from, "to", to, "reason", reason, "energy", level)
	if err := l.conversations.IncrementModelSwitches(ctx, requestID); err != nil {
		l.logger.Warn("Failed to count model switch", "request_id", requestID, "error", err)
	}
	if err := l.bus.PublishModelSwitched(ctx, events.ModelSwitchedPayload{
		Type:        events.EventTypeModelSwitched,
		RequestID:   requestID,
		FromModel:   from,
		ToModel:     to,
		Reason:      reason,
		EnergyLevel: level,
		Timestamp:   nowRFC3339(),
	}); err != nil {
		l.logger.Warn("Failed to publish model_switched", "error", err)
	}
}

// idleSleep recovers energy while nothing needs attention. Wakes early
// when a pending conversation appears.
func (l *Loop) idleSleep(ctx context.Context) {
	snap := l.regulator.Snapshot()
	_, max := l.regulator.Bounds()

	d := l.sleepBounds((max - snap.Current) / l.regulator.ReplenishRate())
	l.sleep(ctx, d, func(ctx context.Context) bool {
		pending, err := l.conversations.GetPendingConversations(ctx)
		return err == nil && len(pending) > 0
	})
}

// awaitEnergy honors an await_energy tool call: sleep in bounded chunks
// until the level is reached or the overall wait cap expires.
func (l *Loop) awaitEnergy(ctx context.Context, requestID string, minLevel float64) {
	deadline := time.Now().Add(maxAwait)

	for l.regulator.Level() < minLevel && time.Now().Before(deadline) {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := l.conversations.IncrementSleepCycles(ctx, requestID); err != nil {
			l.logger.Warn("Failed to count sleep cycle", "request_id", requestID, "error", err)
		}

		d := l.sleepBounds((minLevel - l.regulator.Level()) / l.regulator.ReplenishRate())
		l.sleep(ctx, d, func(context.Context) bool {
			return l.regulator.Level() >= minLevel
		})
	}
}

// sleepBounds clamps a desired sleep (in seconds) to the configured range.
func (l *Loop) sleepBounds(seconds float64) time.Duration {
	min, max := l.cfg.SleepMin, l.cfg.SleepMax
	if min <= 0 {
		min = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	d := time.Duration(seconds * float64(time.Second))
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// sleep blocks for up to d, replenishing energy and draining the
// sub-agent on a fine tick. earlyWake, when non-nil, is checked each
// tick and cuts the sleep short.
func (l *Loop) sleep(ctx context.Context, d time.Duration, earlyWake func(context.Context) bool) {
	startLevel := l.regulator.Level()
	l.bus.PublishSleep(events.SleepPayload{
		Type:            events.EventTypeSleepStart,
		DurationSeconds: d.Seconds(),
		EnergyLevel:     startLevel,
		Timestamp:       nowRFC3339(),
	})

	start := time.Now()
	lastTick := start
	for {
		remaining := d - time.Since(start)
		if remaining <= 0 {
			break
		}
		tick := sleepTick
		if remaining < tick {
			tick = remaining
		}

		select {
		case <-l.stopCh:
			remaining = 0
		case <-ctx.Done():
			remaining = 0
		case <-time.After(tick):
		}

		now := time.Now()
		l.regulator.Replenish(now.Sub(lastTick))
		lastTick = now
		l.drainSubAgent()

		if remaining <= 0 {
			break
		}
		if earlyWake != nil && earlyWake(ctx) {
			break
		}
	}

	endLevel := l.regulator.Level()
	restored := endLevel - startLevel
	if restored < 0 {
		// Sub-agent drains during the sleep can outpace replenishment.
		restored = 0
	}
	l.bus.PublishSleep(events.SleepPayload{
		Type:            events.EventTypeSleepEnd,
		DurationSeconds: time.Since(start).Seconds(),
		EnergyLevel:     endLevel,
		EnergyRestored:  restored,
		Timestamp:       nowRFC3339(),
	})
}

// pause is a plain stop-aware wait, used for failure backoff.
func (l *Loop) pause(ctx context.Context, d time.Duration) {
	select {
	case <-l.stopCh:
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// publishEnergy emits an on-demand snapshot, outside the regulator's own
// mutation hook.
func (l *Loop) publishEnergy() {
	l.publishEnergySnapshot(l.regulator.Snapshot())
}

func (l *Loop) publishEnergySnapshot(snap energy.Snapshot) {
	l.bus.PublishEnergyUpdate(events.EnergyUpdatePayload{
		Type:       events.EventTypeEnergyUpdate,
		Level:      snap.Current,
		Percentage: snap.Percentage,
		Status:     string(snap.Status),
		Timestamp:  nowRFC3339(),
	})
}

func (l *Loop) publishState(ctx context.Context, requestID string, state models.ConversationState, reason string, wakeAt *time.Time) {
	payload := events.StateChangedPayload{
		Type:      events.EventTypeStateChanged,
		RequestID: requestID,
		State:     state,
		Reason:    reason,
		Timestamp: nowRFC3339(),
	}
	if wakeAt != nil {
		payload.WakeAt = wakeAt.UTC().Format(time.RFC3339Nano)
	}
	if err := l.bus.PublishStateChanged(ctx, payload); err != nil {
		l.logger.Warn("Failed to publish state change", "request_id", requestID, "error", err)
	}
}

func (l *Loop) publishTool(ctx context.Context, requestID, toolName string, started time.Time, success bool, errMsg, arguments, result string) {
	if err := l.bus.PublishToolInvocation(ctx, events.ToolInvocationPayload{
		Type:            events.EventTypeToolInvocation,
		RequestID:       requestID,
		ToolName:        toolName,
		Success:         success,
		Error:           errMsg,
		DurationSeconds: time.Since(started).Seconds(),
		Arguments:       truncate(arguments, 500),
		Result:          truncate(result, 500),
		Timestamp:       nowRFC3339(),
	}); err != nil {
		l.logger.Warn("Failed to publish tool invocation", "error", err)
	}
}

func (l *Loop) addNote(requestID, note string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	notes := append(l.notes[requestID], note)
	if len(notes) > maxNotes {
		notes = notes[len(notes)-maxNotes:]
	}
	l.notes[requestID] = notes
}

func (l *Loop) recentNotes(requestID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.notes[requestID]...)
}

func (l *Loop) clearNotes(requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.notes, requestID)
}

func (l *Loop) subAgentActivity() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subActivity) == 0 {
		return ""
	}
	return strings.Join(l.subActivity, "; ")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
