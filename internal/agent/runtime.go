package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duyemura/boxassist-sub000/internal/observability"
	"github.com/duyemura/boxassist-sub000/internal/retry"
	"github.com/duyemura/boxassist-sub000/internal/sessions"
	"github.com/duyemura/boxassist-sub000/internal/usage"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// RuntimeConfig tunes the turn loop.
type RuntimeConfig struct {
	// Model is the model name sent to the provider.
	Model string

	// MaxTokens caps each completion.
	MaxTokens int

	// Gate decides which side-effecting calls run unattended.
	Gate GatePolicy

	// Pricing converts token usage to dollars for the budget guard.
	Pricing usage.Pricing

	// ToolTimeout bounds each tool execution. Zero means 30s.
	ToolTimeout time.Duration

	// RetryInitialDelay seeds the backoff before the single model-call
	// retry. Zero means 500ms.
	RetryInitialDelay time.Duration

	// EventBuffer is the stream depth. Zero means DefaultEventBuffer.
	EventBuffer int
}

// ContextBuilder supplies member context for the system prompt. A failure
// here is non-fatal; the session proceeds with reduced context.
type ContextBuilder func(ctx context.Context, session *models.Session) (string, error)

// Runtime drives sessions: one goroutine per Start call runs the turn loop
// until a terminal status or an approval suspension.
type Runtime struct {
	provider  ModelProvider
	registry  *Registry
	store     sessions.Store
	approvals ApprovalStore
	cfg       RuntimeConfig
	logger    *slog.Logger

	metrics  *observability.Metrics
	tracker  *usage.Tracker
	buildCtx ContextBuilder
	clock    func() time.Time
}

// RuntimeOption customizes a Runtime.
type RuntimeOption func(*Runtime)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) RuntimeOption {
	return func(r *Runtime) { r.metrics = m }
}

// WithUsageTracker attaches per-account usage accounting.
func WithUsageTracker(t *usage.Tracker) RuntimeOption {
	return func(r *Runtime) { r.tracker = t }
}

// WithContextBuilder injects member context into system prompts.
func WithContextBuilder(fn ContextBuilder) RuntimeOption {
	return func(r *Runtime) { r.buildCtx = fn }
}

// WithClock overrides time for tests.
func WithClock(clock func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.clock = clock }
}

// NewRuntime wires a runtime. The registry, store, and approval store must
// be non-nil; the provider may only be nil in tests that never call Start.
func NewRuntime(provider ModelProvider, registry *Registry, store sessions.Store, approvals ApprovalStore, cfg RuntimeConfig, logger *slog.Logger, opts ...RuntimeOption) *Runtime {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		provider:  provider,
		registry:  registry,
		store:     store,
		approvals: approvals,
		cfg:       cfg,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start persists the session and launches its turn loop. The returned
// stream delivers typed events and closes after exactly one final event
// (done, error, budget_exceeded, or awaiting_approval).
func (r *Runtime) Start(ctx context.Context, session *models.Session) (<-chan models.SessionEvent, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}
	if !session.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q", session.Role)
	}
	if session.Status == models.SessionCreated {
		if err := r.store.Create(ctx, session); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	emitter := newEventEmitter(r.cfg.EventBuffer, r.logger, r.metrics)
	if r.metrics != nil {
		r.metrics.SessionsStarted.WithLabelValues(string(session.Role), string(session.Creator)).Inc()
	}

	go r.run(ctx, session.Clone(), emitter)
	return emitter.events(), nil
}

func (r *Runtime) run(ctx context.Context, session *models.Session, emitter *eventEmitter) {
	defer emitter.close()
	ctx = observability.WithSessionID(ctx, session.ID)
	ctx = observability.WithAccountID(ctx, session.AccountID)

	emitter.emit(models.SessionEvent{
		Type:      models.EventSessionCreated,
		SessionID: session.ID,
	})

	session.Status = models.SessionRunning
	if err := r.store.Update(ctx, session); err != nil {
		r.finishFailed(ctx, session, emitter, fmt.Errorf("persist running status: %w", err))
		return
	}

	guard := NewBudgetGuard(session.Config, session.TurnsUsed, session.CostUSD, r.clock())
	history := r.historyFromTurns(session)
	system, err := r.systemPrompt(ctx, session)
	if err != nil {
		r.logger.Warn("member context unavailable, proceeding without it",
			"session_id", session.ID, "error", err)
	}
	tools := r.registry.ForGroups(session.Role.ToolGroups())

	for {
		if ctx.Err() != nil {
			r.finishFailed(ctx, session, emitter, fmt.Errorf("session cancelled: %w", ctx.Err()))
			return
		}
		if ok, reason := guard.CanStartTurn(r.clock()); !ok {
			r.finishBudgetExceeded(ctx, session, emitter, reason)
			return
		}

		turn := models.Turn{
			Index:     guard.TurnsUsed(),
			StartedAt: r.clock(),
		}

		out, err := r.completeWithRetry(ctx, &CompletionRequest{
			Model:     r.cfg.Model,
			System:    system,
			Messages:  history,
			Tools:     tools,
			MaxTokens: r.cfg.MaxTokens,
		})
		if err != nil {
			r.finishFailed(ctx, session, emitter, &TurnError{Turn: turn.Index, Stage: "model", Cause: err})
			return
		}

		turn.AssistantText = out.text
		turn.InputTokens = out.usage.InputTokens
		turn.OutputTokens = out.usage.OutputTokens
		turn.CostUSD = r.cfg.Pricing.Estimate(r.cfg.Model, &out.usage)
		guard.RecordTurn(turn.CostUSD)
		session.TurnsUsed = guard.TurnsUsed()
		session.CostUSD = guard.CostUSD()
		r.recordUsage(session, &out.usage, turn.CostUSD)

		if out.text != "" {
			emitter.emit(models.SessionEvent{
				Type:      models.EventMessage,
				SessionID: session.ID,
				Turn:      turn.Index,
				Content:   out.text,
			})
		}

		if len(out.calls) == 0 {
			turn.FinishedAt = r.clock()
			session.Turns = append(session.Turns, turn)
			r.finishCompleted(ctx, session, emitter, out.text)
			return
		}

		turn.ToolCalls = out.calls
		suspended := false
		for i, call := range out.calls {
			emitter.emit(models.SessionEvent{
				Type:      models.EventToolCall,
				SessionID: session.ID,
				Turn:      turn.Index,
				ToolCall:  call.Clone(),
			})

			result, pending := r.dispatch(ctx, session, call)
			if pending != nil {
				if err := r.suspendForApproval(ctx, session, emitter, &turn, i, pending); err != nil {
					r.finishFailed(ctx, session, emitter, err)
				}
				suspended = true
				break
			}

			turn.ToolResults = append(turn.ToolResults, result)
			emitter.emit(models.SessionEvent{
				Type:       models.EventToolResult,
				SessionID:  session.ID,
				Turn:       turn.Index,
				ToolResult: &result,
			})
		}
		if suspended {
			return
		}

		turn.FinishedAt = r.clock()
		session.Turns = append(session.Turns, turn)
		if err := r.store.Update(ctx, session); err != nil {
			r.finishFailed(ctx, session, emitter, &TurnError{Turn: turn.Index, Stage: "persist", Cause: err})
			return
		}
		if r.metrics != nil {
			r.metrics.Turns.WithLabelValues(string(session.Role)).Inc()
		}

		history = append(history,
			CompletionMessage{Role: "assistant", Content: turn.AssistantText, ToolCalls: turn.ToolCalls},
			CompletionMessage{Role: "tool", ToolResults: turn.ToolResults},
		)
	}
}

// dispatch resolves, validates, gates, and possibly executes one call.
// A non-nil PendingApproval means the loop must suspend.
func (r *Runtime) dispatch(ctx context.Context, session *models.Session, call models.ToolCall) (models.ToolResult, *PendingApproval) {
	tool, err := r.registry.Lookup(call.Name, session.Role.ToolGroups())
	if err != nil {
		r.recordToolOutcome(call.Name, "refused", 0)
		return ErrorResult(call, err), nil
	}
	if err := r.registry.Validate(call.Name, call.Input); err != nil {
		r.recordToolOutcome(call.Name, "refused", 0)
		return ErrorResult(call, err), nil
	}

	decision, reason := r.cfg.Gate.Decide(session.Config.Autonomy, tool, call.Input)
	if r.metrics != nil {
		r.metrics.ApprovalDecisions.WithLabelValues(string(session.Config.Autonomy), string(decision)).Inc()
	}

	switch decision {
	case DecisionReject:
		r.recordToolOutcome(call.Name, "rejected", 0)
		return ErrorResult(call, fmt.Errorf("call rejected by policy: %s", reason)), nil
	case DecisionRequireApproval:
		r.recordToolOutcome(call.Name, "pending", 0)
		return models.ToolResult{}, NewPendingApproval(session, call, reason)
	}

	start := r.clock()
	execCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	result := r.registry.Execute(execCtx, tool, call)
	cancel()

	outcome := "ok"
	if result.IsError {
		outcome = "error"
	}
	r.recordToolOutcome(call.Name, outcome, time.Since(start).Seconds())
	return result, nil
}

// suspendForApproval persists the pending call and the partial turn, then
// emits the single awaiting_approval event.
func (r *Runtime) suspendForApproval(ctx context.Context, session *models.Session, emitter *eventEmitter, turn *models.Turn, callIndex int, pending *PendingApproval) error {
	if err := r.approvals.Create(ctx, pending); err != nil {
		return fmt.Errorf("persist approval: %w", err)
	}

	call := turn.ToolCalls[callIndex]
	turn.PendingCall = call.Clone()
	turn.FinishedAt = r.clock()
	session.Turns = append(session.Turns, *turn)
	session.Status = models.SessionAwaitingApproval
	if err := r.store.Update(ctx, session); err != nil {
		return fmt.Errorf("persist suspension: %w", err)
	}

	r.logger.Info("session awaiting approval",
		"session_id", session.ID,
		"approval_id", pending.ID,
		"tool", call.Name,
		"reason", pending.Reason)
	r.endSession(session)

	emitter.emit(models.SessionEvent{
		Type:      models.EventAwaitingApproval,
		SessionID: session.ID,
		Turn:      turn.Index,
		ToolCall:  call.Clone(),
		Content:   pending.Reason,
	})
	return nil
}

// Resume records an approval decision and starts a continuation session
// that carries the parent's turn log and budget counters. An approved call
// executes before the model sees the transcript again; a denied call is fed
// back as an error result.
func (r *Runtime) Resume(ctx context.Context, approvalID string, approve bool, decidedBy string) (*models.Session, <-chan models.SessionEvent, error) {
	approval, err := r.approvals.Decide(ctx, approvalID, approve, decidedBy)
	if err != nil {
		return nil, nil, err
	}

	parent, err := r.store.Get(ctx, approval.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if parent.Status != models.SessionAwaitingApproval {
		return nil, nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotResumable, parent.ID, parent.Status)
	}
	if len(parent.Turns) == 0 || parent.Turns[len(parent.Turns)-1].PendingCall == nil {
		return nil, nil, fmt.Errorf("%w: session %s has no pending call", ErrSessionNotResumable, parent.ID)
	}

	cont := models.NewSession(parent.AccountID, parent.Role, parent.Creator, parent.Config)
	cont.ParentID = parent.ID
	cont.ConversationID = parent.ConversationID
	cont.Turns = parent.Clone().Turns
	cont.TurnsUsed = parent.TurnsUsed
	cont.CostUSD = parent.CostUSD

	last := &cont.Turns[len(cont.Turns)-1]
	pendingCall := *last.PendingCall
	last.PendingCall = nil

	var result models.ToolResult
	if approve {
		tool, lookupErr := r.registry.Lookup(pendingCall.Name, cont.Role.ToolGroups())
		if lookupErr != nil {
			result = ErrorResult(pendingCall, lookupErr)
		} else {
			execCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
			result = r.registry.Execute(execCtx, tool, pendingCall)
			cancel()
		}
	} else {
		result = models.ToolResult{
			ToolCallID: pendingCall.ID,
			Name:       pendingCall.Name,
			Content:    fmt.Sprintf("call denied by %s", decidedBy),
			IsError:    true,
		}
	}
	last.ToolResults = append(last.ToolResults, result)

	// Calls queued after the suspended one never ran.
	for i := len(last.ToolResults); i < len(last.ToolCalls); i++ {
		skipped := last.ToolCalls[i]
		last.ToolResults = append(last.ToolResults, models.ToolResult{
			ToolCallID: skipped.ID,
			Name:       skipped.Name,
			Content:    "not executed: session was suspended before this call",
			IsError:    true,
		})
	}

	// The parent record stays awaiting_approval for audit; the decision
	// and continuation are discoverable through the approval record and
	// the continuation's parent id.
	parent.Summary = fmt.Sprintf("continued as session %s", cont.ID)
	if err := r.store.Update(ctx, parent); err != nil {
		return nil, nil, fmt.Errorf("persist parent: %w", err)
	}

	events, err := r.Start(ctx, cont)
	if err != nil {
		return nil, nil, err
	}
	return cont, events, nil
}

type turnOutput struct {
	text       string
	calls      []models.ToolCall
	usage      usage.Usage
	stopReason string
}

// completeWithRetry makes the model call, retrying once on transient
// provider failure. Permanent failures surface immediately.
func (r *Runtime) completeWithRetry(ctx context.Context, req *CompletionRequest) (*turnOutput, error) {
	cfg := retry.Config{
		MaxAttempts:  2,
		InitialDelay: r.cfg.RetryInitialDelay,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}

	out, res := retry.DoWithValue(ctx, cfg, func() (*turnOutput, error) {
		start := r.clock()
		out, err := r.completeOnce(ctx, req)
		r.recordModelCall(req.Model, err, time.Since(start).Seconds(), out)
		if err != nil && !IsRetryableProviderError(err) {
			return nil, retry.Permanent(err)
		}
		return out, err
	})
	if res.Err != nil {
		if res.Attempts > 1 {
			r.logger.Warn("model call failed after retry", "attempts", res.Attempts, "error", res.Err)
		}
		return nil, res.Err
	}
	return out, nil
}

func (r *Runtime) completeOnce(ctx context.Context, req *CompletionRequest) (*turnOutput, error) {
	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &turnOutput{}
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			// The provider goroutine still owes a terminal chunk on an
			// unbuffered channel; drain until it closes so it can exit.
			go func() {
				for range chunks {
				}
			}()
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				out.text = text.String()
				return out, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				out.calls = append(out.calls, *chunk.ToolCall.Clone())
			}
			if chunk.Usage != nil {
				out.usage.Add(chunk.Usage)
			}
			if chunk.Done {
				out.stopReason = chunk.StopReason
			}
		}
	}
}

func (r *Runtime) historyFromTurns(session *models.Session) []CompletionMessage {
	msgs := []CompletionMessage{{Role: "user", Content: session.Config.Goal}}
	for _, t := range session.Turns {
		if t.AssistantText != "" || len(t.ToolCalls) > 0 {
			msgs = append(msgs, CompletionMessage{
				Role:      "assistant",
				Content:   t.AssistantText,
				ToolCalls: t.ToolCalls,
			})
		}
		if len(t.ToolResults) > 0 {
			msgs = append(msgs, CompletionMessage{Role: "tool", ToolResults: t.ToolResults})
		}
	}
	return msgs
}

func (r *Runtime) systemPrompt(ctx context.Context, session *models.Session) (string, error) {
	var b strings.Builder
	b.WriteString(rolePrompt(session.Role))

	if r.buildCtx == nil {
		return b.String(), nil
	}
	memberCtx, err := r.buildCtx(ctx, session)
	if memberCtx != "" {
		b.WriteString("\n\nMember context:\n")
		b.WriteString(memberCtx)
	}
	return b.String(), err
}

func rolePrompt(role models.AgentRole) string {
	switch role {
	case models.RoleManager:
		return "You are the retention manager for a fitness business. You " +
			"investigate member churn risk, decide on concessions like pauses " +
			"or credits, and record outcomes so future outreach improves. " +
			"Use tools to look up member data before acting. Be concise and " +
			"concrete in member-facing messages."
	default:
		return "You are the front desk assistant for a fitness business. You " +
			"answer member questions, check attendance and membership data, " +
			"and draft or send friendly check-in messages. Escalate anything " +
			"involving refunds, cancellations, or an upset member."
	}
}

func (r *Runtime) finishCompleted(ctx context.Context, session *models.Session, emitter *eventEmitter, summary string) {
	session.Status = models.SessionCompleted
	session.Summary = summary
	if err := r.store.Update(ctx, session); err != nil {
		r.logger.Error("failed to persist completed session", "session_id", session.ID, "error", err)
	}
	r.endSession(session)
	emitter.emit(models.SessionEvent{
		Type:      models.EventDone,
		SessionID: session.ID,
		Content:   summary,
	})
}

func (r *Runtime) finishBudgetExceeded(ctx context.Context, session *models.Session, emitter *eventEmitter, reason string) {
	session.Status = models.SessionBudgetExceeded
	session.Error = reason
	if err := r.store.Update(ctx, session); err != nil {
		r.logger.Error("failed to persist budget-exceeded session", "session_id", session.ID, "error", err)
	}
	r.logger.Info("session stopped by budget", "session_id", session.ID, "reason", reason)
	r.endSession(session)
	emitter.emit(models.SessionEvent{
		Type:      models.EventBudgetExceeded,
		SessionID: session.ID,
		Content:   reason,
	})
}

func (r *Runtime) finishFailed(ctx context.Context, session *models.Session, emitter *eventEmitter, cause error) {
	session.Status = models.SessionFailed
	session.Error = cause.Error()
	// Persist with a fresh context: the failure may be the cancellation
	// itself.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.Update(persistCtx, session); err != nil && !errors.Is(err, sessions.ErrNotFound) {
		r.logger.Error("failed to persist failed session", "session_id", session.ID, "error", err)
	}
	r.logger.Error("session failed", "session_id", session.ID, "error", cause)
	r.endSession(session)
	emitter.emit(models.SessionEvent{
		Type:      models.EventError,
		SessionID: session.ID,
		Error:     cause.Error(),
	})
}

func (r *Runtime) endSession(session *models.Session) {
	if r.metrics != nil {
		r.metrics.SessionsEnded.WithLabelValues(string(session.Role), string(session.Status)).Inc()
	}
}

func (r *Runtime) recordToolOutcome(tool, outcome string, seconds float64) {
	if r.metrics != nil {
		r.metrics.RecordToolExecution(tool, outcome, seconds)
	}
}

func (r *Runtime) recordModelCall(model string, err error, seconds float64, out *turnOutput) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	var in, outTokens int64
	if out != nil {
		in = out.usage.InputTokens
		outTokens = out.usage.OutputTokens
	}
	r.metrics.RecordModelRequest(r.provider.Name(), model, status, seconds, in, outTokens)
}

func (r *Runtime) recordUsage(session *models.Session, u *usage.Usage, cost float64) {
	if r.tracker == nil {
		return
	}
	r.tracker.Record(usage.Record{
		SessionID: session.ID,
		AccountID: session.AccountID,
		Provider:  r.provider.Name(),
		Model:     r.cfg.Model,
		Usage:     *u,
		CostUSD:   cost,
	})
}
