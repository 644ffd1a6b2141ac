package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/valet/internal/confirm"
	"github.com/haasonsaas/valet/internal/directive"
	"github.com/haasonsaas/valet/internal/llm"
	"github.com/haasonsaas/valet/internal/observability"
	"github.com/haasonsaas/valet/internal/ratelimit"
	"github.com/haasonsaas/valet/internal/schedule"
	"github.com/haasonsaas/valet/internal/temporal"
	"github.com/haasonsaas/valet/pkg/models"
)

// ErrEmptyMessage rejects blank chat input before any state is touched.
var ErrEmptyMessage = errors.New("session: empty message")

// RateLimitError reports a denied turn and how long until the window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

// Bridge is the orchestrator's view of the execution agent.
type Bridge interface {
	Tools(ctx context.Context) []models.Tool
	Execute(ctx context.Context, tool string, args map[string]any) *models.ToolResult
}

// Scheduler is the orchestrator's view of the schedule registry.
type Scheduler interface {
	Add(ctx context.Context, rec *schedule.Record) error
	Cancel(ctx context.Context, id string) error
	CancelSession(ctx context.Context, sessionID string) error
	List(ctx context.Context, sessionID string) ([]*schedule.Record, error)
	Get(ctx context.Context, id string) (*schedule.Record, error)
}

// Publisher pushes asynchronous events to a session's live listeners.
type Publisher interface {
	Publish(sessionID, eventType string, payload any)
}

// ScheduledInfo describes a schedule created during a chat turn.
type ScheduledInfo struct {
	ID          string `json:"id"`
	When        string `json:"when"`
	Description string `json:"description,omitempty"`
}

// Reply is the outcome of one chat turn.
type Reply struct {
	Message   string                 `json:"message"`
	Actions   []models.ActionOutcome `json:"actions,omitempty"`
	Scheduled *ScheduledInfo         `json:"scheduled,omitempty"`
}

// Snapshot is the introspection view of a session.
type Snapshot struct {
	HistoryLength int                   `json:"historyLength"`
	Preferences   map[string]string     `json:"preferences"`
	Pending       *models.PendingAction `json:"pendingAction"`
	LastActive    time.Time             `json:"lastActive"`
}

// Orchestrator drives every component for a session: rate limiting, the
// pending-action machine, completion calls, directive handling, tool
// execution, and history upkeep. All of it runs under the session lock, so
// each session behaves as a single actor.
type Orchestrator struct {
	store        Store
	locker       *Locker
	llm          llm.Client
	bridge       Bridge
	scheduler    Scheduler
	limiter      *ratelimit.Limiter
	matcher      *confirm.Matcher
	clarifyField string
	publisher    Publisher
	metrics      *observability.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLimiter sets the per-session rate limiter.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(o *Orchestrator) {
		if limiter != nil {
			o.limiter = limiter
		}
	}
}

// WithMatcher sets the sensitive-tool matcher.
func WithMatcher(matcher *confirm.Matcher) Option {
	return func(o *Orchestrator) {
		if matcher != nil {
			o.matcher = matcher
		}
	}
}

// WithClarifyField sets the argument a sensitive action must carry before
// it can be confirmed. Empty disables the clarification stage.
func WithClarifyField(field string) Option {
	return func(o *Orchestrator) {
		o.clarifyField = field
	}
}

// WithPublisher sets the fan-out sink for asynchronous results.
func WithPublisher(publisher Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// NewOrchestrator wires the orchestrator with its collaborators.
func NewOrchestrator(store Store, completion llm.Client, agent Bridge, scheduler Scheduler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		locker:       NewLocker(),
		llm:          completion,
		bridge:       agent,
		scheduler:    scheduler,
		limiter:      ratelimit.New(0, 0),
		matcher:      confirm.NewMatcher([]string{"send_*", "delete_*"}),
		clarifyField: "message",
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleMessage runs one chat turn. The session lock is held for the whole
// turn, completion and tool calls included; concurrent messages for the
// same session queue here while other sessions proceed in parallel.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	release := o.locker.Acquire(sessionID)
	defer release()

	state, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	now := o.now()

	// The window check runs before any other work; a denied turn makes no
	// completion call and executes nothing.
	if res := o.limiter.Check(&state.Rate, now); !res.Allowed {
		if err := o.store.Save(ctx, sessionID, state); err != nil {
			o.logger.Warn("saving rate window failed", "session", sessionID, "error", err)
		}
		if o.metrics != nil {
			o.metrics.RecordRateLimited()
			o.metrics.RecordChatTurn("rate_limited")
		}
		o.logger.Debug("turn rate limited", "session", sessionID, "reset_in", res.ResetIn)
		return nil, &RateLimitError{RetryAfter: res.ResetIn}
	}

	if state.Pending != nil {
		if reply, handled := o.resolvePending(ctx, state, text, now); handled {
			if err := o.store.Save(ctx, sessionID, state); err != nil {
				return nil, fmt.Errorf("save session %s: %w", sessionID, err)
			}
			if o.metrics != nil {
				o.metrics.RecordChatTurn("ok")
			}
			return reply, nil
		}
		// Ambiguous reply: the pending action is gone and the text is
		// treated as a fresh command.
	}

	reply, err := o.completeTurn(ctx, sessionID, state, text, now)
	if err != nil {
		// The turn failed upstream; keep the user's message so context
		// is not lost.
		state.Append(models.RoleUser, text, now)
		state.Touch(now)
		if saveErr := o.store.Save(ctx, sessionID, state); saveErr != nil {
			o.logger.Warn("saving session after failed completion", "session", sessionID, "error", saveErr)
		}
		if o.metrics != nil {
			o.metrics.RecordChatTurn("error")
		}
		o.logger.Error("chat turn failed", "session", sessionID, "error", err)
		return &Reply{Message: "Sorry, I couldn't process that right now. Please try again."}, nil
	}

	state.Append(models.RoleUser, text, now)
	if reply.Message != "" {
		state.Append(models.RoleAssistant, reply.Message, now)
	}
	state.Touch(now)
	if err := o.store.Save(ctx, sessionID, state); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	if o.metrics != nil {
		o.metrics.RecordChatTurn("ok")
	}
	return reply, nil
}

// resolvePending advances the pending-action machine. handled is false only
// for the ambiguous-confirmation case: the pending action is discarded and
// the message continues through the normal path.
func (o *Orchestrator) resolvePending(ctx context.Context, state *State, text string, now time.Time) (*Reply, bool) {
	pending := state.Pending

	if pending.Stage == models.StageAwaitingClarification {
		if pending.Args == nil {
			pending.Args = map[string]any{}
		}
		pending.Args[pending.MissingField] = text
		pending.MissingField = ""
		pending.Stage = models.StageAwaitingConfirmation

		prompt := confirmPrompt(pending)
		state.Append(models.RoleUser, text, now)
		state.Append(models.RoleAssistant, prompt, now)
		state.Touch(now)
		return &Reply{Message: prompt}, true
	}

	switch confirm.ParseReply(text) {
	case confirm.DecisionConfirm:
		state.Pending = nil
		outcome := o.execute(ctx, pending.Tool, pending.Args)
		message := outcomeMessage(outcome)
		state.Append(models.RoleUser, text, now)
		state.Append(models.RoleAssistant, message, now)
		state.Touch(now)
		return &Reply{Message: message, Actions: []models.ActionOutcome{outcome}}, true

	case confirm.DecisionCancel:
		state.Pending = nil
		const message = "Okay, cancelled."
		state.Append(models.RoleUser, text, now)
		state.Append(models.RoleAssistant, message, now)
		state.Touch(now)
		return &Reply{Message: message}, true

	default:
		state.Pending = nil
		return nil, false
	}
}

// completeTurn runs the normal path: catalog, completion, directives.
func (o *Orchestrator) completeTurn(ctx context.Context, sessionID string, state *State, text string, now time.Time) (*Reply, error) {
	tools := o.bridge.Tools(ctx)
	system := BuildSystemPrompt(tools, state.Preferences)

	messages := make([]models.Message, 0, len(state.History)+1)
	messages = append(messages, state.History...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: text, Timestamp: now})

	raw, err := o.complete(ctx, llm.CompletionRequest{System: system, Messages: messages})
	if err != nil {
		return nil, err
	}

	parsed := directive.Parse(raw)
	reply := &Reply{Message: parsed.Text}

	if parsed.Preference != nil {
		state.Preferences[parsed.Preference.Key] = parsed.Preference.Value
		o.logger.Debug("preference stored", "session", sessionID, "key", parsed.Preference.Key)
	}

	if parsed.Schedule != nil {
		info, err := o.createSchedule(ctx, sessionID, parsed.Schedule, now)
		if err != nil {
			o.logger.Warn("schedule directive rejected", "session", sessionID, "error", err)
		} else {
			reply.Scheduled = info
		}
	}

	for _, act := range parsed.Actions {
		tool := lookupTool(tools, act.Tool)
		if o.matcher.Sensitive(tool) {
			o.park(state, tool, act, parsed.Text, text, now)
			continue
		}
		reply.Actions = append(reply.Actions, o.execute(ctx, act.Tool, act.Args))
	}

	if state.Pending != nil {
		// The confirmation exchange supersedes the model's prose.
		if state.Pending.Stage == models.StageAwaitingClarification {
			reply.Message = clarifyPrompt(state.Pending)
		} else {
			reply.Message = confirmPrompt(state.Pending)
		}
	} else if followUp := o.visionFollowUp(ctx, system, messages, reply); followUp != "" {
		reply.Message = followUp
	}

	if reply.Message == "" {
		reply.Message = summarize(reply)
	}
	return reply, nil
}

// park stores a sensitive action for confirmation. A newer sensitive action
// replaces any parked one; the previous one is dropped without comment.
func (o *Orchestrator) park(state *State, tool models.Tool, act directive.Action, prose, request string, now time.Time) {
	args := act.Args
	if args == nil {
		args = map[string]any{}
	}
	pending := &models.PendingAction{
		Tool:            act.Tool,
		Args:            args,
		Context:         prose,
		OriginalRequest: request,
		Stage:           models.StageAwaitingConfirmation,
		CreatedAt:       now,
	}
	if field := o.clarifyField; field != "" {
		value, present := args[field]
		switch {
		case present && isEmptyArg(value):
			pending.Stage = models.StageAwaitingClarification
			pending.MissingField = field
		case !present && schemaHasField(tool.InputSchema, field):
			pending.Stage = models.StageAwaitingClarification
			pending.MissingField = field
		}
	}
	state.Pending = pending
}

func (o *Orchestrator) execute(ctx context.Context, tool string, args map[string]any) models.ActionOutcome {
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	res := o.bridge.Execute(ctx, tool, args)

	outcome := models.ActionOutcome{Tool: tool, Args: args, Success: res.Success, Image: res.Image}
	status := "success"
	if res.Success {
		outcome.Result = res.Result
	} else {
		outcome.Result = res.Error
		status = "error"
	}
	if o.metrics != nil {
		o.metrics.RecordToolExecution(tool, status, time.Since(start).Seconds())
	}
	return outcome
}

func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	start := time.Now()
	raw, err := o.llm.Complete(ctx, req)
	if o.metrics != nil {
		model := req.Model
		if model == "" {
			model = "default"
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordCompletion(model, status, time.Since(start).Seconds())
	}
	return raw, err
}

func (o *Orchestrator) createSchedule(ctx context.Context, sessionID string, dir *directive.Schedule, now time.Time) (*ScheduledInfo, error) {
	resolution := temporal.Resolve(dir.When, now)
	rec := &schedule.Record{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Tool:        dir.Tool,
		Args:        dir.Args,
		Description: dir.Description,
		CreatedAt:   now,
	}
	if resolution.Kind == temporal.KindCron {
		rec.Kind = schedule.KindRecurring
		rec.Expr = resolution.Expr
	} else {
		rec.Kind = schedule.KindOnce
		rec.At = resolution.At
	}
	if err := o.scheduler.Add(ctx, rec); err != nil {
		return nil, err
	}
	o.logger.Info("schedule created", "session", sessionID, "id", rec.ID, "kind", rec.Kind, "when", rec.When(), "tool", rec.Tool)
	return &ScheduledInfo{ID: rec.ID, When: rec.When(), Description: rec.Description}, nil
}

// visionFollowUp runs one extra completion when exactly one action captured
// the screen, so the reply can describe what is on it. The follow-up text
// is stripped of directives and never executed.
func (o *Orchestrator) visionFollowUp(ctx context.Context, system string, messages []models.Message, reply *Reply) string {
	var capture *models.ActionOutcome
	for i := range reply.Actions {
		outcome := &reply.Actions[i]
		if outcome.Image == "" || !capturesScreen(outcome.Tool) {
			continue
		}
		if capture != nil {
			return ""
		}
		capture = outcome
	}
	if capture == nil || !capture.Success {
		return ""
	}
	image := llm.NormalizeImage(capture.Image)
	if image == nil {
		return ""
	}

	followUp := make([]models.Message, 0, len(messages)+1)
	followUp = append(followUp, messages...)
	followUp = append(followUp, models.Message{
		Role:    models.RoleUser,
		Content: "Here is the captured screenshot. Describe the relevant contents briefly.",
	})
	text, err := o.complete(ctx, llm.CompletionRequest{System: system, Messages: followUp, Image: image})
	if err != nil {
		o.logger.Warn("vision follow-up failed", "tool", capture.Tool, "error", err)
		return ""
	}
	return directive.Parse(text).Text
}

// HandleScheduled is the scheduler's runner. A firing takes the same session
// lock as chat turns, so a trigger going off mid-conversation waits its turn.
func (o *Orchestrator) HandleScheduled(ctx context.Context, rec *schedule.Record) {
	release := o.locker.Acquire(rec.SessionID)
	defer release()

	outcome := o.execute(ctx, rec.Tool, rec.Args)
	now := o.now()

	label := rec.Description
	if label == "" {
		label = rec.Tool
	}
	entry := fmt.Sprintf("Scheduled task %q: %s", label, outcomeMessage(outcome))

	state, err := o.store.Load(ctx, rec.SessionID)
	if err != nil {
		o.logger.Error("loading session for scheduled result", "session", rec.SessionID, "error", err)
	} else {
		state.Append(models.RoleAssistant, entry, now)
		state.Touch(now)
		if err := o.store.Save(ctx, rec.SessionID, state); err != nil {
			o.logger.Error("saving scheduled result", "session", rec.SessionID, "error", err)
		}
	}

	if o.metrics != nil {
		o.metrics.RecordScheduleFiring(string(rec.Kind))
	}
	if o.publisher != nil {
		payload := map[string]any{
			"id":          rec.ID,
			"tool":        rec.Tool,
			"description": rec.Description,
			"result":      outcome.Result,
			"success":     outcome.Success,
		}
		if outcome.Image != "" {
			payload["image"] = outcome.Image
		}
		o.publisher.Publish(rec.SessionID, "scheduled_result", payload)
	}
	o.logger.Info("scheduled task ran", "session", rec.SessionID, "id", rec.ID, "tool", rec.Tool, "success", outcome.Success)
}

// Reset clears history, any pending action, and the session's schedules.
// Preferences survive. Safe to call repeatedly.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	release := o.locker.Acquire(sessionID)
	defer release()

	state, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	state.History = []models.Message{}
	state.Pending = nil
	state.Touch(o.now())

	if err := o.scheduler.CancelSession(ctx, sessionID); err != nil {
		return fmt.Errorf("cancel session schedules: %w", err)
	}
	if err := o.store.Save(ctx, sessionID, state); err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	o.logger.Info("session reset", "session", sessionID)
	return nil
}

// Describe returns a read-only snapshot for the state endpoint.
func (o *Orchestrator) Describe(ctx context.Context, sessionID string) (*Snapshot, error) {
	release := o.locker.Acquire(sessionID)
	defer release()

	state, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &Snapshot{
		HistoryLength: len(state.History),
		Preferences:   state.Preferences,
		Pending:       state.Pending,
		LastActive:    state.LastActive,
	}, nil
}

// ListSchedules returns the session's schedule records.
func (o *Orchestrator) ListSchedules(ctx context.Context, sessionID string) ([]*schedule.Record, error) {
	return o.scheduler.List(ctx, sessionID)
}

// CancelSchedule removes one of the session's schedules. Records belonging
// to other sessions read as not found rather than leak their existence.
func (o *Orchestrator) CancelSchedule(ctx context.Context, sessionID, id string) error {
	rec, err := o.scheduler.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.SessionID != sessionID {
		return schedule.ErrNotFound
	}
	return o.scheduler.Cancel(ctx, id)
}

func lookupTool(tools []models.Tool, name string) models.Tool {
	for _, t := range tools {
		if t.Name == name {
			return t
		}
	}
	return models.Tool{Name: name}
}

func capturesScreen(name string) bool {
	return name == "screenshot" || strings.HasPrefix(name, "screen_")
}

func isEmptyArg(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// schemaHasField reports whether a tool's input schema declares a property,
// which is what makes a missing argument worth clarifying.
func schemaHasField(schema json.RawMessage, field string) bool {
	if len(schema) == 0 {
		return false
	}
	var decoded struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return false
	}
	_, ok := decoded.Properties[field]
	return ok
}

func outcomeMessage(outcome models.ActionOutcome) string {
	if outcome.Success {
		if outcome.Result != "" {
			return outcome.Result
		}
		return fmt.Sprintf("Done, %s completed.", outcome.Tool)
	}
	return fmt.Sprintf("%s failed: %s", outcome.Tool, outcome.Result)
}

func confirmPrompt(p *models.PendingAction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "About to run %s", p.Tool)
	if len(p.Args) > 0 {
		if args, err := json.Marshal(p.Args); err == nil {
			fmt.Fprintf(&b, " with %s", args)
		}
	}
	b.WriteString(`. Reply "yes" to confirm or "no" to cancel.`)
	return b.String()
}

func clarifyPrompt(p *models.PendingAction) string {
	return fmt.Sprintf("Before I run %s I need the %s. What should it be?", p.Tool, p.MissingField)
}

func summarize(reply *Reply) string {
	if reply.Scheduled != nil {
		if reply.Scheduled.Description != "" {
			return fmt.Sprintf("Scheduled: %s (%s).", reply.Scheduled.Description, reply.Scheduled.When)
		}
		return fmt.Sprintf("Scheduled for %s.", reply.Scheduled.When)
	}
	if n := len(reply.Actions); n > 0 {
		return outcomeMessage(reply.Actions[n-1])
	}
	return "Done."
}
