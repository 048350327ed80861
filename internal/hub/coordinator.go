package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agent-console/internal/chat"
	"agent-console/internal/metrics"
	"agent-console/internal/types"
	"agent-console/internal/utils"
)

var (
	ErrEmptyInput          = errors.New("input is empty")
	ErrNoActiveSession     = errors.New("no active session")
	ErrInvalidMaxSteps     = errors.New("max steps must be between 1 and 50")
	ErrInvalidAgentType    = errors.New("agent type must be planner or executor")
	ErrApprovalNotRequired = errors.New("decision does not require approval")
	ErrAlreadyResolved     = errors.New("decision already resolved")
	ErrResolutionPending   = errors.New("decision resolution already in flight")
)

const (
	DefaultMaxSteps = 15
	MinMaxSteps     = 1
	MaxMaxSteps     = 50
)

// MutationError wraps a failed start, continue, approve or reject request.
type MutationError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *MutationError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.SessionID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// API is the subset of the remote service the core needs.
type API interface {
	StartSession(ctx context.Context, req types.StartSessionRequest) (*types.Session, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ContinueSession(ctx context.Context, id, message string) (*types.Session, error)
	ApproveDecision(ctx context.Context, sessionID, decisionID string, approved bool) (*types.Session, error)
	ListTools(ctx context.Context, category string) ([]types.ToolInfo, error)
}

type StartOptions struct {
	Goal      string
	AgentType string
	Context   map[string]any
	MaxSteps  int
}

// Coordinator performs user-initiated mutations against the remote service
// and reconciles the store with the responses.
type Coordinator struct {
	api      API
	store    *Store
	logger   *utils.Logger
	metrics  *metrics.Recorder
	rollback bool
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]bool
}

type CoordinatorOption func(*Coordinator)

// WithRollback restores the last confirmed snapshot when continue fails.
func WithRollback(on bool) CoordinatorOption {
	return func(c *Coordinator) { c.rollback = on }
}

func WithMetrics(rec *metrics.Recorder) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = rec }
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(api API, store *Store, logger *utils.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = utils.NopLogger()
	}
	c := &Coordinator{
		api:     api,
		store:   store,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Start(ctx context.Context, opts StartOptions) (*types.Session, error) {
	goal := strings.TrimSpace(opts.Goal)
	if goal == "" {
		return nil, ErrEmptyInput
	}
	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	if maxSteps < MinMaxSteps || maxSteps > MaxMaxSteps {
		return nil, ErrInvalidMaxSteps
	}
	agentType := opts.AgentType
	if agentType == "" {
		agentType = types.AgentTypePlanner
	}
	if agentType != types.AgentTypePlanner && agentType != types.AgentTypeExecutor {
		return nil, ErrInvalidAgentType
	}

	started := time.Now()
	session, err := c.api.StartSession(ctx, types.StartSessionRequest{
		Goal:      goal,
		AgentType: agentType,
		Context:   opts.Context,
		MaxSteps:  maxSteps,
	})
	c.metrics.Mutation(ctx, "start", err, time.Since(started))
	if err != nil {
		c.logger.Warn("start session failed", "error", err)
		return nil, &MutationError{Op: "start", Err: err}
	}

	if err := c.store.Activate(ctx, session); err != nil {
		c.logger.Warn("failed to persist started session", "session_id", session.ID, "error", err)
	}
	c.logger.Info("session started", "session_id", session.ID, "agent_type", session.AgentType)
	return session.Clone(), nil
}

// Continue sends a follow-up message. The store is patched to running and
// the message is cached before the request goes out.
func (c *Coordinator) Continue(ctx context.Context, text string) (*types.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	msg := types.ChatMessage{
		ID:          utils.NewID("msg"),
		Sender:      types.SenderUser,
		DisplayName: chat.UserDisplayName,
		Text:        text,
		Severity:    types.SeverityInfo,
		Timestamp:   chat.FormatTimestamp(c.now()),
	}
	id, prior, err := c.store.beginContinue(ctx, msg)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	session, err := c.api.ContinueSession(ctx, id, text)
	c.metrics.Mutation(ctx, "continue", err, time.Since(started))
	if err != nil {
		c.logger.Warn("continue failed", "session_id", id, "error", err, "rollback", c.rollback)
		if c.rollback {
			c.store.rollback(id, prior)
		}
		return nil, &MutationError{Op: "continue", SessionID: id, Err: err}
	}

	if !c.store.applyMutation(id, session) {
		c.logger.Debug("continue response for inactive session dropped", "session_id", id)
	}
	return session.Clone(), nil
}

func (c *Coordinator) Approve(ctx context.Context, decisionID string) (*types.Session, error) {
	return c.Resolve(ctx, decisionID, true)
}

func (c *Coordinator) Reject(ctx context.Context, decisionID string) (*types.Session, error) {
	return c.Resolve(ctx, decisionID, false)
}

// Resolve approves or rejects a decision. Nothing is changed locally until
// the service answers.
func (c *Coordinator) Resolve(ctx context.Context, decisionID string, approved bool) (*types.Session, error) {
	decisionID = strings.TrimSpace(decisionID)
	if decisionID == "" {
		return nil, ErrEmptyInput
	}
	state := c.store.Snapshot()
	if state.SessionID == "" {
		return nil, ErrNoActiveSession
	}
	if d, ok := state.Session.Decision(decisionID); ok {
		if !d.RequiresApproval {
			return nil, ErrApprovalNotRequired
		}
		if d.ApprovalStatus.Resolved() {
			return nil, ErrAlreadyResolved
		}
	}

	if !c.beginResolve(decisionID) {
		return nil, ErrResolutionPending
	}
	defer c.endResolve(decisionID)

	op := "reject"
	if approved {
		op = "approve"
	}
	started := time.Now()
	session, err := c.api.ApproveDecision(ctx, state.SessionID, decisionID, approved)
	c.metrics.Mutation(ctx, op, err, time.Since(started))
	if err != nil {
		c.logger.Warn("decision resolution failed", "session_id", state.SessionID, "decision_id", decisionID, "op", op, "error", err)
		return nil, &MutationError{Op: op, SessionID: state.SessionID, Err: err}
	}

	c.store.applyMutation(state.SessionID, session)
	c.logger.Info("decision resolved", "session_id", state.SessionID, "decision_id", decisionID, "op", op)
	return session.Clone(), nil
}

func (c *Coordinator) beginResolve(decisionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[decisionID] {
		return false
	}
	c.pending[decisionID] = true
	return true
}

func (c *Coordinator) endResolve(decisionID string) {
	c.mu.Lock()
	delete(c.pending, decisionID)
	c.mu.Unlock()
}

// Pending reports whether a resolution for decisionID is in flight.
func (c *Coordinator) Pending(decisionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[decisionID]
}

func (c *Coordinator) ListTools(ctx context.Context, category string) ([]types.ToolInfo, error) {
	tools, err := c.api.ListTools(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return tools, nil
}

// PendingApproval returns the latest decision still waiting for the user.
func PendingApproval(session *types.Session) (types.Decision, bool) {
	if session == nil {
		return types.Decision{}, false
	}
	var (
		found bool
		best  types.Decision
	)
	for _, d := range session.Decisions {
		if d.AwaitingApproval() && (!found || d.StepNumber >= best.StepNumber) {
			best = d
			found = true
		}
	}
	return best, found
}
