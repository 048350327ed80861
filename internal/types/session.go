package types

import (
	"encoding/json"
	"strings"
)

type SessionStatus string

const (
	SessionStatusPending          SessionStatus = "pending"
	SessionStatusRunning          SessionStatus = "running"
	SessionStatusAwaitingApproval SessionStatus = "awaiting_approval"
	SessionStatusCompleted        SessionStatus = "completed"
	SessionStatusFailed           SessionStatus = "failed"
)

// Active reports whether the remote agent may still produce new decisions.
func (s SessionStatus) Active() bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning, SessionStatusAwaitingApproval:
		return true
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

type Phase string

const (
	PhaseThink   Phase = "think"
	PhaseAct     Phase = "act"
	PhaseObserve Phase = "observe"
)

type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// UnmarshalJSON maps null and unknown values to ApprovalNone.
func (a *ApprovalStatus) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*a = ApprovalNone
		return nil
	}
	switch ApprovalStatus(strings.ToLower(*raw)) {
	case ApprovalApproved:
		*a = ApprovalApproved
	case ApprovalRejected:
		*a = ApprovalRejected
	default:
		*a = ApprovalNone
	}
	return nil
}

func (a ApprovalStatus) MarshalJSON() ([]byte, error) {
	if a == ApprovalNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(a))
}

func (a ApprovalStatus) Resolved() bool {
	return a == ApprovalApproved || a == ApprovalRejected
}

const (
	AgentTypePlanner  = "planner"
	AgentTypeExecutor = "executor"
)

type Decision struct {
	ID               string          `json:"id"`
	StepNumber       int             `json:"step_number"`
	Phase            Phase           `json:"phase"`
	Reasoning        string          `json:"reasoning,omitempty"`
	ToolName         string          `json:"tool_name,omitempty"`
	ToolInput        json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput       json.RawMessage `json:"tool_output,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	ApprovalStatus   ApprovalStatus  `json:"approval_status"`
	CreatedAt        string          `json:"created_at"`
}

// AwaitingApproval is true for a decision the user still has to approve or reject.
func (d Decision) AwaitingApproval() bool {
	return d.RequiresApproval && !d.ApprovalStatus.Resolved()
}

type Session struct {
	ID           string          `json:"id"`
	Goal         string          `json:"goal"`
	Status       SessionStatus   `json:"status"`
	AgentType    string          `json:"agent_type"`
	CurrentStep  int             `json:"current_step"`
	MaxSteps     int             `json:"max_steps"`
	Result       json.RawMessage `json:"result_json,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	Decisions    []Decision      `json:"decisions"`
}

// ShortID returns the first 8 characters of the session ID for display
func (s *Session) ShortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}

// Clone returns a deep copy so snapshots handed to readers never alias store state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Result = cloneRaw(s.Result)
	if s.Decisions != nil {
		out.Decisions = make([]Decision, len(s.Decisions))
		for i, d := range s.Decisions {
			d.ToolInput = cloneRaw(d.ToolInput)
			d.ToolOutput = cloneRaw(d.ToolOutput)
			out.Decisions[i] = d
		}
	}
	return &out
}

func (s *Session) Decision(id string) (Decision, bool) {
	if s == nil {
		return Decision{}, false
	}
	for _, d := range s.Decisions {
		if d.ID == id {
			return d, true
		}
	}
	return Decision{}, false
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}

type StartSessionRequest struct {
	Goal      string         `json:"goal"`
	AgentType string         `json:"agent_type,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	MaxSteps  int            `json:"max_steps,omitempty"`
}

type ContinueRequest struct {
	Message string `json:"message"`
}

type ApproveRequest struct {
	Approved bool `json:"approved"`
}

type ToolInfo struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	ParametersSchema json.RawMessage `json:"parameters_schema,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
}
