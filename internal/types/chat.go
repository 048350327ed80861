package types

import "encoding/json"

type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ChatMessage is one entry of the rendered timeline. User messages are
// persisted locally per session; agent messages are derived from decisions.
type ChatMessage struct {
	ID               string          `json:"id"`
	Sender           Sender          `json:"sender"`
	DisplayName      string          `json:"display_name"`
	Text             string          `json:"text"`
	Severity         Severity        `json:"severity"`
	ToolName         string          `json:"tool_name,omitempty"`
	ToolInput        json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput       json.RawMessage `json:"tool_output,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
	ApprovalStatus   ApprovalStatus  `json:"approval_status,omitempty"`
	DecisionID       string          `json:"decision_id,omitempty"`
	Timestamp        string          `json:"timestamp"`
}
