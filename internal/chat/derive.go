package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"agent-console/internal/types"
)

const (
	AgentDisplayName = "Agent"
	UserDisplayName  = "You"
)

// Derive turns a decision into a chat message. The boolean is false when the
// decision has nothing to show: observe steps, and steps with no text.
func Derive(d types.Decision, now time.Time) (types.ChatMessage, bool) {
	if d.Phase == types.PhaseObserve {
		return types.ChatMessage{}, false
	}

	output := DecodeToolOutput(d.ToolOutput)
	text := decisionText(d, output)
	if text == "" {
		return types.ChatMessage{}, false
	}

	timestamp := d.CreatedAt
	if _, ok := ParseTimestamp(timestamp); !ok {
		timestamp = FormatTimestamp(now)
	}

	return types.ChatMessage{
		ID:               d.ID,
		Sender:           types.SenderAgent,
		DisplayName:      AgentDisplayName,
		Text:             text,
		Severity:         decisionSeverity(d, output),
		ToolName:         d.ToolName,
		ToolInput:        d.ToolInput,
		ToolOutput:       d.ToolOutput,
		RequiresApproval: d.RequiresApproval,
		ApprovalStatus:   d.ApprovalStatus,
		DecisionID:       d.ID,
		Timestamp:        timestamp,
	}, true
}

// DeriveAll derives messages for every decision in step order.
func DeriveAll(decisions []types.Decision, now time.Time) []types.ChatMessage {
	ordered := make([]types.Decision, len(decisions))
	copy(ordered, decisions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StepNumber < ordered[j].StepNumber
	})

	out := make([]types.ChatMessage, 0, len(ordered))
	for _, d := range ordered {
		if msg, ok := Derive(d, now); ok {
			out = append(out, msg)
		}
	}
	return out
}

func decisionSeverity(d types.Decision, output ToolOutput) types.Severity {
	switch {
	case d.Phase == types.PhaseAct && output.Kind == OutputError:
		return types.SeverityError
	case d.Phase == types.PhaseAct && output.Kind == OutputApproval:
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}

func decisionText(d types.Decision, output ToolOutput) string {
	if strings.TrimSpace(d.Reasoning) != "" {
		return d.Reasoning
	}
	if d.Phase != types.PhaseAct || d.ToolName == "" {
		return ""
	}
	switch {
	case output.Message != "":
		return output.Message
	case output.Present():
		return fmt.Sprintf("Used tool %s", d.ToolName)
	default:
		return fmt.Sprintf("Calling tool: %s...", d.ToolName)
	}
}
