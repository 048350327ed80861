package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-console/internal/types"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDeriveSkipsObserve(t *testing.T) {
	t.Parallel()
	_, ok := Derive(types.Decision{
		ID:         "d1",
		Phase:      types.PhaseObserve,
		Reasoning:  "looked at the output",
		ToolName:   "query_campaigns",
		ToolOutput: json.RawMessage(`{"message":"found 3"}`),
		CreatedAt:  "2025-03-01T10:00:00Z",
	}, fixedNow)
	assert.False(t, ok)
}

func TestDeriveToolMessage(t *testing.T) {
	t.Parallel()
	msg, ok := Derive(types.Decision{
		ID:         "d2",
		StepNumber: 2,
		Phase:      types.PhaseAct,
		ToolName:   "send_email",
		ToolOutput: json.RawMessage(`{"message":"Sent"}`),
		CreatedAt:  "2025-03-01T10:00:00Z",
	}, fixedNow)
	require.True(t, ok)
	assert.Equal(t, "Sent", msg.Text)
	assert.Equal(t, types.SeverityInfo, msg.Severity)
	assert.Equal(t, types.SenderAgent, msg.Sender)
	assert.Equal(t, AgentDisplayName, msg.DisplayName)
	assert.Equal(t, "2025-03-01T10:00:00Z", msg.Timestamp)
	assert.Equal(t, "d2", msg.ID)
}

func TestDeriveToolTextFallbacks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		output json.RawMessage
		want   string
	}{
		{name: "absent", output: nil, want: "Calling tool: send_email..."},
		{name: "null", output: json.RawMessage(`null`), want: "Calling tool: send_email..."},
		{name: "no message", output: json.RawMessage(`{"sent":true}`), want: "Used tool send_email"},
		{name: "blank message", output: json.RawMessage(`{"message":"  "}`), want: "Used tool send_email"},
		{name: "non-string message", output: json.RawMessage(`{"message":42}`), want: "Used tool send_email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Derive(types.Decision{
				ID:         "d",
				Phase:      types.PhaseAct,
				ToolName:   "send_email",
				ToolOutput: tt.output,
				CreatedAt:  "2025-03-01T10:00:00Z",
			}, fixedNow)
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.Text)
		})
	}
}

func TestDeriveReasoningWins(t *testing.T) {
	t.Parallel()
	msg, ok := Derive(types.Decision{
		ID:         "d3",
		Phase:      types.PhaseAct,
		Reasoning:  "I will email the client.",
		ToolName:   "send_email",
		ToolOutput: json.RawMessage(`{"message":"Sent"}`),
		CreatedAt:  "2025-03-01T10:00:00Z",
	}, fixedNow)
	require.True(t, ok)
	assert.Equal(t, "I will email the client.", msg.Text)
}

func TestDeriveSeverity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		phase  types.Phase
		output string
		want   types.Severity
	}{
		{name: "error field", phase: types.PhaseAct, output: `{"error":"boom"}`, want: types.SeverityError},
		{name: "is_error flag", phase: types.PhaseAct, output: `{"is_error":true,"message":"bad"}`, want: types.SeverityError},
		{name: "null error", phase: types.PhaseAct, output: `{"error":null,"message":"ok"}`, want: types.SeverityInfo},
		{name: "approval flag", phase: types.PhaseAct, output: `{"approval_requested":true}`, want: types.SeverityWarning},
		{name: "approval status", phase: types.PhaseAct, output: `{"status":"awaiting_approval"}`, want: types.SeverityWarning},
		{name: "error beats approval", phase: types.PhaseAct, output: `{"error":"x","approval_requested":true}`, want: types.SeverityError},
		{name: "think", phase: types.PhaseThink, output: `{"error":"ignored"}`, want: types.SeverityInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Derive(types.Decision{
				ID:         "d",
				Phase:      tt.phase,
				Reasoning:  "step",
				ToolName:   "tool",
				ToolOutput: json.RawMessage(tt.output),
				CreatedAt:  "2025-03-01T10:00:00Z",
			}, fixedNow)
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.Severity)
		})
	}
}

func TestDeriveSkipsEmptyText(t *testing.T) {
	t.Parallel()
	_, ok := Derive(types.Decision{ID: "d", Phase: types.PhaseThink, Reasoning: "   "}, fixedNow)
	assert.False(t, ok)

	_, ok = Derive(types.Decision{ID: "d", Phase: types.PhaseAct}, fixedNow)
	assert.False(t, ok)
}

func TestDeriveTimestampFallsBackToNow(t *testing.T) {
	t.Parallel()
	msg, ok := Derive(types.Decision{ID: "d", Phase: types.PhaseThink, Reasoning: "hmm", CreatedAt: "yesterday"}, fixedNow)
	require.True(t, ok)
	assert.Equal(t, FormatTimestamp(fixedNow), msg.Timestamp)
}

func TestDeriveCarriesApprovalFields(t *testing.T) {
	t.Parallel()
	msg, ok := Derive(types.Decision{
		ID:               "d",
		Phase:            types.PhaseAct,
		ToolName:         "launch_campaign",
		ToolInput:        json.RawMessage(`{"budget":100}`),
		ToolOutput:       json.RawMessage(`{"approval_requested":true,"message":"Needs approval"}`),
		RequiresApproval: true,
		CreatedAt:        "2025-03-01T10:00:00",
	}, fixedNow)
	require.True(t, ok)
	assert.True(t, msg.RequiresApproval)
	assert.Equal(t, types.ApprovalNone, msg.ApprovalStatus)
	assert.Equal(t, "launch_campaign", msg.ToolName)
	assert.JSONEq(t, `{"budget":100}`, string(msg.ToolInput))
	assert.Equal(t, "Needs approval", msg.Text)
	assert.Equal(t, types.SeverityWarning, msg.Severity)
}

func TestDeriveAllOrdersBySteps(t *testing.T) {
	t.Parallel()
	out := DeriveAll([]types.Decision{
		{ID: "b", StepNumber: 2, Phase: types.PhaseThink, Reasoning: "second"},
		{ID: "o", StepNumber: 3, Phase: types.PhaseObserve, Reasoning: "hidden"},
		{ID: "a", StepNumber: 1, Phase: types.PhaseThink, Reasoning: "first"},
	}, fixedNow)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestDecodeToolOutputNonObject(t *testing.T) {
	t.Parallel()
	out := DecodeToolOutput(json.RawMessage(`["a","b"]`))
	assert.Equal(t, OutputPlain, out.Kind)
	assert.Empty(t, out.Message)
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()
	for _, v := range []string{
		"2025-03-01T10:00:00Z",
		"2025-03-01T10:00:00.123456+02:00",
		"2025-03-01T10:00:00.123456",
		"2025-03-01 10:00:00",
	} {
		_, ok := ParseTimestamp(v)
		assert.True(t, ok, v)
	}
	_, ok := ParseTimestamp("not a time")
	assert.False(t, ok)

	naive, ok := ParseTimestamp("2025-03-01T10:00:00")
	require.True(t, ok)
	assert.Equal(t, time.UTC, naive.Location())
}
