package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

type OutputKind int

const (
	OutputNone OutputKind = iota
	OutputPlain
	OutputError
	OutputApproval
)

func (k OutputKind) String() string {
	switch k {
	case OutputPlain:
		return "plain"
	case OutputError:
		return "error"
	case OutputApproval:
		return "approval"
	default:
		return "none"
	}
}

// ToolOutput is the classified form of a decision's opaque tool output.
type ToolOutput struct {
	Kind    OutputKind
	Message string
	Raw     json.RawMessage
}

func (o ToolOutput) Present() bool { return o.Kind != OutputNone }

type toolOutputFields struct {
	Error             json.RawMessage `json:"error"`
	IsError           *bool           `json:"is_error"`
	ApprovalRequested *bool           `json:"approval_requested"`
	Status            *string         `json:"status"`
	Message           json.RawMessage `json:"message"`
}

// DecodeToolOutput classifies raw tool output. Absent or null output is
// OutputNone; an error indicator wins over an approval request; anything
// else that is present is OutputPlain. Non-object payloads are plain.
func DecodeToolOutput(raw json.RawMessage) ToolOutput {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ToolOutput{Kind: OutputNone}
	}
	out := ToolOutput{Kind: OutputPlain, Raw: raw}

	var fields toolOutputFields
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return out
	}
	out.Message = stringValue(fields.Message)

	switch {
	case hasValue(fields.Error), fields.IsError != nil && *fields.IsError:
		out.Kind = OutputError
	case fields.ApprovalRequested != nil && *fields.ApprovalRequested,
		fields.Status != nil && *fields.Status == "awaiting_approval":
		out.Kind = OutputApproval
	}
	return out
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func stringValue(raw json.RawMessage) string {
	if !hasValue(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
