package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"agent-console/internal/chat"
	"agent-console/internal/hub"
	"agent-console/internal/types"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printStatus(w io.Writer, state hub.State) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session\t%s\n", state.SessionID)
	if s := state.Session; s != nil {
		fmt.Fprintf(tw, "Goal\t%s\n", s.Goal)
		fmt.Fprintf(tw, "Status\t%s\n", s.Status)
		fmt.Fprintf(tw, "Agent\t%s\n", s.AgentType)
		fmt.Fprintf(tw, "Step\t%d/%d\n", s.CurrentStep, s.MaxSteps)
		fmt.Fprintf(tw, "Decisions\t%d\n", len(s.Decisions))
		fmt.Fprintf(tw, "Updated\t%s\n", displayTime(s.UpdatedAt, "2006-01-02 15:04:05"))
		if d, ok := hub.PendingApproval(s); ok {
			fmt.Fprintf(tw, "Pending\t%s (%s)\n", d.ToolName, d.ID)
		}
		if s.ErrorMessage != "" {
			fmt.Fprintf(tw, "Error\t%s\n", s.ErrorMessage)
		}
		if result := compact(s.Result); result != "" {
			fmt.Fprintf(tw, "Result\t%s\n", result)
		}
	} else {
		fmt.Fprintf(tw, "Status\tnot loaded\n")
	}
	if state.NotFound {
		fmt.Fprintf(tw, "Sync\tsession not found on the service\n")
	} else if state.Err != nil {
		fmt.Fprintf(tw, "Sync\t%v\n", state.Err)
	}
	return tw.Flush()
}

func printTools(w io.Writer, tools []types.ToolInfo) error {
	if len(tools) == 0 {
		_, err := fmt.Fprintln(w, "No tools found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tAPPROVAL\tDESCRIPTION")
	for _, tool := range tools {
		approval := "-"
		if tool.RequiresApproval {
			approval = "required"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tool.Name, tool.Category, approval, tool.Description)
	}
	return tw.Flush()
}

// timelinePrinter writes timeline messages it has not printed yet. A
// message is printed again when its text or approval state changes.
type timelinePrinter struct {
	out    io.Writer
	seen   map[string]string
	status types.SessionStatus
}

func newTimelinePrinter(out io.Writer) *timelinePrinter {
	return &timelinePrinter{out: out, seen: make(map[string]string)}
}

func (p *timelinePrinter) print(state hub.State) {
	for _, msg := range chat.Timeline(state.UserMessages, state.Session, time.Now()) {
		key := msg.Text + "\x00" + string(msg.ApprovalStatus)
		prev, ok := p.seen[msg.ID]
		if ok && prev == key {
			continue
		}
		p.seen[msg.ID] = key
		if ok && strings.HasPrefix(prev, msg.Text+"\x00") {
			fmt.Fprintf(p.out, "%s %s\n", indent, approvalText(msg))
			continue
		}
		p.printMessage(msg)
	}

	s := state.Session
	if s == nil || s.Status == p.status {
		return
	}
	p.status = s.Status
	switch s.Status {
	case types.SessionStatusAwaitingApproval:
		if d, ok := hub.PendingApproval(s); ok {
			fmt.Fprintf(p.out, "Waiting for approval of %s. Run `agent-console approve` or `agent-console reject %s`.\n", d.ToolName, d.ID)
		}
	case types.SessionStatusCompleted:
		fmt.Fprintln(p.out, "Completed.")
		if result := compact(s.Result); result != "" {
			fmt.Fprintf(p.out, "%s %s\n", indent, result)
		}
	case types.SessionStatusFailed:
		if s.ErrorMessage != "" {
			fmt.Fprintf(p.out, "Failed: %s\n", s.ErrorMessage)
		} else {
			fmt.Fprintln(p.out, "Failed.")
		}
	}
}

const indent = "          "

func (p *timelinePrinter) printMessage(msg types.ChatMessage) {
	name := msg.DisplayName
	if msg.Sender == types.SenderUser {
		name = chat.UserDisplayName
	}
	tag := ""
	switch msg.Severity {
	case types.SeverityError:
		tag = " [error]"
	case types.SeverityWarning:
		tag = " [needs approval]"
	case types.SeveritySuccess:
		tag = " [done]"
	}
	fmt.Fprintf(p.out, "[%s] %s%s: %s\n", displayTime(msg.Timestamp, "15:04:05"), name, tag, msg.Text)
	if msg.ToolName != "" {
		call := "tool " + msg.ToolName
		if input := compact(msg.ToolInput); input != "" {
			call += " " + input
		}
		fmt.Fprintf(p.out, "%s %s\n", indent, call)
	}
	if msg.RequiresApproval {
		fmt.Fprintf(p.out, "%s %s\n", indent, approvalText(msg))
	}
}

func approvalText(msg types.ChatMessage) string {
	switch msg.ApprovalStatus {
	case types.ApprovalApproved:
		return "approved " + msg.DecisionID
	case types.ApprovalRejected:
		return "rejected " + msg.DecisionID
	default:
		return "awaiting approval " + msg.DecisionID
	}
}

func displayTime(value, layout string) string {
	t, ok := chat.ParseTimestamp(value)
	if !ok {
		return strings.Repeat("-", len(layout))
	}
	return t.Local().Format(layout)
}

func compact(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil || buf.String() == "null" {
		return ""
	}
	return buf.String()
}
