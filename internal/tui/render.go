package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"agent-console/internal/chat"
	"agent-console/internal/hub"
	"agent-console/internal/types"
)

func (m model) renderStatusBar() string {
	parts := []string{}
	if m.busy() {
		parts = append(parts, m.spinner.View())
	}
	session := m.state.Session
	switch {
	case m.state.SessionID == "":
		parts = append(parts, "no session")
	case session == nil:
		parts = append(parts, "session "+shortID(m.state.SessionID), "loading")
	default:
		parts = append(parts,
			"session "+session.ShortID(),
			string(session.Status),
			fmt.Sprintf("step %d/%d", session.CurrentStep, session.MaxSteps),
			session.AgentType,
		)
	}
	if !m.lastUpdated.IsZero() {
		parts = append(parts, "updated "+m.lastUpdated.Format("15:04:05"))
	}
	line := strings.Join(parts, "  ")
	width, _ := contentSize(m.width, m.height)
	if width > 0 {
		return dimStyle.Width(width).Render(line)
	}
	return dimStyle.Render(line)
}

func (m model) renderApprovalBanner() string {
	d, ok := hub.PendingApproval(m.state.Session)
	if !ok {
		return ""
	}
	if m.resolving[d.ID] {
		return dimStyle.Render(fmt.Sprintf("%s Sending decision for %s...", m.spinner.View(), toolLabel(d)))
	}
	return confirmStyle.Render(fmt.Sprintf("Approval needed for %s: ctrl+y approve, ctrl+n reject", toolLabel(d)))
}

func toolLabel(d types.Decision) string {
	if d.ToolName == "" {
		return "step " + fmt.Sprint(d.StepNumber)
	}
	return d.ToolName
}

func (m model) renderToolsModal() string {
	width, height := modalSize(m.width, m.height)
	width = max(width*2/3, 20)
	height = max(height*2/3, 8)
	m.tools.SetSize(width-4, height-8)
	detail := ""
	if item, ok := m.tools.SelectedItem().(toolItem); ok {
		detail = ansi.Wrap(renderToolDetail(item.data), width-4, "")
	}
	content := strings.Join([]string{m.tools.View(), "", dimStyle.Render(detail)}, "\n")
	return msgBoxStyle.Width(width).Padding(0, 1).Render(content)
}

func (m *model) syncViewport() {
	width, height := m.viewportSize()
	if width <= 0 || height <= 0 {
		return
	}
	lines := m.timelineLines(max(width-2, 1))
	if len(lines) == 0 {
		lines = []string{dimStyle.Render("Type a goal and press enter to start a session.")}
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.Width = width
	m.viewport.Height = height
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if atBottom || m.sending {
		m.viewport.GotoBottom()
	}
}

func (m model) viewportSize() (int, int) {
	width, height := contentSize(m.width, m.height)
	// header, status, error, notice, input box (3), footer
	reserved := 8
	if m.showHelp {
		reserved += 5
	}
	return width, height - reserved
}

func (m model) timelineLines(wrapWidth int) []string {
	lines := make([]string, 0, len(m.timeline)*3)
	for _, msg := range m.timeline {
		if msg.Sender == types.SenderUser {
			lines = append(lines, userStyle.Render(chat.UserDisplayName))
		} else {
			lines = append(lines, headerStyle.Render(msg.DisplayName)+severityTag(msg.Severity))
		}
		style := severityStyle(msg.Severity)
		for _, line := range strings.Split(ansi.Wrap(msg.Text, wrapWidth, ""), "\n") {
			lines = append(lines, "  "+style.Render(line))
		}
		if msg.ToolName != "" {
			call := "tool " + msg.ToolName
			if input := compactJSON(msg.ToolInput); input != "" {
				call += " " + previewText(input, max(wrapWidth-len(call)-6, 10))
			}
			lines = append(lines, dimStyle.Render("  ↳ "+call))
		}
		if msg.RequiresApproval {
			lines = append(lines, "  "+m.approvalLine(msg))
		}
		lines = append(lines, "")
	}

	if session := m.state.Session; session != nil {
		switch session.Status {
		case types.SessionStatusCompleted:
			lines = append(lines, successStyle.Render("Completed"))
			if result := compactJSON(session.Result); result != "" {
				lines = append(lines, "  "+dimStyle.Render(ansi.Wrap(result, wrapWidth, "")))
			}
		case types.SessionStatusFailed:
			text := "Failed"
			if session.ErrorMessage != "" {
				text += ": " + session.ErrorMessage
			}
			lines = append(lines, errStyle.Render(ansi.Wrap(text, wrapWidth, "")))
		}
	}
	if m.sending {
		lines = append(lines, dimStyle.Render("Waiting for response "+m.spinner.View()))
	}
	if len(lines) > 0 && strings.TrimSpace(stripANSI(lines[len(lines)-1])) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (m model) approvalLine(msg types.ChatMessage) string {
	switch {
	case msg.ApprovalStatus == types.ApprovalApproved:
		return successStyle.Render("✓ approved")
	case msg.ApprovalStatus == types.ApprovalRejected:
		return errStyle.Render("✗ rejected")
	case m.resolving[msg.DecisionID]:
		return dimStyle.Render(m.spinner.View() + " sending decision")
	default:
		return confirmStyle.Render("awaiting approval")
	}
}

func severityTag(s types.Severity) string {
	switch s {
	case types.SeverityError:
		return " " + errStyle.Render("[error]")
	case types.SeverityWarning:
		return " " + warnStyle.Render("[needs approval]")
	case types.SeveritySuccess:
		return " " + successStyle.Render("[done]")
	default:
		return ""
	}
}

func severityStyle(s types.Severity) lipgloss.Style {
	switch s {
	case types.SeverityError:
		return errStyle
	case types.SeverityWarning:
		return warnStyle
	case types.SeveritySuccess:
		return successStyle
	default:
		return lipgloss.NewStyle()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func modalSize(width, height int) (int, int) {
	return panelSize(width, height)
}

func contentSize(width, height int) (int, int) {
	panelWidth, panelHeight := panelSize(width, height)
	contentWidth := panelWidth - 6
	contentHeight := panelHeight - 4
	if contentWidth < 1 {
		contentWidth = 1
	}
	if contentHeight < 1 {
		contentHeight = 1
	}
	return contentWidth, contentHeight
}

func panelSize(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	return width - 2, height - 2
}

func renderCentered(content string, width, height int) string {
	if width <= 0 || height <= 0 {
		return content
	}
	panelWidth, panelHeight := panelSize(width, height)
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(1, 2).
		Width(panelWidth).
		Height(panelHeight).
		Render(content)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, panel)
}

func overlayModal(base, modal string, width, height int) string {
	if width <= 0 || height <= 0 {
		return base + "\n\n" + modal
	}
	baseLines := normalizeLines(base, width, height)
	modalCanvas := lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
	modalLines := normalizeLines(modalCanvas, width, height)
	for i := 0; i < height; i++ {
		if strings.TrimSpace(stripANSI(modalLines[i])) != "" {
			baseLines[i] = modalLines[i]
		}
	}
	return strings.Join(baseLines, "\n")
}

func normalizeLines(input string, width, height int) []string {
	lines := strings.Split(input, "\n")
	out := make([]string, height)
	pad := lipgloss.NewStyle().Width(width)
	for i := 0; i < height; i++ {
		if i < len(lines) {
			out[i] = pad.Render(lines[i])
		} else {
			out[i] = pad.Render("")
		}
	}
	return out
}

func stripANSI(input string) string {
	return ansi.Strip(input)
}
