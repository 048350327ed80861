package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"agent-console/internal/types"
)

type toolItem struct {
	data types.ToolInfo
}

func (i toolItem) Title() string {
	if i.data.RequiresApproval {
		return i.data.Name + " (approval)"
	}
	return i.data.Name
}
func (i toolItem) Description() string {
	return fmt.Sprintf("%s - %s", i.data.Category, previewText(i.data.Description, 80))
}
func (i toolItem) FilterValue() string { return i.data.Name + " " + i.data.Category }

func buildToolItems(in []types.ToolInfo) []list.Item {
	items := make([]list.Item, 0, len(in))
	for _, tool := range in {
		items = append(items, toolItem{data: tool})
	}
	return items
}

func newToolList() list.Model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Tools"
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	return l
}

func renderToolDetail(tool types.ToolInfo) string {
	lines := []string{
		fmt.Sprintf("Name: %s", tool.Name),
		fmt.Sprintf("Category: %s", tool.Category),
		fmt.Sprintf("Requires approval: %t", tool.RequiresApproval),
		"",
		tool.Description,
	}
	if schema := compactJSON(tool.ParametersSchema); schema != "" {
		lines = append(lines, "", "Parameters: "+schema)
	}
	return strings.Join(lines, "\n")
}

func compactJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	if buf.String() == "null" {
		return ""
	}
	return buf.String()
}

func previewText(text string, limit int) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
