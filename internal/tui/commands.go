package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"agent-console/internal/hub"
)

func startCmd(ctx context.Context, deps Deps, goal string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, deps.RequestTimeout)
		defer cancel()
		session, err := deps.Coordinator.Start(ctx, hub.StartOptions{Goal: goal})
		if err != nil {
			return errMsg{err: err, source: "start"}
		}
		return startedMsg{session: session}
	}
}

func continueCmd(ctx context.Context, deps Deps, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, deps.RequestTimeout)
		defer cancel()
		if _, err := deps.Coordinator.Continue(ctx, text); err != nil {
			return errMsg{err: err, source: "continue"}
		}
		return continuedMsg{}
	}
}

func resolveCmd(ctx context.Context, deps Deps, decisionID string, approved bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, deps.RequestTimeout)
		defer cancel()
		if _, err := deps.Coordinator.Resolve(ctx, decisionID, approved); err != nil {
			return errMsg{err: err, source: "resolve", decisionID: decisionID}
		}
		return resolvedMsg{decisionID: decisionID, approved: approved}
	}
}

func refreshCmd(ctx context.Context, deps Deps) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, deps.RequestTimeout)
		defer cancel()
		if _, err := deps.Poller.Refresh(ctx); err != nil {
			return errMsg{err: err, source: "refresh"}
		}
		return syncedMsg{}
	}
}

func clearCmd(ctx context.Context, deps Deps) tea.Cmd {
	return func() tea.Msg {
		if err := deps.Store.Clear(ctx); err != nil {
			return errMsg{err: err, source: "clear"}
		}
		return syncedMsg{}
	}
}

func listToolsCmd(ctx context.Context, deps Deps) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, deps.RequestTimeout)
		defer cancel()
		tools, err := deps.Coordinator.ListTools(ctx, "")
		if err != nil {
			return errMsg{err: err, source: "tools"}
		}
		return toolsMsg{tools: tools}
	}
}
