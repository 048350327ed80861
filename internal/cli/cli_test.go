package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-console/internal/remotetest"
	"agent-console/internal/types"
)

const fastPolling = `
polling:
  interval: 20ms
  retry_initial: 5ms
  retry_max: 20ms
`

type console struct {
	t   *testing.T
	srv *remotetest.Server
	dir string
}

func newConsole(t *testing.T) *console {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(fastPolling), 0o644))
	return &console{t: t, srv: remotetest.NewServer(t), dir: dir}
}

func (c *console) run(ctx context.Context, args ...string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	full := append([]string{"--api-url", c.srv.BaseURL(), "--data-dir", c.dir}, args...)
	code := Execute(ctx, full, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (c *console) mustRun(args ...string) string {
	c.t.Helper()
	out, errOut, code := c.run(context.Background(), args...)
	require.Equal(c.t, 0, code, "stderr: %s", errOut)
	return out
}

func (c *console) activeSession() *types.Session {
	c.t.Helper()
	out := c.mustRun("status", "--format", "json")
	var s types.Session
	require.NoError(c.t, json.Unmarshal([]byte(out), &s))
	return &s
}

func TestStartPersistsActiveSession(t *testing.T) {
	t.Parallel()
	c := newConsole(t)

	out := c.mustRun("start", "--agent-type", "executor", "--max-steps", "5", "grow", "signups")
	assert.Contains(t, out, "Started session")
	assert.Equal(t, 1, c.srv.Calls(remotetest.RouteStart))

	s := c.activeSession()
	assert.Equal(t, "grow signups", s.Goal)
	assert.Equal(t, types.AgentTypeExecutor, s.AgentType)
	assert.Equal(t, 5, s.MaxSteps)

	status := c.mustRun("status")
	assert.Contains(t, status, s.ID)
	assert.Contains(t, status, "pending")
}

func TestStartValidation(t *testing.T) {
	t.Parallel()
	c := newConsole(t)

	_, errOut, code := c.run(context.Background(), "start", "--max-steps", "51", "goal")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "max steps")

	_, errOut, code = c.run(context.Background(), "start", "--agent-type", "writer", "goal")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "agent type")
	assert.Equal(t, 0, c.srv.Calls(remotetest.RouteStart))
}

func TestSendWithoutSession(t *testing.T) {
	t.Parallel()
	c := newConsole(t)
	_, errOut, code := c.run(context.Background(), "send", "hello")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no active session")
	assert.Equal(t, 0, c.srv.Calls(remotetest.RouteContinue))
}

func TestSendAndHistory(t *testing.T) {
	t.Parallel()
	c := newConsole(t)
	c.mustRun("start", "goal")
	s := c.activeSession()
	c.srv.SetStatus(s.ID, types.SessionStatusCompleted)

	out := c.mustRun("send", "one", "more", "thing")
	assert.Contains(t, out, "running")
	assert.Equal(t, []string{"one more thing"}, c.srv.ContinueMessages(s.ID))

	history := c.mustRun("history")
	assert.Contains(t, history, "You: one more thing")
}

func TestApproveUsesPendingDecision(t *testing.T) {
	t.Parallel()
	c := newConsole(t)
	c.mustRun("start", "goal")
	s := c.activeSession()
	c.srv.AppendDecision(s.ID, types.Decision{
		ID:               "launch-1",
		Phase:            types.PhaseAct,
		ToolName:         "launch_campaign",
		ToolOutput:       json.RawMessage(`{"approval_requested":true}`),
		RequiresApproval: true,
	})
	c.srv.SetStatus(s.ID, types.SessionStatusAwaitingApproval)

	out := c.mustRun("approve")
	assert.Contains(t, out, "Approved launch_campaign (launch-1)")
	d, ok := c.srv.Session(s.ID).Decision("launch-1")
	require.True(t, ok)
	assert.Equal(t, types.ApprovalApproved, d.ApprovalStatus)

	_, errOut, code := c.run(context.Background(), "reject", "launch-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already")
}

func TestRejectWithNothingPending(t *testing.T) {
	t.Parallel()
	c := newConsole(t)
	c.mustRun("start", "goal")
	_, errOut, code := c.run(context.Background(), "reject")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no decision waiting for approval")
	assert.Equal(t, 0, c.srv.Calls(remotetest.RouteApprove))
}

func TestClearAndAttach(t *testing.T) {
	t.Parallel()
	c := newConsole(t)
	c.mustRun("start", "goal")
	s := c.activeSession()

	assert.Contains(t, c.mustRun("clear"), "cleared")
	assert.Contains(t, c.mustRun("status"), "No active session")

	assert.Contains(t, c.mustRun("attach", s.ID), "Attached to "+s.ID)
	assert.Equal(t, s.ID, c.activeSession().ID)
}

func TestStatusReportsMissingSession(t *testing.T) {
	t.Parallel()
	c := newConsole(t)
	c.mustRun("start", "goal")
	s := c.activeSession()
	c.srv.Delete(s.ID)

	out := c.mustRun("status")
	assert.Contains(t, out, "not found")
}

func TestToolsListing(t *testing.T) {
	t.Parallel()
	c := newConsole(t)

	out := c.mustRun("tools")
	assert.Contains(t, out, "launch_campaign")
	assert.Contains(t, out, "required")

	var tools []types.ToolInfo
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("tools", "--format", "json", "--category", "communication")), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "send_message", tools[0].Name)
}

func TestWatchFollowsSessionThroughApproval(t *testing.T) {
	t.Parallel()
	c := newConsole(t)
	c.srv.SetAutoAdvance(true)
	c.mustRun("start", "launch the spring sale")
	s := c.activeSession()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	type result struct {
		out  string
		code int
	}
	done := make(chan result, 1)
	go func() {
		out, _, code := c.run(ctx, "watch")
		done <- result{out, code}
	}()

	require.Eventually(t, func() bool {
		return c.srv.Session(s.ID).Status == types.SessionStatusAwaitingApproval
	}, 5*time.Second, 10*time.Millisecond)
	// let the watcher observe the approval request before resolving it
	seen := c.srv.Calls(remotetest.RouteGet)
	require.Eventually(t, func() bool {
		return c.srv.Calls(remotetest.RouteGet) >= seen+2
	}, 5*time.Second, 5*time.Millisecond)
	c.mustRun("approve")

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		t.Fatal("watch did not finish")
	}
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.out, "query_campaigns")
	assert.Contains(t, res.out, "Waiting for approval of launch_campaign")
	assert.Contains(t, res.out, "Completed.")
	assert.Equal(t, types.SessionStatusCompleted, c.srv.Session(s.ID).Status)
}
