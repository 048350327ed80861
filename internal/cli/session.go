package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agent-console/internal/hub"
	"agent-console/internal/types"
)

func newStartCmd(opts *options) *cobra.Command {
	var (
		agentType string
		maxSteps  int
		values    map[string]string
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "start <goal>",
		Short: "Start a new session and make it active",
		Long: `Start a new session with the given goal.

Examples:
  agent-console start "Draft a launch email for the spring sale"
  agent-console start --agent-type executor --max-steps 30 "Pause underperforming campaigns"
  agent-console start --context region=emea --watch "Summarise last week's signups"`,
		Args: cobra.MinimumNArgs(1),
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			startOpts := hub.StartOptions{
				Goal:      strings.Join(args, " "),
				AgentType: agentType,
				MaxSteps:  maxSteps,
			}
			if len(values) > 0 {
				startOpts.Context = make(map[string]any, len(values))
				for k, v := range values {
					startOpts.Context[k] = v
				}
			}
			session, err := a.coordinator.Start(cmd.Context(), startOpts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started session %s (%s, max %d steps)\n", session.ID, session.AgentType, session.MaxSteps)
			if follow {
				return watchSession(cmd.Context(), a, cmd.OutOrStdout())
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&agentType, "agent-type", types.AgentTypePlanner, "agent type: planner|executor")
	cmd.Flags().IntVar(&maxSteps, "max-steps", hub.DefaultMaxSteps, fmt.Sprintf("step limit (%d-%d)", hub.MinMaxSteps, hub.MaxMaxSteps))
	cmd.Flags().StringToStringVar(&values, "context", nil, "extra context as key=value pairs")
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "follow the session until it finishes")
	return cmd
}

func newSendCmd(opts *options) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a follow-up message to the active session",
		Args:  cobra.MinimumNArgs(1),
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			session, err := a.coordinator.Continue(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return explainNoSession(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s (%s)\n", session.ShortID(), session.Status)
			if follow {
				return watchSession(cmd.Context(), a, cmd.OutOrStdout())
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "follow the session until it finishes")
	return cmd
}

func newResolveCmd(opts *options, approve bool) *cobra.Command {
	use, short := "reject [decision-id]", "Reject a decision waiting for approval"
	if approve {
		use, short = "approve [decision-id]", "Approve a decision waiting for approval"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Without a decision id the latest decision still waiting for approval in the
active session is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			session, err := a.poller.Refresh(ctx)
			if err != nil {
				return explainNoSession(err)
			}

			decisionID := ""
			if len(args) == 1 {
				decisionID = args[0]
			} else {
				d, ok := hub.PendingApproval(session)
				if !ok {
					return fmt.Errorf("session %s has no decision waiting for approval", session.ShortID())
				}
				decisionID = d.ID
			}

			updated, err := a.coordinator.Resolve(ctx, decisionID, approve)
			if err != nil {
				return err
			}
			verb := "Rejected"
			if approve {
				verb = "Approved"
			}
			label := decisionID
			if d, ok := updated.Decision(decisionID); ok && d.ToolName != "" {
				label = d.ToolName + " (" + decisionID + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s; session is %s\n", verb, label, updated.Status)
			return nil
		}),
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	var (
		format  string
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active session",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			if a.store.SessionID() == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
				return nil
			}
			if !offline {
				if _, err := a.poller.Refresh(cmd.Context()); err != nil {
					a.logger.Warn("refresh failed, showing cached state", "error", err)
				}
			}
			state := a.store.Snapshot()
			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), state.Session)
			case "pretty", "":
				return printStatus(cmd.OutOrStdout(), state)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		}),
	}
	cmd.Flags().StringVar(&format, "format", "pretty", "output format: json|pretty")
	cmd.Flags().BoolVar(&offline, "offline", false, "show the cached snapshot without contacting the service")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the active session until it finishes",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			return watchSession(cmd.Context(), a, cmd.OutOrStdout())
		}),
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation of the active session",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			if a.store.SessionID() == "" {
				return errNoSession
			}
			if refresh {
				if _, err := a.poller.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			p := newTimelinePrinter(cmd.OutOrStdout())
			p.print(a.store.Snapshot())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the latest snapshot first")
	return cmd
}

func newAttachCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Make an existing session the active one",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.store.SetSessionID(ctx, args[0]); err != nil {
				return err
			}
			session, err := a.poller.Refresh(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Attached to %s (%s)\n", session.ID, session.Status)
			return nil
		}),
	}
}

func newClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the active session",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Active session cleared.")
			return nil
		}),
	}
}

func newToolsCmd(opts *options) *cobra.Command {
	var (
		category string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the agent can call",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			tools, err := a.coordinator.ListTools(cmd.Context(), category)
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(cmd.OutOrStdout(), tools)
			}
			return printTools(cmd.OutOrStdout(), tools)
		}),
	}
	cmd.Flags().StringVar(&category, "category", "", "only list tools in this category")
	cmd.Flags().StringVar(&format, "format", "pretty", "output format: json|pretty")
	return cmd
}

func explainNoSession(err error) error {
	if errors.Is(err, hub.ErrNoActiveSession) {
		return errNoSession
	}
	return err
}
