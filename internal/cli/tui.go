package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agent-console/internal/hub"
	"agent-console/internal/remotetest"
	"agent-console/internal/tui"
	"agent-console/internal/utils"
)

func newTUICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive console (default)",
		Args:  cobra.NoArgs,
		RunE:  opts.withApp(true, runTUI),
	}
}

// runTUI runs the poller next to the UI; quitting the UI stops both.
func runTUI(cmd *cobra.Command, _ []string, a *app) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.poller.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return tui.Run(gctx, tui.Deps{
			Store:          a.store,
			Coordinator:    a.coordinator,
			Poller:         a.poller,
			Logger:         a.logger,
			RequestTimeout: a.cfg.API.Timeout,
		})
	})
	return g.Wait()
}

// watchSession prints the timeline as it changes until the active session
// reaches a terminal status or disappears.
func watchSession(ctx context.Context, a *app, out io.Writer) error {
	if a.store.SessionID() == "" {
		return errNoSession
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes, unsubscribe := a.store.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.poller.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		printer := newTimelinePrinter(out)
		for {
			state := a.store.Snapshot()
			printer.print(state)
			if done, err := watchFinished(state); done {
				return err
			}
			select {
			case <-gctx.Done():
				return nil
			case <-changes:
			}
		}
	})
	return g.Wait()
}

func watchFinished(state hub.State) (bool, error) {
	switch {
	case state.SessionID == "":
		return true, errNoSession
	case state.NotFound:
		return true, fmt.Errorf("session %s not found", state.SessionID)
	case state.Session != nil && state.Session.Status.Terminal():
		return true, nil
	}
	return false, nil
}

func newFakeServiceCmd(opts *options) *cobra.Command {
	var (
		addr    string
		advance bool
	)
	cmd := &cobra.Command{
		Use:   "fake-service",
		Short: "Serve a scripted stand-in for the agent service",
		Long: `Serve a scripted stand-in for the agent service on --addr.

Sessions advance one scripted step per poll, including a decision that needs
approval. Point the console at it with --api-url http://<addr>/api/agents.`,
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			svc := remotetest.NewService(logger)
			svc.SetAutoAdvance(advance)
			return svc.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().BoolVar(&advance, "auto-advance", true, "play one scripted step per poll")
	return cmd
}
