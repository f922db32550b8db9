package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"livemod/internal/service"
	"livemod/internal/storage"
	"livemod/pkg/api"
	"livemod/pkg/domain"
)

func newRunCommand(o *options) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to matching chat pages and moderate until interrupted",
		Long: `Attach to every page target whose URL contains browser.target_match
(or to the single target given with --target) and run one moderation
pipeline per page until SIGINT or SIGTERM.

Messages already present when a page is attached are never acted on;
only messages that appear afterwards are classified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.load(false)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.openDB(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := api.NewService(service.Deps{
				Config:   e.cfg,
				Keywords: e.keywords(),
				Actions:  storage.NewActionLog(e.db),
				Logger:   e.log,
			})
			defer svc.Close()
			return runSession(ctx, cmd, svc, e.cfg.Browser.TargetMatch, domain.TargetID(target))
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Attach to this target ID instead of matching by URL")
	return cmd
}

func runSession(ctx context.Context, cmd *cobra.Command, svc api.Service, match string, target domain.TargetID) error {
	id, err := svc.StartSession(domain.SessionConfig{})
	if err != nil {
		return err
	}
	defer svc.StopSession(id)

	events, err := svc.SubscribeEvents(id)
	if err != nil {
		return err
	}

	var attached []domain.TargetID
	if target != "" {
		if err := svc.AttachTarget(id, target); err != nil {
			return err
		}
		attached = []domain.TargetID{target}
	} else if attached, err = svc.AttachMatching(id, match); err != nil {
		return err
	}
	if len(attached) == 0 {
		return fmt.Errorf("no page target matches %q", match)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "moderating %d target(s): %v\n", len(attached), attached)
	for {
		select {
		case <-ctx.Done():
			st, _ := svc.GetStats(id)
			fmt.Fprintf(out, "stopped: matched=%d executed=%d failed=%d skipped=%d\n",
				st.Matched, st.Executed, st.Failed, st.Skipped)
			return nil
		case ev := <-events:
			printEvent(cmd, ev)
		}
	}
}

func printEvent(cmd *cobra.Command, ev domain.Event) {
	out := cmd.OutOrStdout()
	switch ev.Type {
	case domain.EventSeeded:
		fmt.Fprintf(out, "[%s] seeded %d existing message(s)\n", ev.Target, ev.Count)
	case domain.EventMatched:
		fmt.Fprintf(out, "[%s] %s %s: %q\n", ev.Target, ev.Action, ev.MessageID, ev.Text)
	case domain.EventExecuted:
		fmt.Fprintf(out, "[%s] %s %s done in %dms\n", ev.Target, ev.Action, ev.MessageID, ev.Duration)
	case domain.EventFailed, domain.EventSkipped:
		fmt.Fprintf(out, "[%s] %s %s %s: %s\n", ev.Target, ev.Action, ev.MessageID, ev.Type, ev.Error)
	case domain.EventRulesUpdated:
		fmt.Fprintf(out, "[%s] %s reloaded (%d rules)\n", ev.Target, ev.Text, ev.Count)
	case domain.EventConfigSyncFailed:
		fmt.Fprintf(out, "[%s] keyword sync failed: %s\n", ev.Target, ev.Error)
	}
}
