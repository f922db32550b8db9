package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"livemod/internal/cdp"
)

func newTargetsCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List page targets of the DevTools endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.load(true)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			targets, err := cdp.New(e.cfg.Browser.DevToolsURL, e.log).ListTargets(ctx)
			if err != nil {
				return err
			}
			matched := map[string]bool{}
			for _, t := range cdp.MatchTargets(targets, e.cfg.Browser.TargetMatch) {
				matched[string(t.ID)] = true
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMATCH\tTITLE\tURL")
			for _, t := range targets {
				mark := ""
				if matched[string(t.ID)] {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, mark, t.Title, t.URL)
			}
			return tw.Flush()
		},
	}
}
