package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"livemod/internal/storage"
)

func newHistoryCommand(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent moderation outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.load(true)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.openDB(); err != nil {
				return err
			}
			recs, err := storage.NewActionLog(e.db).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tOUTCOME\tMESSAGE\tTEXT\tERROR")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%q\t%s\n",
					r.CreatedAt.Format(time.DateTime), r.Action, r.Outcome, r.MessageID, r.Text, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of records to show")
	return cmd
}
