package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/surveyvars/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|status]",
	Short: "Apply or inspect database migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		action := "up"
		if len(args) == 1 {
			action = args[0]
		}

		conn, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer conn.Close()

		switch action {
		case "up":
			if err := db.MigrateUp(ctx, conn); err != nil {
				return err
			}
			logger.Info().Str("driver", conn.DriverName()).Msg("Migrations applied")
			return nil
		case "status":
			statuses, err := db.MigrateStatus(ctx, conn)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MIGRATION\tAPPLIED\tAT\tMS")
			for _, s := range statuses {
				at := "-"
				if s.AppliedAt != nil {
					at = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%d\n", s.ID, s.Applied, at, s.ExecutionMs)
			}
			return w.Flush()
		default:
			return fmt.Errorf("unknown migrate action %q (expected up or status)", action)
		}
	},
}
