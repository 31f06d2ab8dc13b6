package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/reconcile"
)

var reconcileUser string

func init() {
	reconcileCmd.Flags().StringVar(&reconcileUser, "user", "", "reconcile only this user")
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute counters and rebuild timelines",
	Long: `reconcile repairs derived state left behind by partial fan-outs and
counter drift: follower, following and post counts, like counts and
timelines are recomputed from the posts and relationships.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var reports []*reconcile.Report
		if reconcileUser != "" {
			if err := paths.CheckID(reconcileUser); err != nil {
				return err
			}
			rep, err := svc.Reconciler.User(cmd.Context(), reconcileUser)
			if err != nil {
				return err
			}
			reports = append(reports, rep)
		} else {
			all, err := svc.Reconciler.All(cmd.Context())
			if err != nil {
				return err
			}
			reports = all
		}

		total := 0
		for _, r := range reports {
			total += r.Corrections()
		}
		if err := printJSON(cmd, reports); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d users, %d corrections\n", len(reports), total)
		return nil
	},
}
