package main

import (
	"github.com/spf13/cobra"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

var follow bool

func init() {
	timelineCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing the timeline after every change")
	rootCmd.AddCommand(timelineCmd)
}

var timelineCmd = &cobra.Command{
	Use:   "timeline [uid]",
	Short: "Print a user's materialized timeline, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := args[0]
		if err := paths.CheckID(owner); err != nil {
			return err
		}
		if follow {
			return svc.Reader.Live(cmd.Context(), owner, func(posts []models.Post) error {
				return printJSON(cmd, posts)
			})
		}
		items, err := svc.Reader.ReadFeed(cmd.Context(), owner, owner)
		if err != nil {
			return err
		}
		return printJSON(cmd, items)
	},
}
