package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(followCmd, unfollowCmd)
}

var followCmd = &cobra.Command{
	Use:   "follow [actor] [target]",
	Short: "Make actor follow target and backfill actor's timeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tolerateDrift(cmd, svc.Engine.Follow(cmd.Context(), args[0], args[1])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s now follows %s\n", args[0], args[1])
		return nil
	},
}

var unfollowCmd = &cobra.Command{
	Use:   "unfollow [actor] [target]",
	Short: "Remove the relationship and purge target's posts from actor's timeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tolerateDrift(cmd, svc.Engine.Unfollow(cmd.Context(), args[0], args[1])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s no longer follows %s\n", args[0], args[1])
		return nil
	},
}
