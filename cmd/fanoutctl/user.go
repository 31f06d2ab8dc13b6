package main

import (
	"github.com/spf13/cobra"
)

func init() {
	userCmd.AddCommand(userCreateCmd, userGetCmd)
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user profiles",
}

var userCreateCmd = &cobra.Command{
	Use:   "create [uid] [username]",
	Short: "Create or rename a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := svc.Users.CreateUser(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, u)
	},
}

var userGetCmd = &cobra.Command{
	Use:   "get [uid]",
	Short: "Show a profile and its counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := svc.Users.GetUser(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, u)
	},
}
