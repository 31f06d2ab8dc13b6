package main

import (
	"github.com/spf13/cobra"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

var imageHeight float64

func init() {
	postCreateCmd.Flags().Float64Var(&imageHeight, "height", 0, "image height in pixels")
	_ = postCreateCmd.MarkFlagRequired("height")
	postCmd.AddCommand(postCreateCmd, postListCmd)
	rootCmd.AddCommand(postCmd)
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create and list posts",
}

var postCreateCmd = &cobra.Command{
	Use:   "create [uid] [image-url]",
	Short: "Publish a post and fan it out to every follower",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		post, err := svc.Engine.CreatePost(cmd.Context(), args[0], args[1], imageHeight)
		if err := tolerateDrift(cmd, err); err != nil {
			return err
		}
		return printJSON(cmd, post)
	},
}

var postListCmd = &cobra.Command{
	Use:   "list [uid]",
	Short: "List a user's posts, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := paths.CheckID(args[0]); err != nil {
			return err
		}
		posts, err := svc.Posts.GetPostsByUserID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, posts)
	},
}
