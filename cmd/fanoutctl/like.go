package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

func init() {
	rootCmd.AddCommand(likeCmd, unlikeCmd)
}

var likeCmd = &cobra.Command{
	Use:   "like [liker] [author] [post-key]",
	Short: "Like a post",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setLiked(cmd, args, true)
	},
}

var unlikeCmd = &cobra.Command{
	Use:   "unlike [liker] [author] [post-key]",
	Short: "Withdraw a like",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setLiked(cmd, args, false)
	},
}

func setLiked(cmd *cobra.Command, args []string, liked bool) error {
	liker, author, key := args[0], args[1], args[2]
	for _, id := range []string{liker, author} {
		if err := paths.CheckID(id); err != nil {
			return err
		}
	}
	if err := paths.CheckKey(key); err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := svc.Posts.GetPost(ctx, author, key); err != nil {
		return err
	}
	changed, err := svc.Likes.SetIsLiked(ctx, liked, models.PostRef{Author: author, Key: key}, liker)
	if err := tolerateDrift(cmd, err); err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(cmd.OutOrStdout(), "unchanged")
		return nil
	}
	post, err := svc.Posts.GetPost(ctx, author, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "like_count=%d\n", post.LikeCount)
	return nil
}
