package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/server"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/repositories/items"
	"github.com/dmitrijs2005/clipdrop/internal/ui"
	"github.com/spf13/cobra"
)

func newLsCmd(opts *rootOptions) *cobra.Command {
	var (
		kind, tag, folder string
		favorites         bool
		limit             int
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List your items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := items.ListFilter{Tag: tag, FavoritesOnly: favorites, Limit: limit}
			if kind != "" {
				k, err := models.ParseKind(kind)
				if err != nil {
					return err
				}
				filter.Kind = k
			}
			if cmd.Flags().Changed("folder") {
				filter.Folder = &folder
			}

			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				list, err := app.Items().ListByOwner(ctx, opts.owner, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No items found.")
					return nil
				}
				now := time.Now()
				for _, it := range list {
					fmt.Fprint(out, ui.FormatItemListItem(it, now))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "file, text or image")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "only items with this tag")
	cmd.Flags().StringVarP(&folder, "folder", "f", "", `only items in this folder ("" for unfiled)`)
	cmd.Flags().BoolVar(&favorites, "fav", false, "only favourites")
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "maximum number of items (0 for all)")
	return cmd
}

func newTagCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <id> [tag...]",
		Short: "Replace an item's tags (no tags clears them)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				it, err := app.Items().SetTags(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.FormatItemListItem(it, time.Now()))
				return nil
			})
		},
	}
}

func newMvCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <id> [folder]",
		Short: "Move an item into a folder (no folder unfiles it)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := ""
			if len(args) == 2 {
				folder = args[1]
			}
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				it, err := app.Items().SetFolder(ctx, args[0], folder)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.FormatItemListItem(it, time.Now()))
				return nil
			})
		},
	}
}

func newFavCmd(opts *rootOptions) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "fav <id>",
		Short: "Mark an item as favourite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				it, err := app.Items().SetFavorite(ctx, args[0], !off)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.FormatItemListItem(it, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "remove the favourite mark")
	return cmd
}

func newRenameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Change an item's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				it, err := app.Items().Rename(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success("renamed to "+it.DisplayName))
				return nil
			})
		},
	}
}
