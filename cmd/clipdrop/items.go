package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/server"
	"github.com/dmitrijs2005/clipdrop/internal/server/models"
	"github.com/dmitrijs2005/clipdrop/internal/server/services"
	"github.com/dmitrijs2005/clipdrop/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newPutCmd(opts *rootOptions) *cobra.Command {
	var (
		name, folder, contentType string
		tags                      []string
	)
	cmd := &cobra.Command{
		Use:   "put <file>...",
		Short: "Upload files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 1 {
				return errors.New("--name needs a single file")
			}
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}

					displayName := name
					if displayName == "" {
						displayName = filepath.Base(path)
					}
					ct := contentType
					if ct == "" {
						ct = detectContentType(path, data)
					}

					it, err := app.Items().CreateItem(ctx, services.CreateItemRequest{
						OwnerID:     opts.owner,
						Kind:        models.KindFile,
						DisplayName: displayName,
						ContentType: ct,
						Data:        data,
						Tags:        tags,
						Folder:      folder,
					})
					if err != nil {
						return fmt.Errorf("upload %s: %w", path, err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), it.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (defaults to the file name)")
	cmd.Flags().StringVarP(&folder, "folder", "f", "", "folder to file the item under")
	cmd.Flags().StringVar(&contentType, "type", "", "MIME type (detected when empty)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tags (repeatable or comma-separated)")
	return cmd
}

func detectContentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func newPasteCmd(opts *rootOptions) *cobra.Command {
	var (
		name  string
		image bool
		tags  []string
	)
	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Store clipboard content piped on stdin",
		Example: `  pbpaste | clipdrop paste
  xclip -selection clipboard -t image/png -o | clipdrop paste --image`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return errors.New("nothing piped on stdin")
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			kind := models.KindClipboardText
			if image {
				kind = models.KindClipboardImage
			}

			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				it, err := app.Items().CreateItem(ctx, services.CreateItemRequest{
					OwnerID:     opts.owner,
					Kind:        kind,
					DisplayName: name,
					Data:        data,
					Tags:        tags,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), it.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (generated when empty)")
	cmd.Flags().BoolVar(&image, "image", false, "stdin carries an image rather than text")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tags (repeatable or comma-separated)")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		info   bool
	)
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Write an item's content to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				if info {
					it, err := app.Items().Get(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), ui.FormatItemDetail(it, time.Now()))
					return nil
				}

				data, err := app.Items().ReadItem(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o600)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().BoolVarP(&info, "info", "i", false, "show metadata instead of content")
	return cmd
}

func newRmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete items now",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				for _, id := range args {
					if err := app.Items().DeleteItem(ctx, id); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), ui.Success("deleted "+id))
				}
				return nil
			})
		},
	}
}

func newRetainCmd(opts *rootOptions) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "retain <id>",
		Short: "Exempt an item from expiry (--off restarts its retention window)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				it, err := app.Items().SetRetain(ctx, args[0], !off)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success(it.DisplayName+": "+ui.Expiry(it, time.Now())))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "stop retaining the item")
	return cmd
}
