package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/clipdrop/internal/common"
	"github.com/dmitrijs2005/clipdrop/internal/cryptox"
	"github.com/dmitrijs2005/clipdrop/internal/logging"
	"github.com/dmitrijs2005/clipdrop/internal/server"
	"github.com/dmitrijs2005/clipdrop/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and the retention sweeper until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			app, err := server.NewApp(ctx, cfg, logging.NewJSONLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(ctx)
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the metadata schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Success("schema up to date"))
				return nil
			})
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *server.App) error {
				rep, err := app.Sweeper().Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.FormatReport(rep))
				return nil
			})
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var (
		fromPassphrase bool
		salt           string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new base64 encryption key for ENCRYPTION_KEY",
		Long: `Without flags a random 256-bit key is generated. With --passphrase the key is derived
from a passphrase (argon2id) read from the terminal or stdin; the salt is printed so the
same key can be derived again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !fromPassphrase {
				fmt.Fprintln(out, cryptox.GenerateKeyBase64())
				return nil
			}

			pass, err := readPassphrase(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pass)

			if salt == "" {
				salt, err = common.MakeRandHexString(16)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "salt: %s\n", salt)
			}

			key := cryptox.DeriveKey(pass, []byte(salt))
			defer common.WipeByteArray(key)
			fmt.Fprintln(out, base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromPassphrase, "passphrase", false, "derive the key from a passphrase")
	cmd.Flags().StringVar(&salt, "salt", "", "salt for --passphrase (random when empty)")
	return cmd
}

func readPassphrase(in io.Reader, prompt io.Writer) ([]byte, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Passphrase: ")
		pass, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return nil, err
		}
		if len(pass) == 0 {
			return nil, errors.New("empty passphrase")
		}
		return pass, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty passphrase")
	}
	return []byte(line), nil
}
