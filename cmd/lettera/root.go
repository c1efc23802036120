package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/francitoshi/lettera/internal/client/cli"
	"github.com/francitoshi/lettera/internal/client/config"
	"github.com/francitoshi/lettera/internal/client/services"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/francitoshi/lettera/internal/filex"
	"github.com/francitoshi/lettera/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "lettera",
		Short: "Private chat over plain email",
		Long: `lettera sends chat notes as OpenPGP encrypted and signed emails.

Accounts, friends, chats and their history are kept in an encrypted store
under the home folder, unlocked by a single passphrase.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase (prompted when not given)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := flags.Resolve()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		pass := []byte(passphrase)
		return run(ctx, cfg, pass, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lettera %s (%s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, pass []byte, in io.Reader, out, errOut io.Writer) error {
	defer common.WipeByteArray(pass)

	log, err := logging.New(cfg.LogFormat, cfg.Debug, errOut)
	if err != nil {
		return err
	}
	if z, ok := log.(*logging.ZapLogger); ok {
		defer func() { _ = z.Sync() }()
	}

	if len(pass) == 0 {
		if pass, err = promptPassphrase(cfg, out); err != nil {
			return err
		}
		defer common.WipeByteArray(pass)
	}

	done := startSpinner("Unlocking "+cfg.Dir, cfg.Debug, errOut)
	session, err := services.OpenOrCreateSession(ctx, cfg.Dir, pass, services.OptionsFromConfig(cfg, log))
	done()
	common.WipeByteArray(pass)
	if err != nil {
		return explain(cfg, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Error(ctx, "close session", "error", err)
		}
	}()

	if session.FirstRun() {
		fmt.Fprintf(out, "Created a new lettera home in %s\n", session.Dir())
	}
	return cli.NewApp(session, in, out, cfg.Wizard).Run(ctx)
}

// promptPassphrase asks once for an existing home and twice for a new one.
func promptPassphrase(cfg *config.Config, out io.Writer) ([]byte, error) {
	exists, err := filex.Exists(cfg.ParamsPath())
	if err != nil {
		return nil, err
	}
	pass, err := cli.GetPassword(out, "Passphrase")
	if err != nil {
		return nil, err
	}
	if exists {
		return pass, nil
	}

	if len(pass) < services.MinPassphraseLen {
		common.WipeByteArray(pass)
		return nil, fmt.Errorf("need at least %d characters: %w", services.MinPassphraseLen, common.ErrWeakPass)
	}
	again, err := cli.GetPassword(out, "Repeat passphrase")
	if err != nil {
		common.WipeByteArray(pass)
		return nil, err
	}
	defer common.WipeByteArray(again)
	if !bytes.Equal(pass, again) {
		common.WipeByteArray(pass)
		return nil, errors.New("passphrases do not match")
	}
	return pass, nil
}

// startSpinner shows progress while the passphrase is stretched. It stays
// quiet in debug mode so log lines are not garbled.
func startSpinner(message string, debug bool, w io.Writer) func() {
	if debug {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	_ = s.Color("cyan")
	s.Start()
	return s.Stop
}

func explain(cfg *config.Config, err error) error {
	switch {
	case errors.Is(err, common.ErrCannotUnlock):
		return fmt.Errorf("cannot unlock %s, check the passphrase: %w", cfg.Dir, err)
	case errors.Is(err, common.ErrConfig):
		return fmt.Errorf("%w\nrestore %s from a backup or delete it to start over", err, cfg.ParamsPath())
	default:
		return err
	}
}
