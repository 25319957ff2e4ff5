package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/initiator"
	"github.com/xiaot623/gogo/runstream/internal/logging"
	"github.com/xiaot623/gogo/runstream/internal/runclient"
)

// app carries what every subcommand needs.
type app struct {
	cfg    *config.ClientConfig
	logger logging.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.LoadClient(), logger: logging.NoOpLogger{}, out: os.Stdout}

	root := &cobra.Command{
		Use:           "runwatch",
		Short:         "Submit runs and follow them live",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = logging.New(a.cfg.LogLevel, a.cfg.LogFormat, cmd.ErrOrStderr())
			a.out = cmd.OutOrStdout()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.ServerURL, "server", a.cfg.ServerURL, "run server base URL")
	flags.StringVar(&a.cfg.Transport, "transport", a.cfg.Transport, "stream transport (sse or ws)")
	flags.IntVar(&a.cfg.MaxReconnects, "max-reconnects", a.cfg.MaxReconnects, "reconnects without progress before giving up")
	flags.DurationVar(&a.cfg.ReconnectDelay, "reconnect-delay", a.cfg.ReconnectDelay, "minimum delay between connections")
	flags.IntVar(&a.cfg.PreviewMaxChars, "preview", a.cfg.PreviewMaxChars, "preview length in characters")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(a.submitCmd(), a.watchCmd(), a.cancelCmd(), a.renderCmd())
	return root
}

// signalContext is cancelled on Ctrl-C. Watches treat that as a local cancel.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) watcher() (*runclient.Watcher, *initiator.Client) {
	return runclient.NewFromConfig(a.cfg, a.logger)
}
