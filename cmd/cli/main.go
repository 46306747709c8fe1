// Command gofulcrum is a CLI over one webhook configuration's cache and
// remote account.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/gofulcrum/internal/app"
	"github.com/and161185/gofulcrum/internal/config"
	"github.com/and161185/gofulcrum/internal/logger"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type rootOptions struct {
	configPath string
	webhook    string
	logLevel   string
	timeout    time.Duration

	// open resolves the selected configuration; tests replace it.
	open func(ctx context.Context, o *rootOptions) (*app.Instance, error)
}

func loadConfig(o *rootOptions) (*config.Config, error) {
	return config.Load(o.configPath)
}

func openInstance(ctx context.Context, o *rootOptions) (*app.Instance, error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	wh, err := cfg.Webhook(o.webhook)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{Env: "development", Level: o.logLevel})
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, wh, nil, log)
}

// withInstance runs fn against the selected configuration under the
// command timeout.
func (o *rootOptions) withInstance(cmd *cobra.Command, fn func(ctx context.Context, in *app.Instance) error) error {
	ctx := cmd.Context()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	in, err := o.open(ctx, o)
	if err != nil {
		return err
	}
	defer in.Store.Close()
	return fn(ctx, in)
}

func newRootCmd(o *rootOptions) *cobra.Command {
	if o == nil {
		o = &rootOptions{}
	}
	if o.open == nil {
		o.open = openInstance
	}
	root := &cobra.Command{
		Use:   "gofulcrum",
		Short: "Mirror Fulcrum projects, forms, records and media into a local cache",
		Long: `gofulcrum reads and writes the cache of one webhook configuration.

Live commands fetch from the Fulcrum API and ingest what they read; --cached
commands only read the local store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "config file (default ./gofulcrum.{yaml,toml,json})")
	root.PersistentFlags().StringVarP(&o.webhook, "webhook", "w", "default", "webhook configuration name")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "warn", "log level")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 0, "overall command timeout (0 = none)")

	root.AddCommand(
		newListCmd(o),
		newGetCmd(o),
		newRemoveCmd(o),
		newCreateProjectCmd(o),
		newSyncCmd(o),
		newTokenCmd(o),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "gofulcrum %s (%s)\n", version, buildDate)
			},
		},
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
