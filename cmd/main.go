package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mailfinder/internal/archive"
	"mailfinder/internal/config"
	"mailfinder/internal/filter"
	"mailfinder/internal/imap"
	"mailfinder/internal/logging"
	"mailfinder/internal/retrieval"
)

type options struct {
	configPath string
	server     string
	subject    string
	rule       string
	mboxPath   string
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "mailfinder",
		Short: "Find messages in an IMAP folder, waiting for them to arrive if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	flags.StringVarP(&opts.server, "server", "s", "", "key of the server in the configuration")
	flags.StringVar(&opts.subject, "subject", "", "expected message subject")
	flags.StringVar(&opts.rule, "rule", "equal to", "comparison rule applied to the subject")
	flags.StringVar(&opts.mboxPath, "mbox", "", "write the found messages to this mbox file")
	_ = rootCmd.MarkFlagRequired("server")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("error reading configuration file: %w", err)
	}
	logging.SetLevel(cfg.LogLevel)

	creds, err := config.Server(cfg, opts.server)
	if err != nil {
		return err
	}

	var filters []filter.Predicate
	if opts.subject != "" {
		rule, err := filter.ParseRule(opts.rule)
		if err != nil {
			return err
		}
		pred, err := filter.New(filter.Subject, rule, opts.subject)
		if err != nil {
			return err
		}
		filters = append(filters, pred)
	}

	logging.Log.WithFields(logrus.Fields{
		"server": opts.server,
		"folder": cfg.Folder,
	}).Infof("Searching for messages, up to %d attempts every %s", cfg.Wait.PollAttempts, cfg.Wait.PollInterval)

	service := retrieval.New(imap.NewStandardDialer(), retrieval.Options{Folder: cfg.Folder})
	found, err := service.Find(ctx, filters, creds, cfg.Wait)
	if err != nil {
		return err
	}

	if len(found) == 0 {
		logging.Log.Warn("No matching message found")
		return nil
	}
	for _, m := range found {
		logging.Log.WithFields(logrus.Fields{
			"uid":     m.UID,
			"from":    m.From,
			"date":    m.Date,
			"subject": m.Subject,
		}).Info("Message found")
	}

	if opts.mboxPath != "" {
		n, err := archive.SaveMbox(opts.mboxPath, found)
		if err != nil {
			return fmt.Errorf("error writing mbox %s: %w", opts.mboxPath, err)
		}
		logging.Log.Infof("Wrote %d messages to %s", n, opts.mboxPath)
	}
	return nil
}
