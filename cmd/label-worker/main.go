package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vclabel/spool/internal/config"
	"github.com/vclabel/spool/internal/logging"
	"github.com/vclabel/spool/internal/printer"
	"github.com/vclabel/spool/internal/store"
	"github.com/vclabel/spool/internal/webhook"
	"github.com/vclabel/spool/internal/worker"
)

var (
	configPath   string
	once         bool
	dryRun       bool
	verbose      bool
	pollInterval time.Duration
	retryDelay   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "label-worker",
	Short: "Drain the print queue against the label printer",
	Long: `label-worker claims held jobs from the queue database and prints
them one at a time. By default it runs as a daemon, polling for new
jobs until interrupted; --once drains the currently claimable jobs and
exits with a code reflecting the pass.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	rootCmd.Flags().BoolVar(&once, "once", false, "process claimable jobs and exit")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "mark jobs completed without contacting the printer")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "queue poll interval (overrides config)")
	rootCmd.Flags().DurationVar(&retryDelay, "retry-delay", 0, "busy retry delay (overrides config)")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if pollInterval > 0 {
		cfg.Queue.PollInterval = pollInterval
	}
	if retryDelay > 0 {
		cfg.Queue.RetryDelay = retryDelay
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Setup(cfg.Logging)

	jobStore, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	var session worker.Session
	if dryRun {
		log.Warn().Msg("dry run, jobs will complete without printing")
		session = worker.DryRunSession{}
	} else {
		session = printer.NewSession(cfg.Printer)
	}

	w := worker.New(jobStore, session, cfg.Queue)

	if cfg.Webhook.URL != "" {
		sender := webhook.NewSender(cfg.Webhook.URL, cfg.Webhook.Secret)
		defer sender.Stop()
		w.WithNotifier(sender)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		summary, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		onceExit = exitCode(summary)
		return nil
	}

	return w.Run(ctx)
}

// onceExit carries the one-shot result past the deferred cleanup in
// run; the process exits with it only after the store and the webhook
// sender have shut down.
var onceExit int

// exitCode reports a one-shot pass: 1 when any job failed, 2 when jobs
// remain deferred on a busy printer, 0 otherwise.
func exitCode(s worker.Summary) int {
	switch {
	case s.Failed > 0:
		return 1
	case s.Busy > 0:
		return 2
	default:
		return 0
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
	os.Exit(onceExit)
}
