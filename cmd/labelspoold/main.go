package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vclabel/spool/internal/api"
	"github.com/vclabel/spool/internal/config"
	"github.com/vclabel/spool/internal/logging"
	"github.com/vclabel/spool/internal/printer"
	"github.com/vclabel/spool/internal/store"
	"github.com/vclabel/spool/internal/webhook"
	"github.com/vclabel/spool/internal/worker"
)

var (
	configPath string
	noWorker   bool
)

var rootCmd = &cobra.Command{
	Use:   "labelspoold",
	Short: "Label print spooler: REST API plus embedded queue worker",
	Long: `labelspoold serves the job submission API and runs the queue
worker in the same process. Run with --no-worker to serve the API only
and drain the queue with a separate label-worker process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	rootCmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API without the embedded worker")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging)
	gin.SetMode(gin.ReleaseMode)

	jobStore, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	session := printer.NewSession(cfg.Printer)

	server, err := api.NewServer(cfg.Server, jobStore, session)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	if noWorker {
		close(workerDone)
	} else {
		w := worker.New(jobStore, session, cfg.Queue)

		if cfg.Webhook.URL != "" {
			sender := webhook.NewSender(cfg.Webhook.URL, cfg.Webhook.Secret)
			defer sender.Stop()
			w.WithNotifier(sender)
		}

		go func() {
			defer close(workerDone)
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("queue worker stopped with error")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		<-workerDone
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	<-workerDone
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("spooler failed")
		os.Exit(1)
	}
}
