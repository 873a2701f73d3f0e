package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/clinicops/internal/api"
	"github.com/isdelr/clinicops/internal/api/handlers"
	"github.com/isdelr/clinicops/internal/auth"
	"github.com/isdelr/clinicops/internal/backup"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/isdelr/clinicops/internal/monitoring"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/isdelr/clinicops/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkInterval time.Duration

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled backups, server monitoring and the status API",
	Long: `Run in the foreground until interrupted:

  - rotate backups on backup.schedule (a five-field cron expression)
  - check the scheduler server and journal when it goes down or comes back
  - serve a token-protected status API on api.listen, when a secret is set,
    including a live event feed on /api/v1/ws

Issue API tokens with "clinicops token".`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().DurationVar(&checkInterval, "check-interval", 15*time.Second, "How often the server is checked")
	rootCmd.AddCommand(daemonCmd)
}

type noEvents struct{}

func (noEvents) RecentEvents(context.Context, int) ([]models.Event, error) { return nil, nil }

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journaled, j, closeJournal := openJournal(ctx)
	defer closeJournal()

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()
	recorder := websocket.NewRecorder(journaled, hub)

	var catalog backup.Catalog
	var events handlers.EventSource = noEvents{}
	if j != nil {
		catalog = j
		events = j
	}

	job, err := newBackupJob(cfg, recorder, catalog, "", "", 0)
	if err != nil {
		return err
	}
	sup := newSupervisor(recorder)

	if cfg.Backup.Schedule != "" {
		scheduler, err := monitoring.NewScheduler("backup", cfg.Backup.Schedule, func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		})
		if err != nil {
			return opserr.New(opserr.Precondition, "daemon", err, "backup.schedule takes five fields, for example \"0 2 * * *\"")
		}
		go scheduler.Run()
		defer scheduler.Stop()
		log.Info().Str("schedule", cfg.Backup.Schedule).Time("next", scheduler.NextRun()).Msg("Backup schedule active")
	}

	updater := monitoring.NewStatUpdater(sup, recorder, checkInterval)
	go updater.Run()
	defer updater.Stop()

	var srv *http.Server
	serveErr := make(chan error, 1)
	switch {
	case cfg.API.Listen == "":
		log.Info().Msg("Status API disabled")
	case cfg.API.Secret == "":
		log.Warn().Msg("Status API disabled: no OPS_API_SECRET or SECRET_KEY set")
	default:
		issuer, err := auth.NewIssuer(cfg.API.Secret)
		if err != nil {
			return opserr.New(opserr.Precondition, "daemon", err, "")
		}
		router := api.NewRouter(issuer, cfg.API.AllowedOrigins, api.Services{
			Server:  sup,
			Backups: job,
			Events:  events,
			Feed:    hub,
		})
		srv = &http.Server{Addr: cfg.API.Listen, Handler: router, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.API.Listen).Msg("Status API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-serveErr:
		return opserr.New(opserr.Operational, "daemon", err, "is another process using api.listen?")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}
	return nil
}
