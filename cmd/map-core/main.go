package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridsight/map-core/internal/config"
	"gridsight/map-core/internal/history"
	"gridsight/map-core/internal/httpapi"
	"gridsight/map-core/internal/metrics"
	"gridsight/map-core/internal/nav"
	"gridsight/map-core/internal/regions"
	"gridsight/map-core/internal/sessionstore"
	"gridsight/map-core/internal/telemetry"
)

func main() {
	cfg, err := config.Load(envOr("CONFIG_PATH", ""))
	if err != nil {
		logger := httpapi.NewLogger("info")
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Session slots: Postgres when configured, in-process otherwise.
	var slots sessionstore.Store
	var readyCheck func(ctx context.Context) error
	if cfg.DatabaseURL != "" {
		pg, err := sessionstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure session schema")
		}
		slots = pg
		readyCheck = pg.Ping
	} else {
		slots = sessionstore.NewMemory(time.Duration(cfg.SessionTTL))
	}

	slotKey := envOr("HISTORY_SLOT", "chartHistoryStore:"+sessionstore.NewSessionID())
	hist := history.New(logger, history.Options{
		MaxPoints: cfg.MaxPoints,
		Interval:  time.Duration(cfg.PollInterval),
		Persister: sessionstore.NewSlot(slots, slotKey),
	})
	if err := hist.Hydrate(ctx); err != nil {
		logger.Warn().Err(err).Msg("history hydrate failed, starting empty")
	}

	registry := regions.NewRegistry(logger, regions.RegistryOptions{AssetRoot: cfg.AssetRoot})
	machine := nav.NewMachine(logger)
	directory := telemetry.NewDirectory()
	latest := telemetry.NewLatest()

	var tokens telemetry.TokenSource
	if cfg.TokenFile != "" {
		tokens = &telemetry.FileTokenSource{Path: cfg.TokenFile}
	} else {
		tokens = telemetry.StaticTokenSource(os.Getenv("API_TOKEN"))
	}

	client := telemetry.NewClient(logger, telemetry.ClientOptions{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		Metrics: m,
	})

	supervisor := telemetry.NewSupervisor(ctx, logger, client, telemetry.PollerOptions{
		Interval: time.Duration(cfg.PollInterval),
		Metrics:  m,
		OnResult: func(readings map[string]telemetry.Reading) {
			latest.Set(readings)
			hist.AppendTick(ctx, time.Now(), readings)
		},
		OnError: func(error) {
			hist.AppendFailureTick(ctx, time.Now())
		},
	})
	defer supervisor.Stop()

	retarget := func(st nav.State) {
		var ids []string
		if st.MultiSelect {
			ids = cfg.MultiDeviceIDs
		} else if items := directory.Items(); len(items) > 0 {
			ids = []string{items[0].DeviceID}
		}
		supervisor.SetTarget(ids)
	}

	// The device list gates polling; keep retrying until it loads.
	go func() {
		delay := 5 * time.Second
		for {
			list, err := client.DeviceList(ctx, cfg.UserEmail)
			if err == nil {
				directory.Set(list)
				logger.Info().Int("devices", len(list.Items)).Msg("device list loaded")
				retarget(machine.State())
				return
			}
			logger.Warn().Err(err).Dur("retry_in", delay).Msg("device list fetch failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay < time.Minute {
				delay *= 2
			}
		}
	}()

	h := httpapi.NewHandler(logger, httpapi.Options{
		Metrics:        m,
		Nav:            machine,
		Registry:       registry,
		History:        hist,
		Directory:      directory,
		Latest:         latest,
		MultiDeviceIDs: cfg.MultiDeviceIDs,
		OnNavChange:    retarget,
		ReadyCheck:     readyCheck,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("map-core listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
