package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/contributor-app/config"
	apisrv "github.com/zkceremony/contributor/server/api"
	apimw "github.com/zkceremony/contributor/server/api/middleware"
	"github.com/zkceremony/contributor/x/artifact"
	"github.com/zkceremony/contributor/x/attestation"
	"github.com/zkceremony/contributor/x/contributor"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/identity"
	"github.com/zkceremony/contributor/x/pipeline"
	"github.com/zkceremony/contributor/x/status"
)

// App wires the contribution session: coordination client, artifact store,
// pipeline, state machine and the operational HTTP endpoint.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	watcher     *coordination.Watcher
	coord       *coordination.Client
	contributor *contributor.Contributor
	tracker     *apisrv.Tracker
	apiServer   *apisrv.Server
	registry    *prometheus.Registry
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{
		cfg: cfg,
		log: logger.With().Str("component", "app").Logger(),
	}

	if err := app.initialize(ctx, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	return app, nil
}

func (a *App) initialize(ctx context.Context, logger zerolog.Logger) error {
	if strings.TrimSpace(a.cfg.Coordination.BaseURL) == "" {
		return fmt.Errorf("coordination.base_url is required")
	}

	a.watcher = coordination.NewWatcher(feedURL(a.cfg.Coordination), logger)

	coord, err := coordination.NewClient(a.cfg.Coordination.BaseURL, nil, a.watcher, logger)
	if err != nil {
		return err
	}
	a.coord = coord

	storage, err := artifact.New(ctx, a.cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	sessionStore, err := openSessionStore(a.cfg)
	if err != nil {
		return err
	}
	token, err := sessionStore.Token()
	if err != nil {
		return fmt.Errorf("no stored session, run login first: %w", err)
	}

	idClient, err := identity.NewClient(token, a.cfg.Identity.APIBase, logger)
	if err != nil {
		return err
	}
	if ok, err := idClient.HasGistScope(ctx); err != nil {
		a.log.Warn().Err(err).Msg("gist scope check failed")
	} else if !ok {
		a.log.Warn().Msg("token lacks the gist scope; attestation publication will fail")
	}

	a.registry = prometheus.NewRegistry()
	a.tracker = apisrv.NewTracker("")

	sink := status.Tee(
		consoleSink(os.Stdout),
		status.NewLogSink(logger),
		a.tracker,
	)

	pipe := pipeline.New(pipeline.Config{
		Store:         coord,
		Callables:     coord,
		Storage:       storage,
		Sink:          sink,
		Logger:        logger,
		Terms:         a.cfg.Coordination.Terms,
		Metrics:       pipeline.NewMetrics(a.registry),
		VerifyURL:     a.cfg.Ceremony.VerifyURL,
		BucketPostfix: a.cfg.Ceremony.BucketPostfix,
		WorkDir:       a.cfg.Ceremony.WorkDir,
	})

	a.contributor = contributor.New(contributor.Config{
		Store:      coord,
		Callables:  coord,
		Pipeline:   pipe,
		Finalizer:  attestation.New(idClient, logger),
		Identity:   idClient,
		Sink:       sink,
		Logger:     logger,
		Terms:      a.cfg.Coordination.Terms,
		Metrics:    contributor.NewMetrics(a.registry),
		Timers:     contributor.SystemTimerFactory{},
		Thresholds: a.cfg.Identity.Thresholds,
	})

	a.apiServer = apisrv.NewServer(a.cfg.API, logger)
	a.apiServer.Use(apimw.RequestID())
	a.apiServer.Use(apimw.Logger(logger))
	a.apiServer.Use(apimw.Recover(logger))
	if a.cfg.Metrics.Enabled {
		a.apiServer.RegisterOps(a.tracker.State, a.registry)
	} else {
		a.apiServer.RegisterOps(a.tracker.State, nil)
	}

	return nil
}

// Run connects the change feed, starts the operational endpoint and drives
// the contribution session until it finishes or a signal arrives.
func (a *App) Run(ctx context.Context, ceremonyID string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.tracker.SetCeremony(ceremonyID)

	if err := a.watcher.Connect(ctx); err != nil {
		return fmt.Errorf("change feed: %w", err)
	}
	defer func() {
		if err := a.watcher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("change feed close failed")
		}
	}()

	go func() {
		if err := a.apiServer.Start(ctx); err != nil {
			a.log.Error().Err(err).Msg("operational endpoint failed")
		}
	}()

	a.log.Info().Str("ceremony", ceremonyID).Msg("starting contribution session")
	return a.contributor.Contribute(ctx, ceremonyID)
}

// feedURL derives the websocket endpoint from the base URL when no explicit
// one is configured.
func feedURL(cfg config.CoordinationConfig) string {
	if cfg.WSURL != "" {
		return cfg.WSURL
	}
	ws := cfg.BaseURL
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return strings.TrimRight(ws, "/") + "/v1/feed"
}

func openSessionStore(cfg *config.Config) (*identity.Store, error) {
	path := cfg.Identity.StorePath
	if path == "" {
		var err error
		path, err = identity.DefaultStorePath()
		if err != nil {
			return nil, fmt.Errorf("resolve session store path: %w", err)
		}
	}
	return identity.NewStore(path), nil
}

// consoleSink prints status updates for the person at the terminal.
func consoleSink(w *os.File) status.Sink {
	return status.SinkFunc(func(u status.Update) {
		fmt.Fprintln(w, u.Message)
	})
}
