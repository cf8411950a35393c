// viperarr watches how a household actually consumes its media library and
// keeps just enough of it on disk: episodes everyone has passed get deleted,
// episodes someone is about to reach get fetched back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/viperarr/viperarr/internal/api"
	"github.com/viperarr/viperarr/internal/config"
	"github.com/viperarr/viperarr/internal/database"
	"github.com/viperarr/viperarr/internal/deltasync"
	"github.com/viperarr/viperarr/internal/lifecycle"
	"github.com/viperarr/viperarr/internal/logger"
	"github.com/viperarr/viperarr/internal/mediaserver"
	"github.com/viperarr/viperarr/internal/mediaserver/jellyfin"
	"github.com/viperarr/viperarr/internal/mediaserver/plex"
	"github.com/viperarr/viperarr/internal/orchestrator"
	"github.com/viperarr/viperarr/internal/radarr"
	"github.com/viperarr/viperarr/internal/scheduler"
	"github.com/viperarr/viperarr/internal/scheduler/tasks"
	"github.com/viperarr/viperarr/internal/sonarr"
	"github.com/viperarr/viperarr/internal/store"
	"github.com/viperarr/viperarr/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "viperarr: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().Str("address", cfg.Server.Address()).Msg("starting viperarr")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	st := store.New(db.Conn())

	media, err := buildMediaClient(cfg.MediaServer)
	if err != nil {
		return err
	}
	if err := media.TestConnection(context.Background()); err != nil {
		// Keep going; the media server may simply not be up yet.
		log.Warn().Err(err).Str("type", cfg.MediaServer.Type).Msg("media server unreachable at startup")
	}

	var tv orchestrator.TVDownloader
	if cfg.Sonarr.URL != "" {
		client, err := sonarr.NewClient(cfg.Sonarr.URL, cfg.Sonarr.APIKey)
		if err != nil {
			return fmt.Errorf("sonarr client: %w", err)
		}
		tv = client
	} else {
		log.Info().Msg("no TV downloader configured, episode redownloads disabled")
	}

	var movies orchestrator.MovieDownloader
	if cfg.Radarr.URL != "" {
		client, err := radarr.NewClient(cfg.Radarr.URL, cfg.Radarr.APIKey)
		if err != nil {
			return fmt.Errorf("radarr client: %w", err)
		}
		movies = client
	}

	hub := websocket.NewHub()
	go hub.Run()
	log.SetBroadcastHub(hub)

	analyzer := lifecycle.NewAnalyzer(st, log.Logger)
	syncSvc := deltasync.NewService(st, media, hub, log.Logger)
	orch := orchestrator.New(st, analyzer, media, tv, movies, hub, log.Logger)

	sched, err := scheduler.New(log.Logger, cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	tasks.RegisterAll(sched, cfg.Scheduler, syncSvc, orch, log, log.Logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error().Err(err).Msg("scheduler shutdown")
		}
	}()

	server := api.NewServer(api.Deps{
		Config: cfg,
		Store:  st,
		Sync:   syncSvc,
		Orch:   orch,
		Sched:  sched,
		Hub:    hub,
		Logs:   log,
	}, log.Logger)
	server.Echo().GET("/ws", hub.HandleWebSocket)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	return nil
}

func buildMediaClient(cfg config.MediaServerConfig) (mediaserver.Client, error) {
	mcfg := mediaserver.Config{
		Type:  mediaserver.ServerType(cfg.Type),
		URL:   cfg.URL,
		Token: cfg.Token,
	}
	switch mcfg.Type {
	case mediaserver.ServerTypePlex:
		return plex.New(mcfg), nil
	case mediaserver.ServerTypeJellyfin:
		return jellyfin.New(mcfg), nil
	default:
		return nil, fmt.Errorf("unknown media server type %q", cfg.Type)
	}
}
