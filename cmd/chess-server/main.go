package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-match-server/internal/archive"
	appcfg "github.com/park285/chess-match-server/internal/config"
	"github.com/park285/chess-match-server/internal/dispatch"
	"github.com/park285/chess-match-server/internal/obslog"
	"github.com/park285/chess-match-server/internal/ops"
	"github.com/park285/chess-match-server/internal/relay"
	"github.com/park285/chess-match-server/internal/room"
	"github.com/park285/chess-match-server/internal/ws"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	rooms := room.NewRegistry(cfg.TimeControlMs)
	rl := relay.NewRegistry(cfg.OutboundBuffer, logger)
	disp := dispatch.New(dispatch.Config{
		TickInterval: cfg.TickInterval,
		RoomTTL:      cfg.RoomTTL,
	}, rooms, rl, logger)

	// Archive collaborators are optional: without them matches simply are
	// not persisted after they end.
	var store *archive.Store
	if cfg.RedisURL != "" {
		store, err = archive.NewStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("archive store init error: %v", err)
		}
		disp.AttachStore(store)
	}
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive repo init error: %v", err)
		}
		disp.AttachRepository(repo)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go disp.Run(ctx)

	wsSrv := ws.New(rl, disp, logger)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: wsSrv.Handler()}
	go func() {
		logger.Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_error", zap.Error(err))
		}
	}()

	var opsSrv *ops.Server
	if cfg.OpsAddr != "" {
		opsSrv = ops.New(cfg.OpsAddr, disp.Stats, logger)
		go func() {
			if err := opsSrv.ListenAndServe(); err != nil {
				logger.Error("ops_server_error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown_begin")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if opsSrv != nil {
		_ = opsSrv.Shutdown()
	}
	_ = store.Close()
	_ = repo.Close()
	logger.Info("shutdown_complete")
}
