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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realmsync/collision"
	"realmsync/config"
	"realmsync/rules"
	"realmsync/server"
	"realmsync/session"
	"realmsync/store"
	"realmsync/store/gormstore"
	"realmsync/store/pgxstore"
)

// realmsync: websocket session server plus its auxiliary HTTP routes.
func main() {
	var configFile, addr string
	flag.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flag.StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := server.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer server.SyncLogger()

	if err := run(cfg, logger); err != nil {
		server.Log.Errorf("realmsync: %v", err)
		server.SyncLogger()
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "mysql":
		s, err := gormstore.Open(cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := pgxstore.Open(ctx, cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return store.NewMemory(), nil
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	// bindings from a previous process are stale
	if err := st.ResetSessions(ctx); err != nil {
		return fmt.Errorf("reset sessions: %w", err)
	}

	maps := collision.NewIndex(logger, collision.WithFailClosed(cfg.Collision.FailClosed))
	if err := maps.LoadDir(cfg.Assets.MapsDir, cfg.Collision.TileSize); err != nil {
		server.Log.Warnf("no collision maps loaded from %s: %v", cfg.Assets.MapsDir, err)
	}

	registry := session.NewRegistry(st,
		session.NewHasher(cfg.Auth.Hasher, cfg.Auth.BcryptCost), logger,
		session.WithTokenBytes(cfg.Auth.TokenBytes))
	engine := rules.NewEngine(st, maps, logger,
		rules.WithFacing(rules.ParseFacing(cfg.Combat.Facing)),
		rules.WithDamage(rules.FixedDamage(cfg.Combat.Damage)))

	metrics := server.NewMetrics()
	rooms := server.NewRoomManager(server.RoomConfig{
		Step:      cfg.Movement.Step,
		Interval:  cfg.Movement.TickInterval(),
		IdleAbort: cfg.Movement.IdleAbort,
	}, engine, metrics, logger, true)
	defer rooms.Stop()
	rooms.GetOrCreateRoom(cfg.Spawn.Map)

	dispatcher := server.NewDispatcher(registry, st, engine, rooms, server.OptionsFromConfig(cfg), logger,
		server.WithKeyIssuer(server.NewX25519Keys()), server.WithMetrics(metrics))
	registry.SetKicker(dispatcher)

	api, err := server.NewAPI(server.APIConfig{
		AdminKey:    cfg.HTTP.AdminKey,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		MapHashTTL:  cfg.Cache.MapHashTTL,
	}, dispatcher, registry, rooms, maps, metrics, logger)
	if err != nil {
		return err
	}
	defer api.Close()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.Router()}
	errCh := make(chan error, 1)
	go func() {
		server.Log.Infof("realmsync listening on %s (store=%s, maps=%d)", cfg.Server.Addr, cfg.Store.Driver, len(maps.Maps()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	server.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
