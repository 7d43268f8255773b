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

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/DaniloDobras/ois/config"
	"github.com/DaniloDobras/ois/engine"
	"github.com/DaniloDobras/ois/logger"
	"github.com/DaniloDobras/ois/messaging"
	"github.com/DaniloDobras/ois/notify"
	"github.com/DaniloDobras/ois/store"
	"github.com/DaniloDobras/ois/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration and exit")
	configPath := flag.String("config", "orderintake.yaml", "path to config file")
	mode := flag.String("mode", "all", "what to run: all, api or relay")
	flag.Parse()

	if *showVersion {
		fmt.Println("orderintake", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dump config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	runAPI, runRelay, err := parseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.L().With(zap.String("version", Version), zap.String("mode", *mode))

	if err := run(cfg, runAPI, runRelay, log); err != nil {
		log.Error("orderintake exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func parseMode(mode string) (api, relay bool, err error) {
	switch mode {
	case "all":
		return true, true, nil
	case "api":
		return true, false, nil
	case "relay":
		return false, true, nil
	}
	return false, false, fmt.Errorf("unknown -mode %q: want all, api or relay", mode)
}

func run(cfg *config.Config, runAPI, runRelay bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := store.Open(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Info("database open", zap.String("driver", cfg.Database.Driver))

	// Redis wake-ups (optional)
	var notifier *notify.RedisNotifier
	if cfg.Redis.Enabled {
		notifier = notify.NewRedisNotifier(&cfg.Redis, logger.Named("notify"))
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := notifier.Ping(pingCtx); err != nil {
			log.Warn("redis not available, relay falls back to polling", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("address", cfg.Redis.Address))
		}
		cancel()
		defer notifier.Close()
	}

	// Message bus; an unreachable broker only delays delivery
	bus := messaging.NewClient(&cfg.Messaging, logger.Named("messaging"))
	if runRelay {
		if err := bus.Connect(ctx); err != nil {
			log.Warn("messaging connect failed, will retry on publish", zap.Error(err))
		}
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("messaging close", zap.Error(err))
		}
	}()

	eng, err := engine.New(engine.Config{
		App:      cfg,
		DB:       db,
		Bus:      bus,
		Notifier: notifier,
		Log:      logger.Named("engine"),
		RunRelay: runRelay,
	})
	if err != nil {
		return err
	}
	eng.Start(ctx)
	defer eng.Stop()

	if !runAPI {
		log.Info("relay ready")
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	}

	handler, stopWeb := www.NewRouter(eng, logger.Named("www"))
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("web server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("ready")
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
	}

	log.Info("shutting down")
	stopWeb()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("web server shutdown", zap.Error(err))
	}
	return nil
}
