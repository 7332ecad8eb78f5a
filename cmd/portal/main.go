package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/app"
	"github.com/zhouzirui/z-pay/client/internal/config"
	"github.com/zhouzirui/z-pay/client/internal/handler"
	"github.com/zhouzirui/z-pay/client/internal/handler/web"
	"github.com/zhouzirui/z-pay/client/internal/logging"
	"github.com/zhouzirui/z-pay/client/internal/navigation"
	"github.com/zhouzirui/z-pay/client/internal/server"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("portal stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder := navigation.NewRecorder()
	client, err := app.New(cfg.API, st, app.Options{
		Navigator:  recorder,
		Registerer: reg,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	// Pages show the placeholder until this finishes.
	go func() {
		if err := client.Sessions.Hydrate(ctx); err != nil {
			logger.Warn("session hydration aborted", zap.Error(err))
		}
	}()

	flashes := web.NewFlashes(cfg.Portal.SessionSecret, cfg.Portal.SecureCookie, logger)
	pages, err := web.NewResponder(client.Sessions, flashes, recorder, logger.Named("web"))
	if err != nil {
		return err
	}

	router := handler.NewRouter(handler.Deps{
		Sessions: client.Sessions,
		Auth:     client.Auth,
		Account:  client.Auth,
		Payments: client.QR,
		Pages:    pages,
		Gatherer: reg,
		Logger:   logger.Named("http"),
	})

	logger.Info("z-pay portal listening",
		zap.String("addr", cfg.Portal.Addr),
		zap.String("api", cfg.API.BaseURL),
		zap.String("api_v2", cfg.API.V2BaseURL),
		zap.String("storage", st.Path()))
	return server.Run(ctx, server.New(cfg.Portal.Addr, router))
}
