package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/config"
	"github.com/zhouzirui/z-pay/client/internal/logging"
	"github.com/zhouzirui/z-pay/client/internal/sandbox"
	"github.com/zhouzirui/z-pay/client/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
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

	fixtures, err := loadFixtures(cfg.Sandbox.FixturesPath)
	if err != nil {
		logger.Fatal("failed to load fixtures", zap.Error(err))
	}

	svc, err := sandbox.NewService(fixtures)
	if err != nil {
		logger.Fatal("failed to seed sandbox", zap.Error(err))
	}

	router := sandbox.New(svc, sandbox.WithLogger(logger.Named("sandbox"))).Router()

	logger.Info("z-pay sandbox gateway listening",
		zap.String("addr", cfg.Sandbox.Addr),
		zap.Int("users", len(fixtures.Users)),
		zap.Int("links", len(fixtures.Links)),
		zap.String("otp_code", svc.OTPCode()))
	if err := server.Run(ctx, server.New(cfg.Sandbox.Addr, router)); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func loadFixtures(path string) (sandbox.Fixtures, error) {
	if path == "" {
		return sandbox.DefaultFixtures()
	}
	return sandbox.LoadFixtures(path)
}
