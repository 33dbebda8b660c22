// Package main запускает HTTP-сервер сервиса кликер-бота.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/clickerbot-system/internal/access"
	"github.com/mmeshcher/clickerbot-system/internal/backup"
	"github.com/mmeshcher/clickerbot-system/internal/bot"
	"github.com/mmeshcher/clickerbot-system/internal/config"
	"github.com/mmeshcher/clickerbot-system/internal/freshness"
	"github.com/mmeshcher/clickerbot-system/internal/handler"
	"github.com/mmeshcher/clickerbot-system/internal/middleware"
	"github.com/mmeshcher/clickerbot-system/internal/policy"
	"github.com/mmeshcher/clickerbot-system/internal/poststore"
	"github.com/mmeshcher/clickerbot-system/internal/repository"
	"github.com/mmeshcher/clickerbot-system/internal/service"
	"github.com/mmeshcher/clickerbot-system/internal/session"
	"github.com/mmeshcher/clickerbot-system/internal/transport"
	"github.com/mmeshcher/clickerbot-system/internal/verify"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	payloads, err := poststore.NewFileStore(cfg.PostsDir)
	if err != nil {
		sugar.Fatalw("payload store initialization error", "error", err.Error())
	}

	backupManager, err := backup.NewManager(context.Background(), payloads, backup.Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Interval:  cfg.BackupInterval,
	}, logger)
	if err != nil {
		sugar.Fatalw("backup initialization error", "error", err.Error())
	}

	// Восстановление файлов хранилища до приёма трафика.
	if backupManager != nil {
		if err := backupManager.Restore(context.Background()); err != nil {
			sugar.Errorw("backup restore error", "error", err.Error())
		}
	}

	rules := policy.New(cfg.ViewRewardTenths, cfg.PostCostTenths, cfg.PointsPerUnitTenths)
	sessions := session.NewManager(cfg.MinDwellSeconds, cfg.MaxDwellSeconds)
	gate := access.NewGate(cfg.ChallengeTTL)

	svc := service.NewService(repo, payloads, rules, sessions, gate, service.Options{
		AdminUserIDs: cfg.AdminUserIDs,
		CuratedQuota: cfg.CuratedQuota,
		GeneralQuota: cfg.GeneralQuota,
	})
	defer svc.Close()

	verifier := verify.NewClient(cfg.VerifyAddress)

	var sender bot.Sender = transport.NewBridgeClient(cfg.BridgeAddress)
	sender = bot.NewRetrySender(sender, logger, 3)

	guard := freshness.NewGuard()
	dispatcher := bot.NewDispatcher(svc, verifier, sender, guard, logger, cfg.AdminUserIDs)

	sigMiddleware := middleware.NewSignatureMiddleware(cfg.WebhookSecret)
	h := handler.NewHandler(dispatcher, logger, sigMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового резервного копирования хранилища ссылок
	if backupManager != nil {
		g.Go(func() error {
			backupManager.Run(ctx)
			return nil
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting clickerbot server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := dispatcher.Broadcast(shutdownCtx, "🚧 The bot is going down for maintenance. Back soon!"); err != nil {
			sugar.Errorw("maintenance broadcast error", "error", err.Error())
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	// Объявление о запуске после старта сервера
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
		if err := dispatcher.Broadcast(ctx, "🚀 The bot is back online! You can continue earning points."); err != nil {
			sugar.Errorw("online broadcast error", "error", err.Error())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
