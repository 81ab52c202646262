package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/services/library/internal/bootstrap"
	"github.com/Fabian0270/library-system/services/library/internal/config"
	"github.com/Fabian0270/library-system/services/library/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		fatal("failed to load config", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		fatal("failed to init runtime", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("close runtime", "err", err)
		}
	}()

	loginLimiter, registerLimiter, err := rt.Limiters()
	if err != nil {
		fatal("failed to init rate limiters", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		fatal("failed to parse trusted proxies", err)
	}
	requestTimeout, err := config.ParseRequestTimeout(cfg.RequestTimeout)
	if err != nil {
		fatal("failed to parse request timeout", err)
	}
	reminderInterval, err := config.ParseReminderInterval(cfg.ReminderInterval)
	if err != nil {
		fatal("failed to parse reminder interval", err)
	}

	httpServer, err := server.New(server.Config{
		App:             rt.App,
		LoginLimiter:    loginLimiter,
		RegisterLimiter: registerLimiter,
		TrustedProxies:  trustedProxies,
		AllowedOrigins:  cfg.AllowedOrigins,
		RequestTimeout:  requestTimeout,
	})
	if err != nil {
		fatal("failed to init server", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("library server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if rt.Reminders != nil && reminderInterval > 0 {
		g.Go(func() error {
			return rt.App.RunReminderScanner(gctx, rt.Reminders, reminderInterval)
		})
		g.Go(func() error {
			err := rt.Reminders.Run(gctx, 1, rt.App.HandleReminder)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		slog.Info("overdue reminders disabled")
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("library server stopped")
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	os.Exit(1)
}
