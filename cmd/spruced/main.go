// Command spruced is the agent's daemon: a small HTTP control surface for
// triggering executions, killing stuck runs, and inspecting this host's
// schedule and run journal.
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

	"github.com/wphospital/sprucepy/internal/api"
	"github.com/wphospital/sprucepy/internal/config"
	"github.com/wphospital/sprucepy/internal/crontab"
	"github.com/wphospital/sprucepy/internal/journal"
	"github.com/wphospital/sprucepy/internal/logging"
	"github.com/wphospital/sprucepy/internal/runner"
	"github.com/wphospital/sprucepy/internal/scheduler"
	"github.com/wphospital/sprucepy/internal/spruceapi"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.NewJSON(cfg.LogLevel)

	baseCtx := context.Background()
	jrnl, err := journal.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open journal", "err", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	cronLoc, err := cfg.CronLocation()
	if err != nil {
		logger.Error("load cron timezone", "err", err)
		os.Exit(1)
	}
	displayLoc, err := cfg.DisplayLocation()
	if err != nil {
		logger.Error("load display timezone", "err", err)
		os.Exit(1)
	}

	client := spruceapi.New(spruceapi.Options{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
	})
	store := crontab.New(&crontab.SystemSource{User: cfg.Cron.User})
	sched := scheduler.New(store, cfg.Cron.Binary, cronLoc, displayLoc, logger)
	killer := runner.NewKiller(client, logger)

	server := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, sched, killer, jrnl, client, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	logger.Info("shutdown complete")
}
