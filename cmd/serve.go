package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/drew/muxbot/internal/api"
	"github.com/drew/muxbot/internal/bot"
	"github.com/drew/muxbot/internal/session"
	"github.com/drew/muxbot/internal/term"
	"github.com/drew/muxbot/internal/toolchain"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot (and the control API when api.addr is set)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks := session.NewManager(
		session.WithMaxTasks(cfg.Tasks.Max),
		session.WithRetention(cfg.Tasks.Retention),
		session.WithDefaultDir(cfg.WorkDir),
		session.WithLogger(logger),
		session.WithTermOptions(
			term.WithGrace(cfg.Live.Grace),
			term.WithStartupWait(cfg.Live.StartupWait),
			term.WithLogger(logger),
		),
	)

	b, err := bot.New(cfg, tasks, toolchain.Default(), logger)
	if err != nil {
		return err
	}

	var wg conc.WaitGroup
	var apiErr error
	if cfg.API.Addr != "" {
		guard := session.NewGuard(cfg.Blocklist)
		srv := api.New(cfg.API.Addr, cfg.API.Token, cfg.Shell, guard, tasks, logger)
		wg.Go(func() {
			if err := srv.Start(ctx); err != nil {
				apiErr = err
				logger.Error("control API stopped", "err", err)
				stop()
			}
		})
	}

	logger.Info("muxbot started", "version", version, "workdir", tasks.WorkingDir(0))
	err = b.Start(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := tasks.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("tasks still running at exit", "err", serr)
	}
	b.Close()
	wg.Wait()

	logger.Info("bot stopped gracefully")
	return errors.Join(err, apiErr)
}
