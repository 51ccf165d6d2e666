package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/seantiz/stillreel/internal/api"
	"github.com/seantiz/stillreel/internal/engine"
	"github.com/seantiz/stillreel/internal/store"
)

const engineStopTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var preload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.newServices(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer svc.close()
			cfg, logger := svc.cfg, svc.logger

			logger.Info("stillreel: starting",
				"listen_addr", cfg.Server.ListenAddr,
				"db_path", cfg.Store.DBPath,
				"engine", cfg.Engine.Name,
			)

			if cfg.Store.DBPath != ":memory:" {
				lock := flock.New(cfg.Store.DBPath + ".lock")
				ok, err := lock.TryLock()
				if err != nil {
					return fmt.Errorf("acquire database lock: %w", err)
				}
				if !ok {
					return fmt.Errorf("another stillreel server is already using %s", cfg.Store.DBPath)
				}
				defer func() { _ = lock.Unlock() }()
			}

			db, err := store.NewSQLiteStore(cfg.Store.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := db.FailUnfinishedJobs(runCtx, "server restarted before the job finished")
			if err != nil {
				return fmt.Errorf("recover unfinished jobs: %w", err)
			}
			if n > 0 {
				logger.Warn("marked unfinished jobs as failed", "count", n)
			}

			eng := engine.NewEngine(db, svc.pipeline, engine.Config{
				QueueSize:  cfg.Engine.QueueSize,
				JobTimeout: cfg.JobTimeout(),
			}, logger)
			eng.Start()

			if preload {
				go func() {
					if _, err := svc.lifecycle.EnsureReady(runCtx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("engine preload failed", "error", err)
					}
				}()
			}

			srv := api.NewServer(api.Options{
				Addr:           cfg.Server.ListenAddr,
				MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
				Defaults:       cfg.JobDefaults(),
			}, db, svc.registry, svc.lifecycle, eng, logger)

			runErr := srv.Run(runCtx)

			stopCtx, cancel := context.WithTimeout(context.Background(), engineStopTimeout)
			defer cancel()
			if err := eng.Stop(stopCtx); err != nil {
				logger.Error("engine stop", "error", err)
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&preload, "preload", false, "Load the encoding engine at startup instead of on the first job")
	return cmd
}
