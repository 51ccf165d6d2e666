// testserver starts a stillreel API server backed by the in-memory engine for
// E2E testing. Engine latency and failures are injected through environment
// variables.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/seantiz/stillreel/internal/api"
	"github.com/seantiz/stillreel/internal/backend"
	"github.com/seantiz/stillreel/internal/backend/memory"
	"github.com/seantiz/stillreel/internal/compose"
	"github.com/seantiz/stillreel/internal/config"
	"github.com/seantiz/stillreel/internal/engine"
	"github.com/seantiz/stillreel/internal/lifecycle"
	"github.com/seantiz/stillreel/internal/store"
)

const (
	envLoadDelay = "STILLREEL_TEST_LOAD_DELAY"
	envExecDelay = "STILLREEL_TEST_EXEC_DELAY"
	envLoadError = "STILLREEL_TEST_LOAD_ERROR"
	envExecError = "STILLREEL_TEST_EXEC_ERROR"
	envQueueSize = "STILLREEL_TEST_QUEUE_SIZE"
)

func main() {
	cfg := config.Default()
	cfg.Store.DBPath = ":memory:"
	if v := os.Getenv("STILLREEL_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	logger := config.NewLogger(os.Stdout, config.ParseLogLevel(os.Getenv("STILLREEL_LOG_LEVEL")), "json")

	opts := memory.Options{
		LoadDelay: durationEnv(envLoadDelay),
		ExecDelay: durationEnv(envExecDelay),
	}
	if v := os.Getenv(envLoadError); v != "" {
		opts.LoadErr = errors.New(v)
	}
	if v := os.Getenv(envExecError); v != "" {
		opts.ExecErr = errors.New(v)
	}
	mem := memory.New(opts)

	db, err := store.NewSQLiteStore(cfg.Store.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := backend.NewRegistry()
	reg.Register(memory.BackendName, mem)

	mgr := lifecycle.NewManager(mem, cfg.LoadTimeout(), logger)
	pipeline := compose.NewPipeline(mgr, cfg.Canvas(), logger)
	eng := engine.NewEngine(db, pipeline, engine.Config{
		QueueSize:  intEnv(envQueueSize, cfg.Engine.QueueSize),
		JobTimeout: cfg.JobTimeout(),
	}, logger)
	eng.Start()

	srv := api.NewServer(api.Options{
		Addr:     cfg.Server.ListenAddr,
		Defaults: cfg.JobDefaults(),
	}, db, reg, mgr, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("testserver: starting", "addr", cfg.Server.ListenAddr)
	runErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Error("engine stop", "error", err)
	}
	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}

func durationEnv(key string) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return d
}

func intEnv(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
