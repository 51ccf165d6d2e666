package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/seantiz/stillreel/internal/backend"
	"github.com/seantiz/stillreel/internal/backend/ffmpeg"
	"github.com/seantiz/stillreel/internal/backend/memory"
	"github.com/seantiz/stillreel/internal/compose"
	"github.com/seantiz/stillreel/internal/config"
	"github.com/seantiz/stillreel/internal/lifecycle"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// services holds the engine stack shared by the commands that encode.
type services struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *backend.Registry
	lifecycle *lifecycle.Manager
	pipeline  *compose.Pipeline
}

// newServices resolves the configured engine and wires the lifecycle
// manager and pipeline around it. Logs go to w.
func (c *commandContext) newServices(w io.Writer) (*services, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(w, cfg.LogLevel(), cfg.Logging.Format)

	reg := backend.NewRegistry()
	reg.Register(ffmpeg.BackendName, ffmpeg.NewBackend(cfg.FFmpegConfig(), logger))
	reg.Register(memory.BackendName, memory.New(memory.Options{}))

	eng, err := reg.Resolve(cfg.Engine.Name)
	if err != nil {
		return nil, fmt.Errorf("select engine: %w", err)
	}

	mgr := lifecycle.NewManager(eng, cfg.LoadTimeout(), logger)
	return &services{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		lifecycle: mgr,
		pipeline:  compose.NewPipeline(mgr, cfg.Canvas(), logger),
	}, nil
}

// close releases the engine if it was loaded.
func (s *services) close() {
	if err := s.lifecycle.Shutdown(); err != nil {
		s.logger.Warn("engine shutdown", "error", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
