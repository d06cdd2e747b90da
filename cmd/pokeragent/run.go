package main

import (
	"context"
	"time"

	"github.com/lox/pokeragent/internal/agent"
	"github.com/lox/pokeragent/internal/config"
	"github.com/lox/pokeragent/internal/fileutil"
	"github.com/lox/pokeragent/internal/transport"
)

type RunCmd struct {
	ConfigFlags `embed:""`

	Server string `short:"s" help:"WebSocket server URL (overrides config)"`
	Oracle string `help:"Oracle provider: gemini|static (overrides config)"`
	Record string `help:"Append every server message to this JSON-lines file for later replay"`
}

func (c *RunCmd) Run() error {
	cfg, err := c.load(func(cfg *config.Config) {
		if c.Server != "" {
			cfg.Server.URL = c.Server
		}
		if c.Oracle != "" {
			cfg.Oracle.Provider = c.Oracle
		}
	})
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	a := agent.New(agentOptions(cfg, newOracle(cfg, logger), logger))

	var rec *sessionRecorder
	if c.Record != "" {
		f, err := fileutil.OpenAppend(c.Record)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		rec = newSessionRecorder(f)
		logger.Info("Recording session", "path", c.Record)
	}

	dial := func(ctx context.Context) (agent.Connection, error) {
		conn, err := transport.Dial(ctx, cfg.Server.URL, logger)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec.wrap(conn), nil
		}
		return conn, nil
	}

	runner := agent.NewRunner(a, dial, agent.RunnerConfig{
		MaxAttempts:          cfg.Server.ReconnectAttempts,
		InitialBackoff:       msDuration(cfg.Server.ReconnectBackoffMS),
		MaxBackoff:           msDuration(cfg.Server.MaxBackoffMS),
		ReconnectOnSendError: cfg.Server.ReconnectOnSendError,
	}, nil, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	logger.Info("Starting poker agent",
		"server", cfg.Server.URL,
		"name", cfg.Agent.Name,
		"oracle", cfg.Oracle.Provider,
		"model", cfg.Oracle.Model,
		"version", version)

	if err := runner.Run(ctx); err != nil {
		return err
	}
	logger.Info("Agent stopped")
	return nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
