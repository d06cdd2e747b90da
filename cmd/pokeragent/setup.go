package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/lox/pokeragent/internal/agent"
	"github.com/lox/pokeragent/internal/config"
	"github.com/lox/pokeragent/internal/decision"
	"github.com/lox/pokeragent/internal/logging"
	"github.com/lox/pokeragent/internal/oracle"
)

// ConfigFlags are shared by every command that builds an agent
type ConfigFlags struct {
	Config   string `short:"c" default:"pokeragent.hcl" help:"Path to HCL configuration file"`
	EnvFile  string `default:".env" help:"Path to .env file with secrets"`
	Name     string `short:"n" help:"Display name (overrides config)"`
	LogLevel string `short:"l" help:"Log level: debug|info|warn|error (overrides config)"`
	LogFile  string `help:"Log file path (overrides config)"`
	LogJSON  bool   `help:"Output JSON logs instead of console format"`
}

// load reads config sources in order of precedence: defaults, HCL file,
// .env, environment, flags. The adjust hook runs before validation.
func (f ConfigFlags) load(adjust func(*config.Config)) (*config.Config, error) {
	if err := config.LoadDotEnv(f.EnvFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(f.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}

	if f.Name != "" {
		cfg.Agent.Name = f.Name
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.LogJSON {
		cfg.Log.Format = "json"
	}
	if adjust != nil {
		adjust(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, func() error, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
}

func newOracle(cfg *config.Config, logger *log.Logger) decision.Oracle {
	if cfg.Oracle.Provider == config.ProviderStatic {
		return oracle.Static{Response: cfg.Oracle.StaticResponse}
	}
	return oracle.NewGemini(oracle.GeminiConfig{
		Endpoint:   cfg.Oracle.Endpoint,
		Model:      cfg.Oracle.Model,
		APIKey:     cfg.Oracle.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.OracleTimeout()},
	}, logger)
}

func agentOptions(cfg *config.Config, o decision.Oracle, logger *log.Logger) agent.Options {
	return agent.Options{
		Name:          cfg.Agent.Name,
		Oracle:        o,
		Policy:        cfg.DecisionPolicy(),
		OracleTimeout: cfg.OracleTimeout(),
		Cooldown:      cfg.Cooldown(),
		Send:          sendPolicy(cfg),
		Logger:        logger,
	}
}

func sendPolicy(cfg *config.Config) agent.SendPolicy {
	return agent.SendPolicy{
		Retries:          cfg.Send.Retries,
		Backoff:          msDuration(cfg.Send.BackoffMS),
		ReleaseOnFailure: cfg.Send.ReleaseOnFailure,
	}
}

// signalContext creates a context that is cancelled on interrupt signals
func signalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, shutting down gracefully", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
