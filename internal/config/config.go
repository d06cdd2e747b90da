// Package config loads the agent configuration from an HCL file, a .env file
// and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"

	"github.com/lox/pokeragent/internal/decision"
	"github.com/lox/pokeragent/internal/oracle"
)

// Config represents the complete agent configuration
type Config struct {
	Server ServerSettings
	Agent  AgentSettings
	Oracle OracleSettings
	Guard  GuardSettings
	Policy PolicySettings
	Send   SendSettings
	Log    LogSettings
}

// ServerSettings contains server connection settings
type ServerSettings struct {
	URL                  string `hcl:"url,optional"`
	ReconnectAttempts    int    `hcl:"reconnect_attempts,optional"`
	ReconnectBackoffMS   int    `hcl:"reconnect_backoff_ms,optional"`
	MaxBackoffMS         int    `hcl:"max_backoff_ms,optional"`
	ReconnectOnSendError bool   `hcl:"reconnect_on_send_error,optional"`
}

// AgentSettings identifies the agent at the table
type AgentSettings struct {
	Name string `hcl:"name,optional"`
}

// OracleSettings selects and configures the recommendation source
type OracleSettings struct {
	Provider       string `hcl:"provider,optional"`
	Endpoint       string `hcl:"endpoint,optional"`
	Model          string `hcl:"model,optional"`
	APIKey         string `hcl:"api_key,optional"`
	TimeoutMS      int    `hcl:"timeout_ms,optional"`
	StaticResponse string `hcl:"static_response,optional"`
}

// GuardSettings tunes turn detection
type GuardSettings struct {
	CooldownMS int `hcl:"cooldown_ms,optional"`
}

// PolicySettings controls decision normalization
type PolicySettings struct {
	FoldWhenFree string `hcl:"fold_when_free,optional"`
}

// SendSettings controls what happens when an action cannot be delivered
type SendSettings struct {
	Retries          int  `hcl:"retries,optional"`
	BackoffMS        int  `hcl:"backoff_ms,optional"`
	ReleaseOnFailure bool `hcl:"release_on_failure,optional"`
}

// LogSettings configures the logger
type LogSettings struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
	File   string `hcl:"file,optional"`
}

// Oracle providers
const (
	ProviderGemini = "gemini"
	ProviderStatic = "static"
)

// Default returns the default agent configuration
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			URL:                  "ws://localhost:8080",
			ReconnectAttempts:    0,
			ReconnectBackoffMS:   500,
			MaxBackoffMS:         30000,
			ReconnectOnSendError: true,
		},
		Agent: AgentSettings{
			Name: "GeminiBot",
		},
		Oracle: OracleSettings{
			Provider:       ProviderGemini,
			Endpoint:       oracle.DefaultEndpoint,
			Model:          oracle.DefaultModel,
			TimeoutMS:      int(decision.DefaultTimeout / time.Millisecond),
			StaticResponse: `{"actionType":"check","reasoning":"static oracle"}`,
		},
		Guard: GuardSettings{
			CooldownMS: 2000,
		},
		Policy: PolicySettings{
			FoldWhenFree: string(decision.FoldWhenFreeCheck),
		},
		Send: SendSettings{
			Retries:   2,
			BackoffMS: 100,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// fileConfig mirrors Config with optional blocks. Each pointer starts out at
// the default block so attributes missing from the file keep their defaults.
type fileConfig struct {
	Server *ServerSettings `hcl:"server,block"`
	Agent  *AgentSettings  `hcl:"agent,block"`
	Oracle *OracleSettings `hcl:"oracle,block"`
	Guard  *GuardSettings  `hcl:"guard,block"`
	Policy *PolicySettings `hcl:"policy,block"`
	Send   *SendSettings   `hcl:"send,block"`
	Log    *LogSettings    `hcl:"log,block"`
}

// Load reads configuration from an HCL file. A missing file yields the
// defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename == "" {
		return cfg, nil
	}
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	fc := fileConfig{
		Server: &cfg.Server,
		Agent:  &cfg.Agent,
		Oracle: &cfg.Oracle,
		Guard:  &cfg.Guard,
		Policy: &cfg.Policy,
		Send:   &cfg.Send,
		Log:    &cfg.Log,
	}
	diags = gohcl.DecodeBody(file.Body, nil, &fc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables that are already set win, and a missing file is not an error.
func LoadDotEnv(filename string) error {
	if filename == "" {
		return nil
	}
	if err := godotenv.Load(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", filename, err)
	}
	return nil
}

type envOverrides struct {
	ServerURL string `env:"POKERAGENT_SERVER_URL"`
	Name      string `env:"POKERAGENT_NAME"`
	LogLevel  string `env:"POKERAGENT_LOG_LEVEL"`
	APIKey    string `env:"GEMINI_API_KEY"`
	Model     string `env:"POKERAGENT_ORACLE_MODEL"`
}

// ApplyEnv overrides settings from environment variables. A nil environ
// reads the process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if o.ServerURL != "" {
		c.Server.URL = o.ServerURL
	}
	if o.Name != "" {
		c.Agent.Name = o.Name
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.APIKey != "" {
		c.Oracle.APIKey = o.APIKey
	}
	if o.Model != "" {
		c.Oracle.Model = o.Model
	}
	return nil
}

// Validate validates the agent configuration
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("server URL must use ws, wss, http or https, got %q", u.Scheme)
	}

	if c.Server.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect attempts cannot be negative")
	}

	if c.Agent.Name == "" {
		return fmt.Errorf("agent name is required")
	}

	switch c.Oracle.Provider {
	case ProviderGemini:
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("oracle API key is required for the gemini provider (set GEMINI_API_KEY)")
		}
	case ProviderStatic:
	default:
		return fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider)
	}
	if c.Oracle.TimeoutMS <= 0 {
		return fmt.Errorf("oracle timeout must be positive")
	}

	if c.Guard.CooldownMS <= 0 {
		return fmt.Errorf("guard cooldown must be positive")
	}

	if _, err := decision.ParseFoldWhenFree(c.Policy.FoldWhenFree); err != nil {
		return err
	}

	if c.Send.Retries < 0 {
		return fmt.Errorf("send retries cannot be negative")
	}
	if c.Send.BackoffMS < 0 {
		return fmt.Errorf("send backoff cannot be negative")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// OracleTimeout returns the per-call oracle deadline
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutMS) * time.Millisecond
}

// Cooldown returns the post-action cooldown window
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Guard.CooldownMS) * time.Millisecond
}

// DecisionPolicy returns the normalization policy for decisions
func (c *Config) DecisionPolicy() decision.Policy {
	p, err := decision.ParseFoldWhenFree(c.Policy.FoldWhenFree)
	if err != nil {
		p = decision.FoldWhenFreeCheck
	}
	return decision.Policy{FoldWhenFree: p}
}
