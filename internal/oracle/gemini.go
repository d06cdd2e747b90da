// Package oracle talks to the language model that recommends poker actions.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/lox/pokeragent/internal/decision"
)

const (
	// DefaultEndpoint is the generateContent base URL; the model name is appended
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"
	// DefaultModel is used when no model is configured
	DefaultModel = "gemini-2.0-flash"

	responseTextPath = "candidates.0.content.parts.0.text"
	maxErrorBody     = 4096
)

var (
	// ErrStatus is returned for non-2xx responses
	ErrStatus = errors.New("unexpected status")
	// ErrEmptyResponse is returned when the response carries no candidate text
	ErrEmptyResponse = errors.New("empty oracle response")
)

// GeminiConfig configures the generateContent client
type GeminiConfig struct {
	Endpoint   string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

// Gemini asks a Gemini model for a recommendation via generateContent
type Gemini struct {
	cfg    GeminiConfig
	logger *log.Logger
}

// NewGemini creates a client, filling in endpoint, model and HTTP client
// defaults.
func NewGemini(cfg GeminiConfig, logger *log.Logger) *Gemini {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Gemini{
		cfg:    cfg,
		logger: logger.WithPrefix("oracle").With("model", cfg.Model),
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// Recommend sends the decision context and returns the model's raw text
func (g *Gemini) Recommend(ctx context.Context, c decision.Context) (string, error) {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return "", errors.New("api key is required")
	}

	prompt, err := BuildPrompt(c)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(g.cfg.Endpoint, "/") + "/" + g.cfg.Model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", g.cfg.APIKey)

	res, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return "", fmt.Errorf("%w %d: %s", ErrStatus, res.StatusCode, strings.TrimSpace(string(errBody)))
	}

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	text := gjson.GetBytes(payload, responseTextPath)
	if !text.Exists() || strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("Received recommendation",
		"hand", c.HandString(),
		"board", c.BoardString(),
		"response", text.String())
	return text.String(), nil
}
