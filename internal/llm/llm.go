// Package llm provides clients for generative-text services.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/config"
)

// ErrUnavailable is returned when no generative-text provider is configured.
var ErrUnavailable = errors.New("generative text service unavailable")

// Client generates text from a single user prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Disabled is a Client for deployments without a provider. Every call fails with ErrUnavailable.
type Disabled struct{}

// Generate returns ErrUnavailable.
func (Disabled) Generate(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// New returns the client selected by cfg.Provider, rate limited per cfg.
func New(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		client Client
		err    error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return Disabled{}, nil
	case "anthropic", "claude":
		client, err = NewAnthropicClient(cfg)
	case "openai":
		client, err = NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("llm client configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))
	if cfg.RequestsPerSecond > 0 {
		client = NewRateLimited(client, cfg.RequestsPerSecond, cfg.Burst)
	}
	return client, nil
}

// ExtractJSON returns the JSON payload of a model response. Markdown code fences are
// stripped, then the outermost array or object is returned, whichever starts first.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	arr := strings.Index(s, "[")
	obj := strings.Index(s, "{")
	open, closing := "[", "]"
	if arr == -1 || (obj != -1 && obj < arr) {
		open, closing = "{", "}"
	}
	start := strings.Index(s, open)
	end := strings.LastIndex(s, closing)
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON found in response")
	}
	return s[start : end+1], nil
}
