// Package ai abstracts the model providers used by the enhancement
// coordinator. Providers receive a prepared, severity-ordered issue
// set and return fixes and recommendations; everything they return is
// treated as untrusted until validated.
package ai

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/models"
)

// Request is the prepared input for one enhancement pass.
type Request struct {
	// Issues ordered most severe first; already truncated to the
	// configured caps by the coordinator.
	Issues []models.Issue
	// Excerpts maps file paths to (possibly truncated) source content.
	Excerpts map[string]string
	Summary  models.Summary
}

// Analysis is a validated provider response.
type Analysis struct {
	Summary         string
	Fixes           []models.Fix
	Recommendations []models.Recommendation
}

// Provider is implemented by each model backend.
type Provider interface {
	Name() string

	// IsAvailable probes the backend without spending tokens.
	IsAvailable(ctx context.Context) bool

	// AnalyzeIssues runs one enhancement pass.
	AnalyzeIssues(ctx context.Context, req Request) (*Analysis, error)
}

// New builds the provider configured in cfg. An empty provider yields
// the noop backend so callers can probe IsAvailable and degrade to
// scan-only mode.
func New(cfg config.AIConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return &NoopProvider{}, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return &NoopProvider{}, nil
		}
		return NewOpenAI(cfg)
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return &NoopProvider{}, nil
		}
		return NewAnthropic(cfg), nil
	case "chain":
		var providers []Provider
		if cfg.OpenAIKey != "" {
			p, err := NewOpenAI(cfg)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		}
		if cfg.AnthropicKey != "" {
			providers = append(providers, NewAnthropic(cfg))
		}
		if len(providers) == 0 {
			return &NoopProvider{}, nil
		}
		return NewChain(providers), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q (supported: openai, anthropic, chain)", cfg.Provider)
	}
}
