package ai

import (
	"context"
	"errors"
)

// errNoAI is returned by NoopProvider for all AI operations.
var errNoAI = errors.New("AI provider not configured; set ai.provider and an API key to enable enhancement")

// NoopProvider is used when no AI provider is configured.
// IsAvailable always returns false; AnalyzeIssues returns errNoAI.
// This allows the rest of the codebase to check IsAvailable() and
// degrade to scan-only operation instead of failing jobs.
type NoopProvider struct{}

func (n *NoopProvider) Name() string { return "none" }

func (n *NoopProvider) IsAvailable(ctx context.Context) bool { return false }

func (n *NoopProvider) AnalyzeIssues(ctx context.Context, req Request) (*Analysis, error) {
	return nil, errNoAI
}
