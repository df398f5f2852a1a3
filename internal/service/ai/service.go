// Package ai serves completion requests. Provider calls are mocked;
// the service validates providers and key availability so the HTTP
// surface behaves like the eventual integration will.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/timomeintjes-cmd/oreus-api/internal/secrets"
)

var (
	// ErrUnknownProvider rejects providers outside the supported set.
	ErrUnknownProvider = errors.New("ai: unsupported provider")
	// ErrProviderNotConfigured indicates the provider's API key is absent.
	ErrProviderNotConfigured = errors.New("ai: provider not configured")

	errEmptyPrompt = errors.New("ai: prompt is required")
)

// secretName is the secret holding all provider API keys.
const secretName = "ai-keys"

var providerModels = map[string][]string{
	"openai":    {"gpt-4", "gpt-3.5-turbo"},
	"anthropic": {"claude-3-sonnet", "claude-3-haiku"},
	"xai":       {"grok-1"},
}

// CompletionInput is one completion request.
type CompletionInput struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

// Completion is the response to a completion request.
type Completion struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
}

// ProviderInfo reports one provider's availability and models.
type ProviderInfo struct {
	Available bool     `json:"available"`
	Models    []string `json:"models"`
}

// Service answers completion and provider queries.
type Service struct {
	resolver secrets.Resolver
	logger   *slog.Logger
}

// New returns an AI service backed by the given secret resolver.
func New(resolver secrets.Resolver, logger *slog.Logger) Service {
	return Service{resolver: resolver, logger: logger.With("component", "ai")}
}

// Complete validates the request and returns the mock completion.
func (s Service) Complete(ctx context.Context, input CompletionInput) (*Completion, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	if _, ok := providerModels[provider]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, input.Provider)
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, errEmptyPrompt
	}
	if !s.available(ctx, provider) {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	prompt := input.Prompt
	if len(prompt) > 100 {
		prompt = prompt[:100]
	}
	response := fmt.Sprintf("This is a mock response from %s using model %s. You said: '%s...'", provider, input.Model, prompt)

	s.logger.Info("completion served", "provider", provider, "model", input.Model)
	return &Completion{
		Provider:   provider,
		Model:      input.Model,
		Response:   response,
		TokensUsed: len(strings.Fields(response)),
	}, nil
}

// Providers reports every supported provider with key availability.
func (s Service) Providers(ctx context.Context) map[string]ProviderInfo {
	out := make(map[string]ProviderInfo, len(providerModels))
	for provider, models := range providerModels {
		out[provider] = ProviderInfo{
			Available: s.available(ctx, provider),
			Models:    append([]string(nil), models...),
		}
	}
	return out
}

// available checks for a non-empty <provider>_api_key entry in the
// shared AI secret.
func (s Service) available(ctx context.Context, provider string) bool {
	values, err := s.resolver.Resolve(ctx, secretName)
	if err != nil {
		if !errors.Is(err, secrets.ErrNotFound) {
			s.logger.Warn("secret lookup failed", "error", err)
		}
		return false
	}
	return values[provider+"_api_key"] != ""
}
