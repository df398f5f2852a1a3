package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/timomeintjes-cmd/oreus-api/internal/secrets"
)

type stubResolver struct {
	values map[string]string
	err    error
}

func (r stubResolver) Resolve(context.Context, string) (map[string]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.values, nil
}

func newService(resolver secrets.Resolver) Service {
	return New(resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCompleteMockResponse(t *testing.T) {
	svc := newService(stubResolver{values: map[string]string{"openai_api_key": "sk-test"}})

	got, err := svc.Complete(context.Background(), CompletionInput{
		Provider: "openai",
		Model:    "gpt-4",
		Prompt:   "write a haiku",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(got.Response, "openai") || !strings.Contains(got.Response, "gpt-4") {
		t.Fatalf("response = %q", got.Response)
	}
	if !strings.Contains(got.Response, "write a haiku") {
		t.Fatalf("prompt missing from response: %q", got.Response)
	}
	if got.TokensUsed == 0 {
		t.Fatal("tokens_used not populated")
	}
}

func TestCompleteUnknownProvider(t *testing.T) {
	svc := newService(stubResolver{})
	_, err := svc.Complete(context.Background(), CompletionInput{Provider: "cohere", Prompt: "x"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestCompleteMissingKey(t *testing.T) {
	svc := newService(stubResolver{err: secrets.ErrNotFound})
	_, err := svc.Complete(context.Background(), CompletionInput{Provider: "anthropic", Prompt: "x"})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestProvidersReportAvailability(t *testing.T) {
	svc := newService(stubResolver{values: map[string]string{"xai_api_key": "k"}})

	providers := svc.Providers(context.Background())
	for _, name := range []string{"openai", "anthropic", "xai"} {
		info, ok := providers[name]
		if !ok {
			t.Fatalf("provider %s missing", name)
		}
		if len(info.Models) == 0 {
			t.Fatalf("provider %s has no models", name)
		}
	}
	if !providers["xai"].Available {
		t.Fatal("xai should be available")
	}
	if providers["openai"].Available {
		t.Fatal("openai should be unavailable")
	}
}
