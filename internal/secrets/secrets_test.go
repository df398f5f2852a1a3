package secrets

import (
	"context"
	"errors"
	"testing"
)

func TestEnvResolverRoundTrip(t *testing.T) {
	t.Setenv("OREUS_SECRET_AI_KEYS", `{"openai":"sk-test"}`)

	values, err := NewEnvResolver().Resolve(context.Background(), "ai-keys")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if values["openai"] != "sk-test" {
		t.Fatalf("values = %v", values)
	}
}

func TestEnvResolverMissing(t *testing.T) {
	_, err := NewEnvResolver().Resolve(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnvResolverMalformed(t *testing.T) {
	t.Setenv("OREUS_SECRET_BROKEN", "not json")
	if _, err := NewEnvResolver().Resolve(context.Background(), "broken"); err == nil {
		t.Fatal("expected decode error")
	}
}
