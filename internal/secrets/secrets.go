// Package secrets isolates credential lookup from the services that
// consume it.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound indicates the named secret is not configured.
var ErrNotFound = errors.New("secrets: not found")

// Resolver fetches a named secret as a key/value map.
type Resolver interface {
	Resolve(ctx context.Context, name string) (map[string]string, error)
}

// EnvResolver reads secrets from OREUS_SECRET_<NAME> environment
// variables holding JSON objects. A development stand-in for an
// external secret manager.
type EnvResolver struct{}

// NewEnvResolver returns an environment-backed resolver.
func NewEnvResolver() EnvResolver { return EnvResolver{} }

// Resolve looks up OREUS_SECRET_<NAME> and decodes it. The name is
// upper-cased and dashes become underscores.
func (EnvResolver) Resolve(_ context.Context, name string) (map[string]string, error) {
	key := "OREUS_SECRET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}
	return values, nil
}

var _ Resolver = EnvResolver{}
