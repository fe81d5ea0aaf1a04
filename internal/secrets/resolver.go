// Package secrets resolves secret references in configuration values.
// A reference is a URI-style string selecting a backend:
//
//	env://VAR_NAME              environment variable
//	vault://mount/path#key      Vault KV v2 secret field
//
// Values without a recognized scheme pass through unchanged, so
// references can be sprinkled into ordinary configuration.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

const (
	envScheme   = "env://"
	vaultScheme = "vault://"
)

// Resolver resolves secret references to their values.
type Resolver interface {
	// Resolve resolves one reference. Non-reference values are
	// returned unchanged.
	Resolve(ctx context.Context, ref string) (string, error)

	// ResolveMap resolves every string value of a settings map in
	// place-copy fashion, returning a new map.
	ResolveMap(ctx context.Context, settings map[string]any) (map[string]any, error)
}

// IsReference reports whether a value is a secret reference.
func IsReference(value string) bool {
	return strings.HasPrefix(value, envScheme) || strings.HasPrefix(value, vaultScheme)
}

// resolver implements Resolver over the environment and an optional
// Vault client.
type resolver struct {
	logger observability.Logger
	vault  *vaultapi.Client
}

// Option is a functional option for the resolver.
type Option func(*resolver)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *resolver) {
		r.logger = logger
	}
}

// WithVaultClient enables the vault:// scheme.
func WithVaultClient(client *vaultapi.Client) Option {
	return func(r *resolver) {
		r.vault = client
	}
}

// NewResolver creates a resolver. Without a Vault client, vault://
// references fail with an explanatory error.
func NewResolver(opts ...Option) Resolver {
	r := &resolver{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewVaultClient builds a Vault API client from the standard VAULT_*
// environment plus the given overrides.
func NewVaultClient(address, token string) (*vaultapi.Client, error) {
	cfg := vaultapi.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return client, nil
}

// Resolve implements Resolver.
func (r *resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, envScheme):
		return r.resolveEnv(ref)
	case strings.HasPrefix(ref, vaultScheme):
		return r.resolveVault(ctx, ref)
	default:
		return ref, nil
	}
}

// ResolveMap implements Resolver.
func (r *resolver) ResolveMap(ctx context.Context, settings map[string]any) (map[string]any, error) {
	if settings == nil {
		return nil, nil
	}
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		s, ok := v.(string)
		if !ok || !IsReference(s) {
			out[k] = v
			continue
		}
		resolved, err := r.Resolve(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve setting %s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *resolver) resolveEnv(ref string) (string, error) {
	name := strings.TrimPrefix(ref, envScheme)
	if name == "" {
		return "", fmt.Errorf("empty environment reference")
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return value, nil
}

// resolveVault reads vault://mount/path#key from the KV v2 engine.
// The key fragment defaults to "value".
func (r *resolver) resolveVault(ctx context.Context, ref string) (string, error) {
	if r.vault == nil {
		return "", fmt.Errorf("vault reference %s but no vault client is configured", ref)
	}

	rest := strings.TrimPrefix(ref, vaultScheme)
	key := "value"
	if idx := strings.LastIndex(rest, "#"); idx >= 0 {
		key = rest[idx+1:]
		rest = rest[:idx]
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || key == "" {
		return "", fmt.Errorf("invalid vault reference %q, expected vault://mount/path#key", ref)
	}
	mount, path := parts[0], parts[1]

	secret, err := r.vault.KVv2(mount).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault read failed for %s: %w", ref, err)
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("vault secret %s does not contain a string %q key", ref, key)
	}

	r.logger.Debug("resolved vault secret",
		observability.String("mount", mount),
		observability.String("path", path),
	)
	return value, nil
}
