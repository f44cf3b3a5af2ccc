package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrSecretNotFound is returned when a store has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves credentials kept out of the config file.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// Secret keys looked up by LoadSecrets.
const (
	SecretSQLDSN        = "XPENGINE_SECRET_SQL_DSN"
	SecretRedisPassword = "XPENGINE_SECRET_REDIS_PASSWORD"
)

// EnvironmentSecretStore reads secrets from environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return v, nil
}

// GetWithDefault returns def when key is unset.
func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// FileSecretStore reads one secret per file from Dir, e.g. mounted container
// secrets. The file name is the lowercased key.
type FileSecretStore struct {
	Dir string
}

func (s FileSecretStore) Get(_ context.Context, key string) (string, error) {
	b, err := os.ReadFile(filepath.Join(s.Dir, strings.ToLower(key)))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// LoadSecrets overrides credentials with values from store. Missing secrets
// leave the configured values untouched.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	targets := []struct {
		key string
		dst *string
	}{
		{SecretSQLDSN, &c.Storage.SQL.DSN},
		{SecretRedisPassword, &c.Storage.Redis.Password},
	}
	for _, t := range targets {
		v, err := store.Get(ctx, t.key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*t.dst = v
	}
	return nil
}

// LoadSecretsFromEnv is LoadSecrets with the environment store.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}
