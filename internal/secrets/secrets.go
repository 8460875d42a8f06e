// Package secrets resolves credentials from mounted secret files and the
// environment, so deployments can keep passwords out of config files.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no provider holds the requested secret.
var ErrNotFound = errors.New("secret not found")

// Provider resolves one secret key to its value.
type Provider interface {
	Name() string
	Get(key string) (string, error)
}

// FileProvider reads secrets from files in a directory, one file per key.
// This matches the layout of Docker and Kubernetes mounted secrets.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a file-backed provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(key string) (string, error) {
	if strings.ContainsAny(key, "/\\") {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	data, err := os.ReadFile(filepath.Join(p.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read secret %q: %w", key, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// EnvProvider reads secrets from environment variables. The key is
// uppercased, so "clickhouse_password" resolves from CLICKHOUSE_PASSWORD.
type EnvProvider struct{}

func (EnvProvider) Name() string { return "env" }

func (EnvProvider) Get(key string) (string, error) {
	value := os.Getenv(strings.ToUpper(key))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Chain tries providers in order and returns the first hit.
type Chain struct {
	providers []Provider
}

// NewChain creates a provider chain. Earlier providers win.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Get resolves a secret, or ErrNotFound when no provider holds it.
func (c *Chain) Get(key string) (string, error) {
	for _, p := range c.providers {
		value, err := p.Get(key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("provider %s: %w", p.Name(), err)
		}
	}
	return "", ErrNotFound
}

// Resolve fills dst with the secret value when one is found. A missing
// secret leaves dst untouched.
func (c *Chain) Resolve(key string, dst *string) error {
	value, err := c.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	*dst = value
	return nil
}
