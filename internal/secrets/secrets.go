// Package secrets provides uniform access to secret material. Lookups
// check three sources in precedence order: an in-memory override (tests),
// the secret store, then the process environment. Secret values are never
// logged.
package secrets

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

// ErrNotFound is returned when no source has a value for the name.
var ErrNotFound = errors.New("secret not found")

const negativeTTL = 30 * time.Second

// Store is the secret-store lookup contract. Satisfied by the AWS
// Secrets Manager client wrapper; tests supply a fake.
type Store interface {
	GetSecretValue(ctx context.Context, name string) (string, error)
}

// Provider resolves secrets with per-process caching: positive lookups
// cache for the process lifetime, negative lookups briefly.
type Provider struct {
	store Store

	mu        sync.Mutex
	overrides map[string]string
	cache     map[string]string
	misses    map[string]time.Time
	now       func() time.Time
}

// New creates a Provider. store may be nil, in which case only overrides
// and environment variables are consulted.
func New(store Store) *Provider {
	return &Provider{
		store:     store,
		overrides: make(map[string]string),
		cache:     make(map[string]string),
		misses:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// Override pins a value in memory, taking precedence over every other
// source. Intended for tests.
func (p *Provider) Override(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[name] = value
}

// Get resolves a secret by logical name.
func (p *Provider) Get(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	if v, ok := p.overrides[name]; ok {
		p.mu.Unlock()
		return v, nil
	}
	if v, ok := p.cache[name]; ok {
		p.mu.Unlock()
		return v, nil
	}
	if missedAt, ok := p.misses[name]; ok && p.now().Sub(missedAt) < negativeTTL {
		p.mu.Unlock()
		return "", ErrNotFound
	}
	p.mu.Unlock()

	if p.store != nil {
		v, err := p.store.GetSecretValue(ctx, name)
		if err == nil && v != "" {
			p.remember(name, v)
			return v, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			logger.Warn("secrets: store lookup failed", "name", name, "error", err)
		}
	}

	if v := os.Getenv(name); v != "" {
		p.remember(name, v)
		return v, nil
	}

	p.mu.Lock()
	p.misses[name] = p.now()
	p.mu.Unlock()
	return "", ErrNotFound
}

// GetDefault resolves a secret, falling back to def when absent.
func (p *Provider) GetDefault(ctx context.Context, name, def string) string {
	v, err := p.Get(ctx, name)
	if err != nil {
		return def
	}
	return v
}

// GetInt resolves an integer-valued setting, falling back to def when
// absent or unparseable.
func (p *Provider) GetInt(ctx context.Context, name string, def int) int {
	v, err := p.Get(ctx, name)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (p *Provider) remember(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[name] = value
	delete(p.misses, name)
}

// AWSStore adapts AWS Secrets Manager to the Store interface.
type AWSStore struct {
	client *secretsmanager.Client
}

// NewAWSStore wraps a Secrets Manager client.
func NewAWSStore(client *secretsmanager.Client) *AWSStore {
	return &AWSStore{client: client}
}

// GetSecretValue fetches the secret string for the given name.
func (s *AWSStore) GetSecretValue(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", err
	}
	if out.SecretString == nil {
		return "", ErrNotFound
	}
	return *out.SecretString, nil
}
