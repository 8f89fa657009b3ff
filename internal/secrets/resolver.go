package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/nftmarket/pkg/secrets"
	"github.com/Checker-Finance/nftmarket/pkg/utils"
)

// Resolver loads collaborator configuration of type T from a secrets
// provider and caches it locally.
//
// Secret naming convention: {env}/{name}
type Resolver[T any] struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
	parse    func(map[string]string) (T, error)
}

func NewResolver[T any](
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
	parse func(map[string]string) (T, error),
) *Resolver[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver[T]{
		logger:   logger,
		env:      env,
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

func (r *Resolver[T]) secretName(name string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s", r.env, name))
}

// Resolve returns the config stored under name, fetching it on a cache miss.
func (r *Resolver[T]) Resolve(ctx context.Context, name string) (T, error) {
	key := r.secretName(name)
	if v, ok := r.cache.Get(key); ok {
		metrics.IncCacheHit("hit")
		return v, nil
	}
	metrics.IncCacheHit("miss")

	raw, err := r.provider.GetSecret(ctx, key)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed", zap.String("key", key), zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve %q: %w", name, err)
	}

	v, err := r.parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", key, err)
	}

	r.cache.Put(key, v)
	fields := []zap.Field{zap.String("key", key)}
	if apiKey, ok := raw["api_key"]; ok {
		fields = append(fields, zap.String("api_key", utils.MaskSecret(apiKey)))
	}
	r.logger.Info("secrets.resolved", fields...)
	return v, nil
}

// Invalidate drops the cached value for name so the next Resolve refetches.
func (r *Resolver[T]) Invalidate(name string) {
	r.cache.Bust(r.secretName(name))
}

// ParseCredentials extracts API credentials, requiring api_key.
func ParseCredentials(raw map[string]string) (pkgsecrets.Credentials, error) {
	c := pkgsecrets.Credentials{
		APIKey:  raw["api_key"],
		BaseURL: raw["base_url"],
	}
	if c.APIKey == "" {
		return c, fmt.Errorf("missing api_key")
	}
	return c, nil
}
