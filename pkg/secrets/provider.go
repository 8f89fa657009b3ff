package secrets

import "context"

// Provider fetches named secrets stored as flat JSON objects.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// StaticProvider serves secrets from memory. It backs local runs where no
// secrets manager is configured.
type StaticProvider map[string]map[string]string

func (p StaticProvider) GetSecret(_ context.Context, name string) (map[string]string, error) {
	v, ok := p[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out, nil
}
