package model

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Resolver maps a model identifier to the adapter serving it. Adapters are
// queried in registration order (locally served models before hosted ones)
// and re-queried on every call, since the served sets change at runtime.
type Resolver struct {
	adapters []Adapter
}

func NewResolver(adapters ...Adapter) *Resolver {
	return &Resolver{adapters: adapters}
}

func (r *Resolver) Resolve(ctx context.Context, modelName string) (Adapter, error) {
	for _, a := range r.adapters {
		if a.IsAvailable(ctx, modelName) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModelNotAvailable, modelName)
}

// Catalog returns the union of all adapters' model sets, first adapter wins
// on duplicate names.
func (r *Resolver) Catalog(ctx context.Context) []ModelInfo {
	seen := make(map[string]bool)
	var out []ModelInfo
	for _, a := range r.adapters {
		models, err := a.Models(ctx)
		if err != nil {
			zap.S().Warnw("catalog query failed", "adapter", a.Name(), "err", err)
			continue
		}
		for _, m := range models {
			if seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			out = append(out, m)
		}
	}
	return out
}
