package forecasting

import (
	"context"
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedModel struct {
	digest [sha256.Size]byte
	model  Model
}

// Registry fronts a Store with an in-process cache of decoded models. Every
// Load reads the stored blob and reuses the cached model only while the blob
// is unchanged, so retrains and deletes made through another Registry on the
// same Store are seen on the next Load.
type Registry struct {
	store Store
	cache *lru.Cache[ModelKey, cachedModel]
}

func NewRegistry(store Store, cacheSize int) (*Registry, error) {
	cache, err := lru.New[ModelKey, cachedModel](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("model cache: %w", err)
	}
	return &Registry{store: store, cache: cache}, nil
}

// Load returns ErrModelNotFound when no model is stored for key.
func (r *Registry) Load(ctx context.Context, key ModelKey) (Model, error) {
	blob, err := r.store.Load(ctx, key)
	if err != nil {
		r.cache.Remove(key)
		return nil, err
	}
	digest := sha256.Sum256(blob)
	if c, ok := r.cache.Get(key); ok && c.digest == digest {
		return c.model, nil
	}
	m, err := DecodeModel(blob)
	if err != nil {
		r.cache.Remove(key)
		return nil, err
	}
	r.cache.Add(key, cachedModel{digest: digest, model: m})
	return m, nil
}

func (r *Registry) Save(ctx context.Context, key ModelKey, m Model) error {
	blob, err := EncodeModel(m)
	if err != nil {
		return err
	}
	if err := r.store.Save(ctx, key, blob); err != nil {
		return err
	}
	r.cache.Add(key, cachedModel{digest: sha256.Sum256(blob), model: m})
	return nil
}

func (r *Registry) Delete(ctx context.Context, key ModelKey) error {
	r.cache.Remove(key)
	return r.store.Delete(ctx, key)
}
