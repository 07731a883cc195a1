package outclip

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	DocsCollectionKey   = "collection.docs"
	SheetsCollectionKey = "collection.sheets"
)

// CollectionAPI is the slice of the knowledge-base client the resolver needs.
type CollectionAPI interface {
	CreateCollection(ctx context.Context, name string) (Collection, error)
	GetCollection(ctx context.Context, id string) (Collection, error)
}

// Resolver maps a logical collection slot to a valid remote collection id,
// caching the mapping in the local store.
type Resolver struct {
	api    CollectionAPI
	cache  KV
	logger *zap.Logger
}

func NewResolver(api CollectionAPI, cache KV, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{api: api, cache: cache, logger: logger}
}

// Resolve returns a usable collection id for the slot named by storageKey. A
// cached id is verified against the remote service before being trusted; any
// verification failure, including not-found, deleted, archived, or a transport
// error that survived the client's retry budget, makes the cached id stale and
// triggers creation of a replacement named desiredName.
//
// Concurrent resolutions of the same slot are not serialized. Two callers may
// each create a collection; the last one to persist wins for future lookups.
func (r *Resolver) Resolve(ctx context.Context, storageKey, desiredName string) (string, error) {
	if r == nil || r.api == nil || r.cache == nil {
		return "", fmt.Errorf("resolver is not configured")
	}
	if storageKey == "" || desiredName == "" {
		return "", fmt.Errorf("%w: storage key and collection name are required", ErrValidation)
	}

	cachedID, ok, err := r.cache.Get(ctx, storageKey)
	if err != nil {
		r.logger.Warn("collection cache read failed", zap.String("key", storageKey), zap.Error(err))
	}
	if ok && cachedID != "" {
		if _, verifyErr := r.api.GetCollection(ctx, cachedID); verifyErr == nil {
			return cachedID, nil
		} else if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		} else {
			r.logger.Info("cached collection id is stale, recreating",
				zap.String("key", storageKey),
				zap.String("id", cachedID),
				zap.Error(verifyErr))
		}
	}

	created, err := r.api.CreateCollection(ctx, desiredName)
	if err != nil {
		return "", fmt.Errorf("creating collection %q: %w", desiredName, err)
	}
	if err := r.cache.Set(ctx, storageKey, created.ID); err != nil {
		r.logger.Warn("persisting collection id failed", zap.String("key", storageKey), zap.Error(err))
	}
	return created.ID, nil
}

// Forget drops cached collection references. Called on configuration changes.
func (r *Resolver) Forget(ctx context.Context, storageKeys ...string) {
	if r == nil || r.cache == nil {
		return
	}
	for _, key := range storageKeys {
		if err := r.cache.Delete(ctx, key); err != nil {
			r.logger.Warn("dropping cached collection id failed", zap.String("key", key), zap.Error(err))
		}
	}
}
