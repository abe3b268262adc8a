package watcher

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Ning0612/drivewatch/internal/adapter"
	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
	"github.com/Ning0612/drivewatch/internal/metrics"
)

// Resolver builds relative paths from an entry's parent ids
type Resolver struct {
	getter adapter.MetadataGetter
	cache  *lru.Cache[string, string] // parent id -> display name, nil when disabled
	log    logger.Logger
}

// NewResolver creates a resolver. cacheSize <= 0 disables the name cache
// so every lookup goes to the store.
func NewResolver(getter adapter.MetadataGetter, cacheSize int, log logger.Logger) *Resolver {
	r := &Resolver{
		getter: getter,
		log:    logger.OrNull(log),
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, string](cacheSize)
		if err == nil {
			r.cache = cache
		}
	}
	return r
}

// RelativePath returns the name of every parent other than rootID, in the
// order the store listed them, followed by the entry's own name. A multi
// parent entry therefore gets all its parent names, not one true path.
//
// A failed lookup falls back to the opaque parent id. Only context
// cancellation is returned as an error.
func (r *Resolver) RelativePath(ctx context.Context, entry domain.RemoteEntry, rootID string) ([]string, error) {
	path := make([]string, 0, len(entry.ParentIDs)+1)

	for _, parentID := range entry.ParentIDs {
		if parentID == rootID {
			continue
		}
		name, err := r.parentName(ctx, parentID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			r.log.Warn("parent lookup failed, using id as path segment",
				"file_id", entry.ID,
				"parent_id", parentID,
				"error", err)
			metrics.RecordAncestorLookup("fallback")
			name = parentID
		}
		path = append(path, name)
	}

	return append(path, entry.Name), nil
}

func (r *Resolver) parentName(ctx context.Context, parentID string) (string, error) {
	if r.cache != nil {
		if name, ok := r.cache.Get(parentID); ok {
			metrics.RecordAncestorLookup("hit")
			return name, nil
		}
	}

	parent, err := r.getter.GetEntry(ctx, parentID)
	if err != nil {
		return "", err
	}
	metrics.RecordAncestorLookup("miss")

	if r.cache != nil {
		r.cache.Add(parentID, parent.Name)
	}
	return parent.Name, nil
}
