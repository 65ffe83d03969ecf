// Package dataset loads session datasets for querying and describes them to
// the agents.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

// ErrNoData is returned when a session has no datasets to analyse.
var ErrNoData = errors.New("no datasets available for this session")

// loadTimeout bounds one shared load, which outlives the caller that started it.
const loadTimeout = 30 * time.Second

// Loader reads every dataset of a session.
type Loader interface {
	ListDatasets(ctx context.Context, sessionID string, withRows bool) ([]*models.Dataset, error)
}

// Cache keeps loaded registries per session. Concurrent first loads of the
// same session share one database read.
type Cache struct {
	loader Loader
	cache  *cache.Cache
	group  singleflight.Group
}

// NewCache creates a Cache whose entries expire after ttl.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader: loader,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Registry returns the session's datasets keyed by table name. The returned
// registry is shared and must not be modified.
//
// The shared load runs detached from ctx, so one caller giving up does not
// fail the others waiting on it; that caller alone returns ctx.Err().
func (c *Cache) Registry(ctx context.Context, sessionID string) (sandbox.Registry, error) {
	if x, found := c.cache.Get(sessionID); found {
		return x.(sandbox.Registry), nil
	}

	ch := c.group.DoChan(sessionID, func() (any, error) {
		if x, found := c.cache.Get(sessionID); found {
			return x, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		datasets, err := c.loader.ListDatasets(loadCtx, sessionID, true)
		if err != nil {
			return nil, fmt.Errorf("failed to load datasets for session %s: %w", sessionID, err)
		}
		if len(datasets) == 0 {
			return nil, ErrNoData
		}
		reg := sandbox.NewRegistry(datasets)
		c.cache.Set(sessionID, reg, cache.DefaultExpiration)
		return reg, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(sandbox.Registry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached registry, e.g. after an upload.
func (c *Cache) Invalidate(sessionID string) {
	c.cache.Delete(sessionID)
}
