package align

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pverkind/passim/internal/index"
	"github.com/pverkind/passim/pkg/config"
	"github.com/pverkind/passim/pkg/metrics"
	pkgredis "github.com/pverkind/passim/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "passim:doc:"

// DocCache fronts Store.Tokens for the scores stage. The same document shows
// up in many candidate pairs, so fetches are memoised in-process and,
// optionally, in Redis shared across worker processes. Concurrent fetches of
// one document collapse through singleflight.
type DocCache struct {
	store   index.Store
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	mu      sync.RWMutex
	local   map[int]index.Tokens
	maxSize int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDocCache creates a DocCache. client and m may be nil.
func NewDocCache(store index.Store, client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *DocCache {
	return &DocCache{
		store:   store,
		client:  client,
		cfg:     cfg,
		local:   make(map[int]index.Tokens),
		maxSize: 4096,
		metrics: m,
		logger:  slog.Default().With("component", "doc-cache"),
	}
}

// Tokens returns the token sequence for a document, consulting the local map,
// then Redis, then the index.
func (c *DocCache) Tokens(ctx context.Context, id int) (index.Tokens, error) {
	c.mu.RLock()
	toks, ok := c.local[id]
	c.mu.RUnlock()
	if ok {
		c.hit()
		return toks, nil
	}
	v, err, _ := c.group.Do(fmt.Sprintf("%d", id), func() (interface{}, error) {
		if toks, ok := c.fromRedis(ctx, id); ok {
			c.hit()
			c.put(id, toks)
			return toks, nil
		}
		c.miss()
		toks, err := c.store.Tokens(id)
		if err != nil {
			return index.Tokens{}, err
		}
		c.put(id, toks)
		c.toRedis(ctx, id, toks)
		return toks, nil
	})
	if err != nil {
		return index.Tokens{}, err
	}
	return v.(index.Tokens), nil
}

func (c *DocCache) put(id int, toks index.Tokens) {
	c.mu.Lock()
	if len(c.local) >= c.maxSize {
		// full reset beats tracking recency for a scan-shaped workload
		c.local = make(map[int]index.Tokens)
	}
	c.local[id] = toks
	c.mu.Unlock()
}

func (c *DocCache) fromRedis(ctx context.Context, id int) (index.Tokens, bool) {
	if c.client == nil {
		return index.Tokens{}, false
	}
	data, err := c.client.Get(ctx, cacheKey(id))
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "doc", id, "error", err)
		}
		return index.Tokens{}, false
	}
	var toks index.Tokens
	if err := json.Unmarshal([]byte(data), &toks); err != nil {
		c.logger.Error("cache unmarshal failed", "doc", id, "error", err)
		return index.Tokens{}, false
	}
	return toks, true
}

func (c *DocCache) toRedis(ctx context.Context, id int, toks index.Tokens) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(toks)
	if err != nil {
		c.logger.Error("cache marshal failed", "doc", id, "error", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(id), data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "doc", id, "error", err)
	}
}

func cacheKey(id int) string {
	return fmt.Sprintf("%s%d", cacheKeyPrefix, id)
}

func (c *DocCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *DocCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
