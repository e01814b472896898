// Package cache provides an optional Redis-backed memoization layer over
// internal/tools.Executor, so repeated identical tool calls within a short
// window don't re-hit the backing store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

// CachingExecutor wraps a tools.Executor, memoizing each call's Result in
// Redis keyed by (tool_name, canonical(parameters)). A cache miss or a
// Redis error both fall through to the wrapped executor — Redis is
// accelerator, never source of truth.
type CachingExecutor struct {
	next   *tools.Executor
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachingExecutor builds a decorator around next. addr is a
// host:port Redis address; an empty addr means caching is effectively
// disabled by the caller (Config.Redis.Enabled() gates this upstream).
func NewCachingExecutor(next *tools.Executor, addr, password string, db int, ttl time.Duration) *CachingExecutor {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &CachingExecutor{next: next, client: client, prefix: "temporal-memory-agent:tool", ttl: ttl}
}

// Execute runs each call through the cache, falling back to next for any
// call that misses or whose cached entry fails to decode.
func (c *CachingExecutor) Execute(ctx context.Context, calls []tools.Call) []tools.Result {
	misses := make([]tools.Call, 0, len(calls))
	missIndex := make([]int, 0, len(calls))
	out := make([]tools.Result, len(calls))

	for i, call := range calls {
		key := c.key(call)
		if cached, ok := c.get(ctx, key); ok {
			out[i] = cached
			continue
		}
		misses = append(misses, call)
		missIndex = append(missIndex, i)
	}

	if len(misses) == 0 {
		return out
	}

	results := c.next.Execute(ctx, misses)
	for j, r := range results {
		i := missIndex[j]
		out[i] = r
		if r.Status == tools.StatusSuccess {
			c.set(ctx, c.key(misses[j]), r)
		}
	}
	return out
}

func (c *CachingExecutor) key(call tools.Call) string {
	canon, err := canonicalJSON(call.Parameters)
	if err != nil {
		// Parameters that don't round-trip through JSON can't be cached
		// safely; return a key that will never collide with a real hit.
		return fmt.Sprintf("%s:uncacheable:%s", c.prefix, call.CallID)
	}
	sum := sha256.Sum256([]byte(call.ToolName + "|" + canon))
	return fmt.Sprintf("%s:%s", c.prefix, hex.EncodeToString(sum[:]))
}

func (c *CachingExecutor) get(ctx context.Context, key string) (tools.Result, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return tools.Result{}, false
	}
	if err != nil {
		slog.WarnContext(ctx, "tool cache: redis get failed, falling through", "error", err)
		return tools.Result{}, false
	}
	var r tools.Result
	if err := json.Unmarshal(data, &r); err != nil {
		slog.WarnContext(ctx, "tool cache: decode failed, falling through", "error", err)
		return tools.Result{}, false
	}
	return r, true
}

func (c *CachingExecutor) set(ctx context.Context, key string, r tools.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "tool cache: redis set failed", "error", err)
	}
}

// canonicalJSON renders parameters with sorted keys so two structurally
// equal parameter maps always hash to the same key regardless of build
// order.
func canonicalJSON(params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].Key = k
		ordered[i].Value = params[k]
	}
	data, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
