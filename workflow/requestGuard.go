package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
)

// sequence keys outlive any AI call by a wide margin
const requestSeqTTL = 6 * time.Hour

// RequestTicket identifies one request in a per-key sequence.
type RequestTicket struct {
	Key   string
	Seq   int64
	local bool
}

// RequestGuard hands out increasing sequence numbers per key so that only the
// latest request on a resource may write its result. Sequences live in Redis
// (ReqSeq:<key>) and fall back to process memory when Redis is unavailable.
type RequestGuard struct {
	mu    sync.Mutex
	local map[string]int64
}

func NewRequestGuard() *RequestGuard {
	return &RequestGuard{local: make(map[string]int64)}
}

func redisSeqKey(key string) string {
	return fmt.Sprintf("ReqSeq:%s", key)
}

// Begin registers a new request on key.
func (g *RequestGuard) Begin(ctx context.Context, key string) RequestTicket {
	n, ok, err := config.GetRedisCounter(ctx, redisSeqKey(key))
	if ok && err == nil {
		if rdb := config.GetRedisDB(); rdb != nil {
			rdb.Expire(ctx, redisSeqKey(key), requestSeqTTL)
		}
		return RequestTicket{Key: key, Seq: n}
	}
	if err != nil {
		config.LogError(config.GetLogger(), "RequestGuard", "Begin", "redis counter", key, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.local[key]++
	return RequestTicket{Key: key, Seq: g.local[key], local: true}
}

// IsLatest is true when no request on the same key began after t.
// When Redis cannot answer the request is assumed current.
func (g *RequestGuard) IsLatest(ctx context.Context, t RequestTicket) bool {
	if t.local {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.local[t.Key] == t.Seq
	}
	n, ok, err := config.PeekRedisCounter(ctx, redisSeqKey(t.Key))
	if !ok || err != nil {
		if err != nil {
			config.LogError(config.GetLogger(), "RequestGuard", "IsLatest", "redis counter", t.Key, err)
		}
		return true
	}
	return n == t.Seq
}
