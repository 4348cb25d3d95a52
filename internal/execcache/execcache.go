// Package execcache implements the ExecutionCache gRPC service: a
// Redis-backed memoization layer for backend results, keyed by a hash of
// the circuit and its config, opted into per task via config["cacheable"].
package execcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements the ExecutionCache gRPC service over a Redis client.
type Server struct {
	rdb        *redis.Client
	defaultTTL time.Duration
	hits       int64
	misses     int64
}

// NewServer wraps an already-configured Redis client.
func NewServer(rdb *redis.Client, defaultTTL time.Duration) *Server {
	return &Server{rdb: rdb, defaultTTL: defaultTTL}
}

// Key hashes a circuit document and its config together, the way a
// caller should derive the key it passes to Get/Put.
func Key(circuitJSON, configJSON []byte) string {
	h := sha256.New()
	h.Write(circuitJSON)
	h.Write(configJSON)
	return hex.EncodeToString(h.Sum(nil))
}

type cachedEntry struct {
	ResultJSON string `json:"result_json"`
	CachedAt   int64  `json:"cached_at"`
	ExpiresAt  int64  `json:"expires_at"`
	HitCount   int32  `json:"hit_count"`
}

// PutRequest stores a result under key for the given TTL.
type PutRequest struct {
	Key        string
	ResultJSON string
	TTLSeconds int32
}

// PutResponse confirms the write and reports the Redis key used.
type PutResponse struct {
	CacheKey string
}

func (s *Server) Put(ctx context.Context, req *PutRequest) (*PutResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key required")
	}
	ttl := s.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	now := time.Now().Unix()
	entry := cachedEntry{
		ResultJSON: req.ResultJSON,
		CachedAt:   now,
		ExpiresAt:  now + int64(ttl.Seconds()),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding cache entry: %v", err)
	}
	cacheKey := "execcache:" + req.Key
	if err := s.rdb.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		return nil, status.Errorf(codes.Internal, "writing to redis: %v", err)
	}
	return &PutResponse{CacheKey: cacheKey}, nil
}

// GetRequest looks a result up by its cache key.
type GetRequest struct {
	Key string
}

// GetResponse reports whether the key was found and, if so, its payload.
type GetResponse struct {
	Found      bool
	ResultJSON string
	HitCount   int32
}

func (s *Server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	cacheKey := "execcache:" + req.Key
	data, err := s.rdb.Get(ctx, cacheKey).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&s.misses, 1)
		return &GetResponse{Found: false}, nil
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reading from redis: %v", err)
	}

	var entry cachedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, status.Errorf(codes.Internal, "decoding cache entry: %v", err)
	}
	entry.HitCount++
	atomic.AddInt64(&s.hits, 1)
	if updated, err := json.Marshal(entry); err == nil {
		s.rdb.Set(ctx, cacheKey, updated, redis.KeepTTL)
	}

	return &GetResponse{Found: true, ResultJSON: entry.ResultJSON, HitCount: entry.HitCount}, nil
}

// InvalidateRequest names the cache key to drop.
type InvalidateRequest struct {
	Key string
}

// InvalidateResponse reports whether a key was actually removed.
type InvalidateResponse struct {
	Removed bool
}

func (s *Server) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	n, err := s.rdb.Del(ctx, "execcache:"+req.Key).Result()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "invalidating: %v", err)
	}
	return &InvalidateResponse{Removed: n > 0}, nil
}

// StatsResponse reports process-lifetime hit/miss counters.
type StatsResponse struct {
	Hits    int64
	Misses  int64
	HitRate float64
}

// Adapter exposes Server as the simple Get/Put shape a backend strategy
// consumes directly, in-process, without going through gRPC.
type Adapter struct {
	Server *Server
}

func (a Adapter) Get(ctx context.Context, key string) (bool, string, error) {
	resp, err := a.Server.Get(ctx, &GetRequest{Key: key})
	if err != nil {
		return false, "", err
	}
	return resp.Found, resp.ResultJSON, nil
}

func (a Adapter) Put(ctx context.Context, key, resultJSON string, ttlSeconds int32) error {
	_, err := a.Server.Put(ctx, &PutRequest{Key: key, ResultJSON: resultJSON, TTLSeconds: ttlSeconds})
	return err
}

func (s *Server) Stats(ctx context.Context, _ *struct{}) (*StatsResponse, error) {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return &StatsResponse{Hits: hits, Misses: misses, HitRate: rate}, nil
}
