// Command execcached runs the Execution Cache gRPC server: a Redis-backed
// memoization layer for backend results.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"

	"github.com/perclft/quantumhpc/internal/config"
	"github.com/perclft/quantumhpc/internal/execcache"
)

func main() {
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis address")
	addr := flag.String("addr", config.ExecutionCacheAddr(":50062"), "gRPC listen address ($EXECCACHE_ADDR)")
	ttlMinutes := flag.Int("default-ttl", 60, "Default cache TTL in minutes")
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{
		Addr: *redisAddr,
		DB:   2,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Println("📦 connected to redis (db 2 - execution cache)")

	defaultTTL := time.Duration(*ttlMinutes) * time.Minute
	server := execcache.NewServer(rdb, defaultTTL)

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	grpcServer := grpc.NewServer()
	_ = server
	// RegisterExecutionCacheServer(grpcServer, server)

	log.Printf("📦 execution cache starting on %s (ttl=%v)", *addr, defaultTTL)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
