// Command qpu launches one Quantum Processing Unit process: it binds a
// client socket, optionally opens a classical channel, selects a backend
// strategy, publishes itself to the QPU registry, and serves forever.
package main

import (
	"database/sql"
	"flag"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/perclft/quantumhpc/internal/backend"
	"github.com/perclft/quantumhpc/internal/channel"
	"github.com/perclft/quantumhpc/internal/circuitlib"
	"github.com/perclft/quantumhpc/internal/clientsock"
	"github.com/perclft/quantumhpc/internal/config"
	"github.com/perclft/quantumhpc/internal/execcache"
	"github.com/perclft/quantumhpc/internal/qpu"
)

func main() {
	name := flag.String("name", "qpu0", "Logical name for this QPU")
	family := flag.String("family", "", "Registry key suffix/group this QPU belongs to")
	mode := flag.String("mode", "", "Client socket bind mode (\"hpc\" for loopback, anything else for the fastest local interface)")
	strategy := flag.String("backend", "simple", "Execution strategy: simple, cc or qc")
	redisAddr := flag.String("redis-addr", config.ExecutionCacheAddr(""), "Optional redis address enabling the execution cache for the simple backend ($EXECCACHE_ADDR)")
	circuitlibDSN := flag.String("circuitlib-dsn", config.CircuitLibraryAddr(""), "Optional PostgreSQL DSN enabling circuit_id resolution against the circuit library ($CIRCUITLIB_ADDR)")
	flag.Parse()

	nodename := config.SlurmNodename()
	server, err := clientsock.New(*mode, nodename)
	if err != nil {
		log.Fatalf("qpu: opening client socket: %v", err)
	}

	kernel := backend.NewReferenceKernel(1)
	commPath := config.CommunicationsFilePath()

	backendInfo := map[string]any{
		"strategy": *strategy,
		"kernel":   "reference",
	}

	var b backend.Backend
	switch *strategy {
	case "simple":
		simple := &backend.SimpleBackend{Kernel: kernel}
		if *redisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: *redisAddr, DB: 2})
			simple.Cache = execcache.Adapter{Server: execcache.NewServer(rdb, time.Hour)}
			backendInfo["cache"] = true
		}
		b = simple

	case "cc":
		ch, err := channel.New("")
		if err != nil {
			log.Fatalf("qpu: opening classical channel: %v", err)
		}
		if err := ch.Publish(commPath, *family); err != nil {
			log.Fatalf("qpu: publishing classical channel endpoint: %v", err)
		}
		b = &backend.CCBackend{Kernel: kernel, Channel: ch}

	case "qc":
		ch, err := channel.New("")
		if err != nil {
			log.Fatalf("qpu: opening classical channel: %v", err)
		}
		qcBackend, err := backend.NewQCBackend(ch, commPath, *family)
		if err != nil {
			log.Fatalf("qpu: qc executor rendezvous: %v", err)
		}
		b = qcBackend

	default:
		log.Fatalf("qpu: unknown backend strategy %q", *strategy)
	}

	q := qpu.New(b, server, *name, *family, commPath)
	q.BackendInfo = backendInfo
	if *circuitlibDSN != "" {
		db, err := sql.Open("postgres", *circuitlibDSN)
		if err != nil {
			log.Fatalf("qpu: opening circuit library database: %v", err)
		}
		if err := circuitlib.InitSchema(db); err != nil {
			log.Fatalf("qpu: initializing circuit library schema: %v", err)
		}
		q.Library = circuitlib.NewServer(db)
	}
	log.Printf("📡 qpu %q (family %q) listening on %s", *name, *family, server.Endpoint)
	if err := q.TurnOn(); err != nil {
		log.Fatalf("qpu: %v", err)
	}
}
