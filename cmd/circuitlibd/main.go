// Command circuitlibd runs the Circuit Library gRPC server: a
// PostgreSQL-backed store of named circuits that QPUs can resolve a
// circuit_id against instead of inlining instructions.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net"

	_ "github.com/lib/pq"
	"google.golang.org/grpc"

	"github.com/perclft/quantumhpc/internal/circuitlib"
	"github.com/perclft/quantumhpc/internal/config"
)

func main() {
	dbHost := flag.String("db-host", "localhost", "PostgreSQL host")
	dbPort := flag.Int("db-port", 5432, "PostgreSQL port")
	dbUser := flag.String("db-user", "quantumhpc", "PostgreSQL user")
	dbPass := flag.String("db-pass", "quantumhpc", "PostgreSQL password")
	dbName := flag.String("db-name", "circuitlib", "PostgreSQL database")
	addr := flag.String("addr", config.CircuitLibraryAddr(":50061"), "gRPC listen address ($CIRCUITLIB_ADDR)")
	flag.Parse()

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		*dbHost, *dbPort, *dbUser, *dbPass, *dbName)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}
	if err := circuitlib.InitSchema(db); err != nil {
		log.Fatalf("failed to initialize schema: %v", err)
	}
	log.Println("🗄️  circuit library: schema ready")

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	grpcServer := grpc.NewServer()
	_ = circuitlib.NewServer(db)
	// RegisterCircuitLibraryServer(grpcServer, circuitlib.NewServer(db))

	log.Printf("🗄️  circuit library starting on %s", *addr)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
