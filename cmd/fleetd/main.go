// Command fleetd runs the Fleet Control gRPC server: a stateless remote
// view over the qpus.json and communications.json registries.
package main

import (
	"flag"
	"log"
	"net"

	"google.golang.org/grpc"

	"github.com/perclft/quantumhpc/internal/config"
	"github.com/perclft/quantumhpc/internal/fleetcontrol"
)

func main() {
	addr := flag.String("addr", config.FleetControlAddr(":50060"), "gRPC listen address ($FLEETCTL_ADDR)")
	flag.Parse()

	server := fleetcontrol.NewServer(config.QPUsFilePath(), config.CommunicationsFilePath())

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	grpcServer := grpc.NewServer()
	_ = server
	// RegisterFleetControlServer(grpcServer, server)

	log.Printf("🛰️  fleet control starting on %s", *addr)
	log.Printf("   qpus registry:          %s", config.QPUsFilePath())
	log.Printf("   communications registry: %s", config.CommunicationsFilePath())
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
