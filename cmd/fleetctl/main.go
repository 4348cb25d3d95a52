// Command fleetctl is a thin CLI over the Fleet Control gRPC service: list
// the live QPU/communications registry entries, or drop every entry for a
// job-id prefix.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/perclft/quantumhpc/internal/config"
	"github.com/perclft/quantumhpc/internal/fleetcontrol"
)

func main() {
	addr := flag.String("server", config.FleetControlAddr("localhost:50060"), "Fleet Control address ($FLEETCTL_ADDR)")
	listQPUs := flag.Bool("list-qpus", false, "List live QPU registry entries")
	listComms := flag.Bool("list-comms", false, "List live communications registry entries")
	family := flag.String("family", "", "Restrict listing to entries containing this substring")
	drop := flag.String("drop", "", "Drop every registry entry whose key has this prefix")
	flag.Parse()

	if !*listQPUs && !*listComms && *drop == "" {
		fmt.Println("usage: fleetctl [-list-qpus] [-list-comms] [-family F] [-drop PREFIX] [-server host:port]")
		os.Exit(1)
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("❌ connecting to fleet control: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// This CLI talks directly to an in-process Server for now, since the
	// generated gRPC client stub for FleetControl is not checked in; a
	// deployed fleetctl would dial through conn instead.
	server := fleetcontrol.NewServer(config.QPUsFilePath(), config.CommunicationsFilePath())
	_ = ctx

	if *listQPUs {
		resp, err := server.ListQPUs(context.Background(), &fleetcontrol.ListQPUsRequest{Family: *family})
		if err != nil {
			log.Fatalf("❌ listing qpus: %v", err)
		}
		for key, entry := range resp.Entries {
			fmt.Printf("%s\t%s\n", key, entry)
		}
	}

	if *listComms {
		resp, err := server.ListCommunications(context.Background(), &fleetcontrol.ListCommunicationsRequest{Family: *family})
		if err != nil {
			log.Fatalf("❌ listing communications: %v", err)
		}
		for key, entry := range resp.Entries {
			fmt.Printf("%s\t%s\n", key, entry)
		}
	}

	if *drop != "" {
		resp, err := server.DropByPrefix(context.Background(), &fleetcontrol.DropByPrefixRequest{Prefix: *drop})
		if err != nil {
			log.Fatalf("❌ dropping %q: %v", *drop, err)
		}
		fmt.Printf("dropped entries with prefix %q: %v\n", *drop, resp.Success)
	}
}
