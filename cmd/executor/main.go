// Command executor launches a fan-in/fan-out process for a group of QPUs
// whose kernel has no native peer-messaging support: it connects to every
// QPU in its job (or a named group within it), and runs their tasks
// together each round.
package main

import (
	"flag"
	"log"

	"github.com/perclft/quantumhpc/internal/backend"
	"github.com/perclft/quantumhpc/internal/executor"
)

func main() {
	group := flag.String("group", "", "Restrict to QPUs whose registry key ends in this group id; empty services the whole job")
	flag.Parse()

	kernel := backend.NewReferenceKernel(1)

	var exec *executor.Executor
	var err error
	if *group == "" {
		exec, err = executor.New(kernel)
	} else {
		exec, err = executor.NewForGroup(kernel, *group)
	}
	if err != nil {
		log.Fatalf("executor: %v", err)
	}

	log.Printf("executor listening on %s", exec.Channel.Endpoint)
	if err := exec.Run(); err != nil {
		log.Fatalf("executor: %v", err)
	}
}
