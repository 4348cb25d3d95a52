// Package qpu runs one Quantum Processing Unit process end to end: a
// client-facing listen thread that feeds a message queue, and a compute
// thread that drains it against a backend strategy and replies on the
// same socket.
package qpu

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/perclft/quantumhpc/internal/backend"
	"github.com/perclft/quantumhpc/internal/clientsock"
	"github.com/perclft/quantumhpc/internal/config"
	"github.com/perclft/quantumhpc/internal/registry"
	"github.com/perclft/quantumhpc/internal/task"
)

// CircuitResolver is the subset of the circuit-library service a QPU's
// ingress path needs to turn a circuit_id into inline instructions.
type CircuitResolver interface {
	Resolve(ctx context.Context, circuitID string) ([]task.Instruction, int32, error)
}

// QPU couples a client socket and an execution backend behind a message
// queue, so the thread reading off the wire never blocks on simulation.
type QPU struct {
	Backend     backend.Backend
	Server      *clientsock.Server
	Library     CircuitResolver
	BackendInfo map[string]any

	Name     string
	Family   string
	CommPath string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	closing bool
}

// New wires a backend and client socket together under the given logical
// name and family (the key suffix under which this QPU is published to
// qpus.json). Library is optional; leaving it nil means any task naming
// a circuit_id fails with a reported error instead of running. BackendInfo
// is published verbatim under the registry entry's "backend" key, mirroring
// what the QPU's backend.to_json() would report; leaving it nil publishes
// an empty object rather than omitting the key.
func New(b backend.Backend, server *clientsock.Server, name, family, commPath string) *QPU {
	q := &QPU{Backend: b, Server: server, Name: name, Family: family, CommPath: commPath}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// TurnOn publishes this QPU's registry entry, starts the listen and
// compute goroutines, and blocks until both exit (which in practice is
// never, short of a process signal).
func (q *QPU) TurnOn() error {
	if err := q.publish(); err != nil {
		return err
	}

	done := make(chan struct{}, 2)
	go func() { q.recvLoop(); done <- struct{}{} }()
	go func() { q.computeLoop(); done <- struct{}{} }()
	<-done
	<-done
	return nil
}

func (q *QPU) publish() error {
	backendInfo := q.BackendInfo
	if backendInfo == nil {
		backendInfo = map[string]any{}
	}
	entry := map[string]any{
		"backend":      backendInfo,
		"net":          q.Server.NetInfo(),
		"name":         q.Name,
		"family":       q.Family,
		"slurm_job_id": config.SlurmJobID(),
	}
	qpusPath := config.QPUsFilePath()
	return registry.WriteOnFile(entry, qpusPath, q.Family)
}

// recvLoop accepts client payloads and feeds the message queue. A literal
// "CLOSE" payload drops the current client and waits for the next one
// without ever touching the queue.
func (q *QPU) recvLoop() {
	for {
		msg := q.Server.RecvData()
		if msg == clientsock.Close {
			continue
		}
		q.mu.Lock()
		q.queue = append(q.queue, msg)
		q.mu.Unlock()
		q.cond.Signal()
	}
}

// computeLoop drains the message queue against the backend, replying to
// the socket on every message including failures: a failed update or
// execution becomes a {"ERROR":"..."} reply rather than a dropped
// connection or a crashed process.
func (q *QPU) computeLoop() {
	t := task.New()
	for {
		q.mu.Lock()
		for len(q.queue) == 0 {
			q.cond.Wait()
		}
		msg := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		result, err := q.handle(t, msg)
		if err != nil {
			log.Printf("qpu %s: %v", q.Name, err)
			result = `{"ERROR":"` + escapeJSON(err.Error()) + `"}`
		}
		if sendErr := q.Server.SendResult(result); sendErr != nil {
			if _, ok := sendErr.(*clientsock.ServerError); ok {
				log.Printf("qpu %s: reply failed, client likely gone: %v", q.Name, sendErr)
				continue
			}
			log.Printf("qpu %s: reply failed: %v", q.Name, sendErr)
		}
	}
}

func (q *QPU) handle(t *task.QuantumTask, msg string) (string, error) {
	if err := t.Update(msg, q.CommPath); err != nil {
		return "", err
	}
	if t.CircuitID != "" && len(t.Instructions) == 0 {
		if err := q.resolveCircuit(t); err != nil {
			return "", err
		}
	}
	return q.Backend.Execute(t)
}

// resolveCircuit loads the instructions a task named by circuit_id
// instead of inlining, then applies the peer-identifier rewrite Update
// deferred for that path since Instructions was empty at the time.
func (q *QPU) resolveCircuit(t *task.QuantumTask) error {
	if q.Library == nil {
		return fmt.Errorf("qpu: task names circuit_id %q but no circuit library is configured", t.CircuitID)
	}
	instructions, numClbits, err := q.Library.Resolve(context.Background(), t.CircuitID)
	if err != nil {
		return fmt.Errorf("qpu: resolving circuit %q: %w", t.CircuitID, err)
	}
	t.Instructions = instructions
	t.CircuitID = ""
	if _, ok := t.Config["num_clbits"]; !ok {
		t.Config["num_clbits"] = numClbits
	}
	if t.HasCC {
		if err := t.RewritePeers(q.CommPath); err != nil {
			return err
		}
	}
	return nil
}

func escapeJSON(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch r {
		case '"', '\\':
			out = append(out, '\\', byte(r))
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, string(r)...)
		}
	}
	return string(out)
}
