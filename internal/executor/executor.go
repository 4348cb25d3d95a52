// Package executor runs the fan-in/fan-out process that lets QPUs backed
// by a kernel with no native peer-messaging support still take part in a
// quantum-communication group: it collects one task from each QPU in the
// group, simulates them together, and sends the combined result back to
// every QPU that contributed one.
package executor

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/perclft/quantumhpc/internal/backend"
	"github.com/perclft/quantumhpc/internal/channel"
	"github.com/perclft/quantumhpc/internal/config"
	"github.com/perclft/quantumhpc/internal/registry"
	"github.com/perclft/quantumhpc/internal/task"
)

// Executor owns a classical channel identified as "executor" and the list
// of QPU endpoints it services, resolved once at construction time from
// communications.json.
type Executor struct {
	Channel *channel.Channel
	Kernel  backend.Kernel

	qpuEndpoints []string
}

// New builds an executor servicing every communications registry entry
// whose key is prefixed by the running job's SLURM_JOB_ID.
func New(kernel backend.Kernel) (*Executor, error) {
	prefix := config.SlurmJobID() + "_"
	return newExecutor(kernel, func(key string) bool { return strings.HasPrefix(key, prefix) })
}

// NewForGroup builds an executor servicing only the communications
// registry entries whose key ends in "_" + groupID, for jobs that split
// their QPUs into several independent communication groups.
func NewForGroup(kernel backend.Kernel, groupID string) (*Executor, error) {
	suffix := "_" + groupID
	return newExecutor(kernel, func(key string) bool { return strings.HasSuffix(key, suffix) })
}

func newExecutor(kernel backend.Kernel, match func(key string) bool) (*Executor, error) {
	ch, err := channel.New("executor")
	if err != nil {
		return nil, fmt.Errorf("executor: opening channel: %w", err)
	}

	commPath := config.CommunicationsFilePath()
	raw, err := registry.ReadAll(commPath)
	if err != nil {
		return nil, fmt.Errorf("executor: reading communications registry: %w", err)
	}

	e := &Executor{Channel: ch, Kernel: kernel}
	for key, entryRaw := range raw {
		if !match(key) {
			continue
		}
		var entry struct {
			CommunicationsEndpoint string `json:"communications_endpoint"`
		}
		if err := json.Unmarshal(entryRaw, &entry); err != nil || entry.CommunicationsEndpoint == "" {
			continue
		}
		if err := e.Channel.Connect(entry.CommunicationsEndpoint, ""); err != nil {
			return nil, fmt.Errorf("executor: connecting to %s: %w", entry.CommunicationsEndpoint, err)
		}
		if err := e.Channel.SendInfo(e.Channel.Endpoint, entry.CommunicationsEndpoint); err != nil {
			return nil, fmt.Errorf("executor: announcing endpoint to %s: %w", entry.CommunicationsEndpoint, err)
		}
		e.qpuEndpoints = append(e.qpuEndpoints, entry.CommunicationsEndpoint)
	}
	if len(e.qpuEndpoints) == 0 {
		return nil, fmt.Errorf("executor: no matching QPUs found in communications registry")
	}
	return e, nil
}

// Run collects one task from each QPU this executor services, merges them
// into a single circuit with qubit indices offset per contributor, runs
// the kernel once, and sends the combined result back to every QPU that
// contributed a task this round. A QPU that sends nothing this round is
// skipped — it is not part of the group for this round.
func (e *Executor) Run() error {
	for {
		var working []string
		var tasks []*task.QuantumTask

		for _, qpuEndpoint := range e.qpuEndpoints {
			message, err := e.Channel.RecvInfo(qpuEndpoint)
			if err != nil {
				return fmt.Errorf("executor: receiving from %s: %w", qpuEndpoint, err)
			}
			if message == "" {
				continue
			}
			t := task.New()
			if err := t.Update(message, config.CommunicationsFilePath()); err != nil {
				log.Printf("executor: discarding malformed task from %s: %v", qpuEndpoint, err)
				continue
			}
			working = append(working, qpuEndpoint)
			tasks = append(tasks, t)
		}

		if len(tasks) == 0 {
			continue
		}

		merged := mergeTasks(tasks)
		result, err := e.Kernel.ExecuteDynamic(merged, e.Channel)
		if err != nil {
			log.Printf("executor: simulation failed: %v", err)
			continue
		}

		resultJSON, err := backend.Finalize(result, merged)
		if err != nil {
			log.Printf("executor: finalizing result: %v", err)
			continue
		}

		// The merged result is not yet split per contributing QPU; every
		// QPU in this round receives the same combined result.
		for _, qpuEndpoint := range working {
			if err := e.Channel.SendInfo(resultJSON, qpuEndpoint); err != nil {
				log.Printf("executor: sending result to %s: %v", qpuEndpoint, err)
			}
		}
	}
}

// mergeTasks combines several independently-submitted tasks into one
// circuit, offsetting each contributor's qubit and clbit indices so the
// merged circuit is their tensor product rather than a collision.
func mergeTasks(tasks []*task.QuantumTask) *task.QuantumTask {
	merged := task.New()
	qubitOffset := 0
	clbitOffset := 0
	totalShots := 0

	for _, t := range tasks {
		width := 0
		if v, ok := t.Config["num_clbits"]; ok {
			if n, ok := v.(float64); ok {
				width = int(n)
			}
		}
		for _, instr := range t.Instructions {
			shifted := instr
			shifted.Qubits = offsetIndices(instr.Qubits, qubitOffset)
			shifted.Clbits = offsetIndices(instr.Clbits, clbitOffset)
			shifted.Memory = offsetIndices(instr.Memory, clbitOffset)
			merged.Instructions = append(merged.Instructions, shifted)
		}
		if shots, ok := t.Config["shots"]; ok {
			if n, ok := shots.(float64); ok && int(n) > totalShots {
				totalShots = int(n)
			}
		}
		qubitOffset += width
		clbitOffset += width
	}

	merged.Config = map[string]any{
		"num_clbits": qubitOffset,
		"shots":      totalShots,
	}
	return merged
}

func offsetIndices(indices []int, offset int) []int {
	if len(indices) == 0 {
		return indices
	}
	out := make([]int, len(indices))
	for i, idx := range indices {
		out[i] = idx + offset
	}
	return out
}
