// Package backend selects, per task, which of the three execution
// strategies a QPU uses to run a circuit: Simple (no peer communication)
// and CC (classical-communication peer messaging over the classical
// channel) both run a numerical Kernel directly; QC (quantum-communication)
// runs no kernel at all and instead delegates every task to an executor
// process fanning it out across a group of QPUs.
package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/perclft/quantumhpc/internal/channel"
	"github.com/perclft/quantumhpc/internal/execcache"
	"github.com/perclft/quantumhpc/internal/registry"
	"github.com/perclft/quantumhpc/internal/task"
)

// ResultCache is the subset of the execution-cache service a backend
// strategy needs. Its zero value (a nil ResultCache field) disables
// caching entirely regardless of what a task's config asks for.
type ResultCache interface {
	Get(ctx context.Context, key string) (found bool, resultJSON string, err error)
	Put(ctx context.Context, key, resultJSON string, ttlSeconds int32) error
}

// cacheKey hashes a task's instructions and config together, the same
// pairing the execution-cache service keys results by.
func cacheKey(t *task.QuantumTask) (string, error) {
	circuitJSON, err := json.Marshal(t.Instructions)
	if err != nil {
		return "", err
	}
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return "", err
	}
	return execcache.Key(circuitJSON, configJSON), nil
}

func isCacheable(t *task.QuantumTask) bool {
	v, ok := t.Config["cacheable"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Backend runs one task to completion and returns its result as a JSON
// document ready to hand to the client socket.
type Backend interface {
	Execute(t *task.QuantumTask) (string, error)
}

// numClbits pulls the circuit width out of a task's config map, defaulting
// to one more than the highest clbit/memory index referenced if config
// omits it.
func numClbits(t *task.QuantumTask) int {
	if v, ok := t.Config["num_clbits"]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int32:
			return int(n)
		}
	}
	max := -1
	for _, instr := range t.Instructions {
		for _, c := range instr.Clbits {
			if c > max {
				max = c
			}
		}
		for _, m := range instr.Memory {
			if m > max {
				max = m
			}
		}
	}
	return max + 1
}

// Finalize extracts a kernel's raw counts histogram, normalizes its keys
// to fixed-width binary MSB-first strings, and re-encodes the whole
// result object as the JSON document a client socket sends back. It is
// exported so the executor process — which runs a kernel directly rather
// than through a Backend — can apply the same conversion to the combined
// result it sends back to every QPU in a group.
func Finalize(result map[string]any, t *task.QuantumTask) (string, error) {
	counts, err := ExtractCounts(result)
	if err != nil {
		return "", err
	}
	normalized, err := NormalizeCounts(counts, numClbits(t))
	if err != nil {
		return "", err
	}
	PutCounts(result, normalized)

	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("backend: encode result: %w", err)
	}
	return string(encoded), nil
}

// SimpleBackend runs a task with no peer communication. It is the
// strategy a QPU started without a classical channel always uses. When
// Cache is non-nil and a task's config sets "cacheable": true, a result
// is looked up before the kernel runs and stored after a successful run;
// tasks that omit the flag never touch the cache.
type SimpleBackend struct {
	Kernel   Kernel
	Cache    ResultCache
	CacheTTL int32
}

func (b *SimpleBackend) Execute(t *task.QuantumTask) (string, error) {
	if b.Cache != nil && isCacheable(t) {
		key, err := cacheKey(t)
		if err == nil {
			if found, resultJSON, err := b.Cache.Get(context.Background(), key); err == nil && found {
				return resultJSON, nil
			}
			result, err := b.Kernel.Execute(t)
			if err != nil {
				return "", err
			}
			resultJSON, err := Finalize(result, t)
			if err != nil {
				return "", err
			}
			_ = b.Cache.Put(context.Background(), key, resultJSON, b.CacheTTL)
			return resultJSON, nil
		}
	}

	result, err := b.Kernel.Execute(t)
	if err != nil {
		return "", err
	}
	return Finalize(result, t)
}

// CCBackend runs a task that exchanges mid-circuit measurements with
// other QPUs over a classical channel. It connects to every peer this
// task names in sending_to before handing the task to the kernel, using
// a forced identity (the dealer announces itself by its own bound
// endpoint) so the remote QPU can recognise it by address rather than by
// a logical id it may never have been told about. The kernel only needs
// the channel for tasks flagged is_dynamic; everything else runs exactly
// like SimpleBackend once the peer connections are up.
type CCBackend struct {
	Kernel  Kernel
	Channel *channel.Channel
}

func (b *CCBackend) Execute(t *task.QuantumTask) (string, error) {
	if err := b.Channel.ConnectAllForced(t.SendingTo); err != nil {
		return "", fmt.Errorf("backend: cc connect: %w", err)
	}

	var result map[string]any
	var err error
	if t.IsDynamic {
		result, err = b.Kernel.ExecuteDynamic(t, b.Channel)
	} else {
		result, err = b.Kernel.Execute(t)
	}
	if err != nil {
		return "", err
	}
	return Finalize(result, t)
}

// QCBackend runs a task by delegating execution entirely to an executor
// process managing a quantum-communication group: the task is forwarded
// over the classical channel to the peer identified as "executor", and
// the aggregated, already-finalized result is read back from the same
// channel. It never touches a Kernel itself.
type QCBackend struct {
	Channel *channel.Channel
}

// NewQCBackend performs the constructor-time rendezvous a QC-mode QPU
// needs before it can execute anything: publish this process's
// classical-channel endpoint, wait for the executor servicing this group
// to announce its own endpoint, connect back to it under the logical id
// "executor", and record the executor's endpoint alongside this QPU's
// own registry entry.
func NewQCBackend(ch *channel.Channel, commPath, keySuffix string) (*QCBackend, error) {
	if err := ch.Publish(commPath, keySuffix); err != nil {
		return nil, fmt.Errorf("backend: qc publish endpoint: %w", err)
	}
	executorEndpoint, err := ch.RecvInfo("executor")
	if err != nil {
		return nil, fmt.Errorf("backend: qc waiting for executor: %w", err)
	}
	if err := ch.Connect(executorEndpoint, "executor"); err != nil {
		return nil, fmt.Errorf("backend: qc connecting to executor: %w", err)
	}
	if err := registry.SetField(commPath, keySuffix, "executor_endpoint", executorEndpoint); err != nil {
		return nil, fmt.Errorf("backend: qc recording executor endpoint: %w", err)
	}
	return &QCBackend{Channel: ch}, nil
}

func (b *QCBackend) Execute(t *task.QuantumTask) (string, error) {
	circuitJSON, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("backend: qc encode task: %w", err)
	}
	if err := b.Channel.SendInfo(string(circuitJSON), "executor"); err != nil {
		return "", fmt.Errorf("backend: qc send to executor: %w", err)
	}
	result, err := b.Channel.RecvInfo("executor")
	if err != nil {
		return "", fmt.Errorf("backend: qc receive from executor: %w", err)
	}
	return result, nil
}
