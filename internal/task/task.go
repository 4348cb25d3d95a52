// Package task implements the QuantumTask wire format: ingress parsing,
// the classical-communication peer-identifier rewrite, and positional
// parameter rebinding, using encoding/json in place of hand-rolled string
// concatenation.
package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/perclft/quantumhpc/internal/registry"
)

// Instruction is one gate in a circuit.
type Instruction struct {
	Name   string    `json:"name"`
	Qubits []int     `json:"qubits"`
	Params []float64 `json:"params,omitempty"`
	Clbits []int     `json:"clbits,omitempty"`
	Memory []int     `json:"memory,omitempty"`
	QPUs   []string  `json:"qpus,omitempty"`
}

// QuantumTask is the unit of submission to a QPU. CircuitID names a
// circuit-library entry in place of inline Instructions; a QPU's ingress
// path resolves it before handing the task to a backend strategy, and
// clears it once Instructions is populated.
type QuantumTask struct {
	ID           string          `json:"id"`
	CircuitID    string          `json:"circuit_id,omitempty"`
	Config       map[string]any  `json:"config"`
	Instructions []Instruction   `json:"instructions"`
	SendingTo    []string        `json:"sending_to"`
	IsDynamic    bool            `json:"is_dynamic"`
	HasCC        bool            `json:"has_cc"`
}

// wireUpdate is a full task (either inlining instructions or naming a
// circuit_id), or a positional parameter update; a QPU distinguishes the
// three by which fields are present.
type wireUpdate struct {
	ID           *string          `json:"id,omitempty"`
	CircuitID    *string          `json:"circuit_id,omitempty"`
	Config       map[string]any   `json:"config,omitempty"`
	Instructions []Instruction    `json:"instructions,omitempty"`
	SendingTo    []string         `json:"sending_to,omitempty"`
	IsDynamic    *bool            `json:"is_dynamic,omitempty"`
	HasCC        *bool            `json:"has_cc,omitempty"`
	Params       []float64        `json:"params,omitempty"`
}

// commEntry is the subset of a communications.json value this package
// needs to resolve a logical peer id to a concrete endpoint.
type commEntry struct {
	CommunicationsEndpoint string `json:"communications_endpoint"`
	ExecutorEndpoint       string `json:"executor_endpoint,omitempty"`
}

// arity is the number of floats a gate's params consume when rebinding:
// rx|ry|rz -> 1, r -> 2, u|cu -> 3, everything else -> 0.
func arity(gateName string) int {
	switch strings.ToLower(gateName) {
	case "rx", "ry", "rz":
		return 1
	case "r":
		return 2
	case "u", "cu":
		return 3
	default:
		return 0
	}
}

// New returns an empty task, ready to be updated by successive raw
// messages the way the QPU compute thread reuses one QuantumTask across
// its whole lifetime.
func New() *QuantumTask {
	return &QuantumTask{Config: map[string]any{}}
}

// Update parses raw — a full task JSON document (either inlining
// instructions or naming a circuit_id), or a {"params":[...]} positional
// update — and applies it to t in place. When the document carries
// has_cc:true and inlines its own instructions, every instruction's
// "qpus" field and the top-level "sending_to" list are rewritten from
// logical peer identifiers to concrete endpoints by resolving commPath,
// exactly once, before the backend ever sees the task. A task that names
// a circuit_id instead carries no instructions yet, so that rewrite is
// deferred: the caller resolves the circuit first, then calls
// RewritePeers itself once Instructions is populated. A missing peer id
// is reported as an error rather than panicking, so the caller can turn
// it into a {"ERROR":...} reply instead of killing the QPU.
func (t *QuantumTask) Update(raw, commPath string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var u wireUpdate
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return fmt.Errorf("task: malformed JSON: %w", err)
	}

	switch {
	case u.Instructions != nil && u.Config != nil:
		if u.ID != nil {
			t.ID = *u.ID
		}
		t.CircuitID = ""
		t.Config = u.Config
		t.Instructions = u.Instructions
		t.SendingTo = u.SendingTo
		if u.IsDynamic != nil {
			t.IsDynamic = *u.IsDynamic
		}
		if u.HasCC != nil {
			t.HasCC = *u.HasCC
		}
		if t.HasCC {
			if err := t.RewritePeers(commPath); err != nil {
				return err
			}
		}
		return nil

	case u.CircuitID != nil && u.Config != nil:
		if u.ID != nil {
			t.ID = *u.ID
		}
		t.CircuitID = *u.CircuitID
		t.Config = u.Config
		t.Instructions = nil
		t.SendingTo = u.SendingTo
		if u.IsDynamic != nil {
			t.IsDynamic = *u.IsDynamic
		}
		if u.HasCC != nil {
			t.HasCC = *u.HasCC
		}
		return nil

	case u.Params != nil:
		return t.updateParams(u.Params)

	default:
		return nil
	}
}

// RewritePeers resolves every logical peer identifier this task carries
// (per-instruction "qpus" and top-level "sending_to") into the concrete
// endpoint published for that peer in communications.json.
func (t *QuantumTask) RewritePeers(commPath string) error {
	raw, err := registry.ReadAll(commPath)
	if err != nil {
		return fmt.Errorf("task: opening communications registry: %w", err)
	}

	resolve := func(id string) (commEntry, error) {
		entryRaw, ok := raw[id]
		if !ok {
			return commEntry{}, fmt.Errorf("task: unknown peer %q in communications registry", id)
		}
		var entry commEntry
		if err := json.Unmarshal(entryRaw, &entry); err != nil {
			return commEntry{}, fmt.Errorf("task: malformed communications entry for %q: %w", id, err)
		}
		return entry, nil
	}

	for i := range t.Instructions {
		if len(t.Instructions[i].QPUs) == 0 {
			continue
		}
		entry, err := resolve(t.Instructions[i].QPUs[0])
		if err != nil {
			return err
		}
		endpoint := entry.CommunicationsEndpoint
		if entry.ExecutorEndpoint != "" {
			endpoint = entry.ExecutorEndpoint
		}
		t.Instructions[i].QPUs = []string{endpoint}
	}

	for i, id := range t.SendingTo {
		entry, err := resolve(id)
		if err != nil {
			return err
		}
		t.SendingTo[i] = entry.CommunicationsEndpoint
	}
	return nil
}

// updateParams rebinds gate parameters positionally over the current
// circuit. The sum of per-gate arities must equal len(params); a mismatch
// fails the update without mutating the circuit.
func (t *QuantumTask) updateParams(params []float64) error {
	if len(t.Instructions) == 0 {
		return fmt.Errorf("task: circuit not sent before updating parameters")
	}

	want := 0
	for _, instr := range t.Instructions {
		want += arity(instr.Name)
	}
	if want != len(params) {
		return fmt.Errorf("task: parameter count mismatch: circuit expects %d, got %d", want, len(params))
	}

	counter := 0
	for i := range t.Instructions {
		n := arity(t.Instructions[i].Name)
		if n == 0 {
			continue
		}
		if len(t.Instructions[i].Params) < n {
			t.Instructions[i].Params = make([]float64, n)
		}
		copy(t.Instructions[i].Params, params[counter:counter+n])
		counter += n
	}
	return nil
}
