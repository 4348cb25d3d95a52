package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perclft/quantumhpc/internal/registry"
)

func TestUpdate_FullTask(t *testing.T) {
	tk := New()
	raw := `{"id":"t1","config":{"shots":100},"instructions":[{"name":"h","qubits":[0]}],"is_dynamic":false,"has_cc":false}`

	require.NoError(t, tk.Update(raw, ""))
	require.Equal(t, "t1", tk.ID)
	require.Len(t, tk.Instructions, 1)
	require.Equal(t, "h", tk.Instructions[0].Name)
}

func TestUpdate_ParamsRebind_ArityMatch(t *testing.T) {
	tk := New()
	require.NoError(t, tk.Update(`{"id":"t1","config":{},"instructions":[
		{"name":"rx","qubits":[0]},
		{"name":"h","qubits":[1]},
		{"name":"u","qubits":[2]}
	]}`, ""))

	require.NoError(t, tk.Update(`{"params":[1.5, 0.1, 0.2, 0.3]}`, ""))
	require.Equal(t, []float64{1.5}, tk.Instructions[0].Params)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, tk.Instructions[2].Params)
}

func TestUpdate_ParamsRebind_ArityMismatchFails(t *testing.T) {
	tk := New()
	require.NoError(t, tk.Update(`{"id":"t1","config":{},"instructions":[{"name":"rx","qubits":[0]}]}`, ""))

	before := tk.Instructions[0].Params
	err := tk.Update(`{"params":[1.0, 2.0]}`, "")
	require.Error(t, err)
	require.Equal(t, before, tk.Instructions[0].Params)
}

func TestUpdate_ParamsBeforeCircuitFails(t *testing.T) {
	tk := New()
	err := tk.Update(`{"params":[1.0]}`, "")
	require.Error(t, err)
}

func TestUpdate_RewritesPeersWhenHasCC(t *testing.T) {
	dir := t.TempDir()
	commPath := filepath.Join(dir, "communications.json")

	os.Setenv("SLURM_JOB_ID", "1")
	os.Setenv("SLURM_TASK_PID", "1")
	t.Cleanup(func() {
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})
	require.NoError(t, registry.WriteOnFile(map[string]string{"communications_endpoint": "tcp://peer:1"}, commPath, "peerA"))

	tk := New()
	raw := `{"id":"t1","config":{},"instructions":[{"name":"send_measure","qubits":[0],"qpus":["1_1_peerA"]}],"has_cc":true,"sending_to":["1_1_peerA"]}`
	require.NoError(t, tk.Update(raw, commPath))

	require.Equal(t, []string{"tcp://peer:1"}, tk.Instructions[0].QPUs)
	require.Equal(t, []string{"tcp://peer:1"}, tk.SendingTo)
}

func TestUpdate_PrefersExecutorEndpointForPerInstructionPeers(t *testing.T) {
	dir := t.TempDir()
	commPath := filepath.Join(dir, "communications.json")

	os.Setenv("SLURM_JOB_ID", "1")
	os.Setenv("SLURM_TASK_PID", "1")
	t.Cleanup(func() {
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})
	require.NoError(t, registry.WriteOnFile(map[string]string{
		"communications_endpoint": "tcp://direct:1",
		"executor_endpoint":       "tcp://executor:2",
	}, commPath, "peerA"))

	tk := New()
	raw := `{"id":"t1","config":{},"instructions":[{"name":"send_measure","qubits":[0],"qpus":["1_1_peerA"]}],"has_cc":true,"sending_to":["1_1_peerA"]}`
	require.NoError(t, tk.Update(raw, commPath))

	require.Equal(t, []string{"tcp://executor:2"}, tk.Instructions[0].QPUs)
	require.Equal(t, []string{"tcp://direct:1"}, tk.SendingTo)
}

func TestUpdate_UnknownPeerFails(t *testing.T) {
	dir := t.TempDir()
	commPath := filepath.Join(dir, "communications.json")

	tk := New()
	raw := `{"id":"t1","config":{},"instructions":[],"has_cc":true,"sending_to":["nope"]}`
	require.Error(t, tk.Update(raw, commPath))
}

func TestUpdate_CircuitIDLeavesInstructionsEmptyAndDefersPeerRewrite(t *testing.T) {
	tk := New()
	raw := `{"id":"t1","config":{"shots":10},"circuit_id":"lib-entry","has_cc":true,"sending_to":["1_1_peerA"]}`

	require.NoError(t, tk.Update(raw, ""))
	require.Equal(t, "lib-entry", tk.CircuitID)
	require.Empty(t, tk.Instructions)
	require.Equal(t, []string{"1_1_peerA"}, tk.SendingTo, "peer ids stay logical until the caller resolves circuit_id and calls RewritePeers")
}

func TestUpdate_FullTaskClearsAnyPriorCircuitID(t *testing.T) {
	tk := New()
	require.NoError(t, tk.Update(`{"id":"t1","config":{},"circuit_id":"lib-entry"}`, ""))
	require.Equal(t, "lib-entry", tk.CircuitID)

	require.NoError(t, tk.Update(`{"id":"t1","config":{},"instructions":[{"name":"h","qubits":[0]}]}`, ""))
	require.Empty(t, tk.CircuitID)
}

func TestArity(t *testing.T) {
	require.Equal(t, 1, arity("rx"))
	require.Equal(t, 1, arity("RZ"))
	require.Equal(t, 2, arity("r"))
	require.Equal(t, 3, arity("u"))
	require.Equal(t, 3, arity("cu"))
	require.Equal(t, 0, arity("h"))
	require.Equal(t, 0, arity("cx"))
}
