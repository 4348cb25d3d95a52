package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perclft/quantumhpc/internal/backend"
	"github.com/perclft/quantumhpc/internal/channel"
	"github.com/perclft/quantumhpc/internal/task"
)

func TestQCBackend_DelegatesToExecutor(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("STORE", dir)
	os.Setenv("SLURM_JOB_ID", "42")
	os.Setenv("SLURM_TASK_PID", "1")
	t.Cleanup(func() {
		os.Unsetenv("STORE")
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})
	commPath := filepath.Join(dir, ".cunqa", "communications.json")

	qpuCh, err := channel.New("")
	require.NoError(t, err)
	defer qpuCh.Close()
	require.NoError(t, qpuCh.Publish(commPath, "qpuA"))

	exec, err := New(backend.NewReferenceKernel(3))
	require.NoError(t, err)
	defer exec.Channel.Close()
	go exec.Run()

	qc, err := backend.NewQCBackend(qpuCh, commPath, "qpuA")
	require.NoError(t, err)

	tk := task.New()
	require.NoError(t, tk.Update(`{"id":"t1","config":{"num_clbits":1,"shots":20},"instructions":[
		{"name":"x","qubits":[0]},
		{"name":"measure","qubits":[0],"memory":[0]}
	]}`, commPath))

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := qc.Execute(tk)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		require.Contains(t, out, "counts")
	case err := <-errCh:
		t.Fatalf("qc backend execute failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for executor to return a result")
	}
}
