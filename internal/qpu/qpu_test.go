package qpu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perclft/quantumhpc/internal/task"
)

type fakeResolver struct {
	instructions []task.Instruction
	numClbits    int32
	err          error
}

func (f *fakeResolver) Resolve(ctx context.Context, circuitID string) ([]task.Instruction, int32, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.instructions, f.numClbits, nil
}

type fakeBackend struct {
	lastTask *task.QuantumTask
}

func (f *fakeBackend) Execute(t *task.QuantumTask) (string, error) {
	f.lastTask = t
	return `{"counts":{}}`, nil
}

func TestHandle_ResolvesCircuitIDBeforeDispatch(t *testing.T) {
	resolver := &fakeResolver{
		instructions: []task.Instruction{{Name: "h", Qubits: []int{0}}},
		numClbits:    1,
	}
	fb := &fakeBackend{}
	q := New(fb, nil, "qpu0", "", "")
	q.Library = resolver

	tk := task.New()
	result, err := q.handle(tk, `{"id":"t1","config":{"shots":10},"circuit_id":"abc"}`)
	require.NoError(t, err)
	require.Equal(t, `{"counts":{}}`, result)
	require.NotNil(t, fb.lastTask)
	require.Len(t, fb.lastTask.Instructions, 1)
	require.Equal(t, "h", fb.lastTask.Instructions[0].Name)
	require.Equal(t, int32(1), fb.lastTask.Config["num_clbits"])
}

func TestHandle_CircuitIDWithoutLibraryConfiguredErrors(t *testing.T) {
	fb := &fakeBackend{}
	q := New(fb, nil, "qpu0", "", "")

	tk := task.New()
	_, err := q.handle(tk, `{"id":"t1","config":{},"circuit_id":"abc"}`)
	require.Error(t, err)
}

func TestHandle_ResolverErrorIsReported(t *testing.T) {
	resolver := &fakeResolver{err: assert.AnError}
	fb := &fakeBackend{}
	q := New(fb, nil, "qpu0", "", "")
	q.Library = resolver

	tk := task.New()
	_, err := q.handle(tk, `{"id":"t1","config":{},"circuit_id":"missing"}`)
	require.Error(t, err)
}
