package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perclft/quantumhpc/internal/channel"
	"github.com/perclft/quantumhpc/internal/task"
)

type fakeKernel struct {
	executeCalled bool
	dynamicCalled bool
}

func (k *fakeKernel) Execute(t *task.QuantumTask) (map[string]any, error) {
	k.executeCalled = true
	return map[string]any{"results": []any{map[string]any{"data": map[string]any{"counts": map[string]any{}}}}}, nil
}

func (k *fakeKernel) ExecuteDynamic(t *task.QuantumTask, ch *channel.Channel) (map[string]any, error) {
	k.dynamicCalled = true
	return map[string]any{"results": []any{map[string]any{"data": map[string]any{"counts": map[string]any{}}}}}, nil
}

type memCache struct {
	entries map[string]string
	gets    int
	puts    int
}

func newMemCache() *memCache { return &memCache{entries: map[string]string{}} }

func (c *memCache) Get(_ context.Context, key string) (bool, string, error) {
	c.gets++
	v, ok := c.entries[key]
	return ok, v, nil
}

func (c *memCache) Put(_ context.Context, key, resultJSON string, _ int32) error {
	c.puts++
	c.entries[key] = resultJSON
	return nil
}

func TestNormalizeCounts_HexLittleEndianToBinaryMSB(t *testing.T) {
	counts := map[string]int{"0x0": 10, "0x3": 20, "0x1": 5}
	out, err := NormalizeCounts(counts, 2)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"00": 10, "11": 20, "01": 5}, out)
}

func TestNormalizeCounts_PadsToWidth(t *testing.T) {
	out, err := NormalizeCounts(map[string]int{"0x1": 1}, 4)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"0001": 1}, out)
}

func TestExtractAndPutCounts_RoundTrip(t *testing.T) {
	result := map[string]any{
		"results": []any{
			map[string]any{"data": map[string]any{"counts": map[string]any{"0x0": float64(3)}}},
		},
	}
	counts, err := ExtractCounts(result)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"0x0": 3}, counts)

	PutCounts(result, map[string]int{"00": 3})
	data := result["results"].([]any)[0].(map[string]any)["data"].(map[string]any)
	require.Equal(t, map[string]int{"00": 3}, data["counts"])
}

func TestReferenceKernel_BellState(t *testing.T) {
	k := NewReferenceKernel(7)
	tk := task.New()
	require.NoError(t, tk.Update(`{"id":"bell","config":{"num_clbits":2,"shots":1000},"instructions":[
		{"name":"h","qubits":[0]},
		{"name":"cx","qubits":[0,1]},
		{"name":"measure","qubits":[0],"memory":[0]},
		{"name":"measure","qubits":[1],"memory":[1]}
	]}`, ""))

	result, err := k.Execute(tk)
	require.NoError(t, err)
	counts, err := ExtractCounts(result)
	require.NoError(t, err)
	normalized, err := NormalizeCounts(counts, 2)
	require.NoError(t, err)

	total := 0
	for key, n := range normalized {
		require.Contains(t, []string{"00", "11"}, key, "a Bell pair should only ever show correlated outcomes")
		total += n
	}
	require.Equal(t, 1000, total)
	require.Len(t, normalized, 2, "1000 shots over a Bell pair must show both correlated outcomes, not one collapsed result")
	require.InDelta(t, 500, normalized["00"], 150, "outcomes should split roughly 50/50")
	require.InDelta(t, 500, normalized["11"], 150, "outcomes should split roughly 50/50")
}

func TestSimpleBackend_Execute(t *testing.T) {
	b := &SimpleBackend{Kernel: NewReferenceKernel(1)}
	tk := task.New()
	require.NoError(t, tk.Update(`{"id":"t1","config":{"num_clbits":1,"shots":50},"instructions":[
		{"name":"x","qubits":[0]},
		{"name":"measure","qubits":[0],"memory":[0]}
	]}`, ""))

	out, err := b.Execute(tk)
	require.NoError(t, err)
	require.Contains(t, out, "counts")
}

func TestSimpleBackend_CachesOnlyWhenFlagged(t *testing.T) {
	cache := newMemCache()
	b := &SimpleBackend{Kernel: NewReferenceKernel(1), Cache: cache}

	cacheable := task.New()
	require.NoError(t, cacheable.Update(`{"id":"t1","config":{"num_clbits":1,"shots":10,"cacheable":true},"instructions":[
		{"name":"x","qubits":[0]},
		{"name":"measure","qubits":[0],"memory":[0]}
	]}`, ""))

	first, err := b.Execute(cacheable)
	require.NoError(t, err)
	require.Equal(t, 1, cache.puts)

	second, err := b.Execute(cacheable)
	require.NoError(t, err)
	require.Equal(t, first, second, "a cache hit must return the exact cached payload")
	require.Equal(t, 1, cache.puts, "a second cacheable run should hit, not write again")

	plain := task.New()
	require.NoError(t, plain.Update(`{"id":"t2","config":{"num_clbits":1,"shots":10},"instructions":[
		{"name":"x","qubits":[0]},
		{"name":"measure","qubits":[0],"memory":[0]}
	]}`, ""))
	_, err = b.Execute(plain)
	require.NoError(t, err)
	require.Equal(t, 1, cache.puts, "a non-cacheable task must never touch the cache")
}

func TestCCBackend_RunsDynamicOnlyWhenTaskIsFlagged(t *testing.T) {
	ch, err := channel.New("cc-test")
	require.NoError(t, err)
	defer ch.Close()

	plain := task.New()
	require.NoError(t, plain.Update(`{"id":"t1","config":{"num_clbits":1,"shots":1},"instructions":[{"name":"x","qubits":[0]}]}`, ""))
	fk := &fakeKernel{}
	b := &CCBackend{Kernel: fk, Channel: ch}
	_, err = b.Execute(plain)
	require.NoError(t, err)
	require.True(t, fk.executeCalled)
	require.False(t, fk.dynamicCalled)

	dynamic := task.New()
	require.NoError(t, dynamic.Update(`{"id":"t2","config":{"num_clbits":1,"shots":1},"instructions":[{"name":"x","qubits":[0]}],"is_dynamic":true}`, ""))
	fk2 := &fakeKernel{}
	b2 := &CCBackend{Kernel: fk2, Channel: ch}
	_, err = b2.Execute(dynamic)
	require.NoError(t, err)
	require.True(t, fk2.dynamicCalled)
	require.False(t, fk2.executeCalled)
}

func TestIsCacheable(t *testing.T) {
	cacheableTask := task.New()
	require.NoError(t, cacheableTask.Update(`{"id":"t","config":{"cacheable":true},"instructions":[]}`, ""))
	require.True(t, isCacheable(cacheableTask))

	plainTask := task.New()
	require.NoError(t, plainTask.Update(`{"id":"t","config":{},"instructions":[]}`, ""))
	require.False(t, isCacheable(plainTask))
}
