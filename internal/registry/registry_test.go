package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteOnFile_CreatesAndMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpus.json")

	os.Setenv("SLURM_JOB_ID", "42")
	os.Setenv("SLURM_TASK_PID", "7")
	t.Cleanup(func() {
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})

	require.NoError(t, WriteOnFile(map[string]string{"a": "1"}, path, "fam1"))
	require.NoError(t, WriteOnFile(map[string]string{"b": "2"}, path, "fam2"))

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "42_7_fam1")
	require.Contains(t, all, "42_7_fam2")
}

func TestWriteOnFile_ReplacesWholeEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpus.json")

	os.Setenv("SLURM_JOB_ID", "1")
	os.Setenv("SLURM_TASK_PID", "1")
	t.Cleanup(func() {
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})

	require.NoError(t, WriteOnFile(map[string]string{"a": "1", "b": "2"}, path, ""))
	require.NoError(t, WriteOnFile(map[string]string{"c": "3"}, path, ""))

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.JSONEq(t, `{"c":"3"}`, string(all[Key("")]))
}

func TestSetField_MergesIntoExistingEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comms.json")

	os.Setenv("SLURM_JOB_ID", "9")
	os.Setenv("SLURM_TASK_PID", "9")
	t.Cleanup(func() {
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})

	require.NoError(t, WriteOnFile(map[string]string{"communications_endpoint": "tcp://a:1"}, path, "grp"))
	require.NoError(t, SetField(path, "grp", "executor_endpoint", "tcp://b:2"))

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"communications_endpoint":"tcp://a:1","executor_endpoint":"tcp://b:2"}`, string(all[Key("grp")]))
}

func TestRemoveFromFile_DropsByPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpus.json")

	os.Setenv("SLURM_JOB_ID", "5")
	os.Setenv("SLURM_TASK_PID", "1")
	require.NoError(t, WriteOnFile(map[string]string{"a": "1"}, path, "x"))
	os.Setenv("SLURM_TASK_PID", "2")
	require.NoError(t, WriteOnFile(map[string]string{"b": "2"}, path, "y"))
	os.Setenv("SLURM_JOB_ID", "6")
	os.Setenv("SLURM_TASK_PID", "1")
	require.NoError(t, WriteOnFile(map[string]string{"c": "3"}, path, "z"))
	t.Cleanup(func() {
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})

	require.NoError(t, RemoveFromFile(path, "5_"))

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Contains(t, all, "6_1_z")
}

func TestWriteOnFile_ConcurrentWritersEachKeyPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpus.json")

	os.Setenv("SLURM_JOB_ID", "100")
	os.Setenv("SLURM_TASK_PID", "1")
	t.Cleanup(func() {
		os.Unsetenv("SLURM_JOB_ID")
		os.Unsetenv("SLURM_TASK_PID")
	})

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			suffix := fmt.Sprintf("worker%d", i)
			errs <- WriteOnFile(map[string]string{"n": strconv.Itoa(i)}, path, suffix)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, all, n)
	for i := 0; i < n; i++ {
		require.Contains(t, all, Key(fmt.Sprintf("worker%d", i)))
	}
}

func TestReadAll_EmptyFileIsEmptyObject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.Empty(t, all)
}
