// Package registry implements the file-locked JSON registries
// (qpus.json, communications.json) that independently launched QPU and
// executor processes use to rendezvous. Every write is a whole-file
// read-modify-write under an advisory POSIX lock over a shared JSON file,
// so cooperating processes started by a batch scheduler can discover each
// other without running a database.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/perclft/quantumhpc/internal/config"
)

// Error is the single error kind surfaced for every registry failure:
// open, lock, read, truncate or write. Callers treat the operation as
// fatal; the registry itself never partially commits a write.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Key computes the "<job_id>_<task_pid>[_<suffix>]" key used by both
// registries, substituting "UNKNOWN" for missing SLURM environment
// variables so local development still works.
func Key(suffix string) string {
	jobID := config.SlurmJobID()
	pid := config.SlurmTaskPID()
	key := jobID + "_" + pid
	if suffix != "" {
		key += "_" + suffix
	}
	return key
}

// WriteOnFile opens path (creating it if absent), takes an exclusive
// whole-file lock, reads the current object (treating an empty or
// unparsable file as {}), sets obj[Key(suffix)] = entry, and writes the
// result back pretty-printed with a four-space indent before releasing
// the lock. The truncate-then-write-then-fsync-then-unlock ordering
// ensures a crash never leaves a reader observing a half-written file.
func WriteOnFile(entry any, path, suffix string) error {
	return withLockedFile(path, func(f *os.File) error {
		obj, err := readObject(f)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return &Error{Op: "marshal", Err: err}
		}
		obj[Key(suffix)] = json.RawMessage(encoded)
		return writeObject(f, obj)
	})
}

// RemoveFromFile rebuilds the object at path, keeping only keys that do
// not start with prefix.
func RemoveFromFile(path, prefix string) error {
	return withLockedFile(path, func(f *os.File) error {
		obj, err := readObject(f)
		if err != nil {
			return err
		}
		out := make(map[string]json.RawMessage, len(obj))
		for k, v := range obj {
			if !strings.HasPrefix(k, prefix) {
				out[k] = v
			}
		}
		return writeObject(f, out)
	})
}

// SetField merges a single field into the existing entry at Key(suffix),
// creating the entry as an empty object if it does not exist yet. This is
// how the AER-executor variant adds "executor_endpoint" alongside the
// "communications_endpoint" a QPU already published under the same key,
// without clobbering the rest of the entry the way WriteOnFile would.
func SetField(path, suffix, field string, value any) error {
	return withLockedFile(path, func(f *os.File) error {
		obj, err := readObject(f)
		if err != nil {
			return err
		}
		key := Key(suffix)
		entry := map[string]any{}
		if raw, ok := obj[key]; ok {
			_ = json.Unmarshal(raw, &entry)
		}
		entry[field] = value
		encoded, err := json.Marshal(entry)
		if err != nil {
			return &Error{Op: "marshal", Err: err}
		}
		obj[key] = json.RawMessage(encoded)
		return writeObject(f, obj)
	})
}

// ReadAll returns a snapshot of the object at path without locking for
// writing; callers that only read (Fleet Control's list operations) take
// a shared lock so they never observe a half-written file either.
func ReadAll(path string) (map[string]json.RawMessage, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o666)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	defer f.Close()

	if err := flockShared(f); err != nil {
		return nil, &Error{Op: "lock", Err: err}
	}
	defer flockUnlock(f)

	return readObject(f)
}

func withLockedFile(path string, fn func(f *os.File) error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return &Error{Op: "open", Err: err}
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		return &Error{Op: "lock", Err: err}
	}
	defer flockUnlock(f)

	if err := fn(f); err != nil {
		return err
	}
	return nil
}

func readObject(f *os.File) (map[string]json.RawMessage, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, &Error{Op: "seek", Err: err}
	}
	data, err := readAllFile(f)
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		// A parse error on an existing file is treated the same as an
		// empty file: callers always get a usable object to write into.
		return map[string]json.RawMessage{}, nil
	}
	return obj, nil
}

func writeObject(f *os.File, obj map[string]json.RawMessage) error {
	out, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return &Error{Op: "marshal", Err: err}
	}
	if err := f.Truncate(0); err != nil {
		return &Error{Op: "truncate", Err: err}
	}
	if _, err := f.Seek(0, 0); err != nil {
		return &Error{Op: "seek", Err: err}
	}
	if _, err := f.Write(out); err != nil {
		return &Error{Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &Error{Op: "fsync", Err: err}
	}
	return nil
}

func readAllFile(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := f.Read(buf)
	return buf[:n], err
}
