// Package config collects the environment-variable and flag conventions
// shared by every binary in this repository: SLURM identity, the .cunqa
// state directory, and the optional addresses of the auxiliary gRPC
// services.
package config

import (
	"os"
	"path/filepath"
)

const unknown = "UNKNOWN"

// SlurmJobID returns $SLURM_JOB_ID, or "UNKNOWN" if unset, matching the
// registry key-schema fallback required when running outside a batch job.
func SlurmJobID() string {
	return envOr("SLURM_JOB_ID", unknown)
}

// SlurmTaskPID returns $SLURM_TASK_PID, or "UNKNOWN" if unset.
func SlurmTaskPID() string {
	return envOr("SLURM_TASK_PID", unknown)
}

// SlurmNodename returns $SLURMD_NODENAME, or "login" if unset.
func SlurmNodename() string {
	return envOr("SLURMD_NODENAME", "login")
}

// StoreDir returns $STORE, or the current working directory if unset.
func StoreDir() string {
	if v := os.Getenv("STORE"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// CunqaDir is $STORE/.cunqa, the well-known directory holding the two
// registry files.
func CunqaDir() string {
	return filepath.Join(StoreDir(), ".cunqa")
}

// QPUsFilePath is $STORE/.cunqa/qpus.json.
func QPUsFilePath() string {
	return filepath.Join(CunqaDir(), "qpus.json")
}

// CommunicationsFilePath is $STORE/.cunqa/communications.json.
func CommunicationsFilePath() string {
	return filepath.Join(CunqaDir(), "communications.json")
}

// FleetControlAddr returns $FLEETCTL_ADDR, or def if unset.
func FleetControlAddr(def string) string {
	return envOr("FLEETCTL_ADDR", def)
}

// CircuitLibraryAddr returns $CIRCUITLIB_ADDR, or def if unset.
func CircuitLibraryAddr(def string) string {
	return envOr("CIRCUITLIB_ADDR", def)
}

// ExecutionCacheAddr returns $EXECCACHE_ADDR, or def if unset.
func ExecutionCacheAddr(def string) string {
	return envOr("EXECCACHE_ADDR", def)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
