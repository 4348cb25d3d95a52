// Package fleetcontrol implements the FleetControl gRPC service: a
// stateless remote view over the two file-locked registries, for
// inspecting and cleaning up the QPU/communications entries a batch job
// leaves behind.
package fleetcontrol

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/perclft/quantumhpc/internal/registry"
)

// Server implements the FleetControl gRPC service over the registry
// package; it holds no state of its own beyond the two file paths.
type Server struct {
	QPUsPath           string
	CommunicationsPath string
}

// NewServer builds a Server reading and writing the given registry files.
func NewServer(qpusPath, communicationsPath string) *Server {
	return &Server{QPUsPath: qpusPath, CommunicationsPath: communicationsPath}
}

// ListQPUsRequest optionally narrows the listing to entries whose key
// contains family.
type ListQPUsRequest struct {
	Family string
}

// ListQPUsResponse carries the matching qpus.json entries, still encoded
// as JSON documents since their shape is backend-defined.
type ListQPUsResponse struct {
	Entries map[string]string
}

func (s *Server) ListQPUs(ctx context.Context, req *ListQPUsRequest) (*ListQPUsResponse, error) {
	raw, err := registry.ReadAll(s.QPUsPath)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reading qpus registry: %v", err)
	}
	return &ListQPUsResponse{Entries: filterByKey(raw, req.Family)}, nil
}

// ListCommunicationsRequest optionally narrows the listing to entries
// whose key contains Family.
type ListCommunicationsRequest struct {
	Family string
}

// ListCommunicationsResponse carries the matching communications.json
// entries.
type ListCommunicationsResponse struct {
	Entries map[string]string
}

func (s *Server) ListCommunications(ctx context.Context, req *ListCommunicationsRequest) (*ListCommunicationsResponse, error) {
	raw, err := registry.ReadAll(s.CommunicationsPath)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reading communications registry: %v", err)
	}
	return &ListCommunicationsResponse{Entries: filterByKey(raw, req.Family)}, nil
}

// DropByPrefixRequest names the job-id prefix whose registry entries
// should be removed from both registries.
type DropByPrefixRequest struct {
	Prefix string
}

// DropByPrefixResponse reports success; the registry package itself
// never partially commits a removal.
type DropByPrefixResponse struct {
	Success bool
}

func (s *Server) DropByPrefix(ctx context.Context, req *DropByPrefixRequest) (*DropByPrefixResponse, error) {
	if req.Prefix == "" {
		return nil, status.Error(codes.InvalidArgument, "prefix required")
	}
	if err := registry.RemoveFromFile(s.QPUsPath, req.Prefix); err != nil {
		return nil, status.Errorf(codes.Internal, "dropping qpus entries: %v", err)
	}
	if err := registry.RemoveFromFile(s.CommunicationsPath, req.Prefix); err != nil {
		return nil, status.Errorf(codes.Internal, "dropping communications entries: %v", err)
	}
	return &DropByPrefixResponse{Success: true}, nil
}

func filterByKey(raw map[string]json.RawMessage, substr string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if substr != "" && !strings.Contains(k, substr) {
			continue
		}
		out[k] = string(v)
	}
	return out
}
