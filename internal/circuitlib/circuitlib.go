// Package circuitlib implements the CircuitLibrary gRPC service: a
// PostgreSQL-backed store of named circuits, generalized from the
// teacher's single-qubit-op-list shape to this system's Instruction list
// so a QuantumTask can name a library entry instead of inlining its
// instructions.
package circuitlib

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/perclft/quantumhpc/internal/task"
)

// Record is a row of the circuits table.
type Record struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Author       string              `json:"author"`
	NumClbits    int32               `json:"num_clbits"`
	Instructions []task.Instruction  `json:"instructions"`
	ForkCount    int32               `json:"fork_count"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Server implements the CircuitLibrary gRPC service.
type Server struct {
	db *sql.DB
}

// NewServer wraps an already-open database handle.
func NewServer(db *sql.DB) *Server {
	return &Server{db: db}
}

// InitSchema creates the circuits table if it does not already exist.
func InitSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS circuits (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		author VARCHAR(255) NOT NULL DEFAULT 'anonymous',
		num_clbits INTEGER NOT NULL,
		instructions_json JSONB NOT NULL,
		fork_count INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_circuits_author ON circuits(author);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveCircuitRequest describes a new circuit to persist.
type SaveCircuitRequest struct {
	Name         string
	Author       string
	NumClbits    int32
	Instructions []task.Instruction
}

func (s *Server) SaveCircuit(ctx context.Context, req *SaveCircuitRequest) (*Record, error) {
	if req.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "name required")
	}
	instrJSON, err := json.Marshal(req.Instructions)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding instructions: %v", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO circuits (id, name, author, num_clbits, instructions_json) VALUES ($1, $2, $3, $4, $5)`,
		id, req.Name, req.Author, req.NumClbits, instrJSON)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "saving circuit: %v", err)
	}

	return s.LoadCircuit(ctx, &LoadCircuitRequest{ID: id})
}

// LoadCircuitRequest names the circuit to fetch.
type LoadCircuitRequest struct {
	ID string
}

func (s *Server) LoadCircuit(ctx context.Context, req *LoadCircuitRequest) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, author, num_clbits, instructions_json, fork_count, created_at, updated_at
		 FROM circuits WHERE id = $1`, req.ID)

	var rec Record
	var instrJSON []byte
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Author, &rec.NumClbits, &instrJSON, &rec.ForkCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, status.Errorf(codes.NotFound, "circuit %q not found", req.ID)
		}
		return nil, status.Errorf(codes.Internal, "loading circuit: %v", err)
	}
	if err := json.Unmarshal(instrJSON, &rec.Instructions); err != nil {
		return nil, status.Errorf(codes.Internal, "decoding instructions: %v", err)
	}
	return &rec, nil
}

// ListCircuitsRequest optionally narrows the listing to one author.
type ListCircuitsRequest struct {
	Author string
}

// ListCircuitsResponse carries matching circuits without their
// instruction bodies, mirroring a summary listing.
type ListCircuitsResponse struct {
	Circuits []*Record
}

func (s *Server) ListCircuits(ctx context.Context, req *ListCircuitsRequest) (*ListCircuitsResponse, error) {
	var rows *sql.Rows
	var err error
	if req.Author != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, author, num_clbits, fork_count, created_at, updated_at FROM circuits WHERE author = $1 ORDER BY created_at DESC`,
			req.Author)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, author, num_clbits, fork_count, created_at, updated_at FROM circuits ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing circuits: %v", err)
	}
	defer rows.Close()

	resp := &ListCircuitsResponse{}
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Author, &rec.NumClbits, &rec.ForkCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, status.Errorf(codes.Internal, "scanning circuit row: %v", err)
		}
		resp.Circuits = append(resp.Circuits, rec)
	}
	return resp, nil
}

// ForkCircuitRequest names a source circuit and the name the fork gets.
type ForkCircuitRequest struct {
	SourceID string
	NewName  string
	Author   string
}

func (s *Server) ForkCircuit(ctx context.Context, req *ForkCircuitRequest) (*Record, error) {
	src, err := s.LoadCircuit(ctx, &LoadCircuitRequest{ID: req.SourceID})
	if err != nil {
		return nil, err
	}
	fork, err := s.SaveCircuit(ctx, &SaveCircuitRequest{
		Name:         req.NewName,
		Author:       req.Author,
		NumClbits:    src.NumClbits,
		Instructions: src.Instructions,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE circuits SET fork_count = fork_count + 1 WHERE id = $1`, src.ID); err != nil {
		return nil, status.Errorf(codes.Internal, "bumping fork count: %v", err)
	}
	return fork, nil
}

// DeleteCircuitRequest names the circuit to remove.
type DeleteCircuitRequest struct {
	ID string
}

// DeleteCircuitResponse reports whether a row was actually removed.
type DeleteCircuitResponse struct {
	Deleted bool
}

func (s *Server) DeleteCircuit(ctx context.Context, req *DeleteCircuitRequest) (*DeleteCircuitResponse, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM circuits WHERE id = $1`, req.ID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "deleting circuit: %v", err)
	}
	n, _ := res.RowsAffected()
	return &DeleteCircuitResponse{Deleted: n > 0}, nil
}

// Resolve loads a library circuit and returns its instructions and clbit
// width, for the caller to put in place of instructions it did not
// inline — the hook a QPU's ingress path calls before handing the task to
// a backend strategy, when the incoming message names a circuit_id
// instead of carrying instructions directly.
func (s *Server) Resolve(ctx context.Context, circuitID string) ([]task.Instruction, int32, error) {
	rec, err := s.LoadCircuit(ctx, &LoadCircuitRequest{ID: circuitID})
	if err != nil {
		return nil, 0, err
	}
	return rec.Instructions, rec.NumClbits, nil
}
