// Package clientsock implements the QPU's client-facing request/reply
// socket: a single bound listener multiplexing many simultaneously
// connected clients by routing id. It uses a websocket listener, since
// gorilla/websocket preserves message boundaries the way a raw net.Conn
// stream does not; one accepted connection stands in for one routing id.
package clientsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/perclft/quantumhpc/internal/netutil"
)

// Close is the sentinel RecvData returns both when a client deliberately
// sends the literal text "CLOSE" and when the underlying transport fails;
// either way the listen loop treats the session as over and moves on.
const Close = "CLOSE"

// ServerError wraps a send/receive failure against a specific client
// connection — "peer gone" in spec terms. It is always non-fatal to the
// QPU process.
type ServerError struct {
	Err error
}

func (e *ServerError) Error() string { return fmt.Sprintf("clientsock: %v", e.Err) }
func (e *ServerError) Unwrap() error { return e.Err }

type inbound struct {
	routingID string
	payload   string
	isClose   bool
}

// Server is the QPU's client socket. Mode selects the bind address:
// "hpc" binds 127.0.0.1:0 (kernel-assigned port), anything else binds the
// fastest non-loopback local IPv4 (see internal/netutil).
type Server struct {
	Mode     string
	Nodename string
	Endpoint string

	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	incoming chan inbound

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	pending []string
}

// New binds the server socket and starts accepting connections in the
// background. The bound endpoint is available on Endpoint immediately for
// publishing into qpus.json.
func New(mode, nodename string) (*Server, error) {
	ip := "127.0.0.1"
	if mode != "hpc" {
		best, err := netutil.BestLocalIPv4()
		if err != nil {
			return nil, fmt.Errorf("clientsock: selecting bind address: %w", err)
		}
		ip = best
	}

	ln, err := net.Listen("tcp", ip+":0")
	if err != nil {
		return nil, fmt.Errorf("clientsock: bind: %w", err)
	}

	s := &Server{
		Mode:     mode,
		Nodename: nodename,
		Endpoint: fmt.Sprintf("tcp://%s", ln.Addr().String()),
		listener: ln,
		conns:    make(map[string]*websocket.Conn),
		incoming: make(chan inbound, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.http = &http.Server{Handler: mux}

	go func() {
		_ = s.http.Serve(ln)
	}()

	return s, nil
}

// Accept is a no-op kept for API symmetry; connections are accepted
// continuously by the background HTTP server started in New.
func (s *Server) Accept() {}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	routingID := uuid.NewString()

	s.mu.Lock()
	s.conns[routingID] = conn
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.incoming <- inbound{routingID: routingID, payload: Close, isClose: true}
			s.dropConn(routingID)
			return
		}
		payload := string(data)
		if payload == Close {
			s.incoming <- inbound{routingID: routingID, payload: Close, isClose: true}
			s.dropConn(routingID)
			return
		}
		s.incoming <- inbound{routingID: routingID, payload: payload}
	}
}

func (s *Server) dropConn(routingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[routingID]; ok {
		conn.Close()
		delete(s.conns, routingID)
	}
}

// RecvData returns the next client payload. It returns Close (and no
// routing id is queued for reply) when a client sent the literal "CLOSE"
// text or when the connection failed — both are graceful-close signals to
// the caller, never a process-fatal error.
func (s *Server) RecvData() string {
	msg, ok := <-s.incoming
	if !ok {
		return Close
	}
	if msg.isClose {
		return Close
	}
	s.mu.Lock()
	s.pending = append(s.pending, msg.routingID)
	s.mu.Unlock()
	return msg.payload
}

// SendResult replies to the oldest un-replied routing id. If that client
// has already disconnected the error is wrapped in ServerError so callers
// can distinguish "peer gone" from a true backend failure and swallow it.
func (s *Server) SendResult(result string) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return &ServerError{Err: errors.New("no pending client to reply to")}
	}
	routingID := s.pending[0]
	s.pending = s.pending[1:]
	conn, ok := s.conns[routingID]
	s.mu.Unlock()

	if !ok {
		return &ServerError{Err: fmt.Errorf("client %s already disconnected", routingID)}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
		return &ServerError{Err: err}
	}
	return nil
}

// NetInfo is the {"mode","nodename","endpoint"} object published under
// the "net" key of a qpus.json registry entry.
type NetInfo struct {
	Mode     string `json:"mode"`
	Nodename string `json:"nodename"`
	Endpoint string `json:"endpoint"`
}

// NetInfo snapshots the server's bind info for registry publication.
func (s *Server) NetInfo() NetInfo {
	return NetInfo{Mode: s.Mode, Nodename: s.Nodename, Endpoint: s.Endpoint}
}

// Close shuts the server socket down, releasing the listening port and
// every accepted connection.
func (s *Server) Close() error {
	s.mu.Lock()
	for id, conn := range s.conns {
		conn.Close()
		delete(s.conns, id)
	}
	s.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return s.http.Shutdown(ctx)
}
