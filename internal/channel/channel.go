// Package channel implements the classical channel: the peer-to-peer
// mesh QPUs and the executor use to exchange measurements and whole
// QuantumTasks mid-circuit. It models a ROUTER/DEALER style mesh over
// gorilla/websocket, carrying each logical two-part [identity, payload]
// message as a single JSON-encoded websocket text message, since a
// websocket frame already preserves a message boundary the way a raw
// net.Conn stream does not.
package channel

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/perclft/quantumhpc/internal/netutil"
	"github.com/perclft/quantumhpc/internal/registry"
)

// frame is the wire representation of one ZMQ [identity, payload] message.
type frame struct {
	Identity string `json:"identity"`
	Payload  string `json:"payload"`
}

// dealerConn is one outbound connection this channel owns, keyed by the
// logical peer id or endpoint it was connect()-ed with.
type dealerConn struct {
	conn     *websocket.Conn
	identity string
}

// Channel is one process's classical channel: a router socket that
// accepts frames from every connected peer, and a map of dealer sockets
// for outbound sends. Both are owned exclusively by whichever single
// thread drives this channel — a QPU's compute thread, or an executor's
// main loop — matching the "no cross-thread sharing of sockets" rule.
type Channel struct {
	ID       string
	Endpoint string

	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	incoming chan frame

	mu      sync.Mutex
	dealers map[string]*dealerConn
	buffer  map[string][]string
}

// New binds the router socket on the fastest local IPv4 and starts
// accepting peer connections in the background. If id is empty, the
// bound endpoint itself is used as this channel's identity.
func New(id string) (*Channel, error) {
	ip, err := netutil.BestLocalIPv4()
	if err != nil {
		return nil, fmt.Errorf("channel: selecting bind address: %w", err)
	}
	ln, err := net.Listen("tcp", ip+":0")
	if err != nil {
		return nil, fmt.Errorf("channel: bind: %w", err)
	}

	endpoint := fmt.Sprintf("tcp://%s", ln.Addr().String())
	c := &Channel{
		ID:       id,
		Endpoint: endpoint,
		listener: ln,
		dealers:  make(map[string]*dealerConn),
		buffer:   make(map[string][]string),
		incoming: make(chan frame, 64),
	}
	if c.ID == "" {
		c.ID = endpoint
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handle)
	c.http = &http.Server{Handler: mux}

	go func() {
		_ = c.http.Serve(ln)
	}()

	return c, nil
}

func (c *Channel) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			c.incoming <- f
		}
	}()
}

// Publish appends {"communications_endpoint": <bound endpoint>} under
// this process's registry key (optionally suffixed, e.g. by group id) to
// communications.json.
func (c *Channel) Publish(path, suffix string) error {
	entry := map[string]string{"communications_endpoint": c.Endpoint}
	return registry.WriteOnFile(entry, path, suffix)
}

// Connect is idempotent: repeated calls with the same id (or, if id is
// empty, the same endpoint) reuse the existing dealer rather than
// creating a duplicate socket and connection.
func (c *Channel) Connect(endpoint, id string) error {
	key := id
	if key == "" {
		key = endpoint
	}
	return c.connectKeyed(key, endpoint, c.ID)
}

// ConnectForced is the force_endpoint=true variant: the dealer announces
// itself using this channel's own bound endpoint as identity rather than
// its logical id, so the peer recognises it by address. Used by the CC
// backend strategy; the executor connects with the non-forced Connect so
// QPUs recognise it by its fixed id "executor".
func (c *Channel) ConnectForced(endpoint string) error {
	return c.connectKeyed(endpoint, endpoint, c.Endpoint)
}

// ConnectAllForced applies ConnectForced to every endpoint in the slice.
func (c *Channel) ConnectAllForced(endpoints []string) error {
	for _, ep := range endpoints {
		if err := c.ConnectForced(ep); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) connectKeyed(key, endpoint, identity string) error {
	c.mu.Lock()
	if _, exists := c.dealers[key]; exists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(toWSURL(endpoint), nil)
	if err != nil {
		return fmt.Errorf("channel: connect to %s: %w", endpoint, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.dealers[key]; exists {
		// Lost the race with a concurrent connect to the same key.
		conn.Close()
		return nil
	}
	c.dealers[key] = &dealerConn{conn: conn, identity: identity}
	return nil
}

// SendInfo sends data to the dealer keyed target. It is a hard error to
// send to a target this channel has never connected to.
func (c *Channel) SendInfo(data, target string) error {
	c.mu.Lock()
	d, ok := c.dealers[target]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel: no connection established with %q", target)
	}
	payload, err := json.Marshal(frame{Identity: d.identity, Payload: data})
	if err != nil {
		return fmt.Errorf("channel: encode frame: %w", err)
	}
	if err := d.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("channel: send to %s: %w", target, err)
	}
	return nil
}

// RecvInfo returns the next frame whose sender identity equals origin,
// draining out-of-order arrivals from other senders into a per-origin FIFO
// buffer so no message is ever lost, only reordered across origins.
func (c *Channel) RecvInfo(origin string) (string, error) {
	c.mu.Lock()
	if q := c.buffer[origin]; len(q) > 0 {
		payload := q[0]
		c.buffer[origin] = q[1:]
		c.mu.Unlock()
		return payload, nil
	}
	c.mu.Unlock()

	for {
		f, ok := <-c.incoming
		if !ok {
			return "", fmt.Errorf("channel: router closed while waiting for %q", origin)
		}
		if f.Identity == origin {
			return f.Payload, nil
		}
		c.mu.Lock()
		c.buffer[f.Identity] = append(c.buffer[f.Identity], f.Payload)
		c.mu.Unlock()
	}
}

// SendMeasure is the integer convenience wrapper over SendInfo, decimal
// encoding the measurement bit.
func (c *Channel) SendMeasure(measurement int, target string) error {
	return c.SendInfo(strconv.Itoa(measurement), target)
}

// RecvMeasure is the integer convenience wrapper over RecvInfo.
func (c *Channel) RecvMeasure(origin string) (int, error) {
	payload, err := c.RecvInfo(origin)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(payload)
}

// Close releases the router socket and every dealer connection.
func (c *Channel) Close() {
	c.mu.Lock()
	for k, d := range c.dealers {
		d.conn.Close()
		delete(c.dealers, k)
	}
	c.mu.Unlock()
	_ = c.listener.Close()
}

// toWSURL turns a "tcp://host:port" endpoint, as published in
// communications.json, into the "ws://host:port/" URL gorilla/websocket
// dials.
func toWSURL(endpoint string) string {
	const tcpPrefix = "tcp://"
	if len(endpoint) >= len(tcpPrefix) && endpoint[:len(tcpPrefix)] == tcpPrefix {
		return "ws://" + endpoint[len(tcpPrefix):] + "/"
	}
	return endpoint
}
