package net

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

// ConnState is the transport connection lifecycle. Owned by the Transport;
// the store and UI only observe it.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Replica is the store surface the transport needs: merge for inbound
// snapshots, save for the full-state sync sent on every (re)connect.
type Replica interface {
	MergeIncoming([]byte) error
	Save() ([]byte, error)
}

// controlMessage is the out-of-band text record peers and the relay may
// send alongside binary snapshots.
type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const sendQueueSize = 64

// Transport maintains one websocket connection to the rendezvous relay. It
// never mutates the document: inbound bytes go through Replica.MergeIncoming
// and outbound snapshots are produced by the store. Sends are fire-and-forget;
// a snapshot dropped while offline is covered by the full-state sync that
// runs when the connection comes back.
type Transport struct {
	url     string
	replica Replica
	dialer  *websocket.Dialer
	policy  backoff.BackOff
	maxTry  int

	mu      sync.Mutex
	state   ConnState
	conn    *websocket.Conn
	timer   *time.Timer
	retries int
	closed  bool
	started bool
	onState func(ConnState)

	send chan []byte
	done chan struct{}
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithBackOff replaces the reconnect delay policy. The default is a
// constant 5 second delay, matching the observed behavior; exponential
// policies plug in here.
func WithBackOff(b backoff.BackOff) TransportOption {
	return func(t *Transport) { t.policy = b }
}

// WithMaxReconnects caps reconnect attempts; 0 retries forever.
func WithMaxReconnects(n int) TransportOption {
	return func(t *Transport) { t.maxTry = n }
}

// WithDialer overrides the websocket dialer, for tests.
func WithDialer(d *websocket.Dialer) TransportOption {
	return func(t *Transport) { t.dialer = d }
}

// NewBackOff builds the reconnect policy for a config value: "exponential"
// starts at delay and grows, anything else is a fixed delay.
func NewBackOff(policy string, delay time.Duration) backoff.BackOff {
	if policy == "exponential" {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		b.MaxElapsedTime = 0
		return b
	}
	return backoff.NewConstantBackOff(delay)
}

func NewTransport(url string, replica Replica, opts ...TransportOption) *Transport {
	t := &Transport{
		url:     url,
		replica: replica,
		dialer:  websocket.DefaultDialer,
		policy:  backoff.NewConstantBackOff(5 * time.Second),
		state:   Disconnected,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetOnStateChange installs an observer for connection state transitions.
func (t *Transport) SetOnStateChange(fn func(ConnState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected is the boolean the UI surfaces.
func (t *Transport) IsConnected() bool {
	return t.State() == Connected
}

// Connect starts the connection lifecycle. Safe to call once; subsequent
// calls while the transport is live are no-ops.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.closed || t.state != Disconnected {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(Connecting)
	if !t.started {
		t.started = true
		go t.writePump()
	}
	t.mu.Unlock()
	go t.dial()
}

// Send queues a serialized snapshot for delivery. Never blocks: when the
// queue is full the oldest frame is dropped, since every frame is a full
// snapshot the newest one supersedes it anyway.
func (t *Transport) Send(data []byte) {
	select {
	case t.send <- data:
	default:
		select {
		case <-t.send:
		default:
		}
		select {
		case t.send <- data:
		default:
		}
	}
}

// Close tears the transport down: cancels any pending reconnect timer,
// sends a clean close frame and stops the pumps.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	conn := t.conn
	t.conn = nil
	t.setStateLocked(Disconnected)
	close(t.done)
	t.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
}

func (t *Transport) dial() {
	conn, resp, err := t.dialer.Dial(t.url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		log.Printf("[transport] dial %s failed: %v", t.url, err)
		t.scheduleReconnect()
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.retries = 0
	t.policy.Reset()
	t.setStateLocked(Connected)
	t.mu.Unlock()

	// Full-state sync: the complete document goes out once on every
	// (re)connect, so a peer that missed frames still converges.
	if data, err := t.replica.Save(); err != nil {
		log.Printf("[transport] snapshot for initial sync failed: %v", err)
	} else {
		t.Send(data)
	}

	t.readPump(conn)
}

// readPump consumes frames until the connection dies, then decides between
// a clean stop and a scheduled reconnect.
func (t *Transport) readPump(conn *websocket.Conn) {
	for {
		msgType, r, err := conn.NextReader()
		if err != nil {
			conn.Close()
			t.handleClose(err)
			return
		}
		// Buffer the whole payload; a streamed blob arrives in pieces
		// through this reader and the merge needs the complete snapshot.
		data, err := io.ReadAll(r)
		if err != nil {
			log.Printf("[transport] read payload: %v", err)
			conn.Close()
			t.handleClose(err)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if err := t.replica.MergeIncoming(data); err != nil {
				// Bad payloads are discarded by the store; the
				// connection stays up.
				log.Printf("[transport] dropped inbound snapshot: %v", err)
			}
		case websocket.TextMessage:
			t.handleControl(data)
		}
	}
}

func (t *Transport) handleControl(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[transport] ignoring unparseable text frame")
		return
	}
	switch msg.Type {
	case "error":
		log.Printf("[transport] relay error: %s", msg.Message)
	case "info":
		log.Printf("[transport] relay: %s", msg.Message)
	default:
		// Unknown control types are ignored, not fatal.
	}
}

func (t *Transport) handleClose(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.setStateLocked(Disconnected)
		t.mu.Unlock()
		log.Printf("[transport] connection closed cleanly")
		return
	}
	t.mu.Unlock()
	log.Printf("[transport] connection lost: %v", err)
	t.scheduleReconnect()
}

// scheduleReconnect arms exactly one reconnect attempt after the policy
// delay. Each failed attempt schedules the next, so there is never more
// than one timer pending per transport.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.conn = nil
	t.retries++
	if t.maxTry > 0 && t.retries > t.maxTry {
		log.Printf("[transport] giving up after %d reconnect attempts", t.retries-1)
		t.setStateLocked(Disconnected)
		return
	}
	delay := t.policy.NextBackOff()
	if delay == backoff.Stop {
		t.setStateLocked(Disconnected)
		return
	}
	t.setStateLocked(Reconnecting)
	log.Printf("[transport] reconnecting in %s (attempt %d)", delay, t.retries)
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.setStateLocked(Connecting)
		t.mu.Unlock()
		t.dial()
	})
}

// writePump drains the send queue onto whichever connection is current.
// Frames queued while offline are dropped; the reconnect full-state sync
// makes that safe.
func (t *Transport) writePump() {
	for {
		select {
		case <-t.done:
			return
		case data := <-t.send:
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Printf("[transport] write failed: %v", err)
			}
		}
	}
}

// setStateLocked records a transition; the observer runs on its own
// goroutine so it can call back into the transport.
func (t *Transport) setStateLocked(next ConnState) {
	if t.state == next {
		return
	}
	t.state = next
	if t.onState != nil {
		go t.onState(next)
	}
}
