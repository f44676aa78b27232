package net

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// frame is one inbound message being fanned out, with its websocket type
// preserved so binary snapshots stay binary and control notices stay text.
type frame struct {
	msgType int
	data    []byte
	from    *relayClient
}

type relayClient struct {
	conn *websocket.Conn
	send chan frame
}

// Relay is the rendezvous endpoint: every replica holds one connection to
// it, and every frame a replica sends is relayed verbatim to all other
// replicas. The relay persists nothing and never inspects snapshots; merge
// semantics live entirely in the replicas.
type Relay struct {
	upgrader   websocket.Upgrader
	clients    map[*relayClient]bool
	register   chan *relayClient
	unregister chan *relayClient
	broadcast  chan frame
}

func NewRelay() *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*relayClient]bool),
		register:   make(chan *relayClient),
		unregister: make(chan *relayClient),
		broadcast:  make(chan frame, 64),
	}
}

// Router returns the HTTP routes the relay serves.
func (rl *Relay) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", rl.serveWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

// Run drives the hub loop. Blocks; run it on its own goroutine.
func (rl *Relay) Run() {
	for {
		select {
		case c := <-rl.register:
			rl.clients[c] = true
			log.Printf("[relay] client joined, %d connected", len(rl.clients))
			rl.sendControl(c, "info", "connected to board relay")
		case c := <-rl.unregister:
			if _, ok := rl.clients[c]; ok {
				delete(rl.clients, c)
				close(c.send)
				log.Printf("[relay] client left, %d connected", len(rl.clients))
			}
		case f := <-rl.broadcast:
			for c := range rl.clients {
				if c == f.from {
					continue
				}
				select {
				case c.send <- f:
				default:
					// Slow consumer; drop it rather than stall the hub.
					close(c.send)
					delete(rl.clients, c)
				}
			}
		}
	}
}

func (rl *Relay) sendControl(c *relayClient, kind, text string) {
	data, err := json.Marshal(controlMessage{Type: kind, Message: text})
	if err != nil {
		return
	}
	select {
	case c.send <- frame{msgType: websocket.TextMessage, data: data}:
	default:
	}
}

func (rl *Relay) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}
	c := &relayClient{conn: conn, send: make(chan frame, 64)}
	rl.register <- c
	go c.writePump()
	go c.readPump(rl)
}

func (c *relayClient) readPump(rl *Relay) {
	defer func() {
		rl.unregister <- c
		c.conn.Close()
	}()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage, websocket.TextMessage:
			rl.broadcast <- frame{msgType: msgType, data: data, from: c}
		}
	}
}

func (c *relayClient) writePump() {
	defer c.conn.Close()
	for f := range c.send {
		if err := c.conn.WriteMessage(f.msgType, f.data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
