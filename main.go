package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"boardsync/internal/config"
	"boardsync/internal/export"
	"boardsync/internal/identity"
	boardnet "boardsync/internal/net"
	"boardsync/internal/state"
)

func main() {
	cfg := config.Load()

	mode := "client"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case "host":
		runHost(cfg)
	case "client":
		runClient(cfg, cfg.RelayURL)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [host|client]\n", os.Args[0])
		os.Exit(2)
	}
}

// runHost starts the relay, announces it on the LAN, and then joins its own
// board as a regular client.
func runHost(cfg config.Config) {
	log.Println("Starting as HOST")
	relay := boardnet.NewRelay()
	go relay.Run()

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: relay.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("relay server: %v", err)
		}
	}()

	port := listenPort(cfg.ListenAddr)
	if cfg.EnableMDNS {
		if mdnsServer, err := boardnet.Advertise(port); err != nil {
			log.Printf("mDNS advertise failed: %v", err)
		} else {
			defer mdnsServer.Shutdown()
		}
	}
	if ip, err := boardnet.OutgoingIP(); err == nil {
		log.Printf("Share this board: ws://%s:%d/ws", ip, port)
	}

	runClient(cfg, fmt.Sprintf("ws://127.0.0.1:%d/ws", port))
}

// runClient brings up a replica and connects it to the relay. Identity is
// loaded first; the store and presence code depend on it.
func runClient(cfg config.Config, relayURL string) {
	actor, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	log.Printf("Acting as %s", actor)

	opts := []state.Option{}
	if cfg.SnapshotPath != "" {
		if data, err := os.ReadFile(cfg.SnapshotPath); err == nil {
			opts = append(opts, state.WithSnapshot(data))
		}
	}
	store, err := state.NewStore(actor, opts...)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	if relayURL == "" {
		relayURL, err = boardnet.Discover()
		if err != nil {
			log.Fatalf("no relay configured and discovery failed: %v", err)
		}
		log.Printf("Discovered relay at %s", relayURL)
	}

	tr := boardnet.NewTransport(relayURL, replicaAdapter{store},
		boardnet.WithBackOff(boardnet.NewBackOff(cfg.ReconnectPolicy, cfg.ReconnectDelay)),
		boardnet.WithMaxReconnects(cfg.MaxReconnects),
	)
	store.SetOnBroadcast(tr.Send)
	tr.SetOnStateChange(func(s boardnet.ConnState) {
		log.Printf("Connection: %s", s)
	})
	tr.Connect()
	defer tr.Close()

	// Two independent presence producers feed the same UpdateCursor entry
	// point: explicit moves from the console, and a fixed-cadence heartbeat
	// that keeps a stationary cursor live for peers.
	pointer := &pointerState{}
	stopHeartbeat := make(chan struct{})
	go heartbeat(store, pointer, cfg.HeartbeatInterval, stopHeartbeat)
	defer close(stopHeartbeat)

	console(store, tr, pointer, cfg)

	if cfg.SnapshotPath != "" {
		if data, err := store.Save(); err == nil {
			if err := os.WriteFile(cfg.SnapshotPath, data, 0o600); err != nil {
				log.Printf("saving replica: %v", err)
			}
		}
	}
}

// replicaAdapter narrows the store to the surface the transport needs.
type replicaAdapter struct {
	store *state.Store
}

func (r replicaAdapter) MergeIncoming(data []byte) error {
	_, err := r.store.MergeIncoming(data)
	return err
}

func (r replicaAdapter) Save() ([]byte, error) {
	return r.store.Save()
}

// pointerState remembers the last local pointer position for the heartbeat.
type pointerState struct {
	mu    sync.Mutex
	pos   state.Point
	known bool
}

func (p *pointerState) set(x, y float32) {
	p.mu.Lock()
	p.pos = state.Point{X: x, Y: y}
	p.known = true
	p.mu.Unlock()
}

func (p *pointerState) get() (state.Point, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos, p.known
}

func heartbeat(store *state.Store, pointer *pointerState, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if pos, ok := pointer.get(); ok {
				if _, err := store.UpdateCursor(store.Actor(), pos.X, pos.Y); err != nil {
					log.Printf("heartbeat: %v", err)
				}
			}
		}
	}
}

func console(store *state.Store, tr *boardnet.Transport, pointer *pointerState, cfg config.Config) {
	fmt.Println("Commands: stroke x,y x,y ... | note x y text | edit id text | title text |")
	fmt.Println("          cursor x y | list | who | status | save file | export file | reset | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "quit", "exit":
			return
		case "stroke":
			points := parsePoints(args)
			if _, err := store.AddStroke(points, "#000000", 2); err != nil {
				fmt.Println("error:", err)
			}
		case "note":
			if len(args) < 2 {
				fmt.Println("usage: note x y text")
				continue
			}
			x, y := parseFloat(args[0]), parseFloat(args[1])
			text := strings.Join(args[2:], " ")
			if _, err := store.AddNote(text, state.Point{X: x, Y: y}, "#fff176"); err != nil {
				fmt.Println("error:", err)
			}
		case "edit":
			if len(args) < 1 {
				fmt.Println("usage: edit id text")
				continue
			}
			if _, err := store.UpdateNote(args[0], strings.Join(args[1:], " ")); err != nil {
				fmt.Println("error:", err)
			}
		case "title":
			if _, err := store.UpdateTitle(strings.Join(args, " ")); err != nil {
				fmt.Println("error:", err)
			}
		case "cursor":
			if len(args) != 2 {
				fmt.Println("usage: cursor x y")
				continue
			}
			x, y := parseFloat(args[0]), parseFloat(args[1])
			pointer.set(x, y)
			if _, err := store.UpdateCursor(store.Actor(), x, y); err != nil {
				fmt.Println("error:", err)
			}
		case "list":
			printElements(store.Document())
		case "who":
			doc := store.Document()
			if !doc.Valid() {
				continue
			}
			live := state.LiveCursors(doc.Canvas.Cursors, store.Actor(), time.Now(), cfg.LivenessWindow)
			for actor, cur := range live {
				fmt.Printf("%s at (%.0f, %.0f)\n", actor, cur.Pos.X, cur.Pos.Y)
			}
		case "status":
			fmt.Printf("connected: %v, ops: %d", tr.IsConnected(), store.OpCount())
			if err := store.InitializationError(); err != nil {
				fmt.Printf(", init error: %v", err)
			}
			fmt.Println()
		case "save":
			if len(args) != 1 {
				fmt.Println("usage: save file")
				continue
			}
			data, err := store.Save()
			if err == nil {
				err = os.WriteFile(args[0], data, 0o600)
			}
			if err != nil {
				fmt.Println("error:", err)
			}
		case "export":
			if len(args) != 1 {
				fmt.Println("usage: export file")
				continue
			}
			data, err := export.PDF(store.Document())
			if err == nil {
				err = os.WriteFile(args[0], data, 0o600)
			}
			if err != nil {
				fmt.Println("error:", err)
			}
		case "reset":
			store.Reset()
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}

func printElements(doc *state.Document) {
	if !doc.Valid() {
		fmt.Println("(no canvas)")
		return
	}
	fmt.Printf("title: %s\n", doc.Canvas.Title)
	for _, el := range doc.Canvas.Elements {
		switch e := el.(type) {
		case state.Stroke:
			fmt.Printf("stroke %s by %s, %d points\n", e.ID, e.Creator, len(e.Points))
		case state.Note:
			fmt.Printf("note %s by %s at (%.0f, %.0f): %q\n", e.ID, e.Creator, e.Pos.X, e.Pos.Y, e.Text)
		}
	}
}

func parsePoints(args []string) []state.Point {
	points := make([]state.Point, 0, len(args))
	for _, a := range args {
		xy := strings.SplitN(a, ",", 2)
		if len(xy) != 2 {
			continue
		}
		points = append(points, state.Point{X: parseFloat(xy[0]), Y: parseFloat(xy[1])})
	}
	return points
}

func parseFloat(s string) float32 {
	f, _ := strconv.ParseFloat(s, 32)
	return float32(f)
}

func listenPort(addr string) int {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return 8888
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return 8888
	}
	return port
}
