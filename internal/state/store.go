package state

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoPoints is returned when a stroke is added without any points.
	ErrNoPoints = errors.New("stroke needs at least one point")
	// ErrBadWidth is returned when a stroke width is zero or negative.
	ErrBadWidth = errors.New("stroke width must be positive")
	// ErrNoSnapshot means no persisted snapshot was supplied to load from.
	ErrNoSnapshot = errors.New("no snapshot to load")
)

// InitError is the terminal initialization failure: the document could not
// be brought to a valid shape within the repair budget. Recoverable only by
// an explicit Reset.
type InitError struct {
	Attempts int
}

func (e *InitError) Error() string {
	return fmt.Sprintf("document initialization failed after %d repair attempts", e.Attempts)
}

const maxRepairAttempts = 3

// Store owns one replica of the board document. All mutation operations
// apply to the local document synchronously, independent of connectivity;
// the serialized result is handed to the OnBroadcast observer afterwards,
// fire-and-forget. Merging a remote snapshot is a union of operation
// histories, so it is commutative, associative and idempotent: replicas
// that have seen the same operations hold identical documents.
type Store struct {
	mu      sync.RWMutex
	actor   string
	clock   Clock
	vector  versionVector
	seq     uint64 // own counter; survives Reset so OpIDs are never reused
	ops     map[OpID]Op
	cursors map[string]cursorRecord
	doc     *Document
	repairs int
	initErr error
	now     func() time.Time

	onBroadcast func([]byte)
	onUpdate    func(*Document)
}

type storeConfig struct {
	snapshot []byte
	now      func() time.Time
}

// Option configures a Store at construction time.
type Option func(*storeConfig)

// WithSnapshot supplies persisted replica bytes; when decodable they become
// the first initialization strategy.
func WithSnapshot(data []byte) Option {
	return func(c *storeConfig) { c.snapshot = data }
}

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *storeConfig) { c.now = now }
}

// initStrategy is one way of bringing up the document. Strategies are tried
// in order; the first success wins.
type initStrategy struct {
	name string
	run  func(s *Store, cfg *storeConfig) error
}

var initStrategies = []initStrategy{
	{"snapshot", func(s *Store, cfg *storeConfig) error {
		if cfg.snapshot == nil {
			return ErrNoSnapshot
		}
		sn, err := decodeSnapshot(cfg.snapshot)
		if err != nil {
			return err
		}
		s.adoptLocked(sn)
		return nil
	}},
	{"fresh", func(s *Store, cfg *storeConfig) error {
		s.doc = NewDocument()
		return nil
	}},
	{"bare", func(s *Store, cfg *storeConfig) error {
		// Last resort: a document without its canvas. The store comes up
		// degraded and repairs on the first mutation.
		s.doc = &Document{}
		return nil
	}},
}

// NewStore creates the replica for the given actor id. The actor id must be
// the stable identity produced by the identity service; it tags every
// operation emitted here.
func NewStore(actor string, opts ...Option) (*Store, error) {
	if actor == "" {
		return nil, errors.New("store needs an actor id")
	}
	cfg := &storeConfig{now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	// Timestamps travel through JSON; normalizing to UTC up front keeps a
	// local op byte-for-byte identical to its decoded twin on a peer.
	wallNow := cfg.now
	s := &Store{
		actor:   actor,
		vector:  make(versionVector),
		ops:     make(map[OpID]Op),
		cursors: make(map[string]cursorRecord),
		now:     func() time.Time { return wallNow().UTC() },
	}
	for _, st := range initStrategies {
		if err := st.run(s, cfg); err != nil {
			log.Printf("[store] init strategy %q failed: %v", st.name, err)
			continue
		}
		log.Printf("[store] initialized via %q strategy", st.name)
		return s, nil
	}
	return nil, &InitError{Attempts: len(initStrategies)}
}

// SetOnBroadcast installs the observer that receives the serialized replica
// after every successful local mutation. The callback must not block; the
// transport buffers internally.
func (s *Store) SetOnBroadcast(fn func([]byte)) {
	s.mu.Lock()
	s.onBroadcast = fn
	s.mu.Unlock()
}

// SetOnUpdate installs the observer notified with the new document snapshot
// after every local mutation or merge.
func (s *Store) SetOnUpdate(fn func(*Document)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Actor returns the stable actor id this replica stamps on its operations.
func (s *Store) Actor() string { return s.actor }

// Document returns the current snapshot. Snapshots are immutable; a new one
// is built for every change, so callers may hold on to the pointer.
func (s *Store) Document() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// InitializationError reports the terminal init failure, or nil.
func (s *Store) InitializationError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initErr
}

// OpCount returns the size of the operation history.
func (s *Store) OpCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops)
}

// AddStroke appends a freehand stroke with a fresh id and returns the new
// snapshot. At least one point and a positive width are required.
func (s *Store) AddStroke(points []Point, color string, width int) (*Document, error) {
	if len(points) < 1 {
		return s.Document(), ErrNoPoints
	}
	if width <= 0 {
		return s.Document(), ErrBadWidth
	}
	s.mu.Lock()
	if err := s.repairLocked(); err != nil {
		s.mu.Unlock()
		return s.doc, err
	}
	op := s.nextOpLocked(OpAddStroke)
	op.ElemID = uuid.NewString()
	op.Points = append([]Point(nil), points...)
	op.Color = color
	op.Width = width
	doc, data := s.applyLocalLocked(op)
	s.mu.Unlock()
	s.notify(doc, data)
	return doc, nil
}

// AddNote appends a sticky note with a fresh id. Empty text is allowed.
func (s *Store) AddNote(text string, pos Point, color string) (*Document, error) {
	s.mu.Lock()
	if err := s.repairLocked(); err != nil {
		s.mu.Unlock()
		return s.doc, err
	}
	op := s.nextOpLocked(OpAddNote)
	op.ElemID = uuid.NewString()
	op.Text = text
	op.Pos = pos
	op.Color = color
	doc, data := s.applyLocalLocked(op)
	s.mu.Unlock()
	s.notify(doc, data)
	return doc, nil
}

// UpdateNote rewrites the text of an existing note and bumps its timestamp.
// A missing id, or an id that belongs to a stroke, is a no-op, not an
// error; concurrent merges make dangling ids routine.
func (s *Store) UpdateNote(id, text string) (*Document, error) {
	s.mu.Lock()
	if err := s.repairLocked(); err != nil {
		s.mu.Unlock()
		return s.doc, err
	}
	if _, ok := s.doc.FindNote(id); !ok {
		doc := s.doc
		s.mu.Unlock()
		return doc, nil
	}
	op := s.nextOpLocked(OpEditNote)
	op.ElemID = id
	op.Text = text
	doc, data := s.applyLocalLocked(op)
	s.mu.Unlock()
	s.notify(doc, data)
	return doc, nil
}

// UpdateTitle sets the canvas title.
func (s *Store) UpdateTitle(title string) (*Document, error) {
	s.mu.Lock()
	if err := s.repairLocked(); err != nil {
		s.mu.Unlock()
		return s.doc, err
	}
	op := s.nextOpLocked(OpSetTitle)
	op.Text = title
	doc, data := s.applyLocalLocked(op)
	s.mu.Unlock()
	s.notify(doc, data)
	return doc, nil
}

// UpdateCursor upserts the presence entry for an actor. Cursor moves are
// ephemeral: they ride in the snapshot as a per-actor last-writer-wins map
// rather than in the operation history.
func (s *Store) UpdateCursor(actor string, x, y float32) (*Document, error) {
	s.mu.Lock()
	if err := s.repairLocked(); err != nil {
		s.mu.Unlock()
		return s.doc, err
	}
	s.cursors[actor] = cursorRecord{
		Pos:        Point{X: x, Y: y},
		LastActive: s.now(),
		Clock:      s.clock.Tick(),
	}
	s.refreshCursorsLocked()
	doc := s.doc
	data := s.encodeLocked()
	s.mu.Unlock()
	s.notify(doc, data)
	return doc, nil
}

// MergeIncoming folds a remote snapshot into the local replica. The merge
// is the union of both operation histories replayed in the shared total
// order, so arrival order and duplication do not matter. A payload that
// fails to decode or validate leaves the store untouched and returns the
// previous document together with the error.
func (s *Store) MergeIncoming(remote []byte) (*Document, error) {
	sn, err := decodeSnapshot(remote)
	if err != nil {
		log.Printf("[store] merge rejected: %v", err)
		return s.Document(), err
	}
	s.mu.Lock()
	for _, op := range sn.Ops {
		if _, seen := s.ops[op.ID]; seen {
			continue
		}
		s.ops[op.ID] = op
		s.vector.observe(op.ID.Actor, op.ID.Seq)
		s.clock.Observe(op.Clock)
	}
	for actor, rec := range sn.Cursors {
		if have, ok := s.cursors[actor]; !ok || rec.supersedes(have) {
			s.cursors[actor] = rec
		}
		s.clock.Observe(rec.Clock)
	}
	if own := s.vector[s.actor]; own > s.seq {
		s.seq = own
	}
	s.rebuildLocked()
	doc := s.doc
	s.mu.Unlock()
	s.notifyUpdate(doc)
	return doc, nil
}

// Save serializes the full causal history plus cursors. The bytes are a
// complete snapshot: any replica can merge against them or boot from them.
func (s *Store) Save() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return encodeSnapshot(s.ops, s.cursors)
}

// Reset discards all history and replaces the document with a fresh empty
// one. The own operation counter is retained so ids from the discarded
// history are never reissued.
func (s *Store) Reset() *Document {
	s.mu.Lock()
	s.ops = make(map[OpID]Op)
	s.cursors = make(map[string]cursorRecord)
	s.vector = make(versionVector)
	s.repairs = 0
	s.initErr = nil
	s.doc = NewDocument()
	doc := s.doc
	s.mu.Unlock()
	s.notifyUpdate(doc)
	log.Printf("[store] replica reset by %s", s.actor)
	return doc
}

// adoptLocked replaces replica state with a decoded snapshot.
func (s *Store) adoptLocked(sn snapshot) {
	s.ops = make(map[OpID]Op, len(sn.Ops))
	for _, op := range sn.Ops {
		s.ops[op.ID] = op
		s.vector.observe(op.ID.Actor, op.ID.Seq)
		s.clock.Observe(op.Clock)
	}
	s.cursors = make(map[string]cursorRecord, len(sn.Cursors))
	for actor, rec := range sn.Cursors {
		s.cursors[actor] = rec
		s.clock.Observe(rec.Clock)
	}
	s.seq = s.vector[s.actor]
	s.rebuildLocked()
}

// nextOpLocked stamps a new operation: own counter, Lamport tick, and the
// version vector this replica was aware of before emitting.
func (s *Store) nextOpLocked(kind OpKind) Op {
	deps := s.vector.clone()
	s.seq++
	return Op{
		ID:    OpID{Actor: s.actor, Seq: s.seq},
		Clock: s.clock.Tick(),
		Deps:  deps,
		Kind:  kind,
		Time:  s.now(),
	}
}

func (s *Store) applyLocalLocked(op Op) (*Document, []byte) {
	s.ops[op.ID] = op
	s.vector.observe(op.ID.Actor, op.ID.Seq)
	s.rebuildLocked()
	return s.doc, s.encodeLocked()
}

// repairLocked enforces the canvas invariant before any mutation. Repair is
// bounded; past the budget the store surfaces the terminal init error until
// an explicit Reset.
func (s *Store) repairLocked() error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.doc.Valid() {
		return nil
	}
	for !s.doc.Valid() {
		if s.repairs >= maxRepairAttempts {
			s.initErr = &InitError{Attempts: s.repairs}
			return s.initErr
		}
		s.repairs++
		log.Printf("[store] repairing document without canvas (attempt %d)", s.repairs)
		s.rebuildLocked()
	}
	return nil
}

// rebuildLocked replays the operation history in the shared total order and
// installs the resulting document as the new snapshot. Concurrent writes to
// the same field resolve to the op that replays last, which is the same op
// on every replica.
func (s *Store) rebuildLocked() {
	canvas := defaultCanvas()
	for _, op := range sortedOps(s.ops) {
		switch op.Kind {
		case OpAddStroke:
			canvas.Elements = append(canvas.Elements, Stroke{
				ID:      op.ElemID,
				Creator: op.ID.Actor,
				Time:    op.Time,
				Points:  op.Points,
				Color:   op.Color,
				Width:   op.Width,
			})
		case OpAddNote:
			canvas.Elements = append(canvas.Elements, Note{
				ID:      op.ElemID,
				Creator: op.ID.Actor,
				Time:    op.Time,
				Text:    op.Text,
				Pos:     op.Pos,
				Color:   op.Color,
			})
		case OpEditNote:
			for i, el := range canvas.Elements {
				if n, ok := el.(Note); ok && n.ID == op.ElemID {
					n.Text = op.Text
					n.Time = op.Time
					canvas.Elements[i] = n
					break
				}
			}
		case OpSetTitle:
			canvas.Title = op.Text
		}
	}
	for actor, rec := range s.cursors {
		canvas.Cursors[actor] = Cursor{Pos: rec.Pos, LastActive: rec.LastActive}
	}
	s.doc = &Document{Canvas: canvas}
}

// refreshCursorsLocked swaps in a fresh cursor map without replaying the
// element history; cursor moves cannot change elements or title.
func (s *Store) refreshCursorsLocked() {
	if !s.doc.Valid() {
		s.rebuildLocked()
		return
	}
	cursors := make(map[string]Cursor, len(s.cursors))
	for actor, rec := range s.cursors {
		cursors[actor] = Cursor{Pos: rec.Pos, LastActive: rec.LastActive}
	}
	s.doc = &Document{Canvas: &Canvas{
		Elements: s.doc.Canvas.Elements,
		Cursors:  cursors,
		Title:    s.doc.Canvas.Title,
	}}
}

func (s *Store) encodeLocked() []byte {
	data, err := encodeSnapshot(s.ops, s.cursors)
	if err != nil {
		log.Printf("[store] encode failed: %v", err)
		return nil
	}
	return data
}

func (s *Store) notify(doc *Document, data []byte) {
	s.notifyUpdate(doc)
	s.mu.RLock()
	broadcast := s.onBroadcast
	s.mu.RUnlock()
	if broadcast != nil && data != nil {
		broadcast(data)
	}
}

func (s *Store) notifyUpdate(doc *Document) {
	s.mu.RLock()
	update := s.onUpdate
	s.mu.RUnlock()
	if update != nil {
		update(doc)
	}
}
