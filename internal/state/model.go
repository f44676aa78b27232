package state

import "time"

// Point is a position on the board, in canvas coordinates.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// DefaultTitle is the title a repaired or freshly created canvas starts with.
const DefaultTitle = "Untitled board"

// Element is a single item on the canvas. The concrete variants are Stroke
// and Note; every consumer is expected to switch exhaustively over them.
type Element interface {
	// ElementID returns the globally unique, immutable id of the element.
	ElementID() string
	isElement()
}

// Stroke is a freehand line: an ordered sequence of points with a color and
// a pen width.
type Stroke struct {
	ID      string
	Creator string
	Time    time.Time
	Points  []Point
	Color   string
	Width   int
}

func (s Stroke) ElementID() string { return s.ID }
func (Stroke) isElement()          {}

// Note is a movable sticky note. Text and Time may be rewritten after
// creation; everything else is immutable.
type Note struct {
	ID      string
	Creator string
	Time    time.Time
	Text    string
	Pos     Point
	Color   string
}

func (n Note) ElementID() string { return n.ID }
func (Note) isElement()          {}

// Cursor is the ephemeral presence record for one actor. Entries are only
// ever overwritten, never deleted; staleness is filtered at read time.
type Cursor struct {
	Pos        Point     `json:"pos"`
	LastActive time.Time `json:"last_active"`
}

// Canvas holds everything the replicas collaborate on.
type Canvas struct {
	Elements []Element
	Cursors  map[string]Cursor
	Title    string
}

// Document is the full replicated state of one replica. A healthy document
// always has a non-nil Canvas; a document without one is structurally broken
// and gets repaired by the store before any mutation is applied.
type Document struct {
	Canvas *Canvas
}

func defaultCanvas() *Canvas {
	return &Canvas{
		Elements: []Element{},
		Cursors:  make(map[string]Cursor),
		Title:    DefaultTitle,
	}
}

// NewDocument returns an empty, well-formed document.
func NewDocument() *Document {
	return &Document{Canvas: defaultCanvas()}
}

// Valid reports whether the document has its mandatory canvas substructure.
func (d *Document) Valid() bool {
	return d != nil && d.Canvas != nil && d.Canvas.Cursors != nil
}

// FindNote returns the note with the given id, or false when the id is
// absent or belongs to a different element variant.
func (d *Document) FindNote(id string) (Note, bool) {
	if !d.Valid() {
		return Note{}, false
	}
	for _, el := range d.Canvas.Elements {
		switch e := el.(type) {
		case Note:
			if e.ID == id {
				return e, true
			}
		case Stroke:
			// ids never collide across variants, keep scanning
		}
	}
	return Note{}, false
}
