// Package export renders a document snapshot for sharing. It is a consumer
// of the replicated state and contributes no merge or protocol logic.
package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"boardsync/internal/state"
)

// pdfScale maps canvas units onto the page.
const pdfScale = 3

// PDF renders the canvas into a single-page PDF and returns its bytes.
// Returns an error when the document has no canvas to render.
func PDF(doc *state.Document) ([]byte, error) {
	if !doc.Valid() {
		return nil, fmt.Errorf("document has no canvas")
	}

	p := gofpdf.New("P", "mm", "A4", "")
	p.AddPage()
	p.SetTitle(doc.Canvas.Title, true)
	p.SetFont("Helvetica", "", 10)

	for _, el := range doc.Canvas.Elements {
		switch e := el.(type) {
		case state.Stroke:
			p.SetDrawColor(0, 0, 0)
			p.SetLineWidth(float64(e.Width) / 4)
			for i := 1; i < len(e.Points); i++ {
				p.Line(
					float64(e.Points[i-1].X/pdfScale), float64(e.Points[i-1].Y/pdfScale),
					float64(e.Points[i].X/pdfScale), float64(e.Points[i].Y/pdfScale),
				)
			}
		case state.Note:
			p.Text(float64(e.Pos.X/pdfScale), float64(e.Pos.Y/pdfScale), e.Text)
		}
	}

	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
