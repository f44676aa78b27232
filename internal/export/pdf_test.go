package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/state"
)

func TestPDF_RendersElements(t *testing.T) {
	doc := state.NewDocument()
	doc.Canvas.Title = "standup board"
	doc.Canvas.Elements = []state.Element{
		state.Stroke{
			ID:     "s1",
			Points: []state.Point{{X: 10, Y: 10}, {X: 50, Y: 40}, {X: 90, Y: 10}},
			Color:  "#000000",
			Width:  2,
		},
		state.Note{ID: "n1", Text: "ship it", Pos: state.Point{X: 30, Y: 60}},
	}

	data, err := PDF(doc)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestPDF_EmptyCanvas(t *testing.T) {
	data, err := PDF(state.NewDocument())
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestPDF_RejectsDocumentWithoutCanvas(t *testing.T) {
	_, err := PDF(&state.Document{})
	assert.Error(t, err)
}
