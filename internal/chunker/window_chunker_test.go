package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
)

func TestNewWindowChunker_RejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap above size", 10, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWindowChunker(tt.chunkSize, tt.overlap)
			assert.Error(t, err)
		})
	}
}

func TestWindowChunker_ThousandCharacterDocument(t *testing.T) {
	c, err := NewWindowChunker(500, 50)
	require.NoError(t, err)

	doc := domain.Document{ID: "doc", Content: strings.Repeat("abcdefghij", 100)}
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, []int{0, 450, 900}, []int{chunks[0].Offset, chunks[1].Offset, chunks[2].Offset})
	assert.Len(t, chunks[0].Text, 500)
	assert.Len(t, chunks[1].Text, 500)
	assert.Len(t, chunks[2].Text, 100)
	assert.Equal(t, "doc:1", chunks[1].ID)
	assert.Equal(t, "doc", chunks[2].SourceID)
}

func TestWindowChunker_ChunkCountAndReconstruction(t *testing.T) {
	texts := []string{
		"a",
		"short text",
		strings.Repeat("Model Context Protocol. ", 37),
		"héllo wörld – ünïcode ✓ " + strings.Repeat("ß", 41),
	}
	params := [][2]int{{1, 0}, {7, 3}, {10, 0}, {16, 15}, {50, 10}}

	for _, text := range texts {
		for _, p := range params {
			c, err := NewWindowChunker(p[0], p[1])
			require.NoError(t, err)
			chunks, err := c.Chunk(domain.Document{ID: "d", Content: text})
			require.NoError(t, err)

			n := len([]rune(text))
			step := p[0] - p[1]
			assert.Len(t, chunks, (n+step-1)/step, "size=%d overlap=%d", p[0], p[1])
			for i, ch := range chunks {
				assert.LessOrEqual(t, len([]rune(ch.Text)), p[0])
				assert.Equal(t, i*step, ch.Offset)
				if i+1 < len(chunks) && len([]rune(ch.Text)) == p[0] {
					next := []rune(chunks[i+1].Text)
					cur := []rune(ch.Text)
					ov := p[1]
					if ov > len(next) {
						ov = len(next)
					}
					assert.Equal(t, string(cur[len(cur)-p[1]:len(cur)-p[1]+ov]), string(next[:ov]))
				}
			}
			assert.Equal(t, text, Reassemble(chunks))
		}
	}
}

func TestWindowChunker_Deterministic(t *testing.T) {
	c, err := NewWindowChunker(20, 5)
	require.NoError(t, err)
	doc := domain.Document{ID: "x", Content: strings.Repeat("determinism ", 12)}

	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWindowChunker_EmptyDocument(t *testing.T) {
	c, err := NewWindowChunker(10, 2)
	require.NoError(t, err)
	chunks, err := c.Chunk(domain.Document{ID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
