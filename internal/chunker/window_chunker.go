package chunker

import (
	"fmt"
	"strconv"

	"ragagent/internal/domain"
)

// WindowChunker splits text into fixed-size rune windows with overlap.
// Text is kept verbatim; each chunk records its starting rune offset.
type WindowChunker struct {
	chunkSize int
	overlap   int
}

// NewWindowChunker requires 0 <= overlap < chunkSize.
func NewWindowChunker(chunkSize, overlap int) (*WindowChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return &WindowChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Step is the distance between consecutive window starts.
func (c *WindowChunker) Step() int { return c.chunkSize - c.overlap }

// Chunk produces ceil(len(runes)/step) windows.
func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	runes := []rune(document.Content)
	if len(runes) == 0 {
		return nil, nil
	}
	step := c.Step()
	chunks := make([]domain.Chunk, 0, (len(runes)+step-1)/step)
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, domain.Chunk{
			ID:       document.ID + ":" + strconv.Itoa(idx),
			SourceID: document.ID,
			Text:     string(runes[start:end]),
			Offset:   start,
			Index:    idx,
		})
	}
	return chunks, nil
}

// Reassemble rebuilds the original text from ordered chunks of one document.
func Reassemble(chunks []domain.Chunk) string {
	var out []rune
	for _, ch := range chunks {
		r := []rune(ch.Text)
		if ch.Offset < len(out) {
			skip := len(out) - ch.Offset
			if skip >= len(r) {
				continue
			}
			r = r[skip:]
		}
		out = append(out, r...)
	}
	return string(out)
}
