package ai

import (
	"strings"
)

// TextChunk is one window of the source text. Start and End are rune offsets
// of the window before whitespace trimming.
type TextChunk struct {
	Index   int
	Content string
	Start   int
	End     int
}

type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if overlap < 0 || size <= overlap {
		return nil, ErrInvalidChunkConfig
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int {
	return c.size
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

// Chunk splits text into overlapping windows of at most size runes. A window
// is shortened to the last '.', '?' or '!' when that keeps more than half of it.
func (c *Chunker) Chunk(text string) ([]TextChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	runes := []rune(text)
	total := len(runes)
	var chunks []TextChunk
	start := 0
	for start < total {
		end := start + c.size
		if end >= total {
			end = total
		} else if boundary := c.sentenceBoundary(runes, start, end); boundary >= 0 {
			end = boundary + 1
		}
		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, TextChunk{
				Index:   len(chunks),
				Content: content,
				Start:   start,
				End:     end,
			})
		}
		if end == total {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

// sentenceBoundary returns the index of the nearest terminator before end
// that lies past the middle of the window, or -1.
func (c *Chunker) sentenceBoundary(runes []rune, start, end int) int {
	for i := end - 1; 2*i > 2*start+c.size; i-- {
		switch runes[i] {
		case '.', '?', '!':
			return i
		}
	}
	return -1
}

// SplitText is a shorthand for NewChunker followed by Chunk.
func SplitText(text string, size, overlap int) ([]TextChunk, error) {
	c, err := NewChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text)
}
