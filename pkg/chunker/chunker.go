package chunker

import (
	"fmt"
	"strings"

	"notebook/internal/models"
)

type ChunkerConfig struct {
	ChunkSize    int // window size in characters
	ChunkOverlap int // characters shared between consecutive windows
}

type Chunker struct {
	config ChunkerConfig
}

// NewWithConfig applies defaults only to a wholly unset config; an
// explicit chunk size with zero overlap means abutting windows, not
// the default overlap.
func NewWithConfig(config ChunkerConfig) Chunker {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = 200
		}
	}

	return Chunker{
		config: config,
	}
}

// Split slides a fixed window with overlap across the normalized text
// of each page. Chunk ids are sequential across the whole document.
// An empty page contributes zero chunks; a document with zero chunks
// overall is a build failure, not an empty index.
func (c *Chunker) Split(pages []models.Page) ([]models.Chunk, error) {
	if c.config.ChunkOverlap >= c.config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.config.ChunkOverlap, c.config.ChunkSize)
	}

	var chunks []models.Chunk
	nextID := 0

	for _, page := range pages {
		text := normalize(page.Text)
		if text == "" {
			continue
		}

		for start := 0; start < len(text); {
			end := start + c.config.ChunkSize
			if end > len(text) {
				end = len(text)
			}

			chunks = append(chunks, models.Chunk{
				ID:         nextID,
				Text:       text[start:end],
				SourcePage: page.Number,
				CharStart:  start,
				CharEnd:    end,
			})
			nextID++

			if end == len(text) {
				break
			}
			start = end - c.config.ChunkOverlap
		}
	}

	if len(chunks) == 0 {
		return nil, models.ErrEmptyDocument
	}

	return chunks, nil
}

// normalize collapses runs of whitespace to single spaces. Offsets in
// the resulting chunks refer to this normalized text.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
