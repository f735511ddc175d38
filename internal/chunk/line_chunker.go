package chunk

import (
	"context"
	"strings"
	"time"
)

// LineChunkerOptions configures fixed-size line-window chunking.
type LineChunkerOptions struct {
	LinesPerChunk int // Lines per chunk (default: DefaultLinesPerChunk)
	OverlapLines  int // Overlap between consecutive chunks (default: DefaultOverlapLines)
}

const (
	DefaultLinesPerChunk = 128
	DefaultOverlapLines  = 16
)

// LineChunker splits files into fixed-size, overlapping line windows without
// parsing syntax. It is the explicit line-based counterpart to CodeChunker's
// AST-aware splitting, selected when a caller asks for line-based chunking
// instead of symbol-aware chunking (e.g. for languages where AST precision
// isn't wanted, or as a fast path over very large files).
type LineChunker struct {
	options LineChunkerOptions
}

// NewLineChunker creates a line chunker with default window sizes.
func NewLineChunker() *LineChunker {
	return NewLineChunkerWithOptions(LineChunkerOptions{})
}

// NewLineChunkerWithOptions creates a line chunker with custom window sizes.
func NewLineChunkerWithOptions(opts LineChunkerOptions) *LineChunker {
	if opts.LinesPerChunk == 0 {
		opts.LinesPerChunk = DefaultLinesPerChunk
	}
	if opts.OverlapLines == 0 {
		opts.OverlapLines = DefaultOverlapLines
	}
	return &LineChunker{options: opts}
}

// SupportedExtensions returns nil: the line chunker accepts any extension.
func (c *LineChunker) SupportedExtensions() []string {
	return nil
}

// Chunk splits file into overlapping line windows.
func (c *LineChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := c.options.LinesPerChunk
	overlapLines := c.options.OverlapLines

	var chunks []*Chunk
	now := time.Now()

	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &Chunk{
			ID:          generateChunkID(file.Path, chunkContent),
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   i + 1,
			EndLine:     end,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks, nil
}

var _ Chunker = (*LineChunker)(nil)
