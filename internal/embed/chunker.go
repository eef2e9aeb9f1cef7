package embed

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultMaxTokens = 500
	DefaultOverlap   = 50
)

// Tokenizer converts between text and model tokens
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named BPE encoding, e.g. "cl100k_base"
func NewTiktokenTokenizer(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Chunk is one token window of a longer text
type Chunk struct {
	Text        string
	Index       int
	TotalChunks int
	Tokens      []int
}

// Chunker splits text into overlapping token windows
type Chunker struct {
	tokenizer Tokenizer
	maxTokens int
	overlap   int
}

// NewChunker creates a chunker. Non-positive sizes fall back to the
// defaults; an overlap that would stall the window is clamped.
func NewChunker(tokenizer Tokenizer, maxTokens, overlap int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
		if maxTokens > DefaultOverlap {
			overlap = DefaultOverlap
		}
	}
	return &Chunker{tokenizer: tokenizer, maxTokens: maxTokens, overlap: overlap}
}

// Split returns the windows covering text. Text of at most maxTokens tokens
// is returned as a single chunk; longer text advances maxTokens-overlap
// tokens per window.
func (c *Chunker) Split(text string) []Chunk {
	if text == "" {
		return nil
	}
	tokens := c.tokenizer.Encode(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= c.maxTokens {
		return []Chunk{{Text: text, Index: 0, TotalChunks: 1, Tokens: tokens}}
	}

	step := c.maxTokens - c.overlap
	var windows [][]int
	for start := 0; ; start += step {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		windows = append(windows, tokens[start:end])
		if end >= len(tokens) {
			break
		}
	}

	chunks := make([]Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = Chunk{
			Text:        c.tokenizer.Decode(w),
			Index:       i,
			TotalChunks: len(windows),
			Tokens:      w,
		}
	}
	return chunks
}
