package rag

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. tiktoken fetches the
// encoding file on first use unless TIKTOKEN_CACHE_DIR holds it.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	return &TiktokenCounter{encoder: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

// WordCounter approximates tokens by whitespace-separated words.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// TokenChunker packs whole sentences until MaxTokens is reached. A single
// sentence longer than MaxTokens becomes its own chunk.
type TokenChunker struct {
	counter   TokenCounter
	MaxTokens int
	Overlap   int
}

func NewTokenChunker(counter TokenCounter, maxTokens, overlap int) *TokenChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	return &TokenChunker{counter: counter, MaxTokens: maxTokens, Overlap: overlap}
}

func (c *TokenChunker) Split(doc Document) ([]Chunk, error) {
	if c.counter == nil {
		return nil, fmt.Errorf("token chunker has no counter")
	}
	full := func(buf []sentence, next sentence) bool {
		n := c.counter.Count(next.text)
		for _, s := range buf {
			n += c.counter.Count(s.text)
		}
		return n > c.MaxTokens
	}

	doc = withID(doc)
	var chunks []Chunk
	seq := 0
	for _, page := range doc.Pages {
		chunks = append(chunks, groupSentences(doc, page, &seq, c.Overlap, full)...)
	}
	return chunks, nil
}
