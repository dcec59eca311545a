package rag

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Chunker splits a document into chunks. Chunks carry no embedding.
type Chunker interface {
	Split(doc Document) ([]Chunk, error)
}

// contentNamespace scopes document ids derived from content.
var contentNamespace = uuid.MustParse("b3d4c5e2-7a61-5f08-8c2e-91a4d07f3b65")

// ContentID derives an id for a document loaded without one. Documents with
// the same source but different text get different ids.
func ContentID(doc Document) string {
	return uuid.NewSHA1(contentNamespace, []byte(doc.Source+"\x00"+doc.Text())).String()
}

// withID fills in a content derived id. Chunk ids are built from the
// document id, never from the source name, which need not be unique.
func withID(doc Document) Document {
	if doc.ID == "" {
		doc.ID = ContentID(doc)
	}
	return doc
}

type sentence struct {
	text   string
	offset int
}

// splitSentences cuts text after '.', '!' or '?' followed by whitespace, and
// at blank lines. Offsets point into text.
func splitSentences(text string) []sentence {
	var out []sentence
	start := 0

	emit := func(end int) {
		raw := text[start:end]
		trimmed := strings.TrimLeftFunc(raw, unicode.IsSpace)
		off := start + len(raw) - len(trimmed)
		trimmed = strings.TrimRightFunc(trimmed, unicode.IsSpace)
		if trimmed != "" && strings.Trim(trimmed, ".!?") != "" {
			out = append(out, sentence{text: collapseSpace(trimmed), offset: off})
		}
		start = end
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size
		switch {
		case r == '.' || r == '!' || r == '?':
			if next >= len(text) {
				break
			}
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if unicode.IsSpace(nr) {
				emit(next)
			}
		case r == '\n':
			if next < len(text) && text[next] == '\n' {
				emit(next)
			}
		}
		i = next
	}
	if start < len(text) {
		emit(len(text))
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// groupSentences packs sentences of one page into chunks. full reports
// whether buf cannot take next. overlap sentences are repeated at the start
// of the following chunk.
func groupSentences(doc Document, page Page, seq *int, overlap int, full func(buf []sentence, next sentence) bool) []Chunk {
	var chunks []Chunk
	var buf []sentence
	fresh := 0 // sentences in buf not yet emitted

	flush := func() {
		if fresh == 0 {
			return
		}
		parts := make([]string, len(buf))
		for i, s := range buf {
			parts[i] = s.text
		}
		*seq++
		chunks = append(chunks, Chunk{
			ID:         fmt.Sprintf("%s-%d", doc.ID, *seq),
			DocumentID: doc.ID,
			Content:    strings.Join(parts, " "),
			Source:     doc.Source,
			Page:       page.Number,
			Offset:     buf[0].offset,
		})
		keep := min(overlap, len(buf))
		buf = append([]sentence(nil), buf[len(buf)-keep:]...)
		fresh = 0
	}

	for _, s := range splitSentences(page.Text) {
		if len(buf) > 0 && full(buf, s) {
			flush()
			// a carried-over tail that still does not fit is dropped
			for len(buf) > 0 && full(buf, s) {
				buf = buf[1:]
			}
		}
		buf = append(buf, s)
		fresh++
	}
	flush()
	return chunks
}

// SentenceChunker groups up to MaxSentences sentences per chunk, optionally
// bounded by MaxChars.
type SentenceChunker struct {
	MaxSentences int
	MaxChars     int
	Overlap      int
}

func NewSentenceChunker(maxSentences, overlap, maxChars int) *SentenceChunker {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	if overlap < 0 || overlap >= maxSentences {
		overlap = 0
	}
	return &SentenceChunker{MaxSentences: maxSentences, Overlap: overlap, MaxChars: maxChars}
}

func (c *SentenceChunker) Split(doc Document) ([]Chunk, error) {
	full := func(buf []sentence, next sentence) bool {
		if len(buf) >= c.MaxSentences {
			return true
		}
		if c.MaxChars <= 0 {
			return false
		}
		n := len(next.text)
		for _, s := range buf {
			n += len(s.text) + 1
		}
		return n > c.MaxChars
	}

	doc = withID(doc)
	var chunks []Chunk
	seq := 0
	for _, page := range doc.Pages {
		chunks = append(chunks, groupSentences(doc, page, &seq, c.Overlap, full)...)
	}
	return chunks, nil
}

// ChunkText splits raw text from source with the default sentence chunker.
func ChunkText(text, source string) []Chunk {
	chunks, _ := NewSentenceChunker(3, 0, 0).Split(Document{
		Source: source,
		Pages:  []Page{{Text: text}},
	})
	return chunks
}
