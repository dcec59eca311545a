package rag

// Chunk of a document
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	Content    string `json:"content"`
	Source     string `json:"source"`         // filename or doc ID
	Page       int    `json:"page,omitempty"` // 1-based, 0 when the format has no pages
	Offset     int    `json:"offset"`         // byte offset inside the page text
}

// Page is the extracted text of one page. Formats without pages produce a
// single page numbered 0.
type Page struct {
	Number int
	Text   string
}

// Document is loaded text waiting to be chunked.
type Document struct {
	ID     string
	Source string
	Title  string
	Pages  []Page
}

// Text joins all pages of the document.
func (d Document) Text() string {
	switch len(d.Pages) {
	case 0:
		return ""
	case 1:
		return d.Pages[0].Text
	}
	n := 0
	for _, p := range d.Pages {
		n += len(p.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, p := range d.Pages {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, p.Text...)
	}
	return string(buf)
}

// Match is a raw index hit.
type Match struct {
	ChunkID  string  `json:"chunk_id"`
	Distance float64 `json:"distance"`
}

// SearchResult is a chunk resolved from an index hit.
type SearchResult struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// Answer is the output of a full retrieve-then-generate pass.
type Answer struct {
	Question string         `json:"question"`
	Text     string         `json:"answer"`
	Sources  []SearchResult `json:"sources"`
}
