package loader

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"go-rag-pipeline/rag"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRun = regexp.MustCompile(`\n\s*\n(\s*\n)*`)
)

// elements whose content never reaches the text
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
	atom.Svg:      true,
}

// elements that end a paragraph
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Dt: true, atom.Dd: true, atom.Hr: true,
}

// ReadHTML extracts visible text. Block elements become paragraph breaks.
func ReadHTML(r io.Reader, source string) (rag.Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return rag.Document{}, fmt.Errorf("failed to parse html: %w", err)
	}

	var title string
	var sb strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if title == "" && (n.DataAtom == atom.Title || n.DataAtom == atom.Head) {
				title = findTitle(n)
			}
			if skipped[n.DataAtom] {
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			sb.WriteString("\n\n")
		}
	}
	walk(root)

	text := normalizeText(sb.String())
	doc := rag.Document{Source: source, Title: title}
	if text != "" {
		doc.Pages = []rag.Page{{Text: text}}
	}
	return doc, nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return strings.TrimSpace(textOf(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// ReadText reads plain text or markdown as a single page. Like the other
// readers it leaves Document.ID empty; LoadFile sets it from the path.
func ReadText(r io.Reader, source string) (rag.Document, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return rag.Document{}, fmt.Errorf("failed to read text: %w", err)
	}
	doc := rag.Document{Source: source}
	if text := normalizeText(string(b)); text != "" {
		doc.Pages = []rag.Page{{Text: text}}
	}
	return doc, nil
}

// normalizeText collapses horizontal whitespace, trims every line and keeps
// at most one blank line between paragraphs.
func normalizeText(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
