package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title> Go Notes </title><style>body { color: red; }</style></head>
<body>
  <h1>Concurrency</h1>
  <p>Goroutines are   cheap.
     Channels connect them.</p>
  <script>var x = "not text";</script>
  <ul><li>First item</li><li>Second item</li></ul>
</body>
</html>`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReadHTML_ExtractsVisibleText(t *testing.T) {
	doc, err := ReadHTML(strings.NewReader(samplePage), "notes.html")
	require.NoError(t, err)

	assert.Equal(t, "Go Notes", doc.Title)
	assert.Empty(t, doc.ID, "readers leave the id to the caller")
	require.Len(t, doc.Pages, 1)

	text := doc.Pages[0].Text
	assert.Equal(t, "Concurrency\n\nGoroutines are cheap.\nChannels connect them.\n\nFirst item\n\nSecond item", text)
	assert.NotContains(t, text, "not text")
	assert.NotContains(t, text, "color")
}

func TestReadText_Normalizes(t *testing.T) {
	doc, err := ReadText(strings.NewReader("  line one  \n\n\n\n\tline   two\n"), "a.txt")
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "line one\n\nline two", doc.Pages[0].Text)
	assert.Equal(t, 0, doc.Pages[0].Number)
}

func TestReadText_Empty(t *testing.T) {
	doc, err := ReadText(strings.NewReader(" \n "), "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, doc.Pages)
}

func TestReadPDF_Garbage(t *testing.T) {
	data := "this is not a pdf"
	_, err := ReadPDF(strings.NewReader(data), int64(len(data)), "bad.pdf")
	assert.Error(t, err)
}

func TestReadPDF_ExtractsPages(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "sample.pdf"))
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	doc, err := ReadPDF(f, info.Size(), "sample.pdf")
	require.NoError(t, err)
	assert.Equal(t, "sample.pdf", doc.Source)

	// page 2 has no text and is left out without renumbering
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Contains(t, doc.Pages[0].Text, "Goroutines are lightweight threads")
	assert.Equal(t, 3, doc.Pages[1].Number)
	assert.Contains(t, doc.Pages[1].Text, "Channels connect concurrent goroutines.")
}

func TestLoader_LoadFilePDF(t *testing.T) {
	doc, err := New().LoadFile(context.Background(), filepath.Join("testdata", "sample.pdf"), "")
	require.NoError(t, err)
	assert.Equal(t, "sample.pdf", doc.Source)
	assert.Len(t, doc.Pages, 2)
}

func TestDocumentID_Stable(t *testing.T) {
	assert.Equal(t, DocumentID("a/b.pdf"), DocumentID("a/b.pdf"))
	assert.NotEqual(t, DocumentID("a/b.pdf"), DocumentID("a/c.pdf"))

	abs, err := filepath.Abs("a/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, DocumentID(abs), DocumentID("a/b.pdf"))
}

func TestLoader_SameNameInDifferentDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "projA", "README.md"), "Alpha project uses kafka.")
	writeFile(t, filepath.Join(root, "projB", "README.md"), "Beta project uses redis.")
	l := New()

	a, err := l.LoadDir(context.Background(), filepath.Join(root, "projA"))
	require.NoError(t, err)
	b, err := l.LoadDir(context.Background(), filepath.Join(root, "projB"))
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)

	assert.Equal(t, a[0].Source, b[0].Source)
	assert.NotEqual(t, a[0].ID, b[0].ID)

	again, err := l.LoadFile(context.Background(), filepath.Join(root, "projA", "README.md"), "README.md")
	require.NoError(t, err)
	assert.Equal(t, a[0].ID, again.ID)
}

func TestLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "Beta text.")
	writeFile(t, filepath.Join(dir, "a.md"), "# Alpha\n\nAlpha text.")
	writeFile(t, filepath.Join(dir, "sub", "page.html"), samplePage)
	writeFile(t, filepath.Join(dir, "image.png"), "binary")
	writeFile(t, filepath.Join(dir, ".git", "notes.txt"), "hidden")

	docs, err := New().LoadDir(context.Background(), dir)
	require.NoError(t, err)

	var sources []string
	for _, d := range docs {
		sources = append(sources, d.Source)
	}
	assert.Equal(t, []string{"a.md", "b.txt", "sub/page.html"}, sources)
	assert.Equal(t, "Go Notes", docs[2].Title)
}

func TestLoader_LoadDirMissing(t *testing.T) {
	_, err := New().LoadDir(context.Background(), filepath.Join(t.TempDir(), "missing"))

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoader_LoadDirPropagatesBadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ok.txt"), "fine.")
	writeFile(t, filepath.Join(dir, "broken.pdf"), "not really a pdf")

	_, err := New().LoadDir(context.Background(), dir)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, filepath.Join(dir, "broken.pdf"), loadErr.Path)
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	writeFile(t, path, "Some words here.")

	doc, err := New().LoadFile(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", doc.Source)
	assert.Equal(t, "Some words here.", doc.Text())
}

func TestLoader_LoadFileUnsupported(t *testing.T) {
	_, err := New().LoadFile(context.Background(), "photo.jpg", "")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLoader_LoadFileTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	writeFile(t, path, strings.Repeat("a", 100))

	_, err := New(WithMaxFileSize(10)).LoadFile(context.Background(), path, "")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoader_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "x.")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().LoadDir(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
