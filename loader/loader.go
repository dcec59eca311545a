// Package loader reads PDF, HTML and plain-text files into rag.Documents.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-rag-pipeline/rag"
)

// DefaultMaxFileSize bounds a single input file.
const DefaultMaxFileSize = 50 << 20

var (
	// ErrUnsupported is returned for file types the loader cannot read.
	ErrUnsupported = errors.New("unsupported document type")

	// ErrTooLarge is returned for files above the configured size limit.
	ErrTooLarge = errors.New("document too large")
)

// LoadError reports a document that could not be read or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// documentNamespace scopes name-based document ids.
var documentNamespace = uuid.MustParse("6f1c7f3e-0d39-5c4b-9a57-3f0f4c6b2e10")

// DocumentID derives a stable id from a file path. Relative paths are made
// absolute first, so equally named files in different directories get
// different ids while re-loading the same file keeps its id.
func DocumentID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(documentNamespace, []byte(filepath.ToSlash(path))).String()
}

type kind int

const (
	kindUnknown kind = iota
	kindPDF
	kindHTML
	kindText
)

func kindOf(path string) kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return kindPDF
	case ".html", ".htm":
		return kindHTML
	case ".txt", ".md", ".markdown", ".text":
		return kindText
	}
	return kindUnknown
}

// Supported reports whether path has an extension the loader reads.
func Supported(path string) bool {
	return kindOf(path) != kindUnknown
}

// Loader reads documents from the local file system.
type Loader struct {
	logger      *zap.Logger
	maxFileSize int64
}

type Option func(*Loader)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithMaxFileSize sets the per-file limit; 0 disables it.
func WithMaxFileSize(n int64) Option {
	return func(l *Loader) {
		l.maxFileSize = n
	}
}

func New(opts ...Option) *Loader {
	l := &Loader{
		logger:      zap.NewNop(),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadDir reads every supported file below dir in lexical order. Sources
// are slash-separated paths relative to dir. Unsupported files and hidden
// directories are skipped; the first load failure aborts the walk.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]rag.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Path: dir, Err: fmt.Errorf("not a directory")}
	}

	var docs []rag.Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &LoadError{Path: path, Err: walkErr}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !Supported(path) {
			l.logger.Debug("skipping unsupported file", zap.String("path", path))
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return &LoadError{Path: path, Err: err}
		}
		doc, err := l.LoadFile(ctx, path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("loaded documents", zap.String("dir", dir), zap.Int("documents", len(docs)))
	return docs, nil
}

// LoadFile reads one file. source names the document in chunk metadata;
// empty means the file's base name. The document id comes from the path, not
// from source.
func (l *Loader) LoadFile(ctx context.Context, path, source string) (rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return rag.Document{}, err
	}
	if source == "" {
		source = filepath.Base(path)
	}

	k := kindOf(path)
	if k == kindUnknown {
		return rag.Document{}, &LoadError{Path: path, Err: ErrUnsupported}
	}

	f, err := os.Open(path) // #nosec G304 -- path comes from the caller's corpus directory
	if err != nil {
		return rag.Document{}, &LoadError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return rag.Document{}, &LoadError{Path: path, Err: err}
	}
	if l.maxFileSize > 0 && info.Size() > l.maxFileSize {
		return rag.Document{}, &LoadError{Path: path, Err: fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())}
	}

	var doc rag.Document
	switch k {
	case kindPDF:
		doc, err = ReadPDF(f, info.Size(), source)
	case kindHTML:
		doc, err = ReadHTML(f, source)
	default:
		doc, err = ReadText(f, source)
	}
	if err != nil {
		return rag.Document{}, &LoadError{Path: path, Err: err}
	}
	doc.ID = DocumentID(path)

	l.logger.Debug("loaded document",
		zap.String("source", source),
		zap.Int("pages", len(doc.Pages)),
	)
	return doc, nil
}
