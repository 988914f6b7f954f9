package loader

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"ragagent/internal/domain"
)

// DefaultPatterns matches the markdown knowledge base.
var DefaultPatterns = []string{"*.md"}

// Loader reads documents from a directory tree.
type Loader struct {
	root     string
	patterns []string
}

func New(root string, patterns []string) *Loader {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Loader{root: root, patterns: patterns}
}

// Load walks the root directory and returns every file whose base name matches
// one of the patterns, sorted by path. Supported formats are .md, .txt and .pdf.
func (l *Loader) Load() ([]domain.Document, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := l.matches(d.Name())
		if err != nil {
			return err
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Wrapf(domain.KindIngestion, err, "walk %s", l.root)
	}
	sort.Strings(paths)

	documents := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

func (l *Loader) matches(name string) (bool, error) {
	for _, pattern := range l.patterns {
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return false, domain.Wrapf(domain.KindConfig, err, "bad pattern %q", pattern)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ReadFile loads a single document. The id is derived from the path.
func ReadFile(path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, domain.Wrapf(domain.KindIngestion, err, "read %s", path)
	}
	var content string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		content = string(data)
	case ".pdf":
		content, err = pdfText(data)
		if err != nil {
			return domain.Document{}, domain.Wrapf(domain.KindIngestion, err, "extract text from %s", path)
		}
	default:
		return domain.Document{}, domain.NewError(domain.KindIngestion, "unsupported document type", fmt.Errorf("%s", path))
	}
	return domain.Document{ID: hashString(path), Path: path, Content: content}, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
