// Package registry captures source files referenced during a trace session.
// Each absolute path is read exactly once; the stored text is a snapshot, not
// a live view of the file.
package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aniasusual/blind/internal/domain"
)

// Registry assigns stable file ids in first-seen order.
type Registry struct {
	mu     sync.Mutex
	root   string
	logger *zap.Logger
	byPath map[string]*domain.SourceFile
	order  []string
	nextID int
}

// New creates a registry rooted at the session root. Relative paths are
// computed against root; paths outside it keep their absolute form.
func New(root string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		root:   root,
		logger: logger,
		byPath: make(map[string]*domain.SourceFile),
		nextID: 1,
	}
}

// RegisterIfAbsent returns the SourceFile for path, reading its content on
// the first call for that absolute path. A read failure registers a
// placeholder with empty content rather than failing the session.
func (r *Registry) RegisterIfAbsent(path string, firstSeenEventID int64) *domain.SourceFile {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sf, ok := r.byPath[abs]; ok {
		return sf
	}

	sf := &domain.SourceFile{
		FileID:           r.nextID,
		AbsolutePath:     abs,
		RelativePath:     r.relative(abs),
		FirstSeenEventID: firstSeenEventID,
	}
	r.nextID++

	data, err := os.ReadFile(abs)
	if err != nil {
		sf.Unavailable = true
		r.logger.Warn("source file unavailable",
			zap.String("path", abs),
			zap.String("fault", string(domain.FileReadFault)),
			zap.Error(err))
	} else {
		sf.Text = string(data)
		sf.LineCount = countLines(sf.Text)
	}

	r.byPath[abs] = sf
	r.order = append(r.order, abs)
	return sf
}

// Lookup returns a previously registered file by absolute path.
func (r *Registry) Lookup(path string) (*domain.SourceFile, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sf, ok := r.byPath[abs]
	return sf, ok
}

// Files returns all registered files in first-seen order.
func (r *Registry) Files() []*domain.SourceFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.SourceFile, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.byPath[p])
	}
	return out
}

// Len reports the number of registered files.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPath)
}

func (r *Registry) relative(abs string) string {
	if r.root == "" {
		return abs
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
