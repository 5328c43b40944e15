// Package query decides event visibility under a combinable filter set and
// projects the call tree down to its visible nodes. Filters AND together; the
// zero FilterSet hides nothing. Filtering never mutates the log — it only
// narrows what a view shows.
package query

import (
	"strings"

	"github.com/samber/lo"

	"github.com/aniasusual/blind/internal/domain"
)

// DefaultHotThreshold is the heatmap count at which a line counts as hot.
const DefaultHotThreshold = 5

// DefaultCategories is the allow-set applied when category filtering is
// enabled without an explicit list: just the call/return skeleton.
func DefaultCategories() []domain.Category {
	return []domain.Category{
		domain.CategoryCall,
		domain.CategoryMethodCall,
		domain.CategoryReturn,
		domain.CategoryMethodReturn,
	}
}

// HeatSource exposes the reconstruction engine's heatmap as of the current
// cursor. Hot-path membership is evaluated against it live, so an event can
// gain or lose hot status as the cursor advances; that is intended.
type HeatSource interface {
	HeatCount(fileID, line int) int
}

// FileResolver maps a file id to its registered source file.
type FileResolver interface {
	File(id int) (*domain.SourceFile, bool)
}

// FilterSet is one combination of filters. All enabled criteria must match
// for an event to be visible (AND semantics), so enabling an additional
// criterion can only shrink the visible set.
type FilterSet struct {
	// Search is a case-insensitive substring matched against function name,
	// class name and relative file path. Empty = disabled.
	Search string
	// HotOnly keeps only events whose (file, line) heatmap count meets
	// HotThreshold (inclusive). HotThreshold <= 0 uses DefaultHotThreshold.
	HotOnly      bool
	HotThreshold int
	// ExcludePrefixes hides events whose absolute file path starts with any
	// of these prefixes (runtime/library internals).
	ExcludePrefixes []string
	// Categories is an allow-set; nil = all categories.
	Categories []domain.Category
	// Files is an allow-set of file ids; empty = unrestricted.
	Files []int
}

// IsZero reports whether no filter criterion is enabled.
func (f *FilterSet) IsZero() bool {
	return f.Search == "" && !f.HotOnly && len(f.ExcludePrefixes) == 0 &&
		f.Categories == nil && len(f.Files) == 0
}

// Visible reports whether ev passes every enabled filter.
func (f *FilterSet) Visible(ev *domain.Event, files FileResolver, heat HeatSource) bool {
	if f == nil || f.IsZero() {
		return true
	}

	if f.Categories != nil && !lo.Contains(f.Categories, ev.Category) {
		return false
	}
	if len(f.Files) > 0 && !lo.Contains(f.Files, ev.FileID) {
		return false
	}

	var sf *domain.SourceFile
	if files != nil {
		sf, _ = files.File(ev.FileID)
	}

	if len(f.ExcludePrefixes) > 0 && sf != nil {
		excluded := lo.SomeBy(f.ExcludePrefixes, func(p string) bool {
			return strings.HasPrefix(sf.AbsolutePath, p)
		})
		if excluded {
			return false
		}
	}

	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hay := strings.ToLower(ev.Function) + "\x00" + strings.ToLower(ev.Class)
		if sf != nil {
			hay += "\x00" + strings.ToLower(sf.RelativePath)
		}
		if !strings.Contains(hay, needle) {
			return false
		}
	}

	if f.HotOnly {
		threshold := f.HotThreshold
		if threshold <= 0 {
			threshold = DefaultHotThreshold
		}
		if heat == nil || heat.HeatCount(ev.FileID, ev.Line) < threshold {
			return false
		}
	}

	return true
}
