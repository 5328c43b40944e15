package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/aniasusual/blind/internal/collector"
	"github.com/aniasusual/blind/internal/domain"
	"github.com/aniasusual/blind/internal/export"
	"github.com/aniasusual/blind/internal/output"
	"github.com/aniasusual/blind/internal/query"
)

// InspectCmd loads a captured snapshot and prints the reconstructed state at
// a cursor position: call stack, visible call tree, hot lines and coverage.
type InspectCmd struct {
	Snapshot string `arg:"" help:"Snapshot file (.json, optionally zstd) or SQLite database (.db/.sqlite)"`
	At       int    `default:"-2" help:"Cursor position to inspect (default: last event)"`
	Event    int64  `help:"Export the single event at this cursor position instead of the full state"`

	Search        string   `short:"s" help:"Case-insensitive substring over function/class/relative path"`
	Hot           bool     `help:"Keep only hot-path events"`
	HotThreshold  int      `default:"${config_hot_threshold}" help:"Heatmap count at which a line is hot (inclusive)"`
	ExcludePrefix []string `help:"Hide events from file paths with this prefix (can be repeated)"`
	Category      []string `help:"Category allow-set (can be repeated; 'default' expands to the call/return set)"`
	File          []int    `help:"File id allow-set (can be repeated)"`
}

// Run executes the inspect command.
func (c *InspectCmd) Run(globals *Globals) error {
	snap, err := loadSnapshot(c.Snapshot)
	if err != nil {
		return outputErrorCommon(globals, "SNAPSHOT_LOAD_FAILED", err.Error())
	}

	logger := newZapLogger(globals)
	defer logger.Sync()

	session, err := collector.NewSessionFromSnapshot(snap, logger)
	if err != nil {
		return outputErrorCommon(globals, "SNAPSHOT_INVALID", err.Error())
	}

	index := c.At
	if index == -2 {
		index = session.Log().Len() - 1
	}

	if c.Event > 0 {
		return c.exportEvent(globals, session, int(c.Event))
	}

	state := session.GetStateAt(index, c.filters())

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).WriteValue("state", state)
	}
	c.renderText(globals, session, state)
	return nil
}

// exportEvent implements the single-event snapshot path.
func (c *InspectCmd) exportEvent(globals *Globals, session *collector.Session, index int) error {
	es, ok := session.ExportAt(index)
	if !ok {
		return outputErrorCommon(globals, "EVENT_NOT_FOUND",
			fmt.Sprintf("no event at position %d", index))
	}
	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).WriteValue("event", es)
	}
	fmt.Fprintf(globals.Stdout, "event %d  %s  %s:%d  %s\n",
		es.Event.EventID, es.Event.Category, fileLabel(es.File), es.Event.Line, es.Event.Function)
	if es.Event.LineText != "" {
		fmt.Fprintf(globals.Stdout, "  %s\n", es.Event.LineText)
	}
	return nil
}

func (c *InspectCmd) filters() *query.FilterSet {
	f := &query.FilterSet{
		Search:          c.Search,
		HotOnly:         c.Hot,
		HotThreshold:    c.HotThreshold,
		ExcludePrefixes: c.ExcludePrefix,
		Files:           c.File,
	}
	if len(c.Category) > 0 {
		for _, name := range c.Category {
			if name == "default" {
				f.Categories = append(f.Categories, query.DefaultCategories()...)
				continue
			}
			f.Categories = append(f.Categories, domain.Category(name))
		}
	}
	return f
}

func (c *InspectCmd) renderText(globals *Globals, session *collector.Session, state *domain.StateSnapshot) {
	fmt.Fprintf(globals.Stdout, "Cursor: %d of %d events\n\n", state.Cursor, session.Log().Len())

	fmt.Fprintln(globals.Stdout, "Call stack (outermost first):")
	stack := tablewriter.NewTable(globals.Stdout)
	stack.Header("Depth", "Function", "File", "Line")
	for _, fr := range state.Stack {
		sf, _ := session.Log().File(fr.FileID)
		stack.Append(fmt.Sprintf("%d", fr.Depth), qualified(fr.Class, fr.Function), fileLabel(sf), fmt.Sprintf("%d", fr.Line))
	}
	stack.Render()

	fmt.Fprintln(globals.Stdout, "\nCall tree:")
	for _, root := range state.Tree {
		renderTree(globals, session, root, 0)
	}

	fmt.Fprintln(globals.Stdout, "\nHottest lines:")
	hot := tablewriter.NewTable(globals.Stdout)
	hot.Header("File", "Line", "Count")
	for _, lc := range topHot(state.Heatmap, 10) {
		sf, _ := session.Log().File(lc.FileID)
		hot.Append(fileLabel(sf), fmt.Sprintf("%d", lc.Line), fmt.Sprintf("%d", lc.Count))
	}
	hot.Render()

	fmt.Fprintln(globals.Stdout, "\nCoverage:")
	cov := tablewriter.NewTable(globals.Stdout)
	cov.Header("File", "Executed", "Total", "Ratio")
	for _, sf := range session.Log().Files() {
		cv, ok := state.Coverage[sf.FileID]
		if !ok {
			continue
		}
		cov.Append(sf.RelativePath,
			fmt.Sprintf("%d", cv.ExecutedLines),
			fmt.Sprintf("%d", cv.TotalLines),
			fmt.Sprintf("%.0f%%", cv.Ratio*100))
	}
	cov.Render()
}

func renderTree(globals *Globals, session *collector.Session, node *domain.TreeNode, indent int) {
	sf, _ := session.Log().File(node.FileID)
	fmt.Fprintf(globals.Stdout, "%s%s (%s:%d)\n",
		strings.Repeat("  ", indent), qualified(node.Class, node.Function), fileLabel(sf), node.Line)
	for _, child := range node.Children {
		renderTree(globals, session, child, indent+1)
	}
}

func topHot(heatmap []domain.LineCount, n int) []domain.LineCount {
	out := make([]domain.LineCount, len(heatmap))
	copy(out, heatmap)
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func qualified(class, function string) string {
	if class != "" {
		return class + "." + function
	}
	return function
}

func fileLabel(sf *domain.SourceFile) string {
	if sf == nil {
		return "?"
	}
	if sf.RelativePath != "" {
		return sf.RelativePath
	}
	return sf.AbsolutePath
}

// loadSnapshot reads a snapshot from a JSON/zstd file or a SQLite database,
// chosen by extension.
func loadSnapshot(path string) (*export.Snapshot, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") || strings.HasSuffix(lower, ".sqlite3") {
		return export.ReadSQLite(context.Background(), path, "")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return export.ReadJSON(f)
}
