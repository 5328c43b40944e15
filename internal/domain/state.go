package domain

// StackEntry is one open frame in the reconstructed call stack.
type StackEntry struct {
	EventID  int64  `json:"event_id"`
	Function string `json:"function_name"`
	Class    string `json:"class_name,omitempty"`
	FileID   int    `json:"file_id"`
	Line     int    `json:"line_number"`
	Depth    int    `json:"stack_depth"`
	ScopeID  string `json:"scope_id"`
}

// TreeNode is one call in the reconstructed (and possibly filtered) call
// tree. Children are ordered by event id. Links are ids into the log, never
// pointers to other events.
type TreeNode struct {
	EventID  int64       `json:"event_id"`
	Function string      `json:"function_name"`
	Class    string      `json:"class_name,omitempty"`
	FileID   int         `json:"file_id"`
	Line     int         `json:"line_number"`
	Depth    int         `json:"stack_depth"`
	Children []*TreeNode `json:"children,omitempty"`
}

// LineCount is a heatmap cell: how many events hit a (file, line) pair.
type LineCount struct {
	FileID int `json:"file_id"`
	Line   int `json:"line_number"`
	Count  int `json:"count"`
}

// Coverage summarizes executed lines for one source file.
type Coverage struct {
	FileID        int     `json:"file_id"`
	ExecutedLines int     `json:"executed_lines"`
	TotalLines    int     `json:"total_lines"`
	Ratio         float64 `json:"ratio"`
}

// StateSnapshot is the derived view at a single cursor position. It is a pure
// function of (log, cursor, filters) and holds no live references into the
// engine's internal state.
type StateSnapshot struct {
	Cursor   int                   `json:"cursor"`
	Stack    []StackEntry          `json:"stack"`
	Tree     []*TreeNode           `json:"tree"`
	Heatmap  []LineCount           `json:"heatmap"`
	Coverage map[int]Coverage      `json:"coverage"`
}
