package domain

// Category classifies a single trace event.
type Category string

const (
	CategoryCall          Category = "call"
	CategoryMethodCall    Category = "method_call"
	CategoryReturn        Category = "return"
	CategoryMethodReturn  Category = "method_return"
	CategoryLine          Category = "line"
	CategoryLoopStart     Category = "loop_start"
	CategoryLoopIteration Category = "loop_iteration"
	CategoryConditional   Category = "conditional"
	CategoryAssignment    Category = "assignment"
	CategoryImport        Category = "import"
	CategoryException     Category = "exception"
	CategoryDefer         Category = "defer"
	CategoryGoStatement   Category = "go_statement"
)

// IsCall reports whether the category opens a new frame.
func (c Category) IsCall() bool {
	return c == CategoryCall || c == CategoryMethodCall
}

// IsReturn reports whether the category closes a frame.
func (c Category) IsReturn() bool {
	return c == CategoryReturn || c == CategoryMethodReturn
}

// Payload carries category-specific detail. All fields are optional; under
// transport backpressure the probe sheds the whole payload while keeping the
// event's structural fields intact.
type Payload struct {
	Arguments     map[string]string `json:"arguments,omitempty"`
	Locals        map[string]string `json:"locals,omitempty"`
	ReturnValue   string            `json:"return_value,omitempty"`
	ExceptionKind string            `json:"exception_kind,omitempty"`
	ExceptionMsg  string            `json:"exception_message,omitempty"`
	ElapsedMicros int64             `json:"elapsed_us,omitempty"`
	Iteration     int               `json:"iteration,omitempty"`
}

// Event is one timestamped, categorized observation of program execution.
// EventID is assigned in emission order and is strictly increasing within a
// session. ParentEventID, when non-zero, references an earlier call-category
// event one depth level up.
type Event struct {
	EventID       int64    `json:"event_id"`
	Timestamp     int64    `json:"timestamp"` // unix nanoseconds
	Category      Category `json:"category"`
	FileID        int      `json:"file_id"`
	Line          int      `json:"line_number"`
	Function      string   `json:"function_name"`
	Class         string   `json:"class_name,omitempty"`
	Module        string   `json:"module_name"`
	LineText      string   `json:"line_text"`
	Depth         int      `json:"stack_depth"`
	ParentEventID int64    `json:"parent_event_id,omitempty"`
	ScopeID       string   `json:"scope_id"`
	Payload       *Payload `json:"payload,omitempty"`
}

// SourceFile is an immutable snapshot of a source file, captured exactly once
// on first reference. Unavailable marks files whose content could not be read;
// such files still participate in the session with empty text.
type SourceFile struct {
	FileID           int    `json:"file_id"`
	AbsolutePath     string `json:"absolute_path"`
	RelativePath     string `json:"relative_path"`
	Text             string `json:"text"`
	LineCount        int    `json:"line_count"`
	FirstSeenEventID int64  `json:"first_seen_event_id"`
	Unavailable      bool   `json:"unavailable,omitempty"`
}

// Transition records execution crossing from one source file to another.
// Repeated crossings of the same pair are recorded every time.
type Transition struct {
	FromFileID    int   `json:"from_file_id"`
	ToFileID      int   `json:"to_file_id"`
	BeforeEventID int64 `json:"before_event_id"`
	AfterEventID  int64 `json:"after_event_id"`
}
