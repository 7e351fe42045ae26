package provider

// EventKind discriminates the events a response stream can carry.
type EventKind string

const (
	// EventProgress reports model download or load progress.
	EventProgress EventKind = "progress"

	// EventTextDelta carries one fragment of generated text.
	EventTextDelta EventKind = "text-delta"

	// EventToolCall reports that the model requested a tool invocation.
	EventToolCall EventKind = "tool-call"

	// EventToolResult carries the output of an executed tool.
	EventToolResult EventKind = "tool-result"

	// EventNotification carries a user-facing notice, currently only
	// errors.
	EventNotification EventKind = "notification"
)

// ProgressStatus is the lifecycle state of one progress sequence.
type ProgressStatus string

const (
	ProgressDownloading ProgressStatus = "downloading"
	ProgressComplete    ProgressStatus = "complete"
)

// NotificationLevel grades notifications.
type NotificationLevel string

const (
	LevelError NotificationLevel = "error"
)

// ProgressEvent is one update in a correlated progress sequence. Percent
// is in [0,100]. A sequence opens with the first downloading event and
// ends with exactly one complete event carrying Percent 100.
type ProgressEvent struct {
	CorrelationID string
	Status        ProgressStatus
	Percent       float64
	Message       string
}

// Event is one item on a response stream. Kind selects which fields are
// meaningful.
type Event struct {
	Kind EventKind

	// EventProgress
	Progress ProgressEvent

	// EventTextDelta
	Text string

	// EventToolCall and EventToolResult
	ToolName   string
	ToolArgs   map[string]any
	ToolOutput string

	// EventNotification
	Level   NotificationLevel
	Message string
}
