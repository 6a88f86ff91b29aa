package downloader

import "fmt"

// Priority orders queued downloads. Higher priorities are dispatched first;
// an already running transfer is never preempted.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("invalid priority: %q", s)
	}
}

// Status is the lifecycle state of a download task.
type Status int

const (
	StatusQueued Status = iota
	StatusDownloading
	StatusRetrying
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusDownloading:
		return "downloading"
	case StatusRetrying:
		return "retrying"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the task's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is a point-in-time snapshot of a running transfer. Total is -1
// when the remote does not announce a size.
type Progress struct {
	Received int64
	Total    int64
}

// FailedDownload describes a download that exhausted its retry budget.
type FailedDownload struct {
	ID        string
	SourceURL string
	Err       error
}

// task is one pending or active transfer. All fields except done are guarded
// by the engine mutex; path and err become immutable once done is closed.
type task struct {
	id        string
	sourceURL string
	priority  Priority
	attempts  int
	status    Status

	done chan struct{} // closed on terminal status
	path string
	err  error

	subs []chan Progress
}

func newTask(id, sourceURL string, priority Priority) *task {
	return &task{
		id:        id,
		sourceURL: sourceURL,
		priority:  priority,
		status:    StatusQueued,
		done:      make(chan struct{}),
	}
}

// finish records the terminal result, releases waiters and closes all
// progress subscriptions. Must only be called once, with the engine mutex
// held and the terminal status already set.
func (t *task) finish(path string, err error) {
	t.path = path
	t.err = err

	close(t.done)

	for _, sub := range t.subs {
		close(sub)
	}

	t.subs = nil
}

// publish delivers a progress snapshot to all subscribers without blocking;
// slow subscribers miss intermediate updates rather than stalling a worker.
func (t *task) publish(p Progress) {
	for _, sub := range t.subs {
		select {
		case sub <- p:
		default:
		}
	}
}
