package logging

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// field is one key/value pair of a completion event, kept in insertion order.
type field struct {
	key string
	val any
}

// CompletionEvent builds a consistent "something finished" log line:
// event name, table, duration and any extra fields.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	table   string
	elapsed time.Duration
	fields  []field
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, table string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		table:   table,
		elapsed: elapsed,
	}
}

// TableOpened starts a table_opened event.
func TableOpened(log zerolog.Logger, table string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "table_opened", table, elapsed)
}

// TableExported starts a table_exported event.
func TableExported(log zerolog.Logger, table string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "table_exported", table, elapsed)
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields = append(ce.fields, field{key, val})
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields = append(ce.fields, field{key, val})
	return ce
}

// Bytes adds a byte count with a human-readable companion in pretty mode.
func (ce *CompletionEvent) Bytes(key string, n int64) *CompletionEvent {
	ce.fields = append(ce.fields, field{key, n})
	if IsPrettyMode() {
		ce.fields = append(ce.fields, field{key + "_h", formatBytes(n)})
	}
	return ce
}

// Count adds a count with a human-readable companion in pretty mode.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields = append(ce.fields, field{key, n})
	if IsPrettyMode() {
		ce.fields = append(ce.fields, field{key + "_h", formatCount(n)})
	}
	return ce
}

// Progress adds done/total fields from a tracker.
func (ce *CompletionEvent) Progress(pt *ProgressTracker) *CompletionEvent {
	done, failed, total := pt.Progress()
	ce.fields = append(ce.fields,
		field{"done", done},
		field{"failed", failed},
		field{"total", total},
		field{"progress_pct", pt.ProgressPct()})
	return ce
}

// Log emits the event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("table", ce.table).
		Int64("duration_ms", ce.elapsed.Milliseconds())
	if IsPrettyMode() {
		e = e.Str("duration_h", formatDuration(ce.elapsed))
	}
	for _, f := range ce.fields {
		e = e.Interface(f.key, f.val)
	}
	e.Msg(msg)
}

// ProgressTracker counts finished items of a multi-table run.
// It is safe for concurrent use.
type ProgressTracker struct {
	total  int64
	done   atomic.Int64
	failed atomic.Int64
	busy   atomic.Int64 // summed nanoseconds of successful items
	start  time.Time
}

// NewProgressTracker creates a tracker for total items.
func NewProgressTracker(total int64) *ProgressTracker {
	return &ProgressTracker{total: total, start: time.Now()}
}

// RecordCompletion records an item that finished after d.
func (pt *ProgressTracker) RecordCompletion(d time.Duration) {
	pt.done.Add(1)
	pt.busy.Add(int64(d))
}

// RecordFailure records an item that failed.
func (pt *ProgressTracker) RecordFailure() {
	pt.failed.Add(1)
}

// Progress returns current counts.
func (pt *ProgressTracker) Progress() (done, failed, total int64) {
	return pt.done.Load(), pt.failed.Load(), pt.total
}

// ProgressPct returns the share of finished items, 0-100.
func (pt *ProgressTracker) ProgressPct() float64 {
	if pt.total == 0 {
		return 100
	}
	return float64(pt.done.Load()+pt.failed.Load()) * 100 / float64(pt.total)
}

// ETA estimates the remaining time from the mean duration of completed items.
func (pt *ProgressTracker) ETA() time.Duration {
	done := pt.done.Load()
	remaining := pt.total - done - pt.failed.Load()
	if done == 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(pt.busy.Load()/done) * time.Duration(remaining)
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.start)
}
