package trace

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// StreamTracer writes events immediately to an io.Writer as JSON lines.
type StreamTracer struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
}

// NewStreamTracer creates a new StreamTracer.
func NewStreamTracer(w io.Writer, level Level) *StreamTracer {
	return &StreamTracer{w: w, level: level}
}

type eventLine struct {
	TS      string `json:"ts"`
	Seq     uint64 `json:"seq"`
	Kind    string `json:"kind"`
	Scope   string `json:"scope"`
	Routine string `json:"routine,omitempty"`
	Session uint64 `json:"session,omitempty"`
	Name    string `json:"name"`
	Detail  string `json:"detail,omitempty"`
}

// Emit writes an event to the output. Write errors are swallowed; the
// build must not fail because its trace sink did.
func (t *StreamTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) {
		return
	}
	ev.Seq = nextSeq()
	line := eventLine{
		TS:      ev.Time.Format(time.RFC3339Nano),
		Seq:     ev.Seq,
		Kind:    ev.Kind.String(),
		Scope:   ev.Scope.String(),
		Routine: ev.Routine,
		Session: ev.Session,
		Name:    ev.Name,
		Detail:  ev.Detail,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.w.Write(data)
}

// Flush ensures all buffered data is written. StreamTracer writes
// immediately, so only a wrapping flusher gets a chance here.
func (t *StreamTracer) Flush() error {
	if flusher, ok := t.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close flushes and closes the writer if it implements io.Closer.
func (t *StreamTracer) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	if closer, ok := t.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Level returns the current tracing level.
func (t *StreamTracer) Level() Level {
	return t.level
}

// Enabled returns true if tracing is active.
func (t *StreamTracer) Enabled() bool {
	return t.level > LevelOff
}
