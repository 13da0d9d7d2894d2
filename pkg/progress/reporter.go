// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package progress

import (
	"fmt"
	"io"
	"sync"
)

// StrictInvariants makes Emitter panic on internal protocol violations
// (regressing byte counts, updates after completion). Tests enable it; in
// production builds violations are clamped instead, as they are programmer
// errors and never a user-facing failure.
var StrictInvariants = false

// Reporter accepts progress events. CLI renderers and machine-readable
// streams both implement this single capability.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

// Report implements Reporter.
func (f ReporterFunc) Report(e Event) { f(e) }

// Discard drops all events.
var Discard Reporter = ReporterFunc(func(Event) {})

// Fanout delivers every event to all reporters, in order.
func Fanout(reporters ...Reporter) Reporter {
	return ReporterFunc(func(e Event) {
		for _, r := range reporters {
			r.Report(e)
		}
	})
}

// JSONReporter writes events as newline-delimited JSON.
type JSONReporter struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewJSONReporter creates a JSONReporter writing to w.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{w: w}
}

// Report implements Reporter.
func (r *JSONReporter) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}

	data, err := MarshalEvent(e)
	if err != nil {
		r.err = err

		return
	}

	_, r.err = r.w.Write(append(data, '\n'))
}

// Err returns the first write or encoding error, if any.
func (r *JSONReporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

type subTaskState struct {
	bytes     uint64
	completed bool
}

// Emitter validates and forwards events to a Reporter.
//
// It guarantees the Start event is emitted exactly once and first, that
// counts never regress within a task's lifetime, and that a completed
// subtask receives no further updates.
type Emitter struct {
	mu       sync.Mutex
	rep      Reporter
	started  bool
	tasks    map[string]taskCounts
	subtasks map[string]subTaskState
}

type taskCounts struct {
	steps uint64
	bytes uint64
}

// NewEmitter creates an Emitter forwarding to rep.
func NewEmitter(rep Reporter) *Emitter {
	return &Emitter{
		rep:      rep,
		tasks:    map[string]taskCounts{},
		subtasks: map[string]subTaskState{},
	}
}

// Start emits the Start event; subsequent calls are no-ops.
func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return
	}

	e.started = true

	e.rep.Report(Start{Version: ProtocolVersion})
}

// Report validates the event against the stream invariants and forwards it.
func (e *Emitter) Report(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		e.violation("event emitted before Start")

		e.started = true

		e.rep.Report(Start{Version: ProtocolVersion})
	}

	switch t := ev.(type) {
	case ProgressBytes:
		t.Steps, t.Bytes = e.checkTask(t.ID, t.Steps, t.Bytes, t.StepsTotal, t.BytesTotal)
		t.StepsCached = e.checkCached(t.ID, "steps", t.StepsCached, t.StepsTotal)
		t.BytesCached = e.checkCached(t.ID, "bytes", t.BytesCached, t.BytesTotal)
		t.SubTasks = e.checkSubTasks(t.SubTasks)
		ev = t
	case ProgressSteps:
		t.Steps, _ = e.checkTask(t.ID, t.Steps, 0, t.StepsTotal, 0)
		t.StepsCached = e.checkCached(t.ID, "steps", t.StepsCached, t.StepsTotal)
		t.SubTasks = e.checkSubTasks(t.SubTasks)
		ev = t
	}

	e.rep.Report(ev)
}

func (e *Emitter) checkTask(id string, steps, bytes, stepsTotal, bytesTotal uint64) (uint64, uint64) {
	prev := e.tasks[id]

	if steps < prev.steps {
		e.violation("task %q steps regressed: %d < %d", id, steps, prev.steps)

		steps = prev.steps
	}

	if bytes < prev.bytes {
		e.violation("task %q bytes regressed: %d < %d", id, bytes, prev.bytes)

		bytes = prev.bytes
	}

	if stepsTotal != 0 && steps > stepsTotal {
		e.violation("task %q steps %d exceed total %d", id, steps, stepsTotal)

		steps = stepsTotal
	}

	if bytesTotal != 0 && bytes > bytesTotal {
		e.violation("task %q bytes %d exceed total %d", id, bytes, bytesTotal)

		bytes = bytesTotal
	}

	e.tasks[id] = taskCounts{steps: steps, bytes: bytes}

	return steps, bytes
}

func (e *Emitter) checkCached(id, unit string, cached, total uint64) uint64 {
	if total != 0 && cached > total {
		e.violation("task %q cached %s %d exceed total %d", id, unit, cached, total)

		cached = total
	}

	return cached
}

func (e *Emitter) checkSubTasks(subtasks []SubTask) []SubTask {
	checked := make([]SubTask, 0, len(subtasks))

	for _, st := range subtasks {
		prev, seen := e.subtasks[st.SubTaskID()]

		if seen && prev.completed {
			e.violation("subtask %q updated after completion", st.SubTaskID())

			continue
		}

		if b, ok := st.(SubTaskBytes); ok {
			if b.Bytes < prev.bytes {
				e.violation("subtask %q bytes regressed: %d < %d", b.ID, b.Bytes, prev.bytes)

				b.Bytes = prev.bytes
			}

			if b.BytesTotal != 0 && b.Bytes > b.BytesTotal {
				e.violation("subtask %q bytes %d exceed total %d", b.ID, b.Bytes, b.BytesTotal)

				b.Bytes = b.BytesTotal
			}

			if b.BytesTotal != 0 && b.BytesCached > b.BytesTotal {
				e.violation("subtask %q cached bytes %d exceed total %d", b.ID, b.BytesCached, b.BytesTotal)

				b.BytesCached = b.BytesTotal
			}

			st = b
		}

		e.subtasks[st.SubTaskID()] = subTaskState{
			bytes: subTaskBytesOf(st),

			completed: st.Complete(),
		}

		checked = append(checked, st)
	}

	return checked
}

func subTaskBytesOf(st SubTask) uint64 {
	if b, ok := st.(SubTaskBytes); ok {
		return b.Bytes
	}

	return 0
}

func (e *Emitter) violation(format string, args ...any) {
	if StrictInvariants {
		panic(fmt.Sprintf("progress invariant violation: "+format, args...))
	}
}
