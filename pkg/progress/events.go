// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package progress implements the structured progress event stream emitted
// during long-running install/update work.
//
// The wire format is newline-delimited JSON; the first event is always Start
// declaring the protocol version. Consumers must ignore events with an
// unrecognized type.
package progress

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the semver of the event wire format.
const ProtocolVersion = "1.0.0"

// Event is one entry of the progress stream.
type Event interface {
	eventType() string
}

// Start declares the protocol version; emitted exactly once, first.
type Start struct {
	Version string `json:"version"`
}

// ProgressBytes reports byte-granularity progress for a task.
//
// BytesTotal == 0 means the total is unknown, not that the task is empty.
type ProgressBytes struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Description string    `json:"description"`
	Steps       uint64    `json:"steps"`
	StepsCached uint64    `json:"stepsCached"`
	StepsTotal  uint64    `json:"stepsTotal"`
	Bytes       uint64    `json:"bytes"`
	BytesCached uint64    `json:"bytesCached"`
	BytesTotal  uint64    `json:"bytesTotal"`
	SubTasks    []SubTask `json:"subTasks,omitempty"`
}

// ProgressSteps reports discrete-step progress for a task.
type ProgressSteps struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	Description string    `json:"description"`
	Steps       uint64    `json:"steps"`
	StepsCached uint64    `json:"stepsCached"`
	StepsTotal  uint64    `json:"stepsTotal"`
	SubTasks    []SubTask `json:"subTasks,omitempty"`
}

// SubTask is a named unit of progress nested under a task.
type SubTask interface {
	SubTaskID() string
	// Complete reports whether this is the final update for the subtask.
	Complete() bool
}

// SubTaskBytes is a subtask tracked by byte counts; it is complete once
// Bytes == BytesTotal.
type SubTaskBytes struct {
	ID          string `json:"id"`
	Subtask     string `json:"subtask"`
	Description string `json:"description"`
	Bytes       uint64 `json:"bytes"`
	BytesCached uint64 `json:"bytesCached"`
	BytesTotal  uint64 `json:"bytesTotal"`
}

// SubTaskStep is a subtask tracked as a single completable step.
type SubTaskStep struct {
	ID          string `json:"id"`
	Subtask     string `json:"subtask"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

func (Start) eventType() string         { return "Start" }
func (ProgressBytes) eventType() string { return "ProgressBytes" }
func (ProgressSteps) eventType() string { return "ProgressSteps" }

// SubTaskID implements SubTask.
func (s SubTaskBytes) SubTaskID() string { return s.ID }

// Complete implements SubTask.
func (s SubTaskBytes) Complete() bool { return s.Bytes == s.BytesTotal }

// SubTaskID implements SubTask.
func (s SubTaskStep) SubTaskID() string { return s.ID }

// Complete implements SubTask.
func (s SubTaskStep) Complete() bool { return s.Completed }

type envelope struct {
	Type string `json:"type"`
}

// MarshalEvent encodes an event as a single JSON object with a "type" tag.
func MarshalEvent(e Event) ([]byte, error) {
	inner, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	tag, err := json.Marshal(envelope{Type: e.eventType()})
	if err != nil {
		return nil, err
	}

	if string(inner) == "{}" {
		return tag, nil
	}

	// splice the type tag in front of the event fields
	return append(append(tag[:len(tag)-1], ','), inner[1:]...), nil
}

// UnmarshalEvent decodes a single event.
//
// An unrecognized type yields (nil, nil) so consumers stay forward-compatible.
func UnmarshalEvent(data []byte) (Event, error) {
	var env envelope

	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed progress event: %w", err)
	}

	switch env.Type {
	case "Start":
		var e Start

		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}

		return e, nil
	case "ProgressBytes":
		var e progressBytesWire

		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}

		return e.event(), nil
	case "ProgressSteps":
		var e progressStepsWire

		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}

		return e.event(), nil
	default:
		return nil, nil
	}
}

// subTaskWire decodes either subtask flavor: presence of "completed"
// distinguishes SubTaskStep from SubTaskBytes.
type subTaskWire struct {
	ID          string  `json:"id"`
	Subtask     string  `json:"subtask"`
	Description string  `json:"description"`
	Bytes       *uint64 `json:"bytes"`
	BytesCached uint64  `json:"bytesCached"`
	BytesTotal  uint64  `json:"bytesTotal"`
	Completed   *bool   `json:"completed"`
}

func (w subTaskWire) subTask() SubTask {
	if w.Completed != nil {
		return SubTaskStep{
			ID:          w.ID,
			Subtask:     w.Subtask,
			Description: w.Description,
			Completed:   *w.Completed,
		}
	}

	var bytes uint64

	if w.Bytes != nil {
		bytes = *w.Bytes
	}

	return SubTaskBytes{
		ID:          w.ID,
		Subtask:     w.Subtask,
		Description: w.Description,
		Bytes:       bytes,
		BytesCached: w.BytesCached,
		BytesTotal:  w.BytesTotal,
	}
}

type progressBytesWire struct {
	ProgressBytes

	SubTasks []subTaskWire `json:"subTasks"`
}

func (w progressBytesWire) event() Event {
	e := w.ProgressBytes
	e.SubTasks = make([]SubTask, 0, len(w.SubTasks))

	for _, st := range w.SubTasks {
		e.SubTasks = append(e.SubTasks, st.subTask())
	}

	return e
}

type progressStepsWire struct {
	ProgressSteps

	SubTasks []subTaskWire `json:"subTasks"`
}

func (w progressStepsWire) event() Event {
	e := w.ProgressSteps
	e.SubTasks = make([]SubTask, 0, len(w.SubTasks))

	for _, st := range w.SubTasks {
		e.SubTasks = append(e.SubTasks, st.subTask())
	}

	return e
}
