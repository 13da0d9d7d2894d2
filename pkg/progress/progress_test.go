// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package progress_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ociboot/ociboot/pkg/progress"
)

type recorder struct {
	events []progress.Event
}

func (r *recorder) Report(e progress.Event) {
	r.events = append(r.events, e)
}

func TestEmitterStartFirst(t *testing.T) {
	rec := &recorder{}

	e := progress.NewEmitter(rec)
	e.Start()
	e.Start() // second call is a no-op

	e.Report(progress.ProgressSteps{ID: "deploying", Task: "deploying", Steps: 1, StepsTotal: 3})

	require.Len(t, rec.events, 2)
	assert.Equal(t, progress.Start{Version: progress.ProtocolVersion}, rec.events[0])
}

func TestEmitterMonotonicity(t *testing.T) {
	progress.StrictInvariants = false

	t.Cleanup(func() { progress.StrictInvariants = false })

	rec := &recorder{}

	e := progress.NewEmitter(rec)
	e.Start()

	e.Report(progress.ProgressBytes{ID: "pulling", Task: "pulling", Bytes: 100, BytesTotal: 200})
	// regressing bytes get clamped to the previous value
	e.Report(progress.ProgressBytes{ID: "pulling", Task: "pulling", Bytes: 50, BytesTotal: 200})

	last := rec.events[len(rec.events)-1].(progress.ProgressBytes)
	assert.EqualValues(t, 100, last.Bytes)
}

func TestEmitterStrictPanics(t *testing.T) {
	progress.StrictInvariants = true

	t.Cleanup(func() { progress.StrictInvariants = false })

	rec := &recorder{}

	e := progress.NewEmitter(rec)
	e.Start()

	e.Report(progress.ProgressBytes{ID: "pulling", Task: "pulling", Bytes: 100, BytesTotal: 200})

	assert.Panics(t, func() {
		e.Report(progress.ProgressBytes{ID: "pulling", Task: "pulling", Bytes: 50, BytesTotal: 200})
	})
}

func TestEmitterCachedBounds(t *testing.T) {
	progress.StrictInvariants = false

	t.Cleanup(func() { progress.StrictInvariants = false })

	rec := &recorder{}

	e := progress.NewEmitter(rec)
	e.Start()

	// cached counts exceeding the totals get clamped to them
	e.Report(progress.ProgressBytes{
		ID: "pulling", Task: "pulling",
		Steps: 2, StepsCached: 5, StepsTotal: 3,
		Bytes: 100, BytesCached: 300, BytesTotal: 200,
	})

	pb := rec.events[len(rec.events)-1].(progress.ProgressBytes)
	assert.EqualValues(t, 3, pb.StepsCached)
	assert.EqualValues(t, 200, pb.BytesCached)

	e.Report(progress.ProgressSteps{ID: "deploying", Task: "deploying", StepsCached: 4, StepsTotal: 2})

	ps := rec.events[len(rec.events)-1].(progress.ProgressSteps)
	assert.EqualValues(t, 2, ps.StepsCached)

	progress.StrictInvariants = true

	assert.Panics(t, func() {
		e.Report(progress.ProgressBytes{ID: "pulling", Task: "pulling", Bytes: 150, BytesCached: 300, BytesTotal: 200})
	})
}

func TestSubTaskCompletionIsFinal(t *testing.T) {
	progress.StrictInvariants = false

	t.Cleanup(func() { progress.StrictInvariants = false })

	rec := &recorder{}

	e := progress.NewEmitter(rec)
	e.Start()

	e.Report(progress.ProgressBytes{
		ID:   "pulling",
		Task: "pulling",
		SubTasks: []progress.SubTask{
			progress.SubTaskBytes{ID: "layer-0", Subtask: "layer", Bytes: 512, BytesTotal: 512},
		},
	})

	// a further update for the completed subtask is dropped
	e.Report(progress.ProgressBytes{
		ID:   "pulling",
		Task: "pulling",
		SubTasks: []progress.SubTask{
			progress.SubTaskBytes{ID: "layer-0", Subtask: "layer", Bytes: 100, BytesTotal: 512},
		},
	})

	last := rec.events[len(rec.events)-1].(progress.ProgressBytes)
	assert.Empty(t, last.SubTasks)

	first := rec.events[1].(progress.ProgressBytes)
	require.Len(t, first.SubTasks, 1)
	assert.True(t, first.SubTasks[0].Complete())
}

func TestSubTaskStepComplete(t *testing.T) {
	st := progress.SubTaskStep{ID: "fsck", Subtask: "fsck", Completed: false}
	assert.False(t, st.Complete())

	st.Completed = true
	assert.True(t, st.Complete())
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	rep := progress.NewJSONReporter(&buf)

	e := progress.NewEmitter(rep)
	e.Start()
	e.Report(progress.ProgressBytes{
		ID:          "pulling",
		Task:        "pulling",
		Description: "Pulling image",
		Steps:       1,
		StepsTotal:  4,
		Bytes:       1024,
		BytesCached: 512,
		BytesTotal:  4096,
		SubTasks: []progress.SubTask{
			progress.SubTaskBytes{ID: "layer-0", Subtask: "layer", Description: "sha256:abcd", Bytes: 1024, BytesTotal: 4096},
			progress.SubTaskStep{ID: "manifest", Subtask: "manifest", Completed: true},
		},
	})

	require.NoError(t, rep.Err())

	scanner := bufio.NewScanner(&buf)

	require.True(t, scanner.Scan())

	ev, err := progress.UnmarshalEvent(scanner.Bytes())
	require.NoError(t, err)
	assert.Equal(t, progress.Start{Version: progress.ProtocolVersion}, ev)

	require.True(t, scanner.Scan())

	ev, err = progress.UnmarshalEvent(scanner.Bytes())
	require.NoError(t, err)

	pb, ok := ev.(progress.ProgressBytes)
	require.True(t, ok)
	assert.EqualValues(t, 1024, pb.Bytes)
	require.Len(t, pb.SubTasks, 2)
	assert.IsType(t, progress.SubTaskBytes{}, pb.SubTasks[0])
	assert.IsType(t, progress.SubTaskStep{}, pb.SubTasks[1])
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	ev, err := progress.UnmarshalEvent([]byte(`{"type":"SomethingNew","shiny":true}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestStartWireFormat(t *testing.T) {
	data, err := progress.MarshalEvent(progress.Start{Version: progress.ProtocolVersion})
	require.NoError(t, err)

	var m map[string]any

	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "Start", m["type"])
	assert.Equal(t, progress.ProtocolVersion, m["version"])
}
