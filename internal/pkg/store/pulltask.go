// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package store

import (
	"io"

	"github.com/ociboot/ociboot/pkg/imageref"
	"github.com/ociboot/ociboot/pkg/progress"
)

// updateInterval is how many bytes pass between intermediate progress
// updates for a downloading layer.
const updateInterval = 1 << 20

// pullTask relays layer download progress as ProgressBytes events.
type pullTask struct {
	emitter *progress.Emitter
	ref     imageref.ImageReference

	stepsTotal uint64
	bytesTotal uint64

	steps       uint64
	stepsCached uint64
	bytes       uint64
	bytesCached uint64
}

func (t *pullTask) flush(subtasks []progress.SubTask) {
	if t.emitter == nil {
		return
	}

	t.emitter.Report(progress.ProgressBytes{
		ID:          TaskPulling,
		Task:        TaskPulling,
		Description: "Pulling " + t.ref.String(),
		Steps:       t.steps,
		StepsCached: t.stepsCached,
		StepsTotal:  t.stepsTotal,
		Bytes:       t.bytes,
		BytesCached: t.bytesCached,
		BytesTotal:  t.bytesTotal,
		SubTasks:    subtasks,
	})
}

func (t *pullTask) subTask(l Layer, bytes, cached uint64) progress.SubTaskBytes {
	return progress.SubTaskBytes{
		ID:          l.Digest.Encoded()[:12],
		Subtask:     "layer",
		Description: l.Digest.String(),
		Bytes:       bytes,
		BytesCached: cached,
		BytesTotal:  uint64(l.Size),
	}
}

// layerCached accounts a layer satisfied entirely from the store.
func (t *pullTask) layerCached(l Layer) {
	t.steps++
	t.stepsCached++
	t.bytes += uint64(l.Size)
	t.bytesCached += uint64(l.Size)

	t.flush([]progress.SubTask{t.subTask(l, uint64(l.Size), uint64(l.Size))})
}

// layerDone accounts a fully downloaded layer and emits its final,
// completing subtask update.
func (t *pullTask) layerDone(l Layer) {
	t.steps++

	t.flush([]progress.SubTask{t.subTask(l, uint64(l.Size), 0)})
}

// layerReader wraps a layer download stream, emitting intermediate progress
// as bytes arrive. The completing update is emitted by layerDone, after the
// blob import succeeded.
func (t *pullTask) layerReader(l Layer, r io.Reader) io.Reader {
	return &progressReader{
		r:     r,
		task:  t,
		layer: l,
	}
}

type progressReader struct {
	r     io.Reader
	task  *pullTask
	layer Layer

	read      uint64
	lastFlush uint64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)

	if n > 0 {
		pr.read += uint64(n)
		pr.task.bytes += uint64(n)

		if pr.read-pr.lastFlush >= updateInterval && pr.read < uint64(pr.layer.Size) {
			pr.lastFlush = pr.read

			pr.task.flush([]progress.SubTask{pr.task.subTask(pr.layer, pr.read, 0)})
		}
	}

	return n, err
}
