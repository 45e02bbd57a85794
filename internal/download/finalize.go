package download

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tanq16/novadl/internal/utils"
	"golang.org/x/sync/errgroup"
)

// execute runs one segment worker per range plus the aggregator, then finalizes the task.
func (m *Manager) execute(task *Task, source Source, r *run, segments []Segment) {
	progressCh := make(chan segmentProgress, m.opts.ProgressBuffer)
	aggregated := make(chan struct{})
	go m.aggregate(task, progressCh, aggregated)

	results := make([]SegmentResult, len(segments))
	g, ctx := errgroup.WithContext(r.ctx)
	for i, seg := range segments {
		worker := &segmentWorker{
			source:     source,
			task:       task,
			segment:    seg,
			progressCh: progressCh,
			backoff:    m.opts.RetryBackoff,
			log:        m.log.With().Str("task", task.ID).Logger(),
		}
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					results[i] = SegmentResult{ID: seg.ID, Err: fmt.Errorf("%w: segment %d panicked: %v", utils.ErrLock, seg.ID, p)}
					err = results[i].Err
				}
			}()
			results[i] = worker.run(ctx)
			return results[i].Err
		})
	}
	g.Wait()
	close(progressCh)
	<-aggregated
	m.finalize(task, r, results)
}

// firstFailure returns the root failure among results, preferring errors that are
// not the cancellation fan-out caused by that failure.
func firstFailure(results []SegmentResult) *SegmentResult {
	var fallback *SegmentResult
	for i := range results {
		res := &results[i]
		if res.Err == nil {
			continue
		}
		if !errors.Is(res.Err, context.Canceled) {
			return res
		}
		if fallback == nil {
			fallback = res
		}
	}
	return fallback
}

// finalize decides the terminal outcome of a run. Completed is only reached when
// every segment reported success.
func (m *Manager) finalize(task *Task, r *run, results []SegmentResult) {
	log := m.log.With().Str("task", task.ID).Logger()
	switch failure := firstFailure(results); {
	case r.ctx.Err() != nil:
		// Stopped from outside. Pause and cancel take the slot back before
		// stopping the run; a run still holding it was stopped by Close.
		if m.owns(task.ID, r) && task.compareAndSetStatus(StatusDownloading, StatusCancelled) {
			m.removeTemp(task)
			m.emit(Event{Type: EventCancelled, TaskID: task.ID})
		}
	case failure != nil:
		if task.compareAndSetStatus(StatusDownloading, StatusFailed) {
			m.removeTemp(task)
			reason := fmt.Sprintf("segment %d failed after %d attempt(s): %v", failure.ID, failure.Attempts, failure.Err)
			log.Error().Str("kind", utils.ErrorKind(failure.Err)).Msg(reason)
			m.emit(Event{Type: EventFailed, TaskID: task.ID, Reason: reason})
		}
	case task.compareAndSetStatus(StatusDownloading, StatusCompleted):
		if err := os.Rename(task.TempPath(), task.FullPath()); err != nil {
			task.setStatus(StatusFailed)
			m.removeTemp(task)
			reason := fmt.Sprintf("renaming temp file: %v", err)
			log.Error().Err(err).Msg("Finalizing download failed")
			m.emit(Event{Type: EventFailed, TaskID: task.ID, Reason: reason})
		} else {
			log.Info().Str("file", task.FullPath()).Msg("Download completed")
			m.emit(Event{Type: EventCompleted, TaskID: task.ID})
		}
	}
	m.release(task.ID, r)
	r.cancel()
	m.schedulePromotion()
	close(r.done)
}

func (m *Manager) removeTemp(task *Task) {
	if err := os.Remove(task.TempPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn().Str("task", task.ID).Err(err).Msg("Could not remove temp file")
	}
}
