package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/novadl/internal/utils"
)

// Segment is an inclusive byte range [Start, End] of the remote resource.
type Segment struct {
	ID    int
	Start int64
	End   int64
}

func (s Segment) Len() int64 {
	return s.End - s.Start + 1
}

// PlanSegments splits [0, total) into n contiguous ranges of equal size, the last one
// absorbing the remainder. n is capped at total so no range is empty.
func PlanSegments(total int64, n int) []Segment {
	if total <= 0 || n < 1 {
		return nil
	}
	if int64(n) > total {
		n = int(total)
	}
	size := total / int64(n)
	segments := make([]Segment, 0, n)
	for i := range n {
		start := int64(i) * size
		end := start + size - 1
		if i == n-1 {
			end = total - 1
		}
		segments = append(segments, Segment{ID: i, Start: start, End: end})
	}
	return segments
}

// SegmentResult is the outcome of one segment worker.
type SegmentResult struct {
	ID       int
	Written  int64
	Attempts int
	Err      error
}

type segmentProgress struct {
	segmentID int
	bytes     int64
}

// segmentWorker fetches one range into the temp file with its own file handle.
type segmentWorker struct {
	source     Source
	task       *Task
	segment    Segment
	progressCh chan<- segmentProgress
	backoff    time.Duration
	log        zerolog.Logger

	// reported is the high-water mark already sent to the aggregator, so a
	// retried range never counts the same bytes twice.
	reported int64
}

func (w *segmentWorker) run(ctx context.Context) SegmentResult {
	res := SegmentResult{ID: w.segment.ID}
	maxAttempts := max(w.task.MaxRetries, 1)
	for attempt := range maxAttempts {
		if attempt > 0 {
			w.task.retryCount.Add(1)
			w.log.Warn().Int("segment", w.segment.ID).Msgf("Retrying segment (attempt %d/%d)", attempt+1, maxAttempts)
			select {
			case <-ctx.Done():
				res.Err = ctx.Err()
				return res
			case <-time.After(w.backoff):
			}
		}
		res.Attempts = attempt + 1
		written, err := w.fetch(ctx)
		res.Written = written
		if err == nil {
			res.Err = nil
			return res
		}
		res.Err = err
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if errors.Is(err, utils.ErrRangeNotSupported) {
			break
		}
		w.log.Debug().Int("segment", w.segment.ID).Err(err).Msgf("Segment attempt %d failed", attempt+1)
	}
	w.log.Error().Int("segment", w.segment.ID).Err(res.Err).Msg("Segment failed")
	return res
}

func (w *segmentWorker) fetch(ctx context.Context) (int64, error) {
	body, err := w.source.GetRange(ctx, w.task.URL, w.segment.Start, w.segment.End)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	file, err := os.OpenFile(w.task.TempPath(), os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: opening temp file: %v", utils.ErrIO, err)
	}
	defer file.Close()

	expected := w.segment.Len()
	buffer := make([]byte, min(int64(utils.DefaultBufferSize), expected))
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := body.Read(buffer)
		if n > 0 {
			if written+int64(n) > expected {
				return written, fmt.Errorf("%w: segment %d received more than %d bytes", utils.ErrWrite, w.segment.ID, expected)
			}
			if _, err := file.WriteAt(buffer[:n], w.segment.Start+written); err != nil {
				return written, fmt.Errorf("%w: %v", utils.ErrWrite, err)
			}
			written += int64(n)
			if written > w.reported {
				delta := written - w.reported
				w.reported = written
				select {
				case w.progressCh <- segmentProgress{segmentID: w.segment.ID, bytes: delta}:
				case <-ctx.Done():
					return written, ctx.Err()
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, fmt.Errorf("%w: reading segment %d: %v", utils.ErrHTTP, w.segment.ID, readErr)
		}
	}
	if written != expected {
		return written, fmt.Errorf("%w: segment %d short read, expected %d bytes, got %d", utils.ErrHTTP, w.segment.ID, expected, written)
	}
	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("%w: %v", utils.ErrIO, err)
	}
	return written, nil
}

// aggregate folds segment deltas into the task and republishes them until progressCh is closed.
func (m *Manager) aggregate(task *Task, progressCh <-chan segmentProgress, done chan<- struct{}) {
	defer close(done)
	var total int64
	for p := range progressCh {
		total += p.bytes
		snapshot := task.updateProgress(total)
		m.events.Publish(Event{Type: EventProgressUpdated, TaskID: task.ID, Progress: &snapshot})
	}
}
