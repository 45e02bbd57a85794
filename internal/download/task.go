package download

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanq16/novadl/internal/utils"
)

// Task is a single download. Identity fields are immutable after creation;
// everything else goes through the task's own lock.
type Task struct {
	ID         string
	URL        string
	SavePath   string
	Filename   string
	Segments   int
	MaxRetries int
	CreatedAt  time.Time

	seq        uint64
	startTime  atomic.Int64 // unix ms, 0 until the first start
	retryCount atomic.Int64

	mu       sync.Mutex
	progress Progress
	queued   bool
}

func newTask(id, url, savePath, filename string, segments, maxRetries int, seq uint64) *Task {
	return &Task{
		ID:         id,
		URL:        url,
		SavePath:   savePath,
		Filename:   filename,
		Segments:   segments,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
		seq:        seq,
		progress:   NewProgress(0),
	}
}

func (t *Task) FullPath() string {
	return filepath.Join(t.SavePath, t.Filename)
}

func (t *Task) TempPath() string {
	return t.FullPath() + utils.PartSuffix
}

// StartTime returns the unix millisecond timestamp of the current start attempt, 0 if never started.
func (t *Task) StartTime() int64 {
	return t.startTime.Load()
}

func (t *Task) RetryCount() int64 {
	return t.retryCount.Load()
}

func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.Status
}

func (t *Task) setStatus(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Status = status
	t.queued = false
}

// compareAndSetStatus moves the task to next only if it is currently in from.
func (t *Task) compareAndSetStatus(from, next Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progress.Status != from {
		return false
	}
	t.progress.Status = next
	return true
}

// transition moves the task to next if the current status is one of allowed.
func (t *Task) transition(next Status, allowed ...Status) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.progress.Status
	for _, s := range allowed {
		if s == prev {
			t.progress.Status = next
			t.queued = false
			return prev, nil
		}
	}
	return prev, fmt.Errorf("%w: task %s is %s, cannot become %s", utils.ErrOther, t.ID, prev, next)
}

func (t *Task) markQueued() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Status = StatusPending
	t.queued = true
}

// dequeue clears the queued mark.
func (t *Task) dequeue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = false
}

func (t *Task) isQueued() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queued && t.progress.Status == StatusPending
}

// begin resets the counters for a fresh segmented fetch of total bytes and marks the task downloading.
func (t *Task) begin(total int64) {
	t.startTime.Store(time.Now().UnixMilli())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = Progress{Total: total, Status: StatusDownloading}
	t.queued = false
}

// updateProgress records the aggregated byte count and returns the resulting snapshot.
func (t *Task) updateProgress(downloaded int64) Progress {
	var elapsed time.Duration
	if started := t.startTime.Load(); started > 0 {
		elapsed = time.Duration(max(time.Now().UnixMilli()-started, 0)) * time.Millisecond
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Update(downloaded, elapsed)
	return t.progress
}
