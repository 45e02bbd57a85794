package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tanq16/novadl/internal/utils"
)

// Source fetches size information and byte ranges of a remote resource.
// GetRange must fail with utils.ErrRangeNotSupported when the server ignores
// the requested range.
type Source interface {
	ContentLength(ctx context.Context, link string) (int64, error)
	GetRange(ctx context.Context, link string, start, end int64) (io.ReadCloser, error)
}

type Options struct {
	// MaxConcurrentDownloads caps the number of tasks running at once; further starts are queued.
	MaxConcurrentDownloads int
	// MaxRetries bounds the attempts made for each segment.
	MaxRetries     int
	RetryBackoff   time.Duration
	EventBuffer    int
	ProgressBuffer int
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrentDownloads: 5,
		MaxRetries:             3,
		RetryBackoff:           time.Second,
		EventBuffer:            100,
		ProgressBuffer:         100,
	}
}

// TaskProgress pairs a task id with a progress snapshot.
type TaskProgress struct {
	ID       string   `json:"id"`
	Progress Progress `json:"progress"`
}

// errNotQueued means another promotion already claimed the task.
var errNotQueued = errors.New("task is no longer queued")

// run is the handle of one in-flight segmented fetch.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Manager struct {
	opts    Options
	sources map[string]Source
	events  *Bus
	log     zerolog.Logger

	tasks *registry[*Task]

	activeMu sync.Mutex
	active   map[string]*run
	// stopping holds tasks whose run is being torn down by pause or cancel.
	stopping map[string]chan struct{}

	seq   atomic.Uint64
	newID func() string

	baseCtx    context.Context
	baseCancel context.CancelFunc
	promoteWg  sync.WaitGroup
}

// New creates a Manager dispatching URLs to sources by scheme.
func New(opts Options, sources map[string]Source) *Manager {
	defaults := DefaultOptions()
	if opts.MaxConcurrentDownloads <= 0 {
		opts.MaxConcurrentDownloads = defaults.MaxConcurrentDownloads
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = defaults.RetryBackoff
	}
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = defaults.ProgressBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:       opts,
		sources:    sources,
		events:     NewBus(opts.EventBuffer),
		log:        utils.GetLogger("download"),
		tasks:      newRegistry[*Task](),
		active:     make(map[string]*run),
		stopping:   make(map[string]chan struct{}),
		newID:      uuid.NewString,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Subscribe returns the event stream. It can be taken only once.
func (m *Manager) Subscribe() (<-chan Event, bool) {
	return m.events.Subscribe()
}

func (m *Manager) emit(ev Event) {
	m.events.Publish(ev)
}

func (m *Manager) lookup(id string) (*Task, error) {
	task, ok := m.tasks.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: nil entry for task %s", utils.ErrLock, id)
	}
	return task, nil
}

func (m *Manager) sourceFor(link string) (Source, error) {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: %s", utils.ErrInvalidURL, link)
	}
	source, ok := m.sources[parsedURL.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", utils.ErrInvalidURL, parsedURL.Scheme)
	}
	return source, nil
}

// Add registers a pending task. An empty filename is derived from the URL path.
func (m *Manager) Add(link, savePath, filename string, segments int) (string, error) {
	if _, err := m.sourceFor(link); err != nil {
		return "", err
	}
	if filename == "" {
		name, err := utils.FilenameFromURL(link)
		if err != nil {
			return "", err
		}
		filename = name
	}
	if segments < 1 {
		return "", fmt.Errorf("%w: segments must be positive, got %d", utils.ErrOther, segments)
	}
	if err := os.MkdirAll(savePath, 0755); err != nil {
		return "", fmt.Errorf("%w: creating save directory: %v", utils.ErrIO, err)
	}
	id := m.newID()
	task := newTask(id, link, savePath, filename, segments, m.opts.MaxRetries, m.seq.Add(1))
	if !m.tasks.SetIfAbsent(id, task) {
		return "", fmt.Errorf("%w: %s", utils.ErrTaskAlreadyExists, id)
	}
	m.log.Debug().Str("task", id).Str("url", link).Str("file", task.FullPath()).Msg("Task added")
	return id, nil
}

// reserve claims an active slot for task, or queues it when the manager is at capacity.
func (m *Manager) reserve(task *Task, promoted bool) (*run, bool, error) {
	m.lockSettled(task.ID)
	defer m.activeMu.Unlock()
	if promoted && !task.isQueued() {
		return nil, false, errNotQueued
	}
	if m.baseCtx.Err() != nil {
		return nil, false, fmt.Errorf("%w: manager is closed", utils.ErrOther)
	}
	if _, running := m.active[task.ID]; running {
		return nil, false, fmt.Errorf("%w: task %s is already running", utils.ErrOther, task.ID)
	}
	switch status := task.Status(); status {
	case StatusDownloading, StatusCompleted:
		return nil, false, fmt.Errorf("%w: task %s is %s", utils.ErrOther, task.ID, status)
	}
	if len(m.active) >= m.opts.MaxConcurrentDownloads {
		task.markQueued()
		return nil, false, nil
	}
	task.dequeue()
	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &run{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	m.active[task.ID] = r
	return r, true, nil
}

// lockSettled acquires activeMu once no pause or cancel of id is still winding down.
func (m *Manager) lockSettled(id string) {
	for {
		m.activeMu.Lock()
		stopped, busy := m.stopping[id]
		if !busy {
			return
		}
		m.activeMu.Unlock()
		<-stopped
	}
}

// owns reports whether r still holds the active slot of id.
func (m *Manager) owns(id string, r *run) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return m.active[id] == r
}

// release removes r from the active registry if it still owns the task's slot.
func (m *Manager) release(id string, r *run) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if m.active[id] == r {
		delete(m.active, id)
	}
}

// abandon gives up a reservation that never turned into a running fetch.
func (m *Manager) abandon(id string, r *run) {
	m.release(id, r)
	r.cancel()
	m.schedulePromotion()
	close(r.done)
}

// activate marks the task downloading if its reservation survived the size probe.
func (m *Manager) activate(task *Task, r *run, total int64) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	if m.active[task.ID] != r || r.ctx.Err() != nil {
		return false
	}
	task.begin(total)
	return true
}

// ActiveCount reports how many tasks currently hold an active slot.
func (m *Manager) ActiveCount() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return len(m.active)
}

// Start begins the segmented fetch of a task. At capacity the task stays pending
// and is started automatically once a running task ends.
func (m *Manager) Start(ctx context.Context, id string) error {
	return m.start(ctx, id, false)
}

func (m *Manager) start(ctx context.Context, id string, promoted bool) error {
	task, err := m.lookup(id)
	if err != nil {
		return err
	}
	source, err := m.sourceFor(task.URL)
	if err != nil {
		return err
	}
	r, ok, err := m.reserve(task, promoted)
	if err != nil {
		return err
	}
	if !ok {
		m.log.Debug().Str("task", id).Msg("At capacity, task queued")
		return nil
	}

	probeCtx, cancelProbe := context.WithCancel(ctx)
	stopWatch := context.AfterFunc(r.ctx, cancelProbe)
	total, err := source.ContentLength(probeCtx, task.URL)
	stopWatch()
	cancelProbe()
	if err != nil {
		m.abandon(id, r)
		return err
	}
	if total < 0 {
		m.abandon(id, r)
		return fmt.Errorf("%w: negative size %d for %s", utils.ErrContentLength, total, task.URL)
	}
	if !m.activate(task, r, total) {
		// paused, cancelled or shut down while probing
		m.abandon(id, r)
		m.log.Debug().Str("task", id).Msg("Start interrupted")
		return nil
	}
	m.emit(Event{Type: EventStarted, TaskID: id})
	m.log.Info().Str("task", id).Int64("size", total).Int("segments", task.Segments).Msg("Download started")

	if err := preallocate(task.TempPath(), total); err != nil {
		if task.compareAndSetStatus(StatusDownloading, StatusFailed) {
			m.emit(Event{Type: EventFailed, TaskID: id, Reason: err.Error()})
		}
		m.abandon(id, r)
		return err
	}

	go m.execute(task, source, r, PlanSegments(total, task.Segments))
	return nil
}

func preallocate(path string, size int64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", utils.ErrIO, err)
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		return fmt.Errorf("%w: preallocating temp file: %v", utils.ErrIO, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrIO, err)
	}
	return nil
}

// interrupt moves the task to next and stops its run, waiting until the run's
// goroutines have exited and closed their files. announce runs before the task
// can be started or interrupted again.
func (m *Manager) interrupt(task *Task, next Status, announce func(), allowed ...Status) error {
	m.lockSettled(task.ID)
	if _, err := task.transition(next, allowed...); err != nil {
		m.activeMu.Unlock()
		return err
	}
	r := m.active[task.ID]
	delete(m.active, task.ID)
	stopped := make(chan struct{})
	m.stopping[task.ID] = stopped
	m.activeMu.Unlock()

	if r != nil {
		r.cancel()
		<-r.done
	}
	announce()

	m.activeMu.Lock()
	delete(m.stopping, task.ID)
	m.activeMu.Unlock()
	close(stopped)
	return nil
}

// Pause stops a pending or running task. The partial file is kept but a later
// resume fetches every segment again.
func (m *Manager) Pause(id string) error {
	task, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.interrupt(task, StatusPaused, func() {
		m.emit(Event{Type: EventPaused, TaskID: id})
		m.log.Info().Str("task", id).Msg("Download paused")
	}, StatusPending, StatusDownloading)
}

// Resume restarts a paused task from the beginning once its previous run has stopped.
func (m *Manager) Resume(ctx context.Context, id string) error {
	task, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.lockSettled(id)
	m.activeMu.Unlock()
	if status := task.Status(); status != StatusPaused {
		return fmt.Errorf("%w: task %s is %s, not paused", utils.ErrOther, id, status)
	}
	m.emit(Event{Type: EventResumed, TaskID: id})
	return m.Start(ctx, id)
}

// Cancel stops a task for good and removes its partial file.
func (m *Manager) Cancel(id string) error {
	task, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.interrupt(task, StatusCancelled, func() {
		m.removeTemp(task)
		m.emit(Event{Type: EventCancelled, TaskID: id})
		m.log.Info().Str("task", id).Msg("Download cancelled")
	}, StatusPending, StatusDownloading, StatusPaused)
}

// Tasks lists every known task in creation order.
func (m *Manager) Tasks() []TaskProgress {
	tasks := m.tasks.Values()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })
	out := make([]TaskProgress, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, TaskProgress{ID: task.ID, Progress: task.Progress()})
	}
	return out
}

func (m *Manager) Progress(id string) (Progress, error) {
	task, err := m.lookup(id)
	if err != nil {
		return Progress{}, err
	}
	return task.Progress(), nil
}

// Task returns the task registered under id.
func (m *Manager) Task(id string) (*Task, error) {
	return m.lookup(id)
}

// schedulePromotion starts the oldest queued task in the background if a slot is free.
func (m *Manager) schedulePromotion() {
	if m.baseCtx.Err() != nil {
		return
	}
	m.promoteWg.Add(1)
	go func() {
		defer m.promoteWg.Done()
		m.promote()
	}()
}

func (m *Manager) promote() {
	var next *Task
	for _, task := range m.tasks.Values() {
		if !task.isQueued() {
			continue
		}
		if next == nil || task.seq < next.seq {
			next = task
		}
	}
	if next == nil || m.baseCtx.Err() != nil {
		return
	}
	m.log.Debug().Str("task", next.ID).Msg("Promoting queued task")
	if err := m.start(m.baseCtx, next.ID, true); err != nil {
		if errors.Is(err, errNotQueued) {
			return
		}
		if next.compareAndSetStatus(StatusPending, StatusFailed) {
			m.emit(Event{Type: EventFailed, TaskID: next.ID, Reason: err.Error()})
		}
		m.log.Error().Str("task", next.ID).Err(err).Msg("Queued task failed to start")
	}
}

// Close cancels every running task, waits for them and closes the event stream.
func (m *Manager) Close() {
	m.baseCancel()
	m.activeMu.Lock()
	runs := make([]*run, 0, len(m.active))
	for _, r := range m.active {
		runs = append(runs, r)
	}
	stopping := make([]chan struct{}, 0, len(m.stopping))
	for _, stopped := range m.stopping {
		stopping = append(stopping, stopped)
	}
	m.activeMu.Unlock()
	for _, r := range runs {
		<-r.done
	}
	for _, stopped := range stopping {
		<-stopped
	}
	m.promoteWg.Wait()
	m.events.Close()
}
