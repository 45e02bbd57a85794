package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tanq16/novadl/internal/download"
	novahttp "github.com/tanq16/novadl/internal/downloaders/http"
	"github.com/tanq16/novadl/internal/downloaders/s3"
	"github.com/tanq16/novadl/internal/output"
	"github.com/tanq16/novadl/internal/utils"
)

// highThreadSegments is the segment count above which the HTTP client tunes its sockets.
const highThreadSegments = 8

// NewSources builds the scheme registry used by the download manager.
func NewSources(cfg utils.Config) map[string]download.Source {
	httpCfg := cfg.HTTP
	httpCfg.HighThreadMode = cfg.Segments > highThreadSegments
	httpSource := novahttp.NewSource(utils.NewNovaHTTPClient(httpCfg))
	return map[string]download.Source{
		"http":  httpSource,
		"https": httpSource,
		"s3":    s3.NewSource(cfg.S3Profile),
	}
}

func managerOptions(cfg utils.Config) download.Options {
	return download.Options{
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
		MaxRetries:             cfg.MaxRetries,
		RetryBackoff:           cfg.RetryBackoff,
		EventBuffer:            cfg.EventBuffer,
		ProgressBuffer:         cfg.ProgressBuffer,
	}
}

// tracker closes done once every expected task has reached a terminal state.
// Nothing is expected until expect is called.
type tracker struct {
	mu       sync.Mutex
	want     int
	finished map[string]bool
	done     chan struct{}
}

func newTracker() *tracker {
	return &tracker{want: -1, finished: make(map[string]bool), done: make(chan struct{})}
}

func (t *tracker) expect(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.want = n
	t.check()
}

func (t *tracker) finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished[id] = true
	t.check()
}

func (t *tracker) check() {
	if t.want >= 0 && len(t.finished) >= t.want {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
}

// Run downloads entries with the given sources and renders their events to w until
// every task is terminal. Cancelling ctx cancels all unfinished tasks. It returns
// the number of entries that did not complete.
func Run(ctx context.Context, entries []utils.DownloadEntry, cfg utils.Config, sources map[string]download.Source, w io.Writer, mode output.Mode) int {
	log := utils.GetLogger("scheduler")
	mgr := download.New(managerOptions(cfg), sources)
	events, _ := mgr.Subscribe()

	outputMgr := output.NewManager(w, mode)
	outputMgr.StartDisplay()

	tr := newTracker()
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range events {
			outputMgr.Handle(ev)
			if ev.Terminal() {
				tr.finish(ev.TaskID)
			}
		}
	}()

	var ids []string
	failures := 0
	for _, entry := range entries {
		saveDir := entry.SaveDir
		if saveDir == "" {
			saveDir = cfg.SaveDir
		}
		segments := entry.Segments
		if segments <= 0 {
			segments = cfg.Segments
		}
		id, err := mgr.Add(entry.URL, saveDir, availableName(saveDir, entry), segments)
		if err != nil {
			log.Error().Str("url", entry.URL).Str("kind", utils.ErrorKind(err)).Err(err).Msg("Could not add download")
			failures++
			continue
		}
		task, _ := mgr.Task(id)
		outputMgr.Register(id, entry.URL, task.Filename)
		ids = append(ids, id)
	}
	tr.expect(len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := mgr.Start(ctx, id); err != nil {
			log.Error().Str("task", id).Str("kind", utils.ErrorKind(err)).Err(err).Msg("Could not start download")
			outputMgr.Handle(download.Event{Type: download.EventFailed, TaskID: id, Reason: err.Error()})
			tr.finish(id)
		}
	}

	select {
	case <-tr.done:
	case <-ctx.Done():
		log.Warn().Msg("Interrupted, cancelling unfinished downloads")
		for _, id := range ids {
			if err := mgr.Cancel(id); err != nil {
				log.Debug().Str("task", id).Err(err).Msg("Not cancelled")
			}
		}
		<-tr.done
	}

	mgr.Close()
	<-consumed
	outputMgr.StopDisplay()
	outputMgr.ShowSummary()
	return failures + outputMgr.Failures()
}

// availableName keeps an existing file from being overwritten by picking a fresh name.
func availableName(saveDir string, entry utils.DownloadEntry) string {
	name := entry.Filename
	if name == "" {
		inferred, err := utils.FilenameFromURL(entry.URL)
		if err != nil {
			return ""
		}
		name = inferred
	}
	if _, err := os.Stat(filepath.Join(saveDir, name)); err == nil {
		return filepath.Base(utils.RenewOutputPath(filepath.Join(saveDir, name)))
	}
	return name
}

// Describe formats a one-line summary of a run's outcome.
func Describe(total, failures int) string {
	if failures == 0 {
		return fmt.Sprintf("All %d download(s) completed", total)
	}
	return fmt.Sprintf("%d of %d download(s) did not complete", failures, total)
}
