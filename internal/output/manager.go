package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/novadl/internal/download"
)

type TaskOutput struct {
	ID          string
	URL         string
	Name        string
	Status      download.Status
	Progress    download.Progress
	Message     string
	StartTime   time.Time
	LastUpdated time.Time
	Index       int
}

// Mode selects how events are rendered.
type Mode int

const (
	// ModeLive redraws a block of task lines on a ticker (interactive terminals).
	ModeLive Mode = iota
	// ModePlain prints one line per lifecycle event.
	ModePlain
	// ModeJSON writes every event as a JSON line.
	ModeJSON
)

// Manager renders download events for the tasks registered with it.
type Manager struct {
	w           io.Writer
	mode        Mode
	outputs     map[string]*TaskOutput
	mutex       sync.RWMutex
	numLines    int
	taskCount   int
	displayTick time.Duration
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
	enc         *json.Encoder
}

func NewManager(w io.Writer, mode Mode) *Manager {
	return &Manager{
		w:           w,
		mode:        mode,
		outputs:     make(map[string]*TaskOutput),
		displayTick: 300 * time.Millisecond,
		doneCh:      make(chan struct{}),
		enc:         json.NewEncoder(w),
	}
}

func (m *Manager) Register(id, url, name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.taskCount++
	m.outputs[id] = &TaskOutput{
		ID:          id,
		URL:         url,
		Name:        name,
		Status:      download.StatusPending,
		Progress:    download.NewProgress(0),
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.taskCount,
	}
}

// Handle folds one event into the task state and, outside live mode, prints it.
func (m *Manager) Handle(ev download.Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.mode == ModeJSON {
		m.enc.Encode(ev)
	}
	info, exists := m.outputs[ev.TaskID]
	if !exists {
		return
	}
	info.LastUpdated = time.Now()
	switch ev.Type {
	case download.EventStarted:
		info.Status = download.StatusDownloading
		info.StartTime = time.Now()
		info.Message = fmt.Sprintf("Downloading %s", info.Name)
	case download.EventProgressUpdated:
		if ev.Progress != nil {
			info.Progress = *ev.Progress
		}
		return
	case download.EventPaused:
		info.Status = download.StatusPaused
		info.Message = fmt.Sprintf("Paused %s", info.Name)
	case download.EventResumed:
		info.Status = download.StatusPending
		info.Message = fmt.Sprintf("Resuming %s", info.Name)
	case download.EventCompleted:
		info.Status = download.StatusCompleted
		info.Message = fmt.Sprintf("Completed %s", info.Name)
	case download.EventFailed:
		info.Status = download.StatusFailed
		info.Message = fmt.Sprintf("Failed %s %s %s", info.Name, StyleSymbols["arrow"], ev.Reason)
	case download.EventCancelled:
		info.Status = download.StatusCancelled
		info.Message = fmt.Sprintf("Cancelled %s", info.Name)
	}
	if m.mode == ModePlain {
		fmt.Fprintf(m.w, "%s%s %s\n", strings.Repeat(" ", 2), GetStatusIndicator(info.Status), styleMessage(info.Status, info.Message))
	}
}

func GetStatusIndicator(status download.Status) string {
	switch status {
	case download.StatusCompleted:
		return successStyle.Render(StyleSymbols["pass"])
	case download.StatusFailed, download.StatusCancelled:
		return errorStyle.Render(StyleSymbols["fail"])
	case download.StatusPaused:
		return warningStyle.Render(StyleSymbols["pause"])
	case download.StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status download.Status, message string) string {
	switch status {
	case download.StatusCompleted:
		return successStyle.Render(message)
	case download.StatusFailed, download.StatusCancelled:
		return errorStyle.Render(message)
	case download.StatusPaused:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sorted() []*TaskOutput {
	all := make([]*TaskOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	return all
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	availableLines := getTerminalHeight() - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.w, "\033[%dA\033[J", m.numLines)
	}
	lineCount := 0
	for _, info := range m.sorted() {
		if lineCount >= availableLines {
			break
		}
		message := info.Message
		if message == "" {
			message = "Waiting..."
		}
		elapsed := info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		if info.Status == download.StatusDownloading {
			elapsed = time.Since(info.StartTime).Round(time.Second)
		}
		fmt.Fprintf(m.w, "%s%s %s %s\n", strings.Repeat(" ", 2), GetStatusIndicator(info.Status), debugStyle.Render(elapsed.String()), styleMessage(info.Status, message))
		lineCount++
		if info.Status == download.StatusDownloading && lineCount < availableLines {
			fmt.Fprintf(m.w, "%s%s\n", strings.Repeat(" ", 2+4), progressLine(info.Progress))
			lineCount++
		}
	}
	m.numLines = lineCount
}

// StartDisplay begins periodic redraws in live mode.
func (m *Manager) StartDisplay() {
	if m.mode != ModeLive {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

// Failures counts tasks that did not complete.
func (m *Manager) Failures() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	failures := 0
	for _, info := range m.outputs {
		if info.Status != download.StatusCompleted {
			failures++
		}
	}
	return failures
}

func (m *Manager) ShowSummary() {
	if m.mode == ModeJSON {
		return
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var success int
	var failed []*TaskOutput
	for _, info := range m.sorted() {
		if info.Status == download.StatusCompleted {
			success++
		} else {
			failed = append(failed, info)
		}
	}
	fmt.Fprintln(m.w)
	fmt.Fprintln(m.w, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if len(failed) > 0 {
		fmt.Fprintln(m.w, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", len(failed), len(m.outputs))))
		for i, info := range failed {
			fmt.Fprintf(m.w, "%s%s %s\n", strings.Repeat(" ", 2+2), errorStyle.Render(fmt.Sprintf("%d.", i+1)), errorStyle.Render(info.URL))
			fmt.Fprintf(m.w, "%s%s\n", strings.Repeat(" ", 2+4), debugStyle.Render(info.Message))
		}
	}
	fmt.Fprintln(m.w)
}
