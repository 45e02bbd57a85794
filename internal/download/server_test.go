package download

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	novahttp "github.com/tanq16/novadl/internal/downloaders/http"
	"github.com/tanq16/novadl/internal/utils"
)

// rangeServer serves data with byte-range support and records the ranges asked for.
type rangeServer struct {
	data []byte

	// gate, when set, stalls every GET after half of its range until closed.
	gate     chan struct{}
	gateOnce sync.Once
	// failRange answers 500 for GETs whose range starts at this offset (-1 disables).
	failRange int64
	// ignoreRange answers every GET with the full body and 200.
	ignoreRange bool

	gets   atomic.Int64
	mu     sync.Mutex
	ranges []string
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newRangeServer(t *testing.T, data []byte) (*rangeServer, *httptest.Server) {
	t.Helper()
	rs := &rangeServer{data: data, failRange: -1}
	server := httptest.NewServer(rs)
	t.Cleanup(func() {
		rs.open()
		server.Close()
	})
	return rs, server
}

func (s *rangeServer) open() {
	if s.gate != nil {
		s.gateOnce.Do(func() { close(s.gate) })
	}
}

func (s *rangeServer) requestedRanges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		w.Header().Set("Accept-Ranges", "bytes")
		return
	}
	s.gets.Add(1)
	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	s.ranges = append(s.ranges, rangeHeader)
	s.mu.Unlock()

	if s.ignoreRange || rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		w.Write(s.data)
		return
	}
	parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)
	if start == s.failRange {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	if end >= int64(len(s.data)) {
		end = int64(len(s.data)) - 1
	}
	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.Itoa(len(s.data)))
	w.Header().Set("Content-Length", strconv.Itoa(int(end-start+1)))
	w.WriteHeader(http.StatusPartialContent)
	if s.gate == nil {
		w.Write(s.data[start : end+1])
		return
	}
	mid := start + (end-start+1)/2
	w.Write(s.data[start:mid])
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	select {
	case <-s.gate:
	case <-r.Context().Done():
		return
	}
	w.Write(s.data[mid : end+1])
}

// scriptedSource serves data from memory. Its first GetRange call waits for
// stall to close when set, and is cut to truncate bytes when truncate > 0.
type scriptedSource struct {
	data     []byte
	stall    chan struct{}
	truncate int64
	calls    atomic.Int64
}

func (s *scriptedSource) ContentLength(ctx context.Context, link string) (int64, error) {
	return int64(len(s.data)), nil
}

func (s *scriptedSource) GetRange(ctx context.Context, link string, start, end int64) (io.ReadCloser, error) {
	if s.calls.Add(1) == 1 {
		if s.stall != nil {
			<-s.stall
		}
		if s.truncate > 0 {
			end = start + s.truncate - 1
		}
	}
	return io.NopCloser(bytes.NewReader(s.data[start : end+1])), nil
}

func testOptions() Options {
	return Options{
		MaxConcurrentDownloads: 5,
		MaxRetries:             3,
		RetryBackoff:           5 * time.Millisecond,
		EventBuffer:            100,
		ProgressBuffer:         100,
	}
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	source := novahttp.NewSource(utils.NewNovaHTTPClient(utils.HTTPClientConfig{Timeout: 10 * time.Second}))
	m := New(opts, map[string]Source{"http": source, "https": source})
	t.Cleanup(m.Close)
	return m
}

// collectEvents drains the manager's events until the bus closes.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func collectEvents(t *testing.T, m *Manager) *eventLog {
	t.Helper()
	ch, ok := m.Subscribe()
	if !ok {
		t.Fatal("Subscribe: already taken")
	}
	log := &eventLog{}
	go func() {
		for ev := range ch {
			log.mu.Lock()
			log.events = append(log.events, ev)
			log.mu.Unlock()
		}
	}()
	return log
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) forTask(id string) []Event {
	var out []Event
	for _, ev := range l.snapshot() {
		if ev.TaskID == id {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) {
	t.Helper()
	waitFor(t, "status "+string(want), func() bool {
		p, err := m.Progress(id)
		return err == nil && p.Status == want
	})
}
