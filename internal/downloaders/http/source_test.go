package novahttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/novadl/internal/utils"
)

func newTestSource() *Source {
	return NewSource(utils.NewNovaHTTPClient(utils.HTTPClientConfig{}))
}

func TestContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != utils.ToolUserAgent {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Length", "1000")
		w.Header().Set("Accept-Ranges", "bytes")
	}))
	defer server.Close()

	size, err := newTestSource().ContentLength(context.Background(), server.URL+"/file.bin")
	if err != nil {
		t.Fatalf("ContentLength: %v", err)
	}
	if size != 1000 {
		t.Fatalf("size = %d, want 1000", size)
	}
}

func TestContentLengthLogsMissingRangeSupport(t *testing.T) {
	var buf bytes.Buffer
	previous, previousLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(previousLevel)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
	}))
	defer server.Close()

	if _, err := newTestSource().ContentLength(context.Background(), server.URL); err != nil {
		t.Fatalf("ContentLength: %v", err)
	}
	line := buf.String()
	if !strings.Contains(line, `"component":"http"`) || !strings.Contains(line, "byte ranges") {
		t.Fatalf("log line = %q, want http component warning about byte ranges", line)
	}
}

func TestContentLengthErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := newTestSource().ContentLength(context.Background(), server.URL+"/missing")
	if !errors.Is(err, utils.ErrHTTP) {
		t.Fatalf("err = %v, want ErrHTTP", err)
	}
}

func TestGetRange(t *testing.T) {
	data := []byte("0123456789")
	tests := []struct {
		name       string
		start, end int64
		handler    http.HandlerFunc
		want       string
		wantErr    error
	}{
		{
			name: "partial content", start: 2, end: 5,
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Range") != "bytes=2-5" {
					t.Errorf("Range = %q", r.Header.Get("Range"))
				}
				w.Header().Set("Content-Range", "bytes 2-5/10")
				w.Header().Set("Content-Length", "4")
				w.WriteHeader(http.StatusPartialContent)
				w.Write(data[2:6])
			},
			want: "2345",
		},
		{
			name: "whole body for whole range", start: 0, end: 9,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", strconv.Itoa(len(data)))
				w.Write(data)
			},
			want: "0123456789",
		},
		{
			name: "range ignored", start: 0, end: 4,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", strconv.Itoa(len(data)))
				w.Write(data)
			},
			wantErr: utils.ErrRangeNotSupported,
		},
		{
			name: "missing content range", start: 2, end: 5,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPartialContent)
				w.Write(data[2:6])
			},
			wantErr: utils.ErrHTTP,
		},
		{
			name: "server error", start: 0, end: 4,
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantErr: utils.ErrHTTP,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			body, err := newTestSource().GetRange(context.Background(), server.URL+"/file.bin", tt.start, tt.end)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetRange: %v", err)
			}
			defer body.Close()
			got, err := io.ReadAll(body)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBearerTokenAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Errorf("X-Trace = %q", got)
		}
		w.Header().Set("Content-Length", "5")
	}))
	defer server.Close()

	source := NewSource(utils.NewNovaHTTPClient(utils.HTTPClientConfig{
		BearerToken: "secret",
		Headers:     map[string]string{"X-Trace": "abc"},
	}))
	if _, err := source.ContentLength(context.Background(), server.URL); err != nil {
		t.Fatalf("ContentLength: %v", err)
	}
}
