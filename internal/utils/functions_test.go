package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		link string
		want string
		err  error
	}{
		{"https://example.com/files/archive.tar.gz", "archive.tar.gz", nil},
		{"https://example.com/file.bin?token=abc", "file.bin", nil},
		{"s3://bucket/path/data.csv", "data.csv", nil},
		{"https://example.com/", "", ErrOther},
		{"https://example.com", "", ErrOther},
		{"http://[::1", "", ErrInvalidURL},
	}
	for _, tt := range tests {
		got, err := FilenameFromURL(tt.link)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("FilenameFromURL(%q) err = %v, want %v", tt.link, err, tt.err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("FilenameFromURL(%q) = %q, %v; want %q", tt.link, got, err, tt.want)
		}
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: HEAD failed", ErrHTTP), "http"},
		{fmt.Errorf("wrapped twice: %w", fmt.Errorf("%w: x", ErrRangeNotSupported)), "range_not_supported"},
		{ErrTaskNotFound, "task_not_found"},
		{ErrLock, "lock"},
		{errors.New("plain"), "other"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestReadDownloadList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	content := `
- link: https://example.com/a.bin
- link: s3://bucket/b.bin
  dir: out
  name: renamed.bin
  segments: 8
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	entries, err := ReadDownloadList(path)
	if err != nil {
		t.Fatalf("ReadDownloadList: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	want := DownloadEntry{URL: "s3://bucket/b.bin", SaveDir: "out", Filename: "renamed.bin", Segments: 8}
	if entries[1] != want {
		t.Fatalf("entry = %+v, want %+v", entries[1], want)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("- dir: out\n"), 0644)
	if _, err := ReadDownloadList(bad); err == nil {
		t.Fatal("entry without link should fail")
	}
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	os.WriteFile(path, nil, 0644)
	os.WriteFile(filepath.Join(dir, "file-(1).bin"), nil, 0644)
	if got := RenewOutputPath(path); got != filepath.Join(dir, "file-(2).bin") {
		t.Fatalf("RenewOutputPath = %s", got)
	}
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Authorization: Basic abc", "X-Empty:", "invalid"})
	if len(got) != 2 || got["Authorization"] != "Basic abc" || got["X-Empty"] != "" {
		t.Fatalf("ParseHeaderArgs = %v", got)
	}
}

func TestFormatters(t *testing.T) {
	bytesTests := map[uint64]string{
		512:     "512 B",
		2048:    "2.00 KB",
		5 << 20: "5.00 MB",
	}
	for in, want := range bytesTests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
	etaTests := map[int64]string{
		0:    "-",
		42:   "42s",
		125:  "2m 5s",
		7260: "2h 1m",
	}
	for in, want := range etaTests {
		if got := FormatETA(in); got != want {
			t.Errorf("FormatETA(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin.part", "b.iso.part", "keep.bin"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644)
	}
	os.Mkdir(filepath.Join(dir, "sub.part"), 0755)

	removed, err := Clean(dir)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.bin")); err != nil {
		t.Fatalf("keep.bin removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub.part")); err != nil {
		t.Fatalf("directory removed: %v", err)
	}
}
