package novahttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tanq16/novadl/internal/utils"
)

// Source serves http and https URLs to the download manager.
type Source struct {
	client utils.HTTPDoer
	log    zerolog.Logger
}

func NewSource(client utils.HTTPDoer) *Source {
	return &Source{client: client, log: utils.GetLogger("http")}
}

// ContentLength probes the resource with HEAD and returns its Content-Length.
func (s *Source) ContentLength(ctx context.Context, link string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: HEAD %s: %v", utils.ErrHTTP, link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: HEAD %s returned %s", utils.ErrHTTP, link, resp.Status)
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return 0, fmt.Errorf("%w: server didn't provide Content-Length header", utils.ErrContentLength)
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: invalid Content-Length %q", utils.ErrContentLength, contentLength)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		s.log.Debug().Str("url", link).Msg("Server does not advertise byte ranges")
	}
	return size, nil
}

// GetRange requests bytes [start, end] and returns the streamed body. A 200 reply
// is only accepted when it is exactly the requested range starting at zero.
func (s *Source) GetRange(ctx context.Context, link string, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	req.Header.Set("Connection", "keep-alive")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", utils.ErrHTTP, link, err)
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if resp.Header.Get("Content-Range") == "" {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: missing Content-Range header", utils.ErrHTTP)
		}
		return resp.Body, nil
	case resp.StatusCode == http.StatusOK:
		if start == 0 && resp.ContentLength == end+1 {
			return resp.Body, nil
		}
		resp.Body.Close()
		return nil, fmt.Errorf("%w: server answered bytes=%d-%d with 200", utils.ErrRangeNotSupported, start, end)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s returned %s", utils.ErrHTTP, link, resp.Status)
	}
}
