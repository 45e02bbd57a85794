package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
)

// HTTPDoer sends a request with the client's headers applied.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type NovaHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewNovaHTTPClient(cfg HTTPClientConfig) *NovaHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		MaxConnsPerHost:     0,
	}
	if cfg.HighThreadMode {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control: func(network, address string, c syscall.RawConn) error {
				return c.Control(func(fd uintptr) {
					setSocketOptions(fd)
				})
			},
		}).DialContext
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	var rt http.RoundTripper = transport
	if cfg.BearerToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken}),
			Base:   transport,
		}
	}
	return &NovaHTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: rt,
		},
		config: cfg,
	}
}

func (d *NovaHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}

// send performs a single-shot request and returns the body of a 2xx response.
func (d *NovaHTTPClient) send(ctx context.Context, method, link string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, link, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := d.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTP, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %s", ErrHTTP, method, link, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrHTTP, err)
	}
	return data, nil
}

func (d *NovaHTTPClient) GetBytes(ctx context.Context, link string) ([]byte, error) {
	return d.send(ctx, http.MethodGet, link, nil, "")
}

func (d *NovaHTTPClient) GetText(ctx context.Context, link string) (string, error) {
	data, err := d.GetBytes(ctx, link)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetJSON decodes a JSON response body into out.
func (d *NovaHTTPClient) GetJSON(ctx context.Context, link string, out any) error {
	data, err := d.GetBytes(ctx, link)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrHTTP, err)
	}
	return nil
}

// PostJSON sends payload as JSON and returns the raw response body.
func (d *NovaHTTPClient) PostJSON(ctx context.Context, link string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %v", ErrOther, err)
	}
	return d.send(ctx, http.MethodPost, link, bytes.NewReader(encoded), "application/json")
}

func (d *NovaHTTPClient) PostForm(ctx context.Context, link string, form url.Values) ([]byte, error) {
	return d.send(ctx, http.MethodPost, link, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}
