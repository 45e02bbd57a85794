package utils

import "time"

// HTTPClientConfig configures the HTTP client shared by the HTTP source
// and the fetch helpers.
type HTTPClientConfig struct {
	Timeout        time.Duration     `yaml:"timeout"`
	KATimeout      time.Duration     `yaml:"keep_alive_timeout"`
	ProxyURL       string            `yaml:"proxy"`
	ProxyUsername  string            `yaml:"proxy_username"`
	ProxyPassword  string            `yaml:"proxy_password"`
	UserAgent      string            `yaml:"user_agent"`
	Headers        map[string]string `yaml:"headers"`
	BearerToken    string            `yaml:"bearer_token"`
	HighThreadMode bool              `yaml:"-"` // advanced socket options for high concurrency
}

// DownloadEntry is one line of a batch file.
type DownloadEntry struct {
	URL      string `yaml:"link"`
	SaveDir  string `yaml:"dir,omitempty"`
	Filename string `yaml:"name,omitempty"`
	Segments int    `yaml:"segments,omitempty"`
}

const DefaultBufferSize = 1024 * 256 // 256KB read buffer per segment
const PartSuffix = ".part"
const ToolUserAgent = "novadl/1.0"
