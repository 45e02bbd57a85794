package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/novadl/internal/output"
	"github.com/tanq16/novadl/internal/utils"
)

var (
	configPath    string
	debug         bool
	jsonOutput    bool
	logFile       string
	workers       int
	segments      int
	retries       int
	timeout       time.Duration
	proxyURL      string
	proxyUsername string
	proxyPassword string
	userAgent     string
	headers       []string
	bearerToken   string
	s3Profile     string

	cfg utils.Config
)

var NovaVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "novadl",
	Short:   "novadl is a segmented, concurrent download manager",
	Version: NovaVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("error opening log file: %v", err)
			}
			utils.SetLogOutput(f)
		}
		loaded, err := utils.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = applyFlags(cmd, loaded)
		return cfg.Validate()
	},
}

// applyFlags overrides config values with explicitly set persistent flags.
func applyFlags(cmd *cobra.Command, c utils.Config) utils.Config {
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	if changed("workers") {
		c.MaxConcurrentDownloads = workers
	}
	if changed("segments") {
		c.Segments = segments
	}
	if changed("retries") {
		c.MaxRetries = retries
	}
	if changed("timeout") {
		c.HTTP.Timeout = timeout
	}
	if changed("user-agent") {
		c.HTTP.UserAgent = userAgent
	}
	if changed("bearer-token") {
		c.HTTP.BearerToken = bearerToken
	}
	if changed("s3-profile") {
		c.S3Profile = s3Profile
	}
	if changed("proxy-username") {
		c.HTTP.ProxyUsername = proxyUsername
	}
	if changed("proxy-password") {
		c.HTTP.ProxyPassword = proxyPassword
	}
	if changed("proxy") {
		c.HTTP.ProxyURL = proxyURL
		// Check if proxy URL contains auth
		parsedProxy, err := u.Parse(proxyURL)
		if err == nil && parsedProxy.User != nil && c.HTTP.ProxyUsername == "" {
			c.HTTP.ProxyUsername = parsedProxy.User.Username()
			if password, set := parsedProxy.User.Password(); set {
				c.HTTP.ProxyPassword = password
			}
			parsedProxy.User = nil
			c.HTTP.ProxyURL = parsedProxy.String()
		}
	}
	if len(headers) > 0 {
		if c.HTTP.Headers == nil {
			c.HTTP.Headers = make(map[string]string)
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			c.HTTP.Headers[k] = v
		}
	}
	return c
}

func outputMode() output.Mode {
	switch {
	case jsonOutput:
		return output.ModeJSON
	case output.IsTerminal():
		return output.ModeLive
	default:
		return output.ModePlain
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print events as JSON lines")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 5, "Maximum number of downloads running at once")
	rootCmd.PersistentFlags().IntVarP(&segments, "segments", "s", 4, "Number of segments per download (above 8 enables high-thread-mode)")
	rootCmd.PersistentFlags().IntVarP(&retries, "retries", "r", 3, "Attempts per segment before the download fails")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Per-request timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "bearer-token", "", "Bearer token sent with every HTTP request")
	rootCmd.PersistentFlags().StringVar(&s3Profile, "s3-profile", "default", "AWS profile used for s3:// URLs")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
