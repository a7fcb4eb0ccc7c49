package network

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/deemusic/deemusic-player/internal/config"
)

var (
	// defaultClient is a shared HTTP client with optimized connection pooling
	defaultClient     *http.Client
	defaultClientOnce sync.Once
)

// ClientConfig holds configuration for HTTP client
type ClientConfig struct {
	Timeout                time.Duration
	MaxIdleConns           int
	MaxIdleConnsPerHost    int
	MaxConnsPerHost        int
	IdleConnTimeout        time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
	ExpectContinueTimeout  time.Duration
	DisableKeepAlives      bool
	MaxResponseHeaderBytes int64
	Proxy                  *url.URL
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:                30 * time.Second,
		MaxIdleConns:           100,
		MaxIdleConnsPerHost:    20,
		MaxConnsPerHost:        50,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  30 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		DisableKeepAlives:      false,
		MaxResponseHeaderBytes: 10 << 20, // 10 MB
	}
}

// ClientConfigFrom builds a client configuration from the network settings
func ClientConfigFrom(cfg config.NetworkConfig) (*ClientConfig, error) {
	cc := DefaultClientConfig()
	if cfg.Timeout > 0 {
		cc.Timeout = time.Duration(cfg.Timeout) * time.Second
		cc.ResponseHeaderTimeout = cc.Timeout
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil || proxy.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL: %s", cfg.ProxyURL)
		}
		cc.Proxy = proxy
	}
	return cc, nil
}

// NewClient creates a new HTTP client with optimized connection pooling
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = DefaultClientConfig()
	}

	transport := &http.Transport{
		// Connection pooling settings
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		// Keep-alive settings
		DisableKeepAlives:      config.DisableKeepAlives,
		MaxResponseHeaderBytes: config.MaxResponseHeaderBytes,

		// Timeout settings
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: config.ExpectContinueTimeout,
	}
	if config.Proxy != nil {
		transport.Proxy = http.ProxyURL(config.Proxy)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	// Add cookie jar for automatic cookie handling
	jar, _ := cookiejar.New(nil)

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
		Jar:       jar,
	}
}

// GetDefaultClient returns a shared HTTP client with optimized settings
// This client is safe for concurrent use and reuses connections efficiently
func GetDefaultClient() *http.Client {
	defaultClientOnce.Do(func() {
		defaultClient = NewClient(DefaultClientConfig())
	})
	return defaultClient
}

// NewDownloadClient returns an HTTP client for large file downloads. The
// overall timeout is dropped so long transfers are bounded by their context;
// the response header timeout still applies.
func NewDownloadClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	dl := *config
	dl.MaxIdleConns = 200
	dl.MaxIdleConnsPerHost = 50
	dl.MaxConnsPerHost = 100
	dl.IdleConnTimeout = 120 * time.Second
	if dl.ResponseHeaderTimeout < 60*time.Second {
		dl.ResponseHeaderTimeout = 60 * time.Second
	}
	dl.Timeout = 0

	return NewClient(&dl)
}
