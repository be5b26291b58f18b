package fetch

import (
	"net"
	"net/http"
	"time"
)

// ClientOptions configures the tile HTTP client.
type ClientOptions struct {
	// ConnectTimeout bounds connection establishment. Default: 5s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers. Default: 5s.
	ReadTimeout time.Duration
}

// DefaultClientOptions returns options with the usual tile-server timeouts.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
	}
}

// NewClient creates an HTTP client for tile downloads. Tiles are small, so
// the overall request timeout is a modest multiple of the read timeout; it
// exists so a stalled body read cannot hold a worker forever.
func NewClient(opts ClientOptions) *http.Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.ConnectTimeout + 6*opts.ReadTimeout,
	}
}
