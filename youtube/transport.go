package youtube

import (
	"net"
	"net/http"
	"time"
)

// defaultTimeout applies when no timeout is configured. A refresh holds the
// single-flight slot while it waits, so requests must never be unbounded.
const defaultTimeout = 10 * time.Second

// newHTTPClient returns a client with short connection timeouts for JSON
// API calls and a total deadline of timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
