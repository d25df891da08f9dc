// Package httpclient configures the HTTP clients used to reach the catalog
// and tile servers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the client used for catalog queries. Short overall
// timeout since responses are bounded feature collections.
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: newTransport(),
		Timeout:   timeout,
	}
}

// NewDownload creates the client used for tile downloads. No overall timeout:
// tile bodies can be arbitrarily large and transfers are bounded by the
// caller's context instead.
func NewDownload() *http.Client {
	return &http.Client{Transport: newTransport()}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
