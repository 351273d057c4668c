package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds outbound calls such as LLM completions.
const DefaultTimeout = 30 * time.Second

// NewClient returns an HTTP client for outbound API calls. A non-positive
// timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
