package upstream

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// NewHTTPClient returns a resty client for one upstream service.
//
// resty's own retry machinery stays disabled: status handling differs per service
// and retries are driven by RetryPolicy in the calling client.
func NewHTTPClient(baseURL string, timeout time.Duration, identity *Identity) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", identity.UserAgent()).
		SetHeader("Accept", "application/json")
}
