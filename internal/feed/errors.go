package feed

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/irfndi/regimebot/pkg/ccxt"
)

// ExternalFeedError means market or sentiment data could not be fetched
// after the retry budget was spent. The cycle must abort.
type ExternalFeedError struct {
	Source   string
	Op       string
	Attempts int
	Err      error
}

func (e *ExternalFeedError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Source, e.Op, e.Attempts, e.Err)
}

func (e *ExternalFeedError) Unwrap() error {
	return e.Err
}

// IsExternalFeedError reports whether err wraps an *ExternalFeedError.
func IsExternalFeedError(err error) bool {
	var feedErr *ExternalFeedError
	return errors.As(err, &feedErr)
}

// StatusError is a non-2xx reply from the sentiment API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sentiment API error (%d): %s", e.StatusCode, e.Body)
}

// retryableHTTP skips retries for client errors the service will keep returning.
func retryableHTTP(err error) bool {
	var ccxtErr *ccxt.StatusError
	if errors.As(err, &ccxtErr) {
		return ccxtErr.Temporary()
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}
