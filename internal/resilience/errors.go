package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// TransientError marks an error as safe to retry, optionally carrying the
// HTTP status that produced it.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient. statusCode may be zero when the
// failure was not an HTTP response.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// brokerTransient matches failure messages from kafka clients and search
// sinks that clear up on their own once the cluster settles.
var brokerTransient = []string{
	"leader not available",
	"not leader for partition",
	"group coordinator not available",
	"rebalance in progress",
	"request timed out",
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether the error chain indicates a failure worth
// retrying: an explicit TransientError, a network timeout, a connection
// fault, a retryable fetch outcome, or a known broker hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var fe *model.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case model.FetchTimeout:
			return true
		case model.FetchHTTPError:
			return IsTransientHTTPStatus(fe.StatusCode)
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range brokerTransient {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is a server-side
// condition worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
