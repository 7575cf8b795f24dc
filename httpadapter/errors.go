package httpadapter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBodyTooLarge is returned by CreateRequest when a response body exceeds the
// adapter's limit.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// StatusError is returned by GetResult for responses outside 2xx.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("http %s: status %d: %s", e.URL, e.StatusCode, truncate(e.Body, 200))
	}
	return fmt.Sprintf("http %s: status %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status suggests the call may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
