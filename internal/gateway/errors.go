package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced to callers. The invite core treats both
// ErrPermissionDenied and ErrUnavailable as "cannot attribute this
// arrival" and degrades instead of failing.
var (
	ErrPermissionDenied = errors.New("gateway: permission denied")
	ErrNotFound         = errors.New("gateway: not found")
	ErrUnavailable      = errors.New("gateway: unavailable")
)

// apiError is a non-2xx platform response. It unwraps to the matching
// sentinel kind and exposes the status code for retry classification.
type apiError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *apiError) StatusCode() int {
	return e.Status
}

func (e *apiError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrPermissionDenied
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return ErrUnavailable
	}
	return nil
}
