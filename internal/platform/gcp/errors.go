package gcp

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ErrNoAddress indicates the instance has no address of the requested kind.
var ErrNoAddress = errors.New("instance has no address of the requested kind")

// IsPreconditionFailed reports whether the error is the API's
// optimistic-concurrency rejection (HTTP 412), raised when a metadata
// write presents a stale fingerprint. These races are retryable.
func IsPreconditionFailed(err error) bool {
	return isStatusCode(err, http.StatusPreconditionFailed)
}

// IsNotFound reports whether the error is an HTTP 404 from the API.
func IsNotFound(err error) bool {
	return isStatusCode(err, http.StatusNotFound)
}

func isStatusCode(err error, codes ...int) bool {
	if err == nil {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, code := range codes {
			if apiErr.Code == code {
				return true
			}
		}
	}
	return false
}
