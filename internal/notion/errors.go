package notion

import (
	"errors"
	"net/http"

	"github.com/jomei/notionapi"
)

// IsUnauthorized reports whether err is an expired or revoked credential
func IsUnauthorized(err error) bool {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

// IsRateLimited reports whether Notion rejected the call for exceeding its rate limit
func IsRateLimited(err error) bool {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests
	}
	return false
}
