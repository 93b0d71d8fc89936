package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/catalog-feed-server/internal/destination"
)

// GetMarketParam extracts and decodes a market key from the route.
// Keys are matched case-insensitively, so the value is upper-cased.
func GetMarketParam(r *http.Request, paramName string) (destination.MarketKey, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}

	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}
	if strings.ContainsAny(decoded, " \t\n\r/") {
		return "", fmt.Errorf("%s cannot contain whitespace or slashes", paramName)
	}

	return destination.MarketKey(strings.ToUpper(decoded)), nil
}
