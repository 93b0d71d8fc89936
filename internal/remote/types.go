// Package remote is the client of the remote catalog service that merchants
// and feed profiles are registered with.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ApprovalStatus is the review state of a merchant
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalDeclined ApprovalStatus = "DECLINED"
)

// Merchant is the seller account feeds are registered under
type Merchant struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
	Feeds          []Feed         `json:"feeds,omitempty"`
}

// Feed is a registered feed profile
type Feed struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location"`
	Country  string `json:"country,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Format   string `json:"format,omitempty"`
}

// MerchantRequest creates or updates the merchant
type MerchantRequest struct {
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url,omitempty"`
	Country    string `json:"country,omitempty"`
	Locale     string `json:"locale,omitempty"`
}

// FeedRequest creates or updates a feed profile
type FeedRequest struct {
	Name     string `json:"name,omitempty"`
	Location string `json:"location"`
	Country  string `json:"country,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Client talks to the remote catalog service
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=types.go Client
type Client interface {
	// GetMerchant returns the merchant with its feed profiles
	GetMerchant(ctx context.Context, merchantID string) (*Merchant, error)
	// CreateOrUpdateMerchant upserts the merchant and returns its id
	CreateOrUpdateMerchant(ctx context.Context, req MerchantRequest) (string, error)
	// GetFeed returns one feed profile
	GetFeed(ctx context.Context, merchantID, feedID string) (*Feed, error)
	// AddFeed creates a feed profile and returns its id
	AddFeed(ctx context.Context, merchantID string, req FeedRequest) (string, error)
	// UpdateFeed changes a feed profile in place and returns its id
	UpdateFeed(ctx context.Context, merchantID, feedID string, req FeedRequest) (string, error)
}

// APIError is a non-2xx response from the remote service
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d for %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
}

// IsTransient reports whether the request may succeed if repeated
func (e *APIError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsNotFound reports whether err is a 404 from the remote service
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
