// Package scraper fetches a KOL's follower list from the external
// scrape actor service.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kolgrow/kolgrow/internal/models"
)

// Profile is one scraped follower profile
type Profile struct {
	PlatformUserID string `json:"platform_user_id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	Bio            string `json:"bio"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	PostCount      int    `json:"post_count"`
	IsVerified     bool   `json:"is_verified"`
	IsPrivate      bool   `json:"is_private"`
}

// Source fetches follower profiles for a KOL
type Source interface {
	FetchFollowers(ctx context.Context, kol *models.TargetKOL, limit int) ([]Profile, error)
}

// Client talks to the scrape actor HTTP API
type Client struct {
	client *resty.Client
}

// NewClient creates a scrape client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "kolgrow-scraper").
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{client: client}
}

type scrapeRequest struct {
	Platform string `json:"platform"`
	Username string `json:"username"`
	Limit    int    `json:"limit,omitempty"`
}

type scrapeResponse struct {
	Followers []Profile `json:"followers"`
	Error     string    `json:"error,omitempty"`
}

// FetchFollowers runs the scrape actor and returns the follower profiles
func (c *Client) FetchFollowers(ctx context.Context, kol *models.TargetKOL, limit int) ([]Profile, error) {
	var result scrapeResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(scrapeRequest{
			Platform: string(kol.Platform),
			Username: kol.Username,
			Limit:    limit,
		}).
		SetResult(&result).
		Post("/v1/scrape/followers")
	if err != nil {
		return nil, fmt.Errorf("scrape request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("scrape actor returned status %d: %s", resp.StatusCode(), result.Error)
	}

	return result.Followers, nil
}
