package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kolgrow/kolgrow/internal/models"
)

// GatewayAdapter drives one platform through the HTTP automation
// gateway. The gateway holds the browser sessions; this client only
// issues action requests and interprets outcomes.
type GatewayAdapter struct {
	client   *resty.Client
	platform models.Platform
}

// NewGatewayAdapter creates an adapter for one platform
func NewGatewayAdapter(platform models.Platform, baseURL, apiKey string, timeout time.Duration) *GatewayAdapter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "kolgrow-gateway-client")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &GatewayAdapter{client: client, platform: platform}
}

type actionRequest struct {
	AccountUsername string `json:"account_username"`
	TargetUserID    string `json:"target_user_id"`
	Message         string `json:"message,omitempty"`
}

type actionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type followBackResponse struct {
	FollowingBack bool   `json:"following_back"`
	Error         string `json:"error,omitempty"`
}

// Follow follows a target user as the given account
func (g *GatewayAdapter) Follow(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) error {
	return g.action(ctx, "follow", account, target, "")
}

// Unfollow unfollows a target user
func (g *GatewayAdapter) Unfollow(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) error {
	return g.action(ctx, "unfollow", account, target, "")
}

// SendDM sends a direct message to a target user
func (g *GatewayAdapter) SendDM(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget, message string) error {
	return g.action(ctx, "dm", account, target, message)
}

func (g *GatewayAdapter) action(ctx context.Context, kind string, account *models.SubAccount, target *models.FollowerTarget, message string) error {
	var result actionResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(actionRequest{
			AccountUsername: account.Username,
			TargetUserID:    target.PlatformUserID,
			Message:         message,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/v1/%s/%s", g.platform, kind))
	if err != nil {
		return fmt.Errorf("%w: gateway %s request: %v", ErrTemporary, kind, err)
	}

	return g.interpret(resp, kind, result.Error)
}

// CheckFollowBack asks the gateway whether the target follows the account back
func (g *GatewayAdapter) CheckFollowBack(ctx context.Context, account *models.SubAccount, target *models.FollowerTarget) (bool, error) {
	var result followBackResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(actionRequest{
			AccountUsername: account.Username,
			TargetUserID:    target.PlatformUserID,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/v1/%s/follow-back", g.platform))
	if err != nil {
		return false, fmt.Errorf("%w: gateway follow-back request: %v", ErrTemporary, err)
	}
	if err := g.interpret(resp, "follow-back", result.Error); err != nil {
		return false, err
	}
	return result.FollowingBack, nil
}

// ProbeHealth checks whether the account is still usable on the platform
func (g *GatewayAdapter) ProbeHealth(ctx context.Context, account *models.SubAccount) (*HealthStatus, error) {
	var result healthResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(actionRequest{AccountUsername: account.Username}).
		SetResult(&result).
		Post(fmt.Sprintf("/v1/%s/health", g.platform))
	if err != nil {
		return nil, fmt.Errorf("%w: gateway health request: %v", ErrTemporary, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: gateway health status %d", ErrTemporary, resp.StatusCode())
	}

	status := models.AccountStatus(result.Status)
	switch status {
	case models.AccountHealthy, models.AccountNeedsVerification, models.AccountBanned, models.AccountCooling:
	default:
		return nil, fmt.Errorf("gateway returned unknown account status %q", result.Status)
	}
	return &HealthStatus{Status: status, Message: result.Message}, nil
}

// interpret maps a gateway response to the scheduler's error classes
func (g *GatewayAdapter) interpret(resp *resty.Response, kind, gatewayErr string) error {
	switch {
	case resp.StatusCode() == http.StatusOK:
		return nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return fmt.Errorf("%w: gateway rate limited %s", ErrTemporary, kind)
	case resp.StatusCode() == http.StatusLocked:
		return fmt.Errorf("%s: %s: %w", kind, gatewayErr, ErrAccountFlagged)
	case resp.StatusCode() == http.StatusGone:
		return fmt.Errorf("%s: %s: %w", kind, gatewayErr, ErrAccountBanned)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return fmt.Errorf("%w: gateway %s status %d", ErrTemporary, kind, resp.StatusCode())
	default:
		return fmt.Errorf("gateway %s failed: status %d: %s", kind, resp.StatusCode(), gatewayErr)
	}
}
