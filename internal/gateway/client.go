// Package gateway is the HTTP client for the chat platform's REST API.
// It implements the directory, notification, and entitlement
// collaborators consumed by the invite core.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lanternlabs/doorman/internal/invites"
	"github.com/lanternlabs/doorman/internal/retry"
)

// Config holds the gateway client configuration.
type Config struct {
	BaseURL string
	Token   string
	Logger  *slog.Logger

	// RequestsPerSecond bounds outbound call rate; the platform
	// enforces its own limits and 429s are retried, but staying under
	// them is cheaper. Zero means the default of 20/s with burst 40.
	RequestsPerSecond float64
	Burst             int

	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if cfg.Token == "" {
		return errors.New("token is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Client talks to the platform REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	log        *slog.Logger
}

// NewClient creates a platform API client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Minute,
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retryCfg: cfg.Retry,
		log:      cfg.Logger,
	}, nil
}

// inviteDTO mirrors the platform's invite object.
type inviteDTO struct {
	Code    string `json:"code"`
	Uses    int    `json:"uses"`
	OwnerID string `json:"owner_id"`
}

// userDTO mirrors the platform's user object.
type userDTO struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	IsBot     bool      `json:"is_bot"`
}

// ListInvites returns the community's live invite links with their
// cumulative use counts.
func (c *Client) ListInvites(ctx context.Context, communityID string) ([]invites.Invite, error) {
	var dtos []inviteDTO
	path := fmt.Sprintf("/communities/%s/invites", communityID)
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}

	out := make([]invites.Invite, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, invites.Invite{Code: dto.Code, Uses: dto.Uses, OwnerID: dto.OwnerID})
	}
	return out, nil
}

// GetUser resolves a platform user.
func (c *Client) GetUser(ctx context.Context, userID string) (invites.User, error) {
	var dto userDTO
	if err := c.do(ctx, http.MethodGet, "/users/"+userID, nil, &dto); err != nil {
		return invites.User{}, err
	}
	return invites.User{ID: dto.ID, CreatedAt: dto.CreatedAt, IsBot: dto.IsBot}, nil
}

// PostMessage posts a message to a channel.
func (c *Client) PostMessage(ctx context.Context, channelID, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), body, nil)
}

// GrantRole grants a role to a community member. The platform treats
// the PUT as idempotent: granting an already-held role succeeds.
func (c *Client) GrantRole(ctx context.Context, communityID, userID, roleID string) error {
	path := fmt.Sprintf("/communities/%s/members/%s/roles/%s", communityID, userID, roleID)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// do executes one API call with rate limiting and retry on transient
// failures. out, when non-nil, receives the decoded JSON response.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	return retry.Do(ctx, c.retryCfg, func() error {
		requestsTotal.WithLabelValues(method).Inc()
		err := c.doOnce(ctx, method, path, payload, out)
		if err != nil {
			requestErrorsTotal.WithLabelValues(method).Inc()
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps error messages useful without buffering
		// arbitrary error pages.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
