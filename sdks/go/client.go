// Package supplyhub is the Go SDK for the SupplyHub notification service.
// It wraps the REST endpoints and provides a StreamController that maintains
// a live notification subscription across transport timeouts.
package supplyhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8086"
)

// Client is the main entry point for the SupplyHub SDK.
type Client struct {
	baseURL    string
	token      string
	userID     int64
	httpClient *http.Client

	Notifications *NotificationService
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a new SDK client. token is the session JWT; internal
// services without one can use WithUserID instead.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Notifications = &NotificationService{client: c}
	return c
}

// WithBaseURL sets the base URL for the client.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserID authenticates as a trusted internal caller via the X-User-ID
// convention instead of a JWT.
func WithUserID(id int64) ClientOption {
	return func(c *Client) {
		c.userID = id
	}
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: status=%d", e.Status)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(c.userID, 10))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Notification mirrors one notification record as served by the API.
type Notification struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	TypeID      int64           `json:"type_id"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	RedirectURL *string         `json:"redirect_url,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
}

// Unread reports whether the notification has not been marked read.
func (n *Notification) Unread() bool {
	return n.ReadAt == nil
}

// NotificationService handles notification operations.
type NotificationService struct {
	client *Client
}

type CreateNotificationsRequest struct {
	UserIDs     []int64         `json:"userIds"`
	TypeID      int64           `json:"typeId"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type EmailResult struct {
	Requested int      `json:"requested"`
	Sent      int      `json:"sent"`
	Skipped   int      `json:"skipped"`
	IDs       []string `json:"ids,omitempty"`
}

type CreateNotificationsResponse struct {
	Success       bool           `json:"success"`
	Notifications []Notification `json:"notifications"`
	EmailResult   *EmailResult   `json:"emailResult"`
}

// Create persists one notification per target user and triggers the batched
// email fan-out.
func (s *NotificationService) Create(ctx context.Context, req *CreateNotificationsRequest) (*CreateNotificationsResponse, error) {
	var res CreateNotificationsResponse
	err := s.client.do(ctx, http.MethodPost, "/api/notifications", req, &res)
	return &res, err
}

// MarkRead confirms a read mark for one notification. Idempotent.
func (s *NotificationService) MarkRead(ctx context.Context, id int64) error {
	return s.client.do(ctx, http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", id), nil, nil)
}

// MarkAllRead confirms a bulk read mark for the authenticated user.
func (s *NotificationService) MarkAllRead(ctx context.Context) error {
	return s.client.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil)
}

type ListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
}

// List fetches one page of notifications, newest first. Pages are 1-based.
func (s *NotificationService) List(ctx context.Context, page, size int) (*ListResponse, error) {
	var res ListResponse
	err := s.client.do(ctx, http.MethodGet, fmt.Sprintf("/api/notifications?page=%d&size=%d", page, size), nil, &res)
	return &res, err
}
