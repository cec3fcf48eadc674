// Package rosterly provides the official Go SDK for the Rosterly scheduling API.
//
// Covers authentication, department/employee/role/shift CRUD, dashboard
// analytics, real-time events, and an offline-first optimistic mutation queue.
//
// Example:
//
//	client := rosterly.NewClient("rl-token-...")
//
//	// REST API (sub-module pattern)
//	depts, _ := client.Departments.List(ctx, nil)
//	client.Shifts.Create(ctx, &rosterly.Shift{EmployeeID: "emp-1", Date: "2026-09-01"})
//
//	// Real-time events
//	rt := client.Realtime.Connect(&rosterly.RealtimeConfig{Token: token})
//	rt.On(rosterly.EventShiftCreated, func(eventType string, data json.RawMessage) { ... })
//	rt.Dial(ctx)
package rosterly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://app.rosterly.io",
	Staging:    "https://staging.rosterly.io",
}

const (
	DefaultBaseURL = "https://app.rosterly.io"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the Rosterly API client. Sub-clients expose resource groups.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	Auth          *AuthClient
	Departments   *DepartmentsClient
	Employees     *EmployeesClient
	Roles         *RolesClient
	Shifts        *ShiftsClient
	Notifications *NotificationsClient
	Analytics     *AnalyticsClient
	Realtime      *RealtimeFactory
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger attaches a structured logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Rosterly client.
// token is optional — pass "" and call Auth.Login to obtain one.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{client: c}
	c.Departments = &DepartmentsClient{client: c}
	c.Employees = &EmployeesClient{client: c}
	c.Roles = &RolesClient{client: c}
	c.Shifts = &ShiftsClient{client: c}
	c.Notifications = &NotificationsClient{client: c}
	c.Analytics = &AnalyticsClient{client: c}
	c.Realtime = &RealtimeFactory{client: c}
	return c
}

// SetToken sets or updates the bearer token.
// Useful after login or a token refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.token
}

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func paginationQuery(opts *PaginationOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = fmt.Sprintf("%d", opts.Offset)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Departments
// ============================================================================

// DepartmentsClient handles department CRUD.
type DepartmentsClient struct{ client *Client }

func (d *DepartmentsClient) List(ctx context.Context, opts *PaginationOptions) (*Result, error) {
	return d.client.do(ctx, "GET", "/api/departments", nil, paginationQuery(opts))
}

func (d *DepartmentsClient) Get(ctx context.Context, departmentID string) (*Result, error) {
	return d.client.do(ctx, "GET", "/api/departments/"+departmentID, nil, nil)
}

func (d *DepartmentsClient) Create(ctx context.Context, dept *Department) (*Result, error) {
	return d.client.do(ctx, "POST", "/api/departments", dept, nil)
}

func (d *DepartmentsClient) Update(ctx context.Context, departmentID string, dept *Department) (*Result, error) {
	return d.client.do(ctx, "PUT", "/api/departments/"+departmentID, dept, nil)
}

func (d *DepartmentsClient) Delete(ctx context.Context, departmentID string) (*Result, error) {
	return d.client.do(ctx, "DELETE", "/api/departments/"+departmentID, nil, nil)
}

// ============================================================================
// Employees
// ============================================================================

// EmployeesClient handles employee CRUD.
type EmployeesClient struct{ client *Client }

func (e *EmployeesClient) List(ctx context.Context, opts *PaginationOptions) (*Result, error) {
	return e.client.do(ctx, "GET", "/api/employees", nil, paginationQuery(opts))
}

func (e *EmployeesClient) Get(ctx context.Context, employeeID string) (*Result, error) {
	return e.client.do(ctx, "GET", "/api/employees/"+employeeID, nil, nil)
}

func (e *EmployeesClient) Create(ctx context.Context, emp *Employee) (*Result, error) {
	return e.client.do(ctx, "POST", "/api/employees", emp, nil)
}

func (e *EmployeesClient) Update(ctx context.Context, employeeID string, emp *Employee) (*Result, error) {
	return e.client.do(ctx, "PUT", "/api/employees/"+employeeID, emp, nil)
}

func (e *EmployeesClient) Delete(ctx context.Context, employeeID string) (*Result, error) {
	return e.client.do(ctx, "DELETE", "/api/employees/"+employeeID, nil, nil)
}

// ============================================================================
// Roles
// ============================================================================

// RolesClient handles role CRUD.
type RolesClient struct{ client *Client }

func (r *RolesClient) List(ctx context.Context) (*Result, error) {
	return r.client.do(ctx, "GET", "/api/roles", nil, nil)
}

func (r *RolesClient) Create(ctx context.Context, role *Role) (*Result, error) {
	return r.client.do(ctx, "POST", "/api/roles", role, nil)
}

func (r *RolesClient) Update(ctx context.Context, roleID string, role *Role) (*Result, error) {
	return r.client.do(ctx, "PUT", "/api/roles/"+roleID, role, nil)
}

func (r *RolesClient) Delete(ctx context.Context, roleID string) (*Result, error) {
	return r.client.do(ctx, "DELETE", "/api/roles/"+roleID, nil, nil)
}

// ============================================================================
// Shifts
// ============================================================================

// ShiftsClient handles shift CRUD and schedule queries.
type ShiftsClient struct{ client *Client }

func (s *ShiftsClient) List(ctx context.Context, query *ShiftQuery) (*Result, error) {
	var q map[string]string
	if query != nil {
		q = map[string]string{}
		if query.DepartmentID != "" {
			q["department_id"] = query.DepartmentID
		}
		if query.EmployeeID != "" {
			q["employee_id"] = query.EmployeeID
		}
		if query.From != "" {
			q["from"] = query.From
		}
		if query.To != "" {
			q["to"] = query.To
		}
		if query.Status != "" {
			q["status"] = query.Status
		}
		if len(q) == 0 {
			q = nil
		}
	}
	return s.client.do(ctx, "GET", "/api/shifts", nil, q)
}

func (s *ShiftsClient) Get(ctx context.Context, shiftID string) (*Result, error) {
	return s.client.do(ctx, "GET", "/api/shifts/"+shiftID, nil, nil)
}

func (s *ShiftsClient) Create(ctx context.Context, shift *Shift) (*Result, error) {
	return s.client.do(ctx, "POST", "/api/shifts", shift, nil)
}

func (s *ShiftsClient) Update(ctx context.Context, shiftID string, shift *Shift) (*Result, error) {
	return s.client.do(ctx, "PUT", "/api/shifts/"+shiftID, shift, nil)
}

func (s *ShiftsClient) Delete(ctx context.Context, shiftID string) (*Result, error) {
	return s.client.do(ctx, "DELETE", "/api/shifts/"+shiftID, nil, nil)
}

// Publish transitions all draft shifts in a date range to published.
func (s *ShiftsClient) Publish(ctx context.Context, from, to string) (*Result, error) {
	return s.client.do(ctx, "POST", "/api/shifts/publish", map[string]string{
		"from": from, "to": to,
	}, nil)
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationsClient handles notification listing and read state.
type NotificationsClient struct{ client *Client }

func (n *NotificationsClient) List(ctx context.Context, unreadOnly bool) (*Result, error) {
	var query map[string]string
	if unreadOnly {
		query = map[string]string{"unread_only": "true"}
	}
	return n.client.do(ctx, "GET", "/api/notifications", nil, query)
}

func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) (*Result, error) {
	return n.client.do(ctx, "POST", "/api/notifications/"+notificationID+"/read", nil, nil)
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) (*Result, error) {
	return n.client.do(ctx, "POST", "/api/notifications/read-all", nil, nil)
}

// ============================================================================
// Analytics
// ============================================================================

// AnalyticsClient handles dashboard roll-ups.
type AnalyticsClient struct{ client *Client }

func (a *AnalyticsClient) Summary(ctx context.Context, from, to string) (*Result, error) {
	return a.client.do(ctx, "GET", "/api/analytics/summary", nil, map[string]string{
		"from": from, "to": to,
	})
}

func (a *AnalyticsClient) DepartmentLoad(ctx context.Context, from, to string) (*Result, error) {
	return a.client.do(ctx, "GET", "/api/analytics/departments", nil, map[string]string{
		"from": from, "to": to,
	})
}

// ============================================================================
// Sync
// ============================================================================

// SyncSince fetches change events after the given cursor.
func (c *Client) SyncSince(ctx context.Context, cursor int, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 100
	}
	return c.do(ctx, "GET", "/api/sync", nil, map[string]string{
		"since": fmt.Sprintf("%d", cursor),
		"limit": fmt.Sprintf("%d", limit),
	})
}

// ============================================================================
// Realtime factory
// ============================================================================

// RealtimeFactory creates real-time clients bound to this API client.
type RealtimeFactory struct{ client *Client }

// URL returns the WebSocket endpoint for the given token.
func (r *RealtimeFactory) URL(token string) string {
	base := strings.Replace(r.client.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + url.QueryEscape(token)
	}
	return base + "/ws"
}

// Connect creates a real-time client. Call Dial() to establish the connection.
func (r *RealtimeFactory) Connect(config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	return newRealtimeClient(r.client.baseURL, &cfg, r.client.logger)
}
