package rosterly

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Auth Types
// ============================================================================

// LoginOptions are the credentials for password login.
type LoginOptions struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginData is returned by a successful login or token refresh.
type LoginData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// User is an authenticated account.
type User struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
}

// ============================================================================
// Scheduling Entities
// ============================================================================

// Department groups employees under a manager.
type Department struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ManagerID   string `json:"manager_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Role is a job function an employee can be assigned to a shift as.
type Role struct {
	ID         string   `json:"id"`
	ClientID   string   `json:"client_id,omitempty"`
	Name       string   `json:"name"`
	HourlyRate float64  `json:"hourly_rate,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
}

// Employee is a schedulable worker.
type Employee struct {
	ID           string   `json:"id"`
	ClientID     string   `json:"client_id,omitempty"`
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	RoleIDs      []string `json:"role_ids,omitempty"`
	MaxHours     int      `json:"max_hours_per_week,omitempty"`
	Active       bool     `json:"active"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// Shift is a scheduled block of work for one employee.
type Shift struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id,omitempty"`
	EmployeeID   string `json:"employee_id"`
	DepartmentID string `json:"department_id,omitempty"`
	RoleID       string `json:"role_id,omitempty"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Status       string `json:"status,omitempty"` // "draft", "published", "completed"
	Notes        string `json:"notes,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// Notification is a user-facing message pushed by the backend.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Read      bool           `json:"read"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

// ============================================================================
// Analytics Types
// ============================================================================

// ScheduleSummary is the dashboard roll-up for a date range.
type ScheduleSummary struct {
	TotalShifts     int     `json:"total_shifts"`
	TotalHours      float64 `json:"total_hours"`
	LaborCost       float64 `json:"labor_cost,omitempty"`
	CoverageGaps    int     `json:"coverage_gaps,omitempty"`
	EmployeesActive int     `json:"employees_active"`
}

// DepartmentLoad is per-department scheduled hours for the dashboard.
type DepartmentLoad struct {
	DepartmentID   string  `json:"department_id"`
	DepartmentName string  `json:"department_name"`
	ScheduledHours float64 `json:"scheduled_hours"`
	HeadCount      int     `json:"head_count"`
}

// ============================================================================
// List / Query Options
// ============================================================================

// PaginationOptions control list endpoints.
type PaginationOptions struct {
	Limit  int
	Offset int
}

// ShiftQuery filters shift listings.
type ShiftQuery struct {
	DepartmentID string
	EmployeeID   string
	From         string // inclusive date, YYYY-MM-DD
	To           string // inclusive date, YYYY-MM-DD
	Status       string
}

// ============================================================================
// Sync Types
// ============================================================================

// SyncEvent is a single change record from the delta-sync endpoint.
type SyncEvent struct {
	Seq      int             `json:"seq"`
	Type     string          `json:"type"` // e.g. "shift_created", "department_updated"
	Resource string          `json:"resource"`
	Data     json.RawMessage `json:"data"`
	At       string          `json:"at"`
}

// SyncPage is the response from GET /api/sync.
type SyncPage struct {
	Events  []SyncEvent `json:"events"`
	Cursor  int         `json:"cursor"`
	HasMore bool        `json:"has_more"`
}
