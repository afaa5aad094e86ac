package domain

import "time"

// ============================================================
// Auth: company admin users and sessions
// ============================================================

// User is a company administrator allowed to manage employees and plans.
type User struct {
	ID           int64     `json:"id"`
	CompanyID    int64     `json:"companyId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"` // operator, admin, viewer
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID    int64  `json:"userId"`
	CompanyID int64  `json:"companyId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// Roles. Admins and viewers are scoped to their company. Operators run the
// platform and may also change what every company sees, such as the plan catalog.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleViewer   = "viewer"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOperator, RoleAdmin, RoleViewer:
		return true
	}
	return false
}

// IsAdmin reports whether the caller may mutate its own company's data.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleOperator
}

// IsOperator reports whether the caller may change platform-wide data.
func (p Principal) IsOperator() bool {
	return p.Role == RoleOperator
}

// LoginRequest is the body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginResponse is the body for 200 from POST /api/auth/login. The same identity is
// also stored in the session cookie; AccessToken serves API and websocket clients.
type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresIn   int       `json:"expiresIn"`
	User        Principal `json:"user"`
}
