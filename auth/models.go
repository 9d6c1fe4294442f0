package auth

import "time"

type Role string

const (
	RoleContributor Role = "contributor"
	RoleCharity     Role = "charity"
	RoleBranchAdmin Role = "branch_admin"
	RoleSystemAdmin Role = "system_admin"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID             string
	Email          string
	FullName       string
	PasswordHash   string
	Phone          *string
	BranchID       *string
	CharityUnitID  *string
	TelegramChatID *int64
	Role           Role
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Actor is the caller identity carried by tokens and passed to domain services.
// BranchID is set for branch administrators, CharityUnitID for charity staff.
type Actor struct {
	UserID        string
	Role          Role
	BranchID      string
	CharityUnitID string
}

// ActorOf derives the token identity of a user.
func ActorOf(u User) Actor {
	a := Actor{UserID: u.ID, Role: u.Role}
	if u.BranchID != nil {
		a.BranchID = *u.BranchID
	}
	if u.CharityUnitID != nil {
		a.CharityUnitID = *u.CharityUnitID
	}
	return a
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
