package models

// Role of an authenticated user
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// User is an authenticated identity. GroupID is its authorization scope.
type User struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	GroupID string `json:"groupId"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email   string `json:"email" binding:"required"`
	GroupID string `json:"groupId" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
