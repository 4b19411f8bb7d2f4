package models

import "github.com/golang-jwt/jwt/v5"

// UserRole is the coarse application role carried in access tokens.
// Workflow permissions come from certificate role assignments, not from this role.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleStaff UserRole = "STAFF"
)

// JWTClaims represents the JWT payload issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
