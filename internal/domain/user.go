package domain

import (
	"time"
)

// Role constants define the allowed user roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// IsValidRole checks whether the given role string is a valid user role.
func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

// User is a profile record keyed by the token subject. ReviewsCount is the
// number of active reviews authored by the user and never goes below zero.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	ReviewsCount int       `json:"reviewsCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicProfile is the view of a user shown to other users.
type PublicProfile struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	ReviewsCount int       `json:"reviewsCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public strips private fields.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:           u.ID,
		DisplayName:  u.DisplayName,
		ReviewsCount: u.ReviewsCount,
		CreatedAt:    u.CreatedAt,
	}
}
