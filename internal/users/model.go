package users

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role enumerates the organization roles.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ErrInvalidRole indicates that a role string is not recognised.
var ErrInvalidRole = errors.New("users: invalid role")

// ParseRole validates raw input and returns a Role.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleAdmin, RoleEditor, RoleViewer:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// CanResolveComments reports whether the role may resolve review comments.
func (r Role) CanResolveComments() bool {
	return r == RoleAdmin || r == RoleEditor
}

// CanPublishRateCards reports whether the role may publish rate cards.
func (r Role) CanPublishRateCards() bool {
	return r == RoleAdmin
}

// Organization owns users, rate cards and projects.
type Organization struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name      string    `gorm:"column:name;size:320;not null" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Organization) TableName() string {
	return "organizations"
}

// User is a member of an organization.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	OrgID     string    `gorm:"column:org_id;size:64;not null;index" json:"orgId"`
	Name      string    `gorm:"column:name;size:320;not null" json:"name"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Role      Role      `gorm:"column:role;size:16;not null" json:"role"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Actor is the authenticated caller every service operation receives explicitly.
type Actor struct {
	UserID string
	OrgID  string
	Role   Role
}

// Valid reports whether the actor carries both identifiers.
func (a Actor) Valid() bool {
	return strings.TrimSpace(a.UserID) != "" && strings.TrimSpace(a.OrgID) != ""
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
