package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/auth"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUnknownUser indicates the claims reference a user that is not a member of the claimed organization.
	ErrUnknownUser = errors.New("users: unknown user")
	// ErrInvalidUser indicates that user input failed validation.
	ErrInvalidUser = errors.New("users: invalid user")
)

// ServiceConfig describes the dependencies required for actor resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages organizations, users and actor resolution.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveActor maps validated session claims onto a persisted organization member.
// Membership and role are read from storage on every call, never from the token.
func (s *Service) ResolveActor(ctx context.Context, claims auth.SessionClaims) (Actor, error) {
	userID := normalize(claims.UserID)
	if userID == "" {
		userID = normalize(claims.Subject)
	}
	if userID == "" {
		return Actor{}, ErrInvalidIdentity
	}

	var user User
	err := s.db.WithContext(ctx).
		Select("id", "org_id", "role").
		Where("id = ?", userID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Actor{}, ErrUnknownUser
	}
	if err != nil {
		return Actor{}, err
	}

	actor := Actor{UserID: user.ID, OrgID: user.OrgID, Role: user.Role}
	if !orgMatches(actor, claims.OrgID) {
		return Actor{}, ErrUnknownUser
	}
	return actor, nil
}

// FindMember loads a user that belongs to the organization.
func (s *Service) FindMember(ctx context.Context, orgID, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", normalize(userID), normalize(orgID)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListMembers returns the organization's users ordered by name.
func (s *Service) ListMembers(ctx context.Context, orgID string) ([]User, error) {
	var members []User
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", normalize(orgID)).
		Order("name ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// CreateOrganization stores a new organization.
func (s *Service) CreateOrganization(ctx context.Context, name string) (Organization, error) {
	trimmed := normalize(name)
	if trimmed == "" {
		return Organization{}, fmt.Errorf("%w: organization name required", ErrInvalidUser)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Organization{}, err
	}
	organization := Organization{ID: id.String(), Name: trimmed, CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&organization).Error; err != nil {
		return Organization{}, err
	}
	return organization, nil
}

// NewUserInput describes a user to be created in an organization.
type NewUserInput struct {
	OrgID string
	Name  string
	Email string
	Role  Role
}

// CreateUser stores a new organization member.
func (s *Service) CreateUser(ctx context.Context, input NewUserInput) (User, error) {
	orgID := normalize(input.OrgID)
	name := normalize(input.Name)
	email := strings.ToLower(normalize(input.Email))
	if orgID == "" || name == "" || email == "" {
		return User{}, fmt.Errorf("%w: organization, name and email required", ErrInvalidUser)
	}
	role, err := ParseRole(string(input.Role))
	if err != nil {
		return User{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:        id.String(),
		OrgID:     orgID,
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByEmail loads a user by email address.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(normalize(email))).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func orgMatches(actor Actor, claimedOrgID string) bool {
	claimed := normalize(claimedOrgID)
	return claimed == "" || claimed == actor.OrgID
}
