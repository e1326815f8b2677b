package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

// ErrAlreadySeeded indicates that the seed admin already exists.
var ErrAlreadySeeded = errors.New("bootstrap: organization already seeded")

// DefaultRates is the first rate card published for a seeded organization.
var DefaultRates = estimate.Rates{PMDayRate: 100000, DevDayRate: 120000, DesignDayRate: 80000}

type seedMember struct {
	handle string
	name   string
	role   users.Role
}

var seedMembers = []seedMember{
	{handle: "admin", name: "Admin", role: users.RoleAdmin},
	{handle: "editor", name: "Editor", role: users.RoleEditor},
	{handle: "pm", name: "Project Manager", role: users.RoleEditor},
	{handle: "sales", name: "Sales", role: users.RoleViewer},
	{handle: "viewer", name: "Viewer", role: users.RoleViewer},
}

// SeedConfig describes the organization to create.
type SeedConfig struct {
	OrganizationName string
	EmailDomain      string
}

// SeedResult lists what Seed created, keyed by member handle.
type SeedResult struct {
	Organization users.Organization
	Members      map[string]users.User
	RateCard     quotes.RateCard
}

// Seed creates one organization with an admin, editor, pm, sales and viewer
// member and publishes rate card version 1.
func Seed(ctx context.Context, userService *users.Service, quoteService *quotes.Service, cfg SeedConfig) (SeedResult, error) {
	domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.EmailDomain)), "@")
	if domain == "" {
		return SeedResult{}, fmt.Errorf("bootstrap: email domain required")
	}
	if _, err := userService.FindByEmail(ctx, "admin@"+domain); err == nil {
		return SeedResult{}, ErrAlreadySeeded
	} else if !errors.Is(err, users.ErrUnknownUser) {
		return SeedResult{}, err
	}

	organization, err := userService.CreateOrganization(ctx, cfg.OrganizationName)
	if err != nil {
		return SeedResult{}, err
	}

	result := SeedResult{Organization: organization, Members: make(map[string]users.User, len(seedMembers))}
	for _, member := range seedMembers {
		user, err := userService.CreateUser(ctx, users.NewUserInput{
			OrgID: organization.ID,
			Name:  member.name,
			Email: member.handle + "@" + domain,
			Role:  member.role,
		})
		if err != nil {
			return SeedResult{}, fmt.Errorf("bootstrap: create %s: %w", member.handle, err)
		}
		result.Members[member.handle] = user
	}

	admin := result.Members["admin"]
	card, err := quoteService.PublishRateCard(ctx, users.Actor{UserID: admin.ID, OrgID: organization.ID, Role: admin.Role}, DefaultRates)
	if err != nil {
		return SeedResult{}, err
	}
	result.RateCard = card
	return result, nil
}
