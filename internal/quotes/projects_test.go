package quotes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

func TestCreateProjectPinsActiveRateCard(t *testing.T) {
	env := newTestEnv(t)
	env.publishRates(t, defaultTestRates)
	env.publishRates(t, estimate.Rates{PMDayRate: 1, DevDayRate: 2, DesignDayRate: 3})

	project := env.createProject(t)
	if project.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", project.Status)
	}
	if project.RateCardVersion != 2 {
		t.Fatalf("expected pinned version 2, got %d", project.RateCardVersion)
	}
	if project.OwnerUserID != env.editor.UserID || project.TemplateScale != estimate.ScaleMedium {
		t.Fatalf("unexpected project %#v", project)
	}
	types := env.events.types()
	if len(types) == 0 || types[len(types)-1] != EventProjectCreated {
		t.Fatalf("expected project.created event, got %v", types)
	}
}

func TestCreateProjectFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	valid := CreateProjectInput{
		Title:               "Portal",
		ClientName:          "Globex",
		PMApproverUserID:    env.pm.UserID,
		SalesApproverUserID: env.sales.UserID,
		TemplateScale:       "small",
	}

	_, err := env.service.CreateProject(ctx, env.editor, valid)
	if !errors.Is(err, ErrNoActiveRateCard) {
		t.Fatalf("expected ErrNoActiveRateCard, got %v", err)
	}
	env.publishRates(t, defaultTestRates)

	tests := []struct {
		name   string
		mutate func(*CreateProjectInput)
		kind   Kind
	}{
		{name: "missing-title", mutate: func(in *CreateProjectInput) { in.Title = " " }, kind: KindInvalidInput},
		{name: "unknown-scale", mutate: func(in *CreateProjectInput) { in.TemplateScale = "xl" }, kind: KindInvalidInput},
		{name: "foreign-approver", mutate: func(in *CreateProjectInput) { in.PMApproverUserID = "user-elsewhere" }, kind: KindInvalidInput},
		{name: "missing-approver", mutate: func(in *CreateProjectInput) { in.SalesApproverUserID = "" }, kind: KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := valid
			tt.mutate(&input)
			_, err := env.service.CreateProject(ctx, env.editor, input)
			expectKind(t, err, tt.kind)
		})
	}
}

func TestListProjectsFiltersAndOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.publishRates(t, defaultTestRates)

	inputs := []CreateProjectInput{
		{Title: "Inventory revamp", ClientName: "Initech"},
		{Title: "Member portal", ClientName: "Globex"},
		{Title: "Loyalty app", ClientName: "Globex Retail"},
	}
	var created []Project
	for _, input := range inputs {
		input.PMApproverUserID = env.pm.UserID
		input.SalesApproverUserID = env.sales.UserID
		input.TemplateScale = "large"
		project, err := env.service.CreateProject(ctx, env.editor, input)
		if err != nil {
			t.Fatalf("create project: %v", err)
		}
		created = append(created, project)
		env.clock.Advance(time.Minute)
	}
	if _, err := env.service.SubmitForReview(ctx, env.editor, created[0].ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	all, err := env.service.ListProjects(ctx, env.viewer, ProjectFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != created[0].ID {
		t.Fatalf("expected most recently updated first, got %#v", all)
	}

	globex, err := env.service.ListProjects(ctx, env.viewer, ProjectFilter{Search: "gLoBeX"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(globex) != 2 {
		t.Fatalf("expected two globex projects, got %d", len(globex))
	}

	inReview, err := env.service.ListProjects(ctx, env.viewer, ProjectFilter{Status: StatusReview})
	if err != nil {
		t.Fatalf("status filter: %v", err)
	}
	if len(inReview) != 1 || inReview[0].ID != created[0].ID {
		t.Fatalf("unexpected review projects %#v", inReview)
	}

	percent, err := env.service.ListProjects(ctx, env.viewer, ProjectFilter{Search: "%"})
	if err != nil {
		t.Fatalf("wildcard search: %v", err)
	}
	if len(percent) != 0 {
		t.Fatalf("literal percent must not match everything, got %d", len(percent))
	}

	_, err = env.service.ListProjects(ctx, env.viewer, ProjectFilter{Status: "lost"})
	expectKind(t, err, KindInvalidInput)

	otherOrg := users.Actor{UserID: "someone", OrgID: "org-2", Role: users.RoleAdmin}
	foreign, err := env.service.ListProjects(ctx, otherOrg, ProjectFilter{})
	if err != nil || len(foreign) != 0 {
		t.Fatalf("projects must be scoped to the organization: %d (%v)", len(foreign), err)
	}
}

func TestPublishRateCardDeactivatesOlderVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.publishRates(t, defaultTestRates)
	second := env.publishRates(t, estimate.Rates{PMDayRate: 110000, DevDayRate: 130000, DesignDayRate: 90000})
	if first.Version != 1 || second.Version != 2 {
		t.Fatalf("unexpected versions %d, %d", first.Version, second.Version)
	}

	cards, err := env.service.ListRateCards(ctx, env.viewer)
	if err != nil {
		t.Fatalf("list rate cards: %v", err)
	}
	if len(cards) != 2 || cards[0].Version != 2 || !cards[0].IsActive || cards[1].IsActive {
		t.Fatalf("unexpected rate cards %#v", cards)
	}
	if cards[1].PMDayRate != defaultTestRates.PMDayRate {
		t.Fatalf("older versions must keep their rates")
	}

	active, err := env.service.ActiveRateCard(ctx, env.viewer)
	if err != nil || active.ID != second.ID {
		t.Fatalf("expected active card %s, got %#v (%v)", second.ID, active, err)
	}
}

func TestPublishRateCardRequiresAdminAndValidRates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.PublishRateCard(ctx, env.editor, defaultTestRates)
	expectKind(t, err, KindUnauthorized)

	_, err = env.service.PublishRateCard(ctx, env.admin, estimate.Rates{PMDayRate: -1})
	expectKind(t, err, KindInvalidInput)

	_, err = env.service.ActiveRateCard(ctx, env.admin)
	expectKind(t, err, KindConfigurationMissing)
}
