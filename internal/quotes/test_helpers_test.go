package quotes

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const testOrgID = "org-1"

type sequenceIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(step)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordedEvents) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedEvents) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

type testEnv struct {
	service *Service
	db      *gorm.DB
	clock   *testClock
	events  *recordedEvents

	admin  users.Actor
	editor users.Actor
	pm     users.Actor
	sales  users.Actor
	viewer users.Actor
}

type testEnvOption func(*ServiceConfig)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "quotes.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	models := append([]interface{}{&users.Organization{}, &users.User{}}, Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, options ...testEnvOption) *testEnv {
	t.Helper()
	db := openTestDatabase(t)
	clock := &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	events := &recordedEvents{}

	cfg := ServiceConfig{
		Database:          db,
		Clock:             clock.Now,
		IDProvider:        &sequenceIDGenerator{},
		Logger:            zap.NewNop(),
		Notifier:          events,
		ShareLinkHashCost: bcryptTestCost,
	}
	for _, option := range options {
		option(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	env := &testEnv{service: service, db: db, clock: clock, events: events}
	if err := db.Create(&users.Organization{ID: testOrgID, Name: "Acme"}).Error; err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}
	env.admin = env.seedUser(t, "user-admin", users.RoleAdmin)
	env.editor = env.seedUser(t, "user-editor", users.RoleEditor)
	env.pm = env.seedUser(t, "user-pm", users.RoleEditor)
	env.sales = env.seedUser(t, "user-sales", users.RoleViewer)
	env.viewer = env.seedUser(t, "user-viewer", users.RoleViewer)
	return env
}

// bcryptTestCost is the minimum accepted cost; NewService clamps anything lower.
const bcryptTestCost = MinShareLinkHashCost

func (env *testEnv) seedUser(t *testing.T, id string, role users.Role) users.Actor {
	t.Helper()
	user := users.User{ID: id, OrgID: testOrgID, Name: id, Email: id + "@example.com", Role: role}
	if err := env.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
	return users.Actor{UserID: id, OrgID: testOrgID, Role: role}
}

func (env *testEnv) publishRates(t *testing.T, rates estimate.Rates) RateCard {
	t.Helper()
	card, err := env.service.PublishRateCard(context.Background(), env.admin, rates)
	if err != nil {
		t.Fatalf("failed to publish rate card: %v", err)
	}
	return card
}

var defaultTestRates = estimate.Rates{PMDayRate: 100000, DevDayRate: 120000, DesignDayRate: 80000}

func (env *testEnv) createProject(t *testing.T) Project {
	t.Helper()
	project, err := env.service.CreateProject(context.Background(), env.editor, CreateProjectInput{
		Title:               "Member portal",
		ClientName:          "Globex",
		PMApproverUserID:    env.pm.UserID,
		SalesApproverUserID: env.sales.UserID,
		TemplateScale:       "medium",
	})
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return project
}

func referenceRequirements() estimate.Requirements {
	return estimate.Requirements{
		TemplateScale:  estimate.ScaleMedium,
		ScreenMin:      20,
		ScreenMax:      30,
		DataComplexity: estimate.DataComplexityMedium,
		Features:       map[string]bool{estimate.FeatureAuth: true},
		NonFunctional:  map[string]bool{},
	}
}

// readyProject returns a project with rates, requirements and a generated proposal.
func (env *testEnv) readyProject(t *testing.T) (Project, Proposal) {
	t.Helper()
	ctx := context.Background()
	env.publishRates(t, defaultTestRates)
	project := env.createProject(t)
	if _, err := env.service.SaveRequirements(ctx, env.editor, project.ID, referenceRequirements()); err != nil {
		t.Fatalf("failed to save requirements: %v", err)
	}
	document, err := env.service.GenerateProposal(ctx, env.editor, project.ID)
	if err != nil {
		t.Fatalf("failed to generate proposal: %v", err)
	}
	return project, document
}

func (env *testEnv) firstBlock(t *testing.T, document Proposal) ProposalBlock {
	t.Helper()
	for _, section := range document.Sections {
		if len(section.Blocks) > 0 {
			return section.Blocks[0]
		}
	}
	t.Fatalf("proposal has no blocks")
	return ProposalBlock{}
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}
