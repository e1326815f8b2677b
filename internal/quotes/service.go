package quotes

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/proposal"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	// MinShareLinkHashCost is the lowest bcrypt cost accepted for share link passwords.
	MinShareLinkHashCost    = bcrypt.DefaultCost
	defaultShareLinkMaxDays = 90
)

var noOpLogger = zap.NewNop()

const (
	opServiceNew = "quotes.service.new"
)

// EstimateCacheKey identifies a cached estimate. A new requirements save or a
// new active rate card produces a different key.
type EstimateCacheKey struct {
	ProjectID             string
	RequirementsUpdatedAt time.Time
	RateCardID            string
}

// EstimateCache stores computed estimates.
type EstimateCache interface {
	Get(ctx context.Context, key EstimateCacheKey) (Estimate, bool, error)
	Set(ctx context.Context, key EstimateCacheKey, estimate Estimate) error
}

// Recorder observes service outcomes. Outcome is "ok" or an error Kind.
type Recorder interface {
	RecordTransition(operation, outcome string)
	RecordEstimate(source, outcome string)
	RecordShareVerification(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(string, string) {}
func (nopRecorder) RecordEstimate(string, string)   {}
func (nopRecorder) RecordShareVerification(string)  {}

// ServiceConfig wires the quote service dependencies.
type ServiceConfig struct {
	Database          *gorm.DB
	Clock             func() time.Time
	IDProvider        IDProvider
	Logger            *zap.Logger
	Templates         proposal.Provider
	EstimateCache     EstimateCache
	Notifier          Notifier
	Recorder          Recorder
	ShareLinkHashCost int
	ShareLinkMaxDays  int
}

// Service implements quote projects, estimates, proposals, reviews and share links.
type Service struct {
	db                *gorm.DB
	clock             func() time.Time
	idProvider        IDProvider
	logger            *zap.Logger
	templates         proposal.Provider
	cache             EstimateCache
	notifier          Notifier
	recorder          Recorder
	shareLinkHashCost int
	shareLinkMaxDays  int
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	templates := cfg.Templates
	if templates == nil {
		defaultTemplates, err := proposal.DefaultProvider()
		if err != nil {
			return nil, newServiceError(opServiceNew, "template_load_failed", err)
		}
		templates = defaultTemplates
	}

	var notifier Notifier = nopNotifier{}
	if cfg.Notifier != nil {
		notifier = cfg.Notifier
	}

	var recorder Recorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	hashCost := cfg.ShareLinkHashCost
	if hashCost < MinShareLinkHashCost {
		hashCost = MinShareLinkHashCost
	}
	if hashCost > bcrypt.MaxCost {
		hashCost = bcrypt.MaxCost
	}

	maxDays := cfg.ShareLinkMaxDays
	if maxDays <= 0 {
		maxDays = defaultShareLinkMaxDays
	}

	return &Service{
		db:                cfg.Database,
		clock:             clock,
		idProvider:        cfg.IDProvider,
		logger:            logger,
		templates:         templates,
		cache:             cfg.EstimateCache,
		notifier:          notifier,
		recorder:          recorder,
		shareLinkHashCost: hashCost,
		shareLinkMaxDays:  maxDays,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", newServiceError(operation, "id_generation_failed", err)
	}
	return id, nil
}

func (s *Service) requireActor(operation string, actor users.Actor) error {
	if !actor.Valid() {
		return newServiceError(operation, "unauthenticated", ErrUnauthorized)
	}
	return nil
}

// loadProject reads a project scoped to the actor's organization.
func (s *Service) loadProject(tx *gorm.DB, operation string, actor users.Actor, projectID string) (Project, error) {
	var project Project
	err := tx.Where("id = ? AND org_id = ?", strings.TrimSpace(projectID), actor.OrgID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, newServiceError(operation, "project_not_found", ErrProjectNotFound)
	}
	if err != nil {
		s.logError(operation, "project_select_failed", err, zap.String("project_id", projectID))
		return Project{}, newServiceError(operation, "project_select_failed", err)
	}
	return project, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("quotes service error", attrs...)
}

func (s *Service) logWarn(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Warn("quotes service warning", attrs...)
}
