package quotes

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const opSnapshot = "quotes.snapshot"

// SnapshotProject is the client-facing subset of project fields.
type SnapshotProject struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	ClientName        string         `json:"clientName"`
	ClientContactName string         `json:"clientContactName,omitempty"`
	ClientEmail       string         `json:"clientEmail,omitempty"`
	TemplateScale     estimate.Scale `json:"templateScale"`
	Status            Status         `json:"status"`
	RateCardVersion   int            `json:"rateCardVersion"`
}

// Snapshot is the read-only materialized project view consumed by share
// links and PDF exports.
type Snapshot struct {
	Project       SnapshotProject     `json:"project"`
	Sections      []SectionWithBlocks `json:"sections"`
	EstimateItems []EstimateItem      `json:"estimateItems"`
	TotalDays     float64             `json:"totalDays"`
	GeneratedAt   time.Time           `json:"generatedAt"`
}

// Snapshot materializes the project for the actor.
func (s *Service) Snapshot(ctx context.Context, actor users.Actor, projectID string) (Snapshot, error) {
	if err := s.requireActor(opSnapshot, actor); err != nil {
		return Snapshot{}, err
	}
	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opSnapshot, actor, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.buildSnapshot(db, opSnapshot, project)
}

func (s *Service) buildSnapshot(tx *gorm.DB, operation string, project Project) (Snapshot, error) {
	document, err := s.readProposal(tx, operation, project.ID)
	if err != nil {
		return Snapshot{}, err
	}
	items, err := s.listEstimateItems(tx, operation, project.ID)
	if err != nil {
		return Snapshot{}, err
	}

	totalDays := 0.0
	for _, item := range items {
		totalDays += item.Days
	}

	return Snapshot{
		Project: SnapshotProject{
			ID:                project.ID,
			Title:             project.Title,
			ClientName:        project.ClientName,
			ClientContactName: project.ClientContactName,
			ClientEmail:       project.ClientEmail,
			TemplateScale:     project.TemplateScale,
			Status:            project.Status,
			RateCardVersion:   project.RateCardVersion,
		},
		Sections:      document.Sections,
		EstimateItems: items,
		TotalDays:     totalDays,
		GeneratedAt:   s.now(),
	}, nil
}
