package quotes

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opSaveRequirements = "quotes.save_requirements"
	opGetRequirements  = "quotes.get_requirements"
	opRecomputeAfter   = "quotes.recompute_after_save"
)

// SaveRequirements replaces the project's requirements payload and stamps
// requirementsUpdatedAt. It never estimates; see RecomputeEstimateBestEffort.
func (s *Service) SaveRequirements(ctx context.Context, actor users.Actor, projectID string, requirements estimate.Requirements) (Requirement, error) {
	if err := s.requireActor(opSaveRequirements, actor); err != nil {
		return Requirement{}, err
	}
	if err := requirements.Validate(); err != nil {
		return Requirement{}, newServiceError(opSaveRequirements, "invalid_requirements", err)
	}
	payload, err := json.Marshal(requirements)
	if err != nil {
		return Requirement{}, newServiceError(opSaveRequirements, "encode_failed", err)
	}

	var (
		saved   Requirement
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadProject(tx, opSaveRequirements, actor, projectID)
		if err != nil {
			return err
		}

		now := s.now()
		saved = Requirement{
			ProjectID: loaded.ID,
			Payload:   datatypes.JSON(payload),
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).Create(&saved).Error; err != nil {
			s.logError(opSaveRequirements, "upsert_failed", err, zap.String("project_id", loaded.ID))
			return newServiceError(opSaveRequirements, "upsert_failed", err)
		}

		if err := tx.Model(&Project{}).
			Where("id = ?", loaded.ID).
			Updates(map[string]interface{}{
				"requirements_updated_at": now,
				"updated_at":              now,
			}).Error; err != nil {
			s.logError(opSaveRequirements, "project_stamp_failed", err, zap.String("project_id", loaded.ID))
			return newServiceError(opSaveRequirements, "project_stamp_failed", err)
		}
		loaded.RequirementsUpdatedAt = &now
		loaded.UpdatedAt = now
		project = loaded
		return nil
	})
	if txErr != nil {
		return Requirement{}, txErr
	}

	s.publish(EventRequirementsSaved, project, actor.UserID, "")
	return saved, nil
}

// GetRequirements returns the decoded requirements payload of a project.
func (s *Service) GetRequirements(ctx context.Context, actor users.Actor, projectID string) (estimate.Requirements, error) {
	if err := s.requireActor(opGetRequirements, actor); err != nil {
		return estimate.Requirements{}, err
	}
	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opGetRequirements, actor, projectID)
	if err != nil {
		return estimate.Requirements{}, err
	}
	return s.findRequirements(db, opGetRequirements, project.ID)
}

func (s *Service) findRequirements(tx *gorm.DB, operation, projectID string) (estimate.Requirements, error) {
	var stored Requirement
	err := tx.Where("project_id = ?", projectID).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return estimate.Requirements{}, newServiceError(operation, "missing_requirements", ErrMissingRequirements)
	}
	if err != nil {
		s.logError(operation, "requirements_select_failed", err, zap.String("project_id", projectID))
		return estimate.Requirements{}, newServiceError(operation, "requirements_select_failed", err)
	}
	requirements, err := stored.Decode()
	if err != nil {
		s.logError(operation, "requirements_decode_failed", err, zap.String("project_id", projectID))
		return estimate.Requirements{}, newServiceError(operation, "requirements_decode_failed", err)
	}
	return requirements, nil
}

// RecomputeEstimateBestEffort recomputes the estimate after a requirements save.
// Failures are logged and never returned so that the save itself always succeeds.
func (s *Service) RecomputeEstimateBestEffort(ctx context.Context, actor users.Actor, projectID string) {
	if _, err := s.ComputeEstimate(ctx, actor, projectID); err != nil {
		s.logWarn(opRecomputeAfter, string(KindOf(err)), err, zap.String("project_id", projectID))
	}
}
