package quotes

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opComputeEstimate = "quotes.compute_estimate"
	opGetEstimate     = "quotes.get_estimate"
)

const (
	estimateSourceComputed = "computed"
	estimateSourceCache    = "cache"
)

// Estimate is the persisted estimate of a project plus the totals derived with it.
type Estimate struct {
	ProjectID   string         `json:"projectId"`
	Items       []EstimateItem `json:"items"`
	TotalDays   float64        `json:"totalDays"`
	TotalAmount float64        `json:"totalAmount"`
	RateCard    RateCard       `json:"rateCard"`
	ComputedAt  time.Time      `json:"computedAt"`
}

// ComputeEstimate derives the estimate from the stored requirements and the
// active rate card and upserts the three line items in one transaction.
// Totals come from the freshly derived values, not from a re-read of the items.
func (s *Service) ComputeEstimate(ctx context.Context, actor users.Actor, projectID string) (Estimate, error) {
	result, key, err := s.computeEstimate(ctx, actor, projectID)
	s.recorder.RecordEstimate(estimateSourceComputed, outcomeOf(err))
	if err != nil {
		return Estimate{}, err
	}
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, key, result); cacheErr != nil {
			s.logWarn(opComputeEstimate, "cache_store_failed", cacheErr, zap.String("project_id", result.ProjectID))
		}
	}
	return result, nil
}

func (s *Service) computeEstimate(ctx context.Context, actor users.Actor, projectID string) (Estimate, EstimateCacheKey, error) {
	if err := s.requireActor(opComputeEstimate, actor); err != nil {
		return Estimate{}, EstimateCacheKey{}, err
	}

	var (
		result  Estimate
		key     EstimateCacheKey
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadProject(tx, opComputeEstimate, actor, projectID)
		if err != nil {
			return err
		}
		project = loaded

		requirements, err := s.findRequirements(tx, opComputeEstimate, loaded.ID)
		if err != nil {
			return err
		}
		card, err := s.findActiveRateCard(tx, opComputeEstimate, actor.OrgID)
		if err != nil {
			return err
		}

		computed, err := estimate.Compute(requirements, card.Rates())
		if err != nil {
			return newServiceError(opComputeEstimate, "invalid_requirements", err)
		}

		now := s.now()
		for _, item := range computed.Items {
			itemID, err := s.newID(opComputeEstimate)
			if err != nil {
				return err
			}
			row := EstimateItem{
				ID:        itemID,
				ProjectID: loaded.ID,
				Category:  item.Category,
				Role:      item.Role,
				Days:      item.Days,
				UpdatedAt: now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "project_id"}, {Name: "category"}, {Name: "role"}},
				DoUpdates: clause.AssignmentColumns([]string{"days", "updated_at"}),
			}).Create(&row).Error; err != nil {
				s.logError(opComputeEstimate, "item_upsert_failed", err,
					zap.String("project_id", loaded.ID),
					zap.String("role", string(item.Role)))
				return newServiceError(opComputeEstimate, "item_upsert_failed", err)
			}
		}

		items, err := s.listEstimateItems(tx, opComputeEstimate, loaded.ID)
		if err != nil {
			return err
		}

		result = Estimate{
			ProjectID:   loaded.ID,
			Items:       items,
			TotalDays:   computed.TotalDays,
			TotalAmount: computed.TotalAmount,
			RateCard:    card,
			ComputedAt:  now,
		}
		key = estimateCacheKey(loaded, card)
		return nil
	})
	if txErr != nil {
		return Estimate{}, EstimateCacheKey{}, txErr
	}

	s.publish(EventEstimateComputed, project, actor.UserID, "")
	return result, key, nil
}

// GetEstimate serves the estimate from the cache when the requirements and the
// active rate card are unchanged since it was stored, and computes it otherwise.
func (s *Service) GetEstimate(ctx context.Context, actor users.Actor, projectID string) (Estimate, error) {
	if err := s.requireActor(opGetEstimate, actor); err != nil {
		return Estimate{}, err
	}
	if s.cache == nil {
		return s.ComputeEstimate(ctx, actor, projectID)
	}

	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opGetEstimate, actor, projectID)
	if err != nil {
		return Estimate{}, err
	}
	if project.RequirementsUpdatedAt == nil {
		return Estimate{}, newServiceError(opGetEstimate, "missing_requirements", ErrMissingRequirements)
	}
	card, err := s.findActiveRateCard(db, opGetEstimate, actor.OrgID)
	if err != nil {
		return Estimate{}, err
	}

	cached, ok, err := s.cache.Get(ctx, estimateCacheKey(project, card))
	if err != nil {
		s.logWarn(opGetEstimate, "cache_lookup_failed", err, zap.String("project_id", project.ID))
	}
	if ok {
		s.recorder.RecordEstimate(estimateSourceCache, outcomeOf(nil))
		return cached, nil
	}
	return s.ComputeEstimate(ctx, actor, project.ID)
}

func (s *Service) listEstimateItems(tx *gorm.DB, operation, projectID string) ([]EstimateItem, error) {
	var items []EstimateItem
	if err := tx.Where("project_id = ?", projectID).Find(&items).Error; err != nil {
		s.logError(operation, "items_select_failed", err, zap.String("project_id", projectID))
		return nil, newServiceError(operation, "items_select_failed", err)
	}
	sortEstimateItems(items)
	return items, nil
}

var roleOrder = map[estimate.Role]int{
	estimate.RoleDev:    0,
	estimate.RoleDesign: 1,
	estimate.RolePM:     2,
}

func sortEstimateItems(items []EstimateItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return roleOrder[items[i].Role] < roleOrder[items[j].Role]
	})
}

func estimateCacheKey(project Project, card RateCard) EstimateCacheKey {
	key := EstimateCacheKey{ProjectID: project.ID, RateCardID: card.ID}
	if project.RequirementsUpdatedAt != nil {
		key.RequirementsUpdatedAt = project.RequirementsUpdatedAt.UTC()
	}
	return key
}
