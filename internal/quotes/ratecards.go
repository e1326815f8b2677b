package quotes

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opActiveRateCard  = "quotes.active_rate_card"
	opPublishRateCard = "quotes.publish_rate_card"
	opListRateCards   = "quotes.list_rate_cards"
)

// findActiveRateCard returns the highest active version for the organization.
func (s *Service) findActiveRateCard(tx *gorm.DB, operation, orgID string) (RateCard, error) {
	var card RateCard
	err := tx.Where("org_id = ? AND is_active = ?", orgID, true).
		Order("version DESC").
		Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RateCard{}, newServiceError(operation, "no_active_rate_card", ErrNoActiveRateCard)
	}
	if err != nil {
		s.logError(operation, "rate_card_select_failed", err, zap.String("org_id", orgID))
		return RateCard{}, newServiceError(operation, "rate_card_select_failed", err)
	}
	return card, nil
}

// ActiveRateCard returns the rate card currently used for new projects and estimates.
func (s *Service) ActiveRateCard(ctx context.Context, actor users.Actor) (RateCard, error) {
	if err := s.requireActor(opActiveRateCard, actor); err != nil {
		return RateCard{}, err
	}
	return s.findActiveRateCard(s.db.WithContext(ctx), opActiveRateCard, actor.OrgID)
}

// ListRateCards returns every rate card version of the organization, newest first.
func (s *Service) ListRateCards(ctx context.Context, actor users.Actor) ([]RateCard, error) {
	if err := s.requireActor(opListRateCards, actor); err != nil {
		return nil, err
	}
	var cards []RateCard
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", actor.OrgID).
		Order("version DESC").
		Find(&cards).Error; err != nil {
		s.logError(opListRateCards, "query_failed", err, zap.String("org_id", actor.OrgID))
		return nil, newServiceError(opListRateCards, "query_failed", err)
	}
	return cards, nil
}

// PublishRateCard stores version max+1 as active and deactivates the older ones.
// Concurrent publishers collide on (org_id, version) and surface ErrConcurrentUpdate.
func (s *Service) PublishRateCard(ctx context.Context, actor users.Actor, rates estimate.Rates) (RateCard, error) {
	if err := s.requireActor(opPublishRateCard, actor); err != nil {
		return RateCard{}, err
	}
	if !actor.Role.CanPublishRateCards() {
		return RateCard{}, newServiceError(opPublishRateCard, "forbidden_role", ErrUnauthorized)
	}
	if err := rates.Validate(); err != nil {
		return RateCard{}, newServiceError(opPublishRateCard, "invalid_rates", err)
	}

	cardID, err := s.newID(opPublishRateCard)
	if err != nil {
		return RateCard{}, err
	}

	var published RateCard
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest struct{ Version int }
		if err := tx.Model(&RateCard{}).
			Select("COALESCE(MAX(version), 0) AS version").
			Where("org_id = ?", actor.OrgID).
			Scan(&latest).Error; err != nil {
			s.logError(opPublishRateCard, "version_select_failed", err, zap.String("org_id", actor.OrgID))
			return newServiceError(opPublishRateCard, "version_select_failed", err)
		}

		if err := tx.Model(&RateCard{}).
			Where("org_id = ? AND is_active = ?", actor.OrgID, true).
			Update("is_active", false).Error; err != nil {
			s.logError(opPublishRateCard, "deactivate_failed", err, zap.String("org_id", actor.OrgID))
			return newServiceError(opPublishRateCard, "deactivate_failed", err)
		}

		published = RateCard{
			ID:            cardID,
			OrgID:         actor.OrgID,
			Version:       latest.Version + 1,
			IsActive:      true,
			PMDayRate:     rates.PMDayRate,
			DevDayRate:    rates.DevDayRate,
			DesignDayRate: rates.DesignDayRate,
			CreatedAt:     s.now(),
		}
		if err := tx.Create(&published).Error; err != nil {
			if isUniqueViolation(err) {
				return newServiceError(opPublishRateCard, "version_conflict", ErrConcurrentUpdate)
			}
			s.logError(opPublishRateCard, "insert_failed", err, zap.String("org_id", actor.OrgID))
			return newServiceError(opPublishRateCard, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return RateCard{}, txErr
	}
	return published, nil
}
