package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	migrationDeactivateSupersededRateCards = "2026-10-01_deactivate_superseded_rate_cards"
	migrationLowercaseUserEmails           = "2026-10-02_lowercase_user_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDeactivateSupersededRateCards, apply: deactivateSupersededRateCards},
		{name: migrationLowercaseUserEmails, apply: lowercaseUserEmails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		applyErr := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if applyErr != nil {
			return applyErr
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// deactivateSupersededRateCards leaves at most one active card per organization.
func deactivateSupersededRateCards(db *gorm.DB) error {
	return db.Model(&quotes.RateCard{}).
		Where("is_active = ? AND version < (SELECT MAX(newer.version) FROM rate_cards newer WHERE newer.org_id = rate_cards.org_id AND newer.is_active = ?)", true, true).
		Update("is_active", false).Error
}

func lowercaseUserEmails(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("email <> LOWER(email)").
		Update("email", gorm.Expr("LOWER(email)")).Error
}
