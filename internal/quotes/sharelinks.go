package quotes

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opCreateShareLink = "quotes.create_share_link"
	opVerifyShareLink = "quotes.verify_share_link"
	opRevokeShareLink = "quotes.revoke_share_link"
	opListShareLinks  = "quotes.list_share_links"
)

const shareTokenBytes = 32

// maxSharePasswordBytes is the bcrypt input limit.
const maxSharePasswordBytes = 72

// CreateShareLink issues a password-protected link to an approved or shared
// project. Issuing a link does not change the project status.
func (s *Service) CreateShareLink(ctx context.Context, actor users.Actor, projectID, password string, expiresInDays int) (ShareLink, error) {
	if err := s.requireActor(opCreateShareLink, actor); err != nil {
		return ShareLink{}, err
	}
	if password == "" || len(password) > maxSharePasswordBytes {
		return ShareLink{}, newServiceError(opCreateShareLink, "invalid_password",
			fmt.Errorf("%w: password must be 1-%d bytes", ErrInvalidInput, maxSharePasswordBytes))
	}
	if expiresInDays < 1 || expiresInDays > s.shareLinkMaxDays {
		return ShareLink{}, newServiceError(opCreateShareLink, "invalid_expiry",
			fmt.Errorf("%w: expiry must be 1-%d days", ErrInvalidInput, s.shareLinkMaxDays))
	}

	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opCreateShareLink, actor, projectID)
	if err != nil {
		return ShareLink{}, err
	}
	if project.Status != StatusApproved && project.Status != StatusShared {
		return ShareLink{}, newServiceError(opCreateShareLink, "not_approved", ErrShareNotAllowed)
	}

	token, err := newShareToken()
	if err != nil {
		s.logError(opCreateShareLink, "token_generation_failed", err)
		return ShareLink{}, newServiceError(opCreateShareLink, "token_generation_failed", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.shareLinkHashCost)
	if err != nil {
		s.logError(opCreateShareLink, "hash_failed", err)
		return ShareLink{}, newServiceError(opCreateShareLink, "hash_failed", err)
	}
	linkID, err := s.newID(opCreateShareLink)
	if err != nil {
		return ShareLink{}, err
	}

	now := s.now()
	link := ShareLink{
		ID:              linkID,
		ProjectID:       project.ID,
		Token:           token,
		PasswordHash:    string(hash),
		ExpiresAt:       now.Add(time.Duration(expiresInDays) * 24 * time.Hour),
		CreatedByUserID: actor.UserID,
		CreatedAt:       now,
	}
	if err := db.Create(&link).Error; err != nil {
		s.logError(opCreateShareLink, "insert_failed", err, zap.String("project_id", project.ID))
		return ShareLink{}, newServiceError(opCreateShareLink, "insert_failed", err)
	}

	s.publish(EventShareLinkCreated, project, actor.UserID, link.ID)
	return link, nil
}

// VerifyShareLink authorizes anonymous access and returns the project snapshot.
// Checks run in order: unknown token, revoked, expired, password. Expiry is
// decided before any hashing work.
func (s *Service) VerifyShareLink(ctx context.Context, token, password string) (Snapshot, error) {
	snapshot, err := s.verifyShareLink(ctx, token, password)
	s.recorder.RecordShareVerification(outcomeOf(err))
	return snapshot, err
}

func (s *Service) verifyShareLink(ctx context.Context, token, password string) (Snapshot, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Snapshot{}, newServiceError(opVerifyShareLink, "invalid_token", ErrInvalidToken)
	}

	db := s.db.WithContext(ctx)
	var link ShareLink
	err := db.Where("token = ?", trimmed).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, newServiceError(opVerifyShareLink, "invalid_token", ErrInvalidToken)
	}
	if err != nil {
		s.logError(opVerifyShareLink, "link_select_failed", err)
		return Snapshot{}, newServiceError(opVerifyShareLink, "link_select_failed", err)
	}

	if link.RevokedAt != nil {
		return Snapshot{}, newServiceError(opVerifyShareLink, "revoked", ErrLinkRevoked)
	}
	if s.now().After(link.ExpiresAt) {
		return Snapshot{}, newServiceError(opVerifyShareLink, "expired", ErrLinkExpired)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
		return Snapshot{}, newServiceError(opVerifyShareLink, "invalid_password", ErrInvalidPassword)
	}

	var project Project
	if err := db.Where("id = ?", link.ProjectID).Take(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, newServiceError(opVerifyShareLink, "project_not_found", ErrProjectNotFound)
		}
		s.logError(opVerifyShareLink, "project_select_failed", err, zap.String("project_id", link.ProjectID))
		return Snapshot{}, newServiceError(opVerifyShareLink, "project_select_failed", err)
	}
	return s.buildSnapshot(db, opVerifyShareLink, project)
}

// RevokeShareLink stamps revokedAt on a link of the project. A link is revoked at most once.
func (s *Service) RevokeShareLink(ctx context.Context, actor users.Actor, projectID, linkID string) (ShareLink, error) {
	if err := s.requireActor(opRevokeShareLink, actor); err != nil {
		return ShareLink{}, err
	}

	var (
		link    ShareLink
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadProject(tx, opRevokeShareLink, actor, projectID)
		if err != nil {
			return err
		}
		project = loaded

		err = tx.Where("id = ? AND project_id = ?", strings.TrimSpace(linkID), loaded.ID).Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRevokeShareLink, "link_not_found", ErrShareLinkNotFound)
		}
		if err != nil {
			s.logError(opRevokeShareLink, "link_select_failed", err, zap.String("link_id", linkID))
			return newServiceError(opRevokeShareLink, "link_select_failed", err)
		}

		now := s.now()
		result := tx.Model(&ShareLink{}).
			Where("id = ? AND revoked_at IS NULL", link.ID).
			Update("revoked_at", now)
		if result.Error != nil {
			s.logError(opRevokeShareLink, "update_failed", result.Error, zap.String("link_id", link.ID))
			return newServiceError(opRevokeShareLink, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opRevokeShareLink, "already_revoked", ErrShareLinkAlreadyRevoked)
		}
		link.RevokedAt = &now
		return nil
	})
	if txErr != nil {
		return ShareLink{}, txErr
	}

	s.publish(EventShareLinkRevoked, project, actor.UserID, link.ID)
	return link, nil
}

// ListShareLinks returns the project's links, newest first. Password hashes never leave the service.
func (s *Service) ListShareLinks(ctx context.Context, actor users.Actor, projectID string) ([]ShareLink, error) {
	if err := s.requireActor(opListShareLinks, actor); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opListShareLinks, actor, projectID)
	if err != nil {
		return nil, err
	}
	var links []ShareLink
	if err := db.Where("project_id = ?", project.ID).Order("created_at DESC").Find(&links).Error; err != nil {
		s.logError(opListShareLinks, "query_failed", err, zap.String("project_id", project.ID))
		return nil, newServiceError(opListShareLinks, "query_failed", err)
	}
	for index := range links {
		links[index].PasswordHash = ""
	}
	return links, nil
}

func newShareToken() (string, error) {
	buffer := make([]byte, shareTokenBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}
