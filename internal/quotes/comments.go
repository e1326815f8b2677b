package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opOpenComment    = "quotes.open_comment"
	opResolveComment = "quotes.resolve_comment"
	opListComments   = "quotes.list_comments"
)

const maxCommentLength = 4000

// OpenComment attaches an open comment to a block of the project. Any member
// of the organization may comment.
func (s *Service) OpenComment(ctx context.Context, actor users.Actor, projectID, blockID, body string) (ReviewComment, error) {
	if err := s.requireActor(opOpenComment, actor); err != nil {
		return ReviewComment{}, err
	}
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || len(trimmed) > maxCommentLength {
		return ReviewComment{}, newServiceError(opOpenComment, "invalid_body",
			fmt.Errorf("%w: comment body must be 1-%d characters", ErrInvalidInput, maxCommentLength))
	}

	commentID, err := s.newID(opOpenComment)
	if err != nil {
		return ReviewComment{}, err
	}

	var (
		comment ReviewComment
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadProject(tx, opOpenComment, actor, projectID)
		if err != nil {
			return err
		}
		project = loaded
		block, err := s.findBlock(tx, opOpenComment, loaded.ID, blockID)
		if err != nil {
			return err
		}

		comment = ReviewComment{
			ID:           commentID,
			ProjectID:    loaded.ID,
			BlockID:      block.ID,
			AuthorUserID: actor.UserID,
			Body:         trimmed,
			Status:       CommentStatusOpen,
			CreatedAt:    s.now(),
		}
		if err := tx.Create(&comment).Error; err != nil {
			s.logError(opOpenComment, "insert_failed", err, zap.String("project_id", loaded.ID))
			return newServiceError(opOpenComment, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return ReviewComment{}, txErr
	}

	s.publish(EventCommentOpened, project, actor.UserID, comment.ID)
	return comment, nil
}

// ResolveComment closes an open comment. Only editors and admins may resolve.
func (s *Service) ResolveComment(ctx context.Context, actor users.Actor, commentID string) (ReviewComment, error) {
	if err := s.requireActor(opResolveComment, actor); err != nil {
		return ReviewComment{}, err
	}
	if !actor.Role.CanResolveComments() {
		return ReviewComment{}, newServiceError(opResolveComment, "forbidden_role", ErrUnauthorized)
	}

	var (
		comment ReviewComment
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", strings.TrimSpace(commentID)).
			Take(&comment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opResolveComment, "comment_not_found", ErrCommentNotFound)
		}
		if err != nil {
			s.logError(opResolveComment, "comment_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opResolveComment, "comment_select_failed", err)
		}

		loaded, err := s.loadProject(tx, opResolveComment, actor, comment.ProjectID)
		if err != nil {
			if errors.Is(err, ErrProjectNotFound) {
				return newServiceError(opResolveComment, "comment_not_found", ErrCommentNotFound)
			}
			return err
		}
		project = loaded

		if comment.Status != CommentStatusOpen {
			return newServiceError(opResolveComment, "already_resolved", ErrCommentAlreadyResolved)
		}

		now := s.now()
		resolver := actor.UserID
		if err := tx.Model(&ReviewComment{}).
			Where("id = ? AND status = ?", comment.ID, CommentStatusOpen).
			Updates(map[string]interface{}{
				"status":              CommentStatusResolved,
				"resolved_by_user_id": resolver,
				"resolved_at":         now,
			}).Error; err != nil {
			s.logError(opResolveComment, "update_failed", err, zap.String("comment_id", comment.ID))
			return newServiceError(opResolveComment, "update_failed", err)
		}
		comment.Status = CommentStatusResolved
		comment.ResolvedByUserID = &resolver
		comment.ResolvedAt = &now
		return nil
	})
	if txErr != nil {
		return ReviewComment{}, txErr
	}

	s.publish(EventCommentResolved, project, actor.UserID, comment.ID)
	return comment, nil
}

// CommentFilter narrows ListComments. Zero values do not filter.
type CommentFilter struct {
	BlockID string
	Status  CommentStatus
}

// ListComments returns the project's comments, oldest first.
func (s *Service) ListComments(ctx context.Context, actor users.Actor, projectID string, filter CommentFilter) ([]ReviewComment, error) {
	if err := s.requireActor(opListComments, actor); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opListComments, actor, projectID)
	if err != nil {
		return nil, err
	}

	query := db.Where("project_id = ?", project.ID)
	if blockID := strings.TrimSpace(filter.BlockID); blockID != "" {
		query = query.Where("block_id = ?", blockID)
	}
	switch filter.Status {
	case "":
	case CommentStatusOpen, CommentStatusResolved:
		query = query.Where("status = ?", filter.Status)
	default:
		return nil, newServiceError(opListComments, "invalid_status",
			fmt.Errorf("%w: unknown comment status %q", ErrInvalidInput, filter.Status))
	}

	var comments []ReviewComment
	if err := query.Order("created_at ASC").Order("id ASC").Find(&comments).Error; err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("project_id", project.ID))
		return nil, newServiceError(opListComments, "query_failed", err)
	}
	return comments, nil
}
