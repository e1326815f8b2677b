package quotes

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opSubmitForReview = "quotes.submit_for_review"
	opApprovePM       = "quotes.approve_pm"
	opApproveSales    = "quotes.approve_sales"
	opMarkShared      = "quotes.mark_shared"
	opArchive         = "quotes.archive"
)

const maxTransitionAttempts = 3

// transitionMutator decides a transition from the locked project row and the
// number of open comments. It must not touch the store.
type transitionMutator func(project *Project, openComments int64, now time.Time) error

var transitionReasons = []struct {
	target error
	reason string
}{
	{ErrNotInReviewState, "not_in_review"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUnresolvedComments, "unresolved_comments"},
	{ErrAlreadyApproved, "already_approved"},
	{ErrInvalidTransition, "invalid_transition"},
}

func transitionReason(err error) string {
	for _, entry := range transitionReasons {
		if errors.Is(err, entry.target) {
			return entry.reason
		}
	}
	return "rejected"
}

func submitForReview(project *Project, _ int64, _ time.Time) error {
	if project.Status == StatusArchived {
		return ErrInvalidTransition
	}
	project.Status = StatusReview
	project.PMApprovedAt = nil
	project.SalesApprovedAt = nil
	return nil
}

type approverSlot int

const (
	approverPM approverSlot = iota
	approverSales
)

// approve checks status, then identity, then open comments, then a prior approval.
// The status check comes first so approving outside review is always a precondition failure.
func approve(slot approverSlot, actor users.Actor) transitionMutator {
	return func(project *Project, openComments int64, now time.Time) error {
		if project.Status != StatusReview {
			return ErrNotInReviewState
		}
		approverID, stamp, other := project.PMApproverUserID, &project.PMApprovedAt, project.SalesApprovedAt
		if slot == approverSales {
			approverID, stamp, other = project.SalesApproverUserID, &project.SalesApprovedAt, project.PMApprovedAt
		}
		if actor.UserID != approverID {
			return ErrUnauthorized
		}
		if openComments > 0 {
			return ErrUnresolvedComments
		}
		if *stamp != nil {
			return ErrAlreadyApproved
		}
		approvedAt := now
		*stamp = &approvedAt
		if other != nil {
			project.Status = StatusApproved
		}
		return nil
	}
}

func markShared(project *Project, _ int64, _ time.Time) error {
	if project.Status != StatusApproved {
		return ErrInvalidTransition
	}
	project.Status = StatusShared
	return nil
}

func archive(project *Project, _ int64, _ time.Time) error {
	if project.Status == StatusArchived {
		return ErrInvalidTransition
	}
	project.Status = StatusArchived
	return nil
}

// SubmitForReview moves the project into review and clears both approvals.
func (s *Service) SubmitForReview(ctx context.Context, actor users.Actor, projectID string) (Project, error) {
	return s.runTransition(ctx, opSubmitForReview, actor, projectID, submitForReview)
}

// ApproveByPM records the PM approval and advances to approved once both approvals exist.
func (s *Service) ApproveByPM(ctx context.Context, actor users.Actor, projectID string) (Project, error) {
	return s.runTransition(ctx, opApprovePM, actor, projectID, approve(approverPM, actor))
}

// ApproveBySales records the sales approval and advances to approved once both approvals exist.
func (s *Service) ApproveBySales(ctx context.Context, actor users.Actor, projectID string) (Project, error) {
	return s.runTransition(ctx, opApproveSales, actor, projectID, approve(approverSales, actor))
}

// MarkShared records that an approved project has been shared with the client.
func (s *Service) MarkShared(ctx context.Context, actor users.Actor, projectID string) (Project, error) {
	return s.runTransition(ctx, opMarkShared, actor, projectID, markShared)
}

// Archive moves the project to the terminal archived state.
func (s *Service) Archive(ctx context.Context, actor users.Actor, projectID string) (Project, error) {
	return s.runTransition(ctx, opArchive, actor, projectID, archive)
}

func (s *Service) runTransition(ctx context.Context, operation string, actor users.Actor, projectID string, mutate transitionMutator) (Project, error) {
	if err := s.requireActor(operation, actor); err != nil {
		s.recorder.RecordTransition(operation, outcomeOf(err))
		return Project{}, err
	}
	project, err := s.transitionProject(ctx, operation, actor, projectID, mutate)
	s.recorder.RecordTransition(operation, outcomeOf(err))
	if err != nil {
		return Project{}, err
	}
	s.publish(EventStatusChanged, project, actor.UserID, "")
	return project, nil
}

// transitionProject is the single read-modify-write path for status and
// approval fields. The row is locked where the dialect supports it and the
// write is additionally guarded by the version column; a lost race is retried.
func (s *Service) transitionProject(ctx context.Context, operation string, actor users.Actor, projectID string, mutate transitionMutator) (Project, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		var updated Project
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.loadProject(tx.Clauses(clause.Locking{Strength: "UPDATE"}), operation, actor, projectID)
			if err != nil {
				return err
			}

			var openComments int64
			if err := tx.Model(&ReviewComment{}).
				Where("project_id = ? AND status = ?", current.ID, CommentStatusOpen).
				Count(&openComments).Error; err != nil {
				s.logError(operation, "open_comments_count_failed", err, zap.String("project_id", current.ID))
				return newServiceError(operation, "open_comments_count_failed", err)
			}

			now := s.now()
			next := current
			if err := mutate(&next, openComments, now); err != nil {
				return newServiceError(operation, transitionReason(err), err)
			}
			next.Version = current.Version + 1
			next.UpdatedAt = now

			result := tx.Model(&Project{}).
				Where("id = ? AND version = ?", current.ID, current.Version).
				Updates(map[string]interface{}{
					"status":            next.Status,
					"pm_approved_at":    next.PMApprovedAt,
					"sales_approved_at": next.SalesApprovedAt,
					"version":           next.Version,
					"updated_at":        now,
				})
			if result.Error != nil {
				s.logError(operation, "project_update_failed", result.Error, zap.String("project_id", current.ID))
				return newServiceError(operation, "project_update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return errVersionConflict
			}
			updated = next
			return nil
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return Project{}, err
		}
		return updated, nil
	}
	s.logError(operation, "concurrent_update", ErrConcurrentUpdate, zap.String("project_id", projectID))
	return Project{}, newServiceError(operation, "concurrent_update", ErrConcurrentUpdate)
}
