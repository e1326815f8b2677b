package quotes

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/proposal"
)

// Kind classifies service failures for callers that need to tell them apart.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindUnauthorized         Kind = "unauthorized"
	KindPreconditionFailed   Kind = "precondition_failed"
	KindExpired              Kind = "expired"
	KindRevoked              Kind = "revoked"
	KindInvalidCredential    Kind = "invalid_credential"
	KindConfigurationMissing Kind = "configuration_missing"
	KindInvalidInput         Kind = "invalid_input"
	KindConflict             Kind = "conflict"
	KindInternal             Kind = "internal"
)

var (
	ErrProjectNotFound     = errors.New("quotes: project not found")
	ErrMissingRequirements = errors.New("quotes: requirements not found")
	ErrBlockNotFound       = errors.New("quotes: proposal block not found")
	ErrCommentNotFound     = errors.New("quotes: comment not found")
	ErrShareLinkNotFound   = errors.New("quotes: share link not found")
	ErrInvalidToken        = errors.New("quotes: share token not recognised")

	ErrUnauthorized = errors.New("quotes: caller is not permitted to perform this action")

	ErrNotInReviewState        = errors.New("quotes: project is not in review")
	ErrUnresolvedComments      = errors.New("quotes: project has unresolved comments")
	ErrAlreadyApproved         = errors.New("quotes: approval already recorded")
	ErrInvalidTransition       = errors.New("quotes: transition not allowed from current status")
	ErrCommentAlreadyResolved  = errors.New("quotes: comment already resolved")
	ErrShareNotAllowed         = errors.New("quotes: project must be approved before sharing")
	ErrShareLinkAlreadyRevoked = errors.New("quotes: share link already revoked")

	ErrLinkExpired     = errors.New("quotes: share link expired")
	ErrLinkRevoked     = errors.New("quotes: share link revoked")
	ErrInvalidPassword = errors.New("quotes: share link password mismatch")

	ErrNoActiveRateCard = errors.New("quotes: no active rate card")

	ErrInvalidInput    = errors.New("quotes: invalid input")
	ErrInvalidApprover = errors.New("quotes: approver is not a member of the organization")

	ErrConcurrentUpdate = errors.New("quotes: concurrent update")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errVersionConflict   = errors.New("project version changed")
)

var errorKinds = []struct {
	target error
	kind   Kind
}{
	{ErrProjectNotFound, KindNotFound},
	{ErrMissingRequirements, KindNotFound},
	{ErrBlockNotFound, KindNotFound},
	{ErrCommentNotFound, KindNotFound},
	{ErrShareLinkNotFound, KindNotFound},
	{ErrInvalidToken, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrNotInReviewState, KindPreconditionFailed},
	{ErrUnresolvedComments, KindPreconditionFailed},
	{ErrAlreadyApproved, KindPreconditionFailed},
	{ErrInvalidTransition, KindPreconditionFailed},
	{ErrCommentAlreadyResolved, KindPreconditionFailed},
	{ErrShareNotAllowed, KindPreconditionFailed},
	{ErrShareLinkAlreadyRevoked, KindPreconditionFailed},
	{ErrLinkExpired, KindExpired},
	{ErrLinkRevoked, KindRevoked},
	{ErrInvalidPassword, KindInvalidCredential},
	{ErrNoActiveRateCard, KindConfigurationMissing},
	{ErrInvalidInput, KindInvalidInput},
	{ErrInvalidApprover, KindInvalidInput},
	{estimate.ErrInvalidRequirements, KindInvalidInput},
	{estimate.ErrInvalidRates, KindInvalidInput},
	{proposal.ErrInvalidTemplate, KindInternal},
	{ErrConcurrentUpdate, KindConflict},
}

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.target) {
			return entry.kind
		}
	}
	return KindInternal
}

// ServiceError carries a stable operation-scoped code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CodeOf returns the service error code carried by err, if any.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}
