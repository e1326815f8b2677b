package quotes

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opCreateProject = "quotes.create_project"
	opGetProject    = "quotes.get_project"
	opListProjects  = "quotes.list_projects"
)

const maxTitleLength = 320

// CreateProjectInput describes a new quote project.
type CreateProjectInput struct {
	Title               string `json:"title"`
	ClientName          string `json:"clientName"`
	ClientContactName   string `json:"clientContactName"`
	ClientEmail         string `json:"clientEmail"`
	PMApproverUserID    string `json:"pmApproverUserId"`
	SalesApproverUserID string `json:"salesApproverUserId"`
	TemplateScale       string `json:"templateScale"`
}

func (input CreateProjectInput) normalized() (CreateProjectInput, estimate.Scale, error) {
	normalized := CreateProjectInput{
		Title:               strings.TrimSpace(input.Title),
		ClientName:          strings.TrimSpace(input.ClientName),
		ClientContactName:   strings.TrimSpace(input.ClientContactName),
		ClientEmail:         strings.TrimSpace(input.ClientEmail),
		PMApproverUserID:    strings.TrimSpace(input.PMApproverUserID),
		SalesApproverUserID: strings.TrimSpace(input.SalesApproverUserID),
	}
	if normalized.Title == "" || len(normalized.Title) > maxTitleLength {
		return CreateProjectInput{}, "", fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, maxTitleLength)
	}
	if normalized.ClientName == "" || len(normalized.ClientName) > maxTitleLength {
		return CreateProjectInput{}, "", fmt.Errorf("%w: client name must be 1-%d characters", ErrInvalidInput, maxTitleLength)
	}
	if normalized.PMApproverUserID == "" || normalized.SalesApproverUserID == "" {
		return CreateProjectInput{}, "", fmt.Errorf("%w: both approvers are required", ErrInvalidInput)
	}
	scale, err := estimate.ParseScale(input.TemplateScale)
	if err != nil {
		return CreateProjectInput{}, "", err
	}
	normalized.TemplateScale = string(scale)
	return normalized, scale, nil
}

// CreateProject stores a draft project pinned to the active rate card version.
func (s *Service) CreateProject(ctx context.Context, actor users.Actor, input CreateProjectInput) (Project, error) {
	if err := s.requireActor(opCreateProject, actor); err != nil {
		return Project{}, err
	}
	normalized, scale, err := input.normalized()
	if err != nil {
		return Project{}, newServiceError(opCreateProject, "invalid_input", err)
	}

	projectID, err := s.newID(opCreateProject)
	if err != nil {
		return Project{}, err
	}

	var project Project
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var approverCount int64
		approverIDs := []string{normalized.PMApproverUserID, normalized.SalesApproverUserID}
		if err := tx.Model(&users.User{}).
			Where("org_id = ? AND id IN ?", actor.OrgID, approverIDs).
			Count(&approverCount).Error; err != nil {
			s.logError(opCreateProject, "approver_select_failed", err, zap.String("org_id", actor.OrgID))
			return newServiceError(opCreateProject, "approver_select_failed", err)
		}
		expected := int64(2)
		if normalized.PMApproverUserID == normalized.SalesApproverUserID {
			expected = 1
		}
		if approverCount != expected {
			return newServiceError(opCreateProject, "invalid_approver", ErrInvalidApprover)
		}

		card, err := s.findActiveRateCard(tx, opCreateProject, actor.OrgID)
		if err != nil {
			return err
		}

		now := s.now()
		project = Project{
			ID:                  projectID,
			OrgID:               actor.OrgID,
			Title:               normalized.Title,
			ClientName:          normalized.ClientName,
			ClientContactName:   normalized.ClientContactName,
			ClientEmail:         normalized.ClientEmail,
			OwnerUserID:         actor.UserID,
			PMApproverUserID:    normalized.PMApproverUserID,
			SalesApproverUserID: normalized.SalesApproverUserID,
			TemplateScale:       scale,
			RateCardVersion:     card.Version,
			Status:              StatusDraft,
			Version:             1,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.Create(&project).Error; err != nil {
			s.logError(opCreateProject, "insert_failed", err, zap.String("project_id", projectID))
			return newServiceError(opCreateProject, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Project{}, txErr
	}

	s.publish(EventProjectCreated, project, actor.UserID, "")
	return project, nil
}

// GetProject returns a project of the actor's organization.
func (s *Service) GetProject(ctx context.Context, actor users.Actor, projectID string) (Project, error) {
	if err := s.requireActor(opGetProject, actor); err != nil {
		return Project{}, err
	}
	return s.loadProject(s.db.WithContext(ctx), opGetProject, actor, projectID)
}

// ProjectFilter narrows ListProjects. Zero values do not filter.
type ProjectFilter struct {
	Status      Status
	OwnerUserID string
	Search      string
}

// ListProjects returns the organization's projects, most recently updated first.
// Search matches title or client name case-insensitively.
func (s *Service) ListProjects(ctx context.Context, actor users.Actor, filter ProjectFilter) ([]Project, error) {
	if err := s.requireActor(opListProjects, actor); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("org_id = ?", actor.OrgID)
	if filter.Status != "" {
		status, err := ParseStatus(string(filter.Status))
		if err != nil {
			return nil, newServiceError(opListProjects, "invalid_status", err)
		}
		query = query.Where("status = ?", status)
	}
	if owner := strings.TrimSpace(filter.OwnerUserID); owner != "" {
		query = query.Where("owner_user_id = ?", owner)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		query = query.Where("(LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(client_name) LIKE ? ESCAPE '\\')", pattern, pattern)
	}

	var projects []Project
	if err := query.Order("updated_at DESC").Find(&projects).Error; err != nil {
		s.logError(opListProjects, "query_failed", err, zap.String("org_id", actor.OrgID))
		return nil, newServiceError(opListProjects, "query_failed", err)
	}
	return projects, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
