package quotes

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/proposal"
)

// Status enumerates the lifecycle states of a quote project.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReview   Status = "review"
	StatusApproved Status = "approved"
	StatusShared   Status = "shared"
	StatusArchived Status = "archived"
)

// ParseStatus validates raw input and returns a Status.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(raw); status {
	case StatusDraft, StatusReview, StatusApproved, StatusShared, StatusArchived:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
}

// CommentStatus enumerates review comment states.
type CommentStatus string

const (
	CommentStatusOpen     CommentStatus = "open"
	CommentStatusResolved CommentStatus = "resolved"
)

// ExportStatus enumerates PDF export states. Only queued is produced here.
type ExportStatus string

const (
	ExportStatusQueued ExportStatus = "queued"
)

// Project is the quote aggregate root.
type Project struct {
	ID                    string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	OrgID                 string         `gorm:"column:org_id;size:64;not null;index:idx_projects_org_updated,priority:1" json:"orgId"`
	Title                 string         `gorm:"column:title;size:320;not null" json:"title"`
	ClientName            string         `gorm:"column:client_name;size:320;not null" json:"clientName"`
	ClientContactName     string         `gorm:"column:client_contact_name;size:320" json:"clientContactName,omitempty"`
	ClientEmail           string         `gorm:"column:client_email;size:320" json:"clientEmail,omitempty"`
	OwnerUserID           string         `gorm:"column:owner_user_id;size:64;not null;index" json:"ownerUserId"`
	PMApproverUserID      string         `gorm:"column:pm_approver_user_id;size:64;not null" json:"pmApproverUserId"`
	SalesApproverUserID   string         `gorm:"column:sales_approver_user_id;size:64;not null" json:"salesApproverUserId"`
	TemplateScale         estimate.Scale `gorm:"column:template_scale;size:16;not null" json:"templateScale"`
	RateCardVersion       int            `gorm:"column:rate_card_version;not null" json:"rateCardVersion"`
	Status                Status         `gorm:"column:status;size:16;not null;index" json:"status"`
	PMApprovedAt          *time.Time     `gorm:"column:pm_approved_at" json:"pmApprovedAt,omitempty"`
	SalesApprovedAt       *time.Time     `gorm:"column:sales_approved_at" json:"salesApprovedAt,omitempty"`
	RequirementsUpdatedAt *time.Time     `gorm:"column:requirements_updated_at" json:"requirementsUpdatedAt,omitempty"`
	ContentUpdatedAt      *time.Time     `gorm:"column:content_updated_at" json:"contentUpdatedAt,omitempty"`
	Version               int64          `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt             time.Time      `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;not null;index:idx_projects_org_updated,priority:2" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "quote_projects"
}

// Requirement stores the structured requirements payload of a project.
type Requirement struct {
	ProjectID string         `gorm:"column:project_id;primaryKey;size:64" json:"projectId"`
	Payload   datatypes.JSON `gorm:"column:payload;not null" json:"payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Requirement) TableName() string {
	return "quote_requirements"
}

// Decode unmarshals the stored payload.
func (r Requirement) Decode() (estimate.Requirements, error) {
	var requirements estimate.Requirements
	if err := json.Unmarshal(r.Payload, &requirements); err != nil {
		return estimate.Requirements{}, fmt.Errorf("decode requirements payload: %w", err)
	}
	return requirements, nil
}

// EstimateItem is a persisted estimate line; at most one per (project, category, role).
type EstimateItem struct {
	ID        string            `gorm:"column:id;primaryKey;size:64" json:"id"`
	ProjectID string            `gorm:"column:project_id;size:64;not null;uniqueIndex:idx_estimate_items_project_role,priority:1" json:"projectId"`
	Category  estimate.Category `gorm:"column:category;size:32;not null;uniqueIndex:idx_estimate_items_project_role,priority:2" json:"category"`
	Role      estimate.Role     `gorm:"column:role;size:32;not null;uniqueIndex:idx_estimate_items_project_role,priority:3" json:"role"`
	Days      float64           `gorm:"column:days;not null" json:"days"`
	UpdatedAt time.Time         `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (EstimateItem) TableName() string {
	return "estimate_items"
}

// RateCard is a versioned per-role day rate table.
type RateCard struct {
	ID            string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	OrgID         string    `gorm:"column:org_id;size:64;not null;uniqueIndex:idx_rate_cards_org_version,priority:1" json:"orgId"`
	Version       int       `gorm:"column:version;not null;uniqueIndex:idx_rate_cards_org_version,priority:2" json:"version"`
	IsActive      bool      `gorm:"column:is_active;not null;default:false;index" json:"isActive"`
	PMDayRate     int64     `gorm:"column:pm_day_rate;not null" json:"pmDayRate"`
	DevDayRate    int64     `gorm:"column:dev_day_rate;not null" json:"devDayRate"`
	DesignDayRate int64     `gorm:"column:design_day_rate;not null" json:"designDayRate"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (RateCard) TableName() string {
	return "rate_cards"
}

// Rates exposes the card as engine input.
func (r RateCard) Rates() estimate.Rates {
	return estimate.Rates{
		PMDayRate:     r.PMDayRate,
		DevDayRate:    r.DevDayRate,
		DesignDayRate: r.DesignDayRate,
	}
}

// ProposalSection groups ordered proposal blocks.
type ProposalSection struct {
	ID         string `gorm:"column:id;primaryKey;size:64" json:"id"`
	ProjectID  string `gorm:"column:project_id;size:64;not null;uniqueIndex:idx_sections_project_key,priority:1" json:"projectId"`
	SectionKey string `gorm:"column:section_key;size:190;not null;uniqueIndex:idx_sections_project_key,priority:2" json:"sectionKey"`
	Title      string `gorm:"column:title;size:320;not null" json:"title"`
	OrderIndex int    `gorm:"column:order_index;not null" json:"orderIndex"`
}

// TableName provides the explicit table binding for GORM.
func (ProposalSection) TableName() string {
	return "proposal_sections"
}

// ProposalBlock is an editable unit of proposal content.
type ProposalBlock struct {
	ID           string             `gorm:"column:id;primaryKey;size:64" json:"id"`
	ProjectID    string             `gorm:"column:project_id;size:64;not null;uniqueIndex:idx_blocks_project_key,priority:1" json:"projectId"`
	SectionID    string             `gorm:"column:section_id;size:64;not null;index" json:"sectionId"`
	BlockKey     string             `gorm:"column:block_key;size:190;not null;uniqueIndex:idx_blocks_project_key,priority:2" json:"blockKey"`
	BlockType    proposal.BlockType `gorm:"column:block_type;size:16;not null" json:"blockType"`
	Content      string             `gorm:"column:content;type:text;not null" json:"content"`
	OrderIndex   int                `gorm:"column:order_index;not null" json:"orderIndex"`
	IsOverridden bool               `gorm:"column:is_overridden;not null;default:false" json:"isOverridden"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (ProposalBlock) TableName() string {
	return "proposal_blocks"
}

// ReviewComment is a discussion entry attached to a proposal block.
type ReviewComment struct {
	ID               string        `gorm:"column:id;primaryKey;size:64" json:"id"`
	ProjectID        string        `gorm:"column:project_id;size:64;not null;index:idx_comments_project_status,priority:1" json:"projectId"`
	BlockID          string        `gorm:"column:block_id;size:64;not null;index" json:"blockId"`
	AuthorUserID     string        `gorm:"column:author_user_id;size:64;not null" json:"authorUserId"`
	Body             string        `gorm:"column:body;type:text;not null" json:"body"`
	Status           CommentStatus `gorm:"column:status;size:16;not null;index:idx_comments_project_status,priority:2" json:"status"`
	ResolvedByUserID *string       `gorm:"column:resolved_by_user_id;size:64" json:"resolvedByUserId,omitempty"`
	ResolvedAt       *time.Time    `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt        time.Time     `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (ReviewComment) TableName() string {
	return "review_comments"
}

// ShareLink grants password-protected read access to a project snapshot.
type ShareLink struct {
	ID              string     `gorm:"column:id;primaryKey;size:64" json:"id"`
	ProjectID       string     `gorm:"column:project_id;size:64;not null;index" json:"projectId"`
	Token           string     `gorm:"column:token;size:128;not null;uniqueIndex" json:"token"`
	PasswordHash    string     `gorm:"column:password_hash;size:128;not null" json:"-"`
	ExpiresAt       time.Time  `gorm:"column:expires_at;not null" json:"expiresAt"`
	RevokedAt       *time.Time `gorm:"column:revoked_at" json:"revokedAt,omitempty"`
	CreatedByUserID string     `gorm:"column:created_by_user_id;size:64;not null" json:"createdByUserId"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (ShareLink) TableName() string {
	return "share_links"
}

// PdfExport records a requested PDF rendering together with the snapshot it renders.
type PdfExport struct {
	ID                string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	ProjectID         string         `gorm:"column:project_id;size:64;not null;index" json:"projectId"`
	FileKey           string         `gorm:"column:file_key;size:512;not null" json:"fileKey"`
	Status            ExportStatus   `gorm:"column:status;size:16;not null" json:"status"`
	SourceSnapshot    datatypes.JSON `gorm:"column:source_snapshot;not null" json:"sourceSnapshot"`
	GeneratedByUserID string         `gorm:"column:generated_by_user_id;size:64;not null" json:"generatedByUserId"`
	GeneratedAt       time.Time      `gorm:"column:generated_at;not null;index" json:"generatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (PdfExport) TableName() string {
	return "pdf_exports"
}

// Models lists every persisted type owned by this package in migration order.
func Models() []interface{} {
	return []interface{}{
		&RateCard{},
		&Project{},
		&Requirement{},
		&EstimateItem{},
		&ProposalSection{},
		&ProposalBlock{},
		&ReviewComment{},
		&ShareLink{},
		&PdfExport{},
	}
}
