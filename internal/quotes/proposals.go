package quotes

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/proposal"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opGenerateProposal   = "quotes.generate_proposal"
	opRegenerateProposal = "quotes.regenerate_proposal"
	opUpdateBlock        = "quotes.update_block"
	opListProposal       = "quotes.list_proposal"
)

// SectionWithBlocks is a proposal section with its ordered blocks.
type SectionWithBlocks struct {
	ProposalSection
	Blocks []ProposalBlock `json:"blocks"`
}

// Proposal is the ordered proposal document of a project.
type Proposal struct {
	ProjectID string              `json:"projectId"`
	Sections  []SectionWithBlocks `json:"sections"`
}

// GenerateProposal replaces the whole proposal with a fresh rendering of the
// template. Overrides are reset and comments on the removed blocks are dropped.
func (s *Service) GenerateProposal(ctx context.Context, actor users.Actor, projectID string) (Proposal, error) {
	if err := s.requireActor(opGenerateProposal, actor); err != nil {
		return Proposal{}, err
	}

	var (
		result  Proposal
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, sections, err := s.loadTemplate(tx, opGenerateProposal, actor, projectID)
		if err != nil {
			return err
		}
		project = loaded

		for _, model := range []interface{}{&ReviewComment{}, &ProposalBlock{}, &ProposalSection{}} {
			if err := tx.Where("project_id = ?", loaded.ID).Delete(model).Error; err != nil {
				s.logError(opGenerateProposal, "delete_failed", err, zap.String("project_id", loaded.ID))
				return newServiceError(opGenerateProposal, "delete_failed", err)
			}
		}

		now := s.now()
		for sectionIndex, templateSection := range sections {
			section, err := s.insertSection(tx, opGenerateProposal, loaded.ID, templateSection, sectionIndex)
			if err != nil {
				return err
			}
			for blockIndex, templateBlock := range templateSection.Blocks {
				if _, err := s.insertBlock(tx, opGenerateProposal, section, templateBlock, blockIndex, now); err != nil {
					return err
				}
			}
		}

		if err := s.stampContentUpdated(tx, opGenerateProposal, &project, now); err != nil {
			return err
		}
		result, err = s.readProposal(tx, opGenerateProposal, loaded.ID)
		return err
	})
	if txErr != nil {
		return Proposal{}, txErr
	}

	s.publish(EventProposalGenerated, project, actor.UserID, "")
	return result, nil
}

// RegenerateProposal refreshes template content block by block. Overridden
// blocks are left untouched, missing blocks are created and blocks whose
// section does not exist are skipped.
func (s *Service) RegenerateProposal(ctx context.Context, actor users.Actor, projectID string) (Proposal, error) {
	if err := s.requireActor(opRegenerateProposal, actor); err != nil {
		return Proposal{}, err
	}

	var (
		result  Proposal
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, sections, err := s.loadTemplate(tx, opRegenerateProposal, actor, projectID)
		if err != nil {
			return err
		}
		project = loaded

		var existingSections []ProposalSection
		if err := tx.Where("project_id = ?", loaded.ID).Find(&existingSections).Error; err != nil {
			s.logError(opRegenerateProposal, "sections_select_failed", err, zap.String("project_id", loaded.ID))
			return newServiceError(opRegenerateProposal, "sections_select_failed", err)
		}
		sectionsByKey := make(map[string]ProposalSection, len(existingSections))
		for _, section := range existingSections {
			sectionsByKey[section.SectionKey] = section
		}

		now := s.now()
		for _, templateSection := range sections {
			section, ok := sectionsByKey[templateSection.Key]
			if !ok {
				s.logWarn(opRegenerateProposal, "unknown_section", nil,
					zap.String("project_id", loaded.ID),
					zap.String("section_key", templateSection.Key))
				continue
			}
			for blockIndex, templateBlock := range templateSection.Blocks {
				if err := s.refreshBlock(tx, section, templateBlock, blockIndex, now); err != nil {
					return err
				}
			}
		}

		if err := s.stampContentUpdated(tx, opRegenerateProposal, &project, now); err != nil {
			return err
		}
		result, err = s.readProposal(tx, opRegenerateProposal, loaded.ID)
		return err
	})
	if txErr != nil {
		return Proposal{}, txErr
	}

	s.publish(EventProposalGenerated, project, actor.UserID, "")
	return result, nil
}

func (s *Service) refreshBlock(tx *gorm.DB, section ProposalSection, templateBlock proposal.Block, orderIndex int, now time.Time) error {
	var existing ProposalBlock
	err := tx.Where("project_id = ? AND block_key = ?", section.ProjectID, templateBlock.Key).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_, insertErr := s.insertBlock(tx, opRegenerateProposal, section, templateBlock, orderIndex, now)
		return insertErr
	}
	if err != nil {
		s.logError(opRegenerateProposal, "block_select_failed", err,
			zap.String("project_id", section.ProjectID),
			zap.String("block_key", templateBlock.Key))
		return newServiceError(opRegenerateProposal, "block_select_failed", err)
	}
	if existing.IsOverridden {
		return nil
	}
	if err := tx.Model(&ProposalBlock{}).
		Where("id = ? AND is_overridden = ?", existing.ID, false).
		Updates(map[string]interface{}{
			"content":    templateBlock.Content,
			"updated_at": now,
		}).Error; err != nil {
		s.logError(opRegenerateProposal, "block_update_failed", err,
			zap.String("project_id", section.ProjectID),
			zap.String("block_id", existing.ID))
		return newServiceError(opRegenerateProposal, "block_update_failed", err)
	}
	return nil
}

// UpdateBlock stores user-edited content and marks the block as overridden.
func (s *Service) UpdateBlock(ctx context.Context, actor users.Actor, projectID, blockID, content string) (ProposalBlock, error) {
	if err := s.requireActor(opUpdateBlock, actor); err != nil {
		return ProposalBlock{}, err
	}

	var (
		block   ProposalBlock
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadProject(tx, opUpdateBlock, actor, projectID)
		if err != nil {
			return err
		}
		project = loaded

		block, err = s.findBlock(tx, opUpdateBlock, loaded.ID, blockID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.Model(&ProposalBlock{}).
			Where("id = ?", block.ID).
			Updates(map[string]interface{}{
				"content":       content,
				"is_overridden": true,
				"updated_at":    now,
			}).Error; err != nil {
			s.logError(opUpdateBlock, "block_update_failed", err, zap.String("block_id", block.ID))
			return newServiceError(opUpdateBlock, "block_update_failed", err)
		}
		block.Content = content
		block.IsOverridden = true
		block.UpdatedAt = now
		return s.stampContentUpdated(tx, opUpdateBlock, &project, now)
	})
	if txErr != nil {
		return ProposalBlock{}, txErr
	}

	s.publish(EventBlockUpdated, project, actor.UserID, block.ID)
	return block, nil
}

// ListProposal returns the project's sections and blocks in display order.
func (s *Service) ListProposal(ctx context.Context, actor users.Actor, projectID string) (Proposal, error) {
	if err := s.requireActor(opListProposal, actor); err != nil {
		return Proposal{}, err
	}
	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opListProposal, actor, projectID)
	if err != nil {
		return Proposal{}, err
	}
	return s.readProposal(db, opListProposal, project.ID)
}

func (s *Service) loadTemplate(tx *gorm.DB, operation string, actor users.Actor, projectID string) (Project, []proposal.Section, error) {
	project, err := s.loadProject(tx, operation, actor, projectID)
	if err != nil {
		return Project{}, nil, err
	}
	requirements, err := s.findRequirements(tx, operation, project.ID)
	if err != nil {
		return Project{}, nil, err
	}
	sections, err := s.renderTemplate(operation, requirements)
	if err != nil {
		return Project{}, nil, err
	}
	return project, sections, nil
}

func (s *Service) renderTemplate(operation string, requirements estimate.Requirements) ([]proposal.Section, error) {
	sections, err := s.templates.Sections(requirements)
	if err == nil {
		err = proposal.ValidateSections(sections)
	}
	if err != nil {
		s.logError(operation, "template_render_failed", err)
		return nil, newServiceError(operation, "template_render_failed", err)
	}
	return sections, nil
}

func (s *Service) insertSection(tx *gorm.DB, operation, projectID string, templateSection proposal.Section, orderIndex int) (ProposalSection, error) {
	sectionID, err := s.newID(operation)
	if err != nil {
		return ProposalSection{}, err
	}
	section := ProposalSection{
		ID:         sectionID,
		ProjectID:  projectID,
		SectionKey: templateSection.Key,
		Title:      templateSection.Title,
		OrderIndex: orderIndex,
	}
	if err := tx.Create(&section).Error; err != nil {
		s.logError(operation, "section_insert_failed", err,
			zap.String("project_id", projectID),
			zap.String("section_key", templateSection.Key))
		return ProposalSection{}, newServiceError(operation, "section_insert_failed", err)
	}
	return section, nil
}

func (s *Service) insertBlock(tx *gorm.DB, operation string, section ProposalSection, templateBlock proposal.Block, orderIndex int, now time.Time) (ProposalBlock, error) {
	blockID, err := s.newID(operation)
	if err != nil {
		return ProposalBlock{}, err
	}
	block := ProposalBlock{
		ID:         blockID,
		ProjectID:  section.ProjectID,
		SectionID:  section.ID,
		BlockKey:   templateBlock.Key,
		BlockType:  templateBlock.Type,
		Content:    templateBlock.Content,
		OrderIndex: orderIndex,
		UpdatedAt:  now,
	}
	if err := tx.Create(&block).Error; err != nil {
		s.logError(operation, "block_insert_failed", err,
			zap.String("project_id", section.ProjectID),
			zap.String("block_key", templateBlock.Key))
		return ProposalBlock{}, newServiceError(operation, "block_insert_failed", err)
	}
	return block, nil
}

func (s *Service) findBlock(tx *gorm.DB, operation, projectID, blockID string) (ProposalBlock, error) {
	var block ProposalBlock
	err := tx.Where("id = ? AND project_id = ?", blockID, projectID).Take(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProposalBlock{}, newServiceError(operation, "block_not_found", ErrBlockNotFound)
	}
	if err != nil {
		s.logError(operation, "block_select_failed", err, zap.String("block_id", blockID))
		return ProposalBlock{}, newServiceError(operation, "block_select_failed", err)
	}
	return block, nil
}

func (s *Service) stampContentUpdated(tx *gorm.DB, operation string, project *Project, now time.Time) error {
	if err := tx.Model(&Project{}).
		Where("id = ?", project.ID).
		Updates(map[string]interface{}{
			"content_updated_at": now,
			"updated_at":         now,
		}).Error; err != nil {
		s.logError(operation, "project_stamp_failed", err, zap.String("project_id", project.ID))
		return newServiceError(operation, "project_stamp_failed", err)
	}
	project.ContentUpdatedAt = &now
	project.UpdatedAt = now
	return nil
}

func (s *Service) readProposal(tx *gorm.DB, operation, projectID string) (Proposal, error) {
	var sections []ProposalSection
	if err := tx.Where("project_id = ?", projectID).Order("order_index ASC").Find(&sections).Error; err != nil {
		s.logError(operation, "sections_select_failed", err, zap.String("project_id", projectID))
		return Proposal{}, newServiceError(operation, "sections_select_failed", err)
	}
	var blocks []ProposalBlock
	if err := tx.Where("project_id = ?", projectID).Order("order_index ASC").Order("block_key ASC").Find(&blocks).Error; err != nil {
		s.logError(operation, "blocks_select_failed", err, zap.String("project_id", projectID))
		return Proposal{}, newServiceError(operation, "blocks_select_failed", err)
	}

	blocksBySection := make(map[string][]ProposalBlock, len(sections))
	for _, block := range blocks {
		blocksBySection[block.SectionID] = append(blocksBySection[block.SectionID], block)
	}

	result := Proposal{ProjectID: projectID, Sections: make([]SectionWithBlocks, 0, len(sections))}
	for _, section := range sections {
		sectionBlocks := blocksBySection[section.ID]
		if sectionBlocks == nil {
			sectionBlocks = []ProposalBlock{}
		}
		result.Sections = append(result.Sections, SectionWithBlocks{ProposalSection: section, Blocks: sectionBlocks})
	}
	return result, nil
}
