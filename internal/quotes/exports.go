package quotes

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	opRequestPdfExport = "quotes.request_pdf_export"
	opListPdfExports   = "quotes.list_pdf_exports"
)

// RequestPdfExport records a queued export carrying the current snapshot.
// Rendering the file is left to a downstream consumer.
func (s *Service) RequestPdfExport(ctx context.Context, actor users.Actor, projectID string) (PdfExport, error) {
	if err := s.requireActor(opRequestPdfExport, actor); err != nil {
		return PdfExport{}, err
	}
	exportID, err := s.newID(opRequestPdfExport)
	if err != nil {
		return PdfExport{}, err
	}

	var (
		export  PdfExport
		project Project
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.loadProject(tx, opRequestPdfExport, actor, projectID)
		if err != nil {
			return err
		}
		project = loaded

		snapshot, err := s.buildSnapshot(tx, opRequestPdfExport, loaded)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(snapshot)
		if err != nil {
			return newServiceError(opRequestPdfExport, "snapshot_encode_failed", err)
		}

		now := s.now()
		export = PdfExport{
			ID:                exportID,
			ProjectID:         loaded.ID,
			FileKey:           fmt.Sprintf("pdf/%s/%d.pdf", loaded.ID, now.UnixMilli()),
			Status:            ExportStatusQueued,
			SourceSnapshot:    datatypes.JSON(encoded),
			GeneratedByUserID: actor.UserID,
			GeneratedAt:       now,
		}
		if err := tx.Create(&export).Error; err != nil {
			s.logError(opRequestPdfExport, "insert_failed", err, zap.String("project_id", loaded.ID))
			return newServiceError(opRequestPdfExport, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return PdfExport{}, txErr
	}

	s.publish(EventPdfExportRequested, project, actor.UserID, export.ID)
	return export, nil
}

// ListPdfExports returns the project's export records, newest first.
func (s *Service) ListPdfExports(ctx context.Context, actor users.Actor, projectID string) ([]PdfExport, error) {
	if err := s.requireActor(opListPdfExports, actor); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	project, err := s.loadProject(db, opListPdfExports, actor, projectID)
	if err != nil {
		return nil, err
	}
	var exports []PdfExport
	if err := db.Where("project_id = ?", project.ID).Order("generated_at DESC").Find(&exports).Error; err != nil {
		s.logError(opListPdfExports, "query_failed", err, zap.String("project_id", project.ID))
		return nil, newServiceError(opListPdfExports, "query_failed", err)
	}
	return exports, nil
}
