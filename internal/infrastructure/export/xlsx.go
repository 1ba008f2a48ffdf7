// Package export renders idea lists as downloadable spreadsheets.
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/domain/entity"
)

const sheetName = "Ideas"

var headers = []string{
	"ID", "Title", "Status", "Category", "Readiness",
	"Author", "Author Email", "Department",
	"Duplicate Of", "Similarity", "Created At", "Updated At",
}

// XLSXExporter implements port.IdeaExporter with excelize
type XLSXExporter struct {
	logger *zap.Logger
}

// NewXLSXExporter creates an xlsx exporter
func NewXLSXExporter(logger *zap.Logger) *XLSXExporter {
	return &XLSXExporter{logger: logger}
}

// ContentType is the MIME type of the written workbook
func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// FileExtension is the suggested download extension
func (e *XLSXExporter) FileExtension() string {
	return "xlsx"
}

// Export writes one header row and one row per idea
func (e *XLSXExporter) Export(ctx context.Context, ideas []*entity.Idea, w io.Writer) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, idea := range ideas {
		if err := ctx.Err(); err != nil {
			return err
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := ideaRow(idea)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for idea %d: %w", idea.ID, err)
		}
	}

	if err := f.SetColWidth(sheetName, "B", "B", 48); err != nil {
		return fmt.Errorf("failed to size title column: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Debug("Ideas exported", zap.Int("rows", len(ideas)))
	return nil
}

func ideaRow(idea *entity.Idea) []interface{} {
	var parent, score interface{}
	if idea.SimilarityParentID != nil {
		parent = *idea.SimilarityParentID
	}
	if idea.SimilarityScore != nil {
		score = *idea.SimilarityScore
	}
	return []interface{}{
		idea.ID,
		idea.Title,
		string(idea.Status),
		idea.Category,
		idea.ReadinessLevel,
		idea.Author.Name,
		idea.Author.Email,
		idea.Author.Department,
		parent,
		score,
		idea.CreatedAt.UTC().Format(time.RFC3339),
		idea.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
