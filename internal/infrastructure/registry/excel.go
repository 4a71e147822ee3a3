// Package registry loads the warehouse roster the operations team maintains
// as an Excel sheet with id_kho and ten_kho columns.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"FiveSBot/internal/domain"
	"FiveSBot/internal/ports"
)

const (
	idHeader   = "id_kho"
	nameHeader = "ten_kho"
)

// ExcelSource reads the roster spreadsheet from disk on every Load, so a
// manual reload picks up edits without restarting the bot.
type ExcelSource struct {
	path   string
	sheet  string
	logger *slog.Logger
}

var _ ports.RegistrySource = (*ExcelSource)(nil)

// NewExcelSource points the source at a spreadsheet. An empty sheet name
// means the first sheet in the workbook.
func NewExcelSource(path, sheet string, logger *slog.Logger) *ExcelSource {
	return &ExcelSource{path: path, sheet: sheet, logger: logger}
}

// Load parses the sheet into an entity list. Header row order is free; only
// the id_kho and ten_kho columns are read.
func (s *ExcelSource) Load(_ context.Context) ([]domain.Entity, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open roster %s: %w", s.path, err)
	}
	defer f.Close()

	sheet := s.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheet)
	}

	idCol, nameCol := -1, -1
	for i, cell := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case idHeader:
			idCol = i
		case nameHeader:
			nameCol = i
		}
	}
	if idCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("sheet %s is missing %s/%s headers", sheet, idHeader, nameHeader)
	}

	var entities []domain.Entity
	seen := map[string]bool{}
	for _, row := range rows[1:] {
		if idCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[idCol])
		if id == "" || seen[id] {
			continue
		}
		var name string
		if nameCol < len(row) {
			name = NormalizeName(row[nameCol])
		}
		seen[id] = true
		entities = append(entities, domain.Entity{ID: id, DisplayName: name})
	}

	if s.logger != nil {
		s.logger.Info("roster loaded", "path", s.path, "entities", len(entities))
	}
	return entities, nil
}

// NormalizeName trims and collapses internal whitespace, matching how ids
// and names arrive from both the sheet and chat captions.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
