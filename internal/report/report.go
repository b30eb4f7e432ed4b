// Package report assembles styled multi-sheet xlsx workbooks from
// evaluation data, for a whole batch or a single sheet.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"omrgrader/internal/i18n"
	"omrgrader/internal/model"
)

// ExportError is raised when no eligible records exist for the requested
// export scope. It aborts that export action only.
type ExportError struct {
	Scope string
}

func (e *ExportError) Error() string {
	return "export " + e.Scope + ": no completed evaluations"
}

// maxSheetName is the xlsx sheet-name limit.
const maxSheetName = 31

// Builder writes workbooks styled per the export settings it was created
// with. Settings are read-only; the builder never mutates them.
type Builder struct {
	settings model.ExportSettings
	now      func() time.Time
}

// NewBuilder creates a builder. Zero-valued style fields fall back to the
// defaults from model.DefaultExportSettings.
func NewBuilder(settings model.ExportSettings) *Builder {
	def := model.DefaultExportSettings()
	if settings.HeaderColor == "" {
		settings.HeaderColor = def.HeaderColor
	}
	if settings.FontFamily == "" {
		settings.FontFamily = def.FontFamily
	}
	return &Builder{settings: settings, now: time.Now}
}

// BatchFileName names a batch workbook deterministically from its size and date.
func BatchFileName(sheetCount int, t time.Time) string {
	return fmt.Sprintf("BatchReport_%dsheets_%s.xlsx", sheetCount, t.Format("2006-01-02"))
}

// SingleFileName names a single-evaluation workbook from the student context.
func SingleFileName(rollNumber, subjectCode string, t time.Time) string {
	roll := sanitizeFilePart(rollNumber, "unknown")
	subject := sanitizeFilePart(subjectCode, "general")
	return fmt.Sprintf("Result_%s_%s_%s.xlsx", roll, subject, t.Format("2006-01-02"))
}

func sanitizeFilePart(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// sheetNamer hands out valid, unique sheet names. Names longer than the
// 31-character limit are truncated; collisions (including ones created by
// truncation) get a numeric suffix rather than silently overwriting.
type sheetNamer struct {
	used map[string]bool
}

func newSheetNamer() *sheetNamer {
	return &sheetNamer{used: make(map[string]bool)}
}

var invalidSheetChars = strings.NewReplacer(
	":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", " ", "]", " ")

func (n *sheetNamer) name(raw string) string {
	s := strings.TrimSpace(invalidSheetChars.Replace(raw))
	if s == "" {
		s = "Sheet"
	}
	s = truncateRunes(s, maxSheetName)
	candidate := s
	for i := 2; n.used[candidate]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		candidate = truncateRunes(s, maxSheetName-len(suffix)) + suffix
	}
	n.used[candidate] = true
	return candidate
}

// truncateRunes cuts on rune boundaries so multi-byte subject codes never
// end in a partial character.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return strings.TrimSpace(string(r))
}

// headerStyle is the fill/bold/border style for the real column-header row.
func (b *Builder) headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{b.settings.HeaderColor}, Pattern: 1},
		Font: &excelize.Font{Bold: true, Color: "FFFFFF", Family: b.settings.FontFamily},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
}

func (b *Builder) titleStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14, Family: b.settings.FontFamily},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
}

func (b *Builder) footerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Italic: true, Family: b.settings.FontFamily},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
}

// writeHeaderBlock prepends the optional school/title/timestamp block and
// returns the row where the table should start.
func (b *Builder) writeHeaderBlock(ctx context.Context, f *excelize.File, sheet, title string, cols int) (int, error) {
	if !b.settings.IncludeHeader {
		return 1, nil
	}
	titleStyle, err := b.titleStyle(f)
	if err != nil {
		return 0, err
	}

	row := 1
	if b.settings.SchoolName != "" {
		if err := b.writeMergedLine(f, sheet, row, cols, b.settings.SchoolName, titleStyle); err != nil {
			return 0, err
		}
		row++
	}
	if b.settings.IncludeLogo && b.settings.SchoolLogoURL != "" {
		if err := b.writeMergedLine(f, sheet, row, cols, b.settings.SchoolLogoURL, 0); err != nil {
			return 0, err
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return 0, err
		}
		if err := f.SetCellHyperLink(sheet, cell, b.settings.SchoolLogoURL, "External"); err != nil {
			return 0, err
		}
		row++
	}
	if err := b.writeMergedLine(f, sheet, row, cols, title, titleStyle); err != nil {
		return 0, err
	}
	row++
	generated := i18n.Td(ctx, "report.generated",
		map[string]any{"Time": b.now().Format("2006-01-02 15:04")})
	if err := b.writeMergedLine(f, sheet, row, cols, generated, 0); err != nil {
		return 0, err
	}
	// One blank spacer row between the block and the table.
	return row + 2, nil
}

// writeFooter renders the optional footer two rows below the last data row,
// merged across all data columns.
func (b *Builder) writeFooter(f *excelize.File, sheet string, lastDataRow, cols int) error {
	if b.settings.FooterText == "" {
		return nil
	}
	style, err := b.footerStyle(f)
	if err != nil {
		return err
	}
	return b.writeMergedLine(f, sheet, lastDataRow+2, cols, b.settings.FooterText, style)
}

func (b *Builder) writeMergedLine(f *excelize.File, sheet string, row, cols int, value string, style int) error {
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(max(cols, 1), row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, start, value); err != nil {
		return err
	}
	if cols > 1 {
		if err := f.MergeCell(sheet, start, end); err != nil {
			return err
		}
	}
	if style != 0 {
		return f.SetCellStyle(sheet, start, end, style)
	}
	return nil
}

// writeHeaderRow writes and styles the real column-header row.
func (b *Builder) writeHeaderRow(f *excelize.File, sheet string, row int, headers []string) error {
	style, err := b.headerStyle(f)
	if err != nil {
		return err
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	start, _ := excelize.CoordinatesToCellName(1, row)
	end, _ := excelize.CoordinatesToCellName(len(headers), row)
	return f.SetCellStyle(sheet, start, end, style)
}

// writeRow writes one data row starting at column A.
func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
