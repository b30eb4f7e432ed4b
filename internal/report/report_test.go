package report

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omrgrader/internal/model"
)

func TestSheetNamer(t *testing.T) {
	n := newSheetNamer()

	assert.Equal(t, "M1", n.name("M1"))
	assert.Equal(t, "M1 (2)", n.name("M1"), "collisions get a numeric suffix")
	assert.Equal(t, "M1 (3)", n.name("M1"))

	long := strings.Repeat("x", 40)
	got := n.name(long)
	assert.Len(t, got, 31, "names are truncated to the xlsx limit")

	// Two names differing only past the limit collide after truncation and
	// must still come out distinct.
	got2 := n.name(long + "y")
	assert.NotEqual(t, got, got2)
	assert.LessOrEqual(t, len(got2), 31)

	assert.Equal(t, "Sheet", n.name("   "), "blank names fall back")
	assert.NotContains(t, n.name("a/b:c*d"), "/")
}

func TestSheetNamerMultiByte(t *testing.T) {
	n := newSheetNamer()

	long := strings.Repeat("Ф", 40)
	got := n.name(long)
	assert.True(t, utf8.ValidString(got), "truncation must not split a rune")
	assert.Equal(t, 31, utf8.RuneCountInString(got))

	got2 := n.name(long)
	assert.True(t, utf8.ValidString(got2))
	assert.NotEqual(t, got, got2)
	assert.LessOrEqual(t, utf8.RuneCountInString(got2), 31)
}

func TestFileNames(t *testing.T) {
	ts := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "BatchReport_12sheets_2026-08-27.xlsx", BatchFileName(12, ts))
	assert.Equal(t, "Result_R42_M1_2026-08-27.xlsx", SingleFileName("R42", "M1", ts))
	assert.Equal(t, "Result_unknown_general_2026-08-27.xlsx", SingleFileName("", "", ts))
	assert.Equal(t, "Result_R_1_M_2_2026-08-27.xlsx", SingleFileName("R 1", "M/2", ts))
}

func batchFixture() ([]model.BatchItem, []model.EvaluationRecord, model.AnswerKeyConfig) {
	key := model.AnswerKeyConfig{Answers: []string{"A", "B", "C", "D"}}
	items := []model.BatchItem{
		{FileName: "a.jpg", Status: model.StatusCompleted, RollNumber: "R1", SubjectCode: "M1", Score: 3, TotalQuestions: 4, Accuracy: 75},
		{FileName: "b.jpg", Status: model.StatusCompleted, RollNumber: "R2", SubjectCode: "M1", Score: 4, TotalQuestions: 4, Accuracy: 100},
		{FileName: "c.jpg", Status: model.StatusCompleted, RollNumber: "R3", SubjectCode: "S2", Score: 2, TotalQuestions: 4, Accuracy: 50},
		{FileName: "d.jpg", Status: model.StatusCompleted, RollNumber: "R4", Score: 1, TotalQuestions: 4, Accuracy: 25},
		{FileName: "e.jpg", Status: model.StatusError, Error: "The image could not be read."},
	}
	records := []model.EvaluationRecord{
		{FileName: "a.jpg", ExtractedAnswers: []string{"A", "B", "C", "A"}, CorrectAnswers: key.Answers},
		{FileName: "b.jpg", ExtractedAnswers: []string{"A", "B", "C", "D"}, CorrectAnswers: key.Answers},
		{FileName: "c.jpg", ExtractedAnswers: []string{"A", "B", "-", "-"}, CorrectAnswers: key.Answers},
		{FileName: "d.jpg", ExtractedAnswers: []string{"A", "-", "-", "-"}, CorrectAnswers: key.Answers},
	}
	return items, records, key
}

func TestBuildBatchSheets(t *testing.T) {
	items, records, key := batchFixture()
	b := NewBuilder(model.ExportSettings{IncludeHeader: true, SchoolName: "Test School", FooterText: "internal"})
	b.now = func() time.Time { return time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC) }

	f, err := b.BuildBatch(context.Background(), items, records, key)
	require.NoError(t, err)

	sheets := f.GetSheetList()
	assert.Equal(t, []string{
		"Summary", "All Results", "M1", "S2", "No Subject",
		"Answer Key", "Failed Sheets", "Analytics", "Score Distribution",
	}, sheets)

	// Subject grouping: two subject sheets plus the sentinel bucket, and the
	// data rows across them add up to the completed count.
	totalRows := 0
	for _, sheet := range []string{"M1", "S2", "No Subject"} {
		rows, err := f.GetRows(sheet)
		require.NoError(t, err)
		headerRow := findHeaderRow(rows, "Roll Number")
		require.GreaterOrEqual(t, headerRow, 0, "header row in %s", sheet)
		totalRows += countDataRows(rows, headerRow)
	}
	assert.Equal(t, 4, totalRows)

	// Header block precedes the column-header row.
	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "Test School", rows[0][0])
	assert.Contains(t, rows[2][0], "2026-08-27")
	assert.Equal(t, "Metric", rows[4][0])
}

// findHeaderRow returns the zero-based index of the row whose first cell
// matches marker, or -1.
func findHeaderRow(rows [][]string, marker string) int {
	for i, r := range rows {
		if len(r) > 0 && r[0] == marker {
			return i
		}
	}
	return -1
}

// countDataRows counts non-empty rows after the header row, ignoring the
// footer which sits below an empty spacer row.
func countDataRows(rows [][]string, headerRow int) int {
	count := 0
	for _, r := range rows[headerRow+1:] {
		if len(r) == 0 || r[0] == "" {
			break
		}
		count++
	}
	return count
}

func TestBuildBatchHeaderWithLogoLink(t *testing.T) {
	items, records, key := batchFixture()
	b := NewBuilder(model.ExportSettings{
		IncludeHeader: true,
		SchoolName:    "Test School",
		IncludeLogo:   true,
		SchoolLogoURL: "https://example.org/logo.png",
	})

	f, err := b.BuildBatch(context.Background(), items, records, key)
	require.NoError(t, err)

	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 6)
	assert.Equal(t, "Test School", rows[0][0])
	assert.Equal(t, "https://example.org/logo.png", rows[1][0])
	assert.Equal(t, "Metric", rows[5][0], "logo line shifts the table down one row")

	ok, link, err := f.GetCellHyperLink("Summary", "A2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://example.org/logo.png", link)
}

func TestBuildBatchMixedTotalsWarning(t *testing.T) {
	items, records, key := batchFixture()
	items[2].TotalQuestions = 8
	b := NewBuilder(model.DefaultExportSettings())

	f, err := b.BuildBatch(context.Background(), items, records, key)
	require.NoError(t, err)

	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	found := false
	for _, r := range rows {
		if len(r) > 0 && strings.Contains(r[0], "disagree on the question count") {
			found = true
		}
	}
	assert.True(t, found, "summary should carry the mixed question-count warning")
}

func TestBuildBatchNoCompleted(t *testing.T) {
	b := NewBuilder(model.DefaultExportSettings())
	items := []model.BatchItem{
		{FileName: "a.jpg", Status: model.StatusPending},
		{FileName: "b.jpg", Status: model.StatusError, Error: "bad"},
	}

	_, err := b.BuildBatch(context.Background(), items, nil, model.AnswerKeyConfig{Answers: []string{"A"}})
	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, "batch", exportErr.Scope)
}

func TestBuildBatchNoFailedSheetWithoutFailures(t *testing.T) {
	items, records, key := batchFixture()
	items = items[:4] // drop the errored item
	b := NewBuilder(model.DefaultExportSettings())

	f, err := b.BuildBatch(context.Background(), items, records, key)
	require.NoError(t, err)
	assert.NotContains(t, f.GetSheetList(), "Failed Sheets")
}

func TestBuildBatchFooterPlacement(t *testing.T) {
	items, records, key := batchFixture()
	b := NewBuilder(model.ExportSettings{FooterText: "Confidential"})

	f, err := b.BuildBatch(context.Background(), items, records, key)
	require.NoError(t, err)

	rows, err := f.GetRows("All Results")
	require.NoError(t, err)
	// No header block: column headers at row 1, five data rows, one blank
	// spacer, then the footer two rows below the last data row.
	require.GreaterOrEqual(t, len(rows), 8)
	assert.Equal(t, "#", rows[0][0])
	assert.Equal(t, "e.jpg", rows[5][1])
	assert.Empty(t, rows[6])
	assert.Equal(t, "Confidential", rows[7][0])
}

func singleFixture() model.EvaluationRecord {
	return model.EvaluationRecord{
		ID:               "rec-1",
		FileName:         "a.jpg",
		RollNumber:       "R42",
		SubjectCode:      "M1",
		Score:            4,
		TotalQuestions:   8,
		Accuracy:         50,
		ExtractedAnswers: []string{"A", "B", "B", "B", "-", "A", "C", "D"},
		CorrectAnswers:   []string{"A", "B", "C", "C", "C", "A", "C", "D"},
		DetailedResults: []model.QuestionResult{
			{Question: 1, Extracted: "A", Correct: "A", IsCorrect: true, Confidence: model.ConfidenceHigh},
			{Question: 2, Extracted: "B", Correct: "B", IsCorrect: true, Confidence: model.ConfidenceMedium},
			{Question: 3, Extracted: "B", Correct: "C", Confidence: model.ConfidenceLow},
			{Question: 4, Extracted: "B", Correct: "C", Confidence: model.ConfidenceLow},
			{Question: 5, Extracted: "-", Correct: "C", Confidence: model.ConfidenceLow},
			{Question: 6, Extracted: "A", Correct: "A", IsCorrect: true, Confidence: model.ConfidenceHigh},
			{Question: 7, Extracted: "C", Correct: "C", IsCorrect: true, Confidence: model.ConfidenceHigh},
			{Question: 8, Extracted: "D", Correct: "D", IsCorrect: true, Confidence: model.ConfidenceHigh},
		},
		Confidence:   model.ConfidenceMedium,
		ImageQuality: model.QualityFair,
		CreatedAt:    time.Date(2026, 8, 27, 9, 30, 0, 0, time.UTC),
	}
}

func TestBuildSingleSheets(t *testing.T) {
	b := NewBuilder(model.DefaultExportSettings())

	f, err := b.BuildSingle(context.Background(), singleFixture())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Summary", "Question Details", "Statistics", "Answer Distribution",
		"Confidence Analysis", "Common Mistakes", "Confidence vs Accuracy",
		"Insights",
	}, f.GetSheetList())

	// The most frequent mistake leads the ranking.
	rows, err := f.GetRows("Common Mistakes")
	require.NoError(t, err)
	header := findHeaderRow(rows, "Rank")
	require.GreaterOrEqual(t, header, 0)
	first := rows[header+1]
	assert.Equal(t, "B instead of C", first[1])
	assert.Equal(t, "2", first[2])
}

func TestBuildSingleEmptyRecord(t *testing.T) {
	b := NewBuilder(model.DefaultExportSettings())
	_, err := b.BuildSingle(context.Background(), model.EvaluationRecord{})
	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
}

func TestCommonMistakes(t *testing.T) {
	details := []model.QuestionResult{
		{Extracted: "A", Correct: "B"},
		{Extracted: "C", Correct: "D"},
		{Extracted: "A", Correct: "B"},
		{Extracted: "-", Correct: "E"}, // unattempted, not a mistake
		{Extracted: "B", Correct: "B", IsCorrect: true},
		{Extracted: "E", Correct: "A"},
	}

	got := commonMistakes(details, 10)
	require.Len(t, got, 3)
	assert.Equal(t, mistakePattern{Pattern: "A instead of B", Count: 2}, got[0])
	// Frequency ties keep first-occurrence order.
	assert.Equal(t, "C instead of D", got[1].Pattern)
	assert.Equal(t, "E instead of A", got[2].Pattern)

	got = commonMistakes(details, 2)
	assert.Len(t, got, 2)
}

func TestBuildInsightsThresholds(t *testing.T) {
	rec := singleFixture()
	// Six low-confidence answers crosses the review threshold.
	for i := range rec.DetailedResults {
		rec.DetailedResults[i].Confidence = model.ConfidenceLow
	}
	rec.ImageQuality = model.QualityPoor

	got := buildInsights(context.Background(), rec)
	joined := strings.Join(got, "\n")
	assert.Contains(t, joined, "fundamentals")
	assert.Contains(t, joined, "unattempted")
	assert.Contains(t, joined, "B instead of C")
	assert.Contains(t, joined, "light")

	// A clean high-accuracy record produces only the praise note.
	clean := model.EvaluationRecord{
		TotalQuestions:   4,
		Accuracy:         100,
		ExtractedAnswers: []string{"A", "B", "C", "D"},
		CorrectAnswers:   []string{"A", "B", "C", "D"},
		DetailedResults: []model.QuestionResult{
			{Question: 1, Extracted: "A", Correct: "A", IsCorrect: true, Confidence: model.ConfidenceHigh},
		},
	}
	got = buildInsights(context.Background(), clean)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Strong performance")
}
