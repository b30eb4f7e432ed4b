package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"omrgrader/internal/i18n"
	"omrgrader/internal/model"
	"omrgrader/internal/stats"
)

// noSubjectBucket groups completed items that carry no subject code.
const noSubjectBucket = "No Subject"

// scoreRanges are the buckets of the textual distribution chart.
var scoreRanges = []struct {
	label    string
	from, to float64
}{
	{"0-20", 0, 20},
	{"21-40", 20, 40},
	{"41-60", 40, 60},
	{"61-80", 60, 80},
	{"81-100", 80, 100},
}

// BuildBatch assembles the batch workbook: summary, flat results, one sheet
// per subject, the answer key, a failed-items log when failures exist, score
// analytics, and a textual score-distribution chart.
//
// records supply the per-question answers for completed items, matched by
// file name. An ExportError is returned when no item is completed.
func (b *Builder) BuildBatch(ctx context.Context, items []model.BatchItem, records []model.EvaluationRecord, key model.AnswerKeyConfig) (*excelize.File, error) {
	var completed, failed []model.BatchItem
	for _, it := range items {
		switch it.Status {
		case model.StatusCompleted:
			completed = append(completed, it)
		case model.StatusError:
			failed = append(failed, it)
		}
	}
	if len(completed) == 0 {
		return nil, &ExportError{Scope: "batch"}
	}

	recByFile := make(map[string]model.EvaluationRecord, len(records))
	for _, r := range records {
		if _, ok := recByFile[r.FileName]; !ok {
			recByFile[r.FileName] = r
		}
	}
	if len(key.Answers) == 0 && len(records) > 0 {
		key.Answers = records[0].CorrectAnswers
	}

	agg := stats.Aggregate(items)
	f := excelize.NewFile()
	names := newSheetNamer()

	if err := b.batchSummarySheet(ctx, f, names, items, agg); err != nil {
		return nil, err
	}
	if err := b.allResultsSheet(ctx, f, names, items); err != nil {
		return nil, err
	}
	if err := b.subjectSheets(ctx, f, names, completed, recByFile, len(key.Answers)); err != nil {
		return nil, err
	}
	if err := b.answerKeySheet(ctx, f, names, key); err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		if err := b.failedSheet(ctx, f, names, failed); err != nil {
			return nil, err
		}
	}
	if err := b.analyticsSheet(ctx, f, names, items, agg); err != nil {
		return nil, err
	}
	if err := b.distributionSheet(ctx, f, names, completed); err != nil {
		return nil, err
	}
	return f, nil
}

// newSheet registers a sheet; the first call renames the workbook's default
// sheet instead of adding one.
func newSheet(f *excelize.File, names *sheetNamer, raw string) (string, error) {
	name := names.name(raw)
	if list := f.GetSheetList(); len(list) == 1 && list[0] == "Sheet1" && name != "Sheet1" {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			return "", err
		}
		return name, nil
	}
	if _, err := f.NewSheet(name); err != nil {
		return "", err
	}
	return name, nil
}

func (b *Builder) batchSummarySheet(ctx context.Context, f *excelize.File, names *sheetNamer, items []model.BatchItem, agg model.AggregatedStats) error {
	sheet, err := newSheet(f, names, "Summary")
	if err != nil {
		return err
	}
	row, err := b.writeHeaderBlock(ctx, f, sheet, i18n.T(ctx, "report.batch_title"), 2)
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, []string{"Metric", "Value"}); err != nil {
		return err
	}
	row++

	prog := struct{ completed, errored int }{}
	for _, it := range items {
		switch it.Status {
		case model.StatusCompleted:
			prog.completed++
		case model.StatusError:
			prog.errored++
		}
	}

	lines := []struct {
		metric string
		value  any
	}{
		{"Total Sheets", len(items)},
		{"Completed", prog.completed},
		{"Failed", prog.errored},
		{"Total Questions", agg.TotalQuestions},
		{"Average Score", round1(agg.AvgScore)},
		{"Average Accuracy (%)", round1(agg.AvgAccuracy)},
		{"Highest Score", fmt.Sprintf("%d (%s)", agg.Highest.Score, refLabel(agg.Highest))},
		{"Lowest Score", fmt.Sprintf("%d (%s)", agg.Lowest.Score, refLabel(agg.Lowest))},
		{"Pass Rate (%)", round1(agg.PassRate * 100)},
		{"Grade: Excellent (>= 90%)", agg.Distribution.Excellent},
		{"Grade: Good (75-89%)", agg.Distribution.Good},
		{"Grade: Average (50-74%)", agg.Distribution.Average},
		{"Grade: Needs Improvement (< 50%)", agg.Distribution.NeedsImprovement},
	}
	for _, l := range lines {
		if err := writeRow(f, sheet, row, []any{l.metric, l.value}); err != nil {
			return err
		}
		row++
	}

	noteID := "insight.batch_healthy"
	if agg.PassRate < 0.5 {
		noteID = "insight.batch_low_pass"
	}
	note := i18n.Td(ctx, noteID, map[string]any{"Rate": round1(agg.PassRate * 100)})
	if err := b.writeMergedLine(f, sheet, row, 2, note, 0); err != nil {
		return err
	}
	if agg.MixedKeyLengths {
		row++
		warn := i18n.T(ctx, "insight.mixed_totals")
		if err := b.writeMergedLine(f, sheet, row, 2, warn, 0); err != nil {
			return err
		}
	}
	return b.writeFooter(f, sheet, row, 2)
}

func refLabel(ref model.ScoreRef) string {
	if ref.RollNumber != "" {
		return ref.RollNumber
	}
	return ref.FileName
}

func (b *Builder) allResultsSheet(ctx context.Context, f *excelize.File, names *sheetNamer, items []model.BatchItem) error {
	sheet, err := newSheet(f, names, "All Results")
	if err != nil {
		return err
	}
	headers := []string{"#", "File Name", "Roll Number", "Subject Code", "Score", "Total Questions", "Accuracy (%)", "Status"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, i18n.T(ctx, "report.batch_title"), len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++
	for i, it := range items {
		values := []any{i + 1, it.FileName, it.RollNumber, it.SubjectCode,
			it.Score, it.TotalQuestions, round1(it.Accuracy), string(it.Status)}
		if err := writeRow(f, sheet, row, values); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}

// subjectSheets emits one sheet per distinct subject code in first-appearance
// order, with items lacking a code grouped under the sentinel bucket.
func (b *Builder) subjectSheets(ctx context.Context, f *excelize.File, names *sheetNamer, completed []model.BatchItem, recByFile map[string]model.EvaluationRecord, questionCount int) error {
	var order []string
	grouped := make(map[string][]model.BatchItem)
	for _, it := range completed {
		code := it.SubjectCode
		if code == "" {
			code = noSubjectBucket
		}
		if _, ok := grouped[code]; !ok {
			order = append(order, code)
		}
		grouped[code] = append(grouped[code], it)
	}

	headers := []string{"Roll Number", "Score", "Accuracy (%)"}
	for q := 1; q <= questionCount; q++ {
		headers = append(headers, fmt.Sprintf("Q%d", q))
	}

	for _, code := range order {
		sheet, err := newSheet(f, names, code)
		if err != nil {
			return err
		}
		row, err := b.writeHeaderBlock(ctx, f, sheet, code, len(headers))
		if err != nil {
			return err
		}
		if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
			return err
		}
		row++
		for _, it := range grouped[code] {
			values := []any{it.RollNumber, it.Score, round1(it.Accuracy)}
			answers := recByFile[it.FileName].ExtractedAnswers
			for q := 0; q < questionCount; q++ {
				if q < len(answers) {
					values = append(values, answers[q])
				} else {
					values = append(values, model.UnattemptedMark)
				}
			}
			if err := writeRow(f, sheet, row, values); err != nil {
				return err
			}
			row++
		}
		if err := b.writeFooter(f, sheet, row-1, len(headers)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) answerKeySheet(ctx context.Context, f *excelize.File, names *sheetNamer, key model.AnswerKeyConfig) error {
	sheet, err := newSheet(f, names, "Answer Key")
	if err != nil {
		return err
	}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Answer Key", 2)
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, []string{"Question", "Correct Answer"}); err != nil {
		return err
	}
	row++
	for i, a := range key.Answers {
		if err := writeRow(f, sheet, row, []any{i + 1, strings.ToUpper(a)}); err != nil {
			return err
		}
		row++
	}
	if key.Grid != nil {
		if err := writeRow(f, sheet, row, []any{"Layout", fmt.Sprintf("%d rows x %d columns", key.Grid.Rows, key.Grid.Columns)}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, 2)
}

func (b *Builder) failedSheet(ctx context.Context, f *excelize.File, names *sheetNamer, failed []model.BatchItem) error {
	sheet, err := newSheet(f, names, "Failed Sheets")
	if err != nil {
		return err
	}
	headers := []string{"#", "File Name", "Error"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Failed Sheets", len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++
	for i, it := range failed {
		if err := writeRow(f, sheet, row, []any{i + 1, it.FileName, it.Error}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}

func (b *Builder) analyticsSheet(ctx context.Context, f *excelize.File, names *sheetNamer, items []model.BatchItem, agg model.AggregatedStats) error {
	sheet, err := newSheet(f, names, "Analytics")
	if err != nil {
		return err
	}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Analytics", 3)
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, []string{"Metric", "Value", "Roll Number"}); err != nil {
		return err
	}
	row++

	median, _ := stats.MedianRef(items)
	passed := 0
	for _, it := range items {
		if it.Status == model.StatusCompleted && it.Accuracy >= stats.PassThreshold {
			passed++
		}
	}
	lines := []struct {
		metric string
		value  any
		roll   string
	}{
		{"Maximum Score", agg.Highest.Score, refLabel(agg.Highest)},
		{"Minimum Score", agg.Lowest.Score, refLabel(agg.Lowest)},
		{"Median Score", median.Score, refLabel(median)},
		{"Passed (>= 50%)", passed, ""},
		{"Failed (< 50%)", agg.ScoredCount - passed, ""},
		{"Tier: Excellent", agg.Distribution.Excellent, ""},
		{"Tier: Good", agg.Distribution.Good, ""},
		{"Tier: Average", agg.Distribution.Average, ""},
		{"Tier: Needs Improvement", agg.Distribution.NeedsImprovement, ""},
	}
	for _, l := range lines {
		if err := writeRow(f, sheet, row, []any{l.metric, l.value, l.roll}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, 3)
}

// distributionSheet renders the score-range distribution as repeated block
// characters scaled to each range's percentage share.
func (b *Builder) distributionSheet(ctx context.Context, f *excelize.File, names *sheetNamer, completed []model.BatchItem) error {
	sheet, err := newSheet(f, names, "Score Distribution")
	if err != nil {
		return err
	}
	headers := []string{"Accuracy Range", "Count", "Percent", "Chart"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Score Distribution", len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++

	for i, r := range scoreRanges {
		count := 0
		for _, it := range completed {
			inRange := it.Accuracy > r.from && it.Accuracy <= r.to
			if i == 0 {
				inRange = it.Accuracy >= r.from && it.Accuracy <= r.to
			}
			if inRange {
				count++
			}
		}
		pct := float64(count) / float64(len(completed)) * 100
		bar := strings.Repeat("█", int(pct/2+0.5))
		if err := writeRow(f, sheet, row, []any{r.label, count, round1(pct), bar}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}
