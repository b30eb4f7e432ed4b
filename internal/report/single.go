package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"omrgrader/internal/i18n"
	"omrgrader/internal/model"
)

// BuildSingle assembles the workbook for one evaluation: summary,
// per-question detail, aggregate statistics, answer-option distribution,
// confidence visualization, common-mistake ranking, confidence-vs-accuracy
// cross-tabulation, and narrative insights.
func (b *Builder) BuildSingle(ctx context.Context, rec model.EvaluationRecord) (*excelize.File, error) {
	if rec.TotalQuestions == 0 || len(rec.ExtractedAnswers) == 0 {
		return nil, &ExportError{Scope: "evaluation"}
	}

	f := excelize.NewFile()
	names := newSheetNamer()

	if err := b.singleSummarySheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	if err := b.detailSheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	if err := b.statisticsSheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	if err := b.answerDistributionSheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	if err := b.confidenceSheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	if err := b.mistakesSheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	if err := b.crossTabSheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	if err := b.insightsSheet(ctx, f, names, rec); err != nil {
		return nil, err
	}
	return f, nil
}

func (b *Builder) singleSummarySheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Summary")
	if err != nil {
		return err
	}
	row, err := b.writeHeaderBlock(ctx, f, sheet, i18n.T(ctx, "report.single_title"), 2)
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, []string{"Field", "Value"}); err != nil {
		return err
	}
	row++
	lines := []struct {
		field string
		value any
	}{
		{"File Name", rec.FileName},
		{"Roll Number", rec.RollNumber},
		{"Subject Code", rec.SubjectCode},
		{"Score", fmt.Sprintf("%d / %d", rec.Score, rec.TotalQuestions)},
		{"Accuracy (%)", round1(rec.Accuracy)},
		{"Overall Confidence", string(rec.Confidence)},
		{"Image Quality", string(rec.ImageQuality)},
		{"Evaluated At", rec.CreatedAt.Format("2006-01-02 15:04")},
	}
	for _, l := range lines {
		if err := writeRow(f, sheet, row, []any{l.field, l.value}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, 2)
}

func (b *Builder) detailSheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Question Details")
	if err != nil {
		return err
	}
	headers := []string{"Question", "Extracted", "Correct", "Result", "Confidence", "Note"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Question Details", len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++
	for _, d := range rec.DetailedResults {
		result := "Wrong"
		if d.IsCorrect {
			result = "Correct"
		} else if d.Extracted == model.UnattemptedMark {
			result = "Unattempted"
		}
		values := []any{d.Question, d.Extracted, d.Correct, result, string(d.Confidence), d.Note}
		if err := writeRow(f, sheet, row, values); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}

func (b *Builder) statisticsSheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Statistics")
	if err != nil {
		return err
	}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Statistics", 2)
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, []string{"Metric", "Value"}); err != nil {
		return err
	}
	row++

	attempted, correct := 0, 0
	for i, a := range rec.ExtractedAnswers {
		if a != model.UnattemptedMark {
			attempted++
			if i < len(rec.CorrectAnswers) && a == rec.CorrectAnswers[i] {
				correct++
			}
		}
	}
	lines := []struct {
		metric string
		value  any
	}{
		{"Total Questions", rec.TotalQuestions},
		{"Attempted", attempted},
		{"Unattempted", rec.TotalQuestions - attempted},
		{"Correct", correct},
		{"Wrong", attempted - correct},
		{"Accuracy (%)", round1(rec.Accuracy)},
	}
	for _, l := range lines {
		if err := writeRow(f, sheet, row, []any{l.metric, l.value}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, 2)
}

func (b *Builder) answerDistributionSheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Answer Distribution")
	if err != nil {
		return err
	}
	headers := []string{"Option", "Marked", "In Key"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Answer Distribution", len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++

	options := []string{"A", "B", "C", "D", "E", model.UnattemptedMark}
	marked := make(map[string]int)
	inKey := make(map[string]int)
	for _, a := range rec.ExtractedAnswers {
		marked[a]++
	}
	for _, a := range rec.CorrectAnswers {
		inKey[a]++
	}
	for _, opt := range options {
		label := opt
		if opt == model.UnattemptedMark {
			label = "Unattempted"
		}
		if err := writeRow(f, sheet, row, []any{label, marked[opt], inKey[opt]}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}

// confidenceBar maps a confidence band to a fixed-width block bar.
func confidenceBar(c model.Confidence) string {
	switch c {
	case model.ConfidenceHigh:
		return strings.Repeat("█", 10)
	case model.ConfidenceMedium:
		return strings.Repeat("█", 6)
	case model.ConfidenceLow:
		return strings.Repeat("█", 3)
	}
	return ""
}

func (b *Builder) confidenceSheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Confidence Analysis")
	if err != nil {
		return err
	}
	headers := []string{"Question", "Confidence", "Chart"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Confidence Analysis", len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++
	for _, d := range rec.DetailedResults {
		if err := writeRow(f, sheet, row, []any{d.Question, string(d.Confidence), confidenceBar(d.Confidence)}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}

// mistakePattern is one "<extracted> instead of <correct>" group.
type mistakePattern struct {
	Pattern string
	Count   int
}

// commonMistakes groups wrong attempted answers by the (extracted, correct)
// pair and returns the top groups by frequency. Ties keep the insertion
// order of the first occurrence.
func commonMistakes(details []model.QuestionResult, limit int) []mistakePattern {
	var order []string
	counts := make(map[string]int)
	for _, d := range details {
		if d.IsCorrect || d.Extracted == model.UnattemptedMark {
			continue
		}
		pattern := d.Extracted + " instead of " + d.Correct
		if _, ok := counts[pattern]; !ok {
			order = append(order, pattern)
		}
		counts[pattern]++
	}

	out := make([]mistakePattern, 0, len(order))
	for _, p := range order {
		out = append(out, mistakePattern{Pattern: p, Count: counts[p]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (b *Builder) mistakesSheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Common Mistakes")
	if err != nil {
		return err
	}
	headers := []string{"Rank", "Mistake", "Count"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Common Mistakes", len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++
	for i, m := range commonMistakes(rec.DetailedResults, 10) {
		if err := writeRow(f, sheet, row, []any{i + 1, m.Pattern, m.Count}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}

func (b *Builder) crossTabSheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Confidence vs Accuracy")
	if err != nil {
		return err
	}
	headers := []string{"Confidence", "Correct", "Wrong", "Total"}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Confidence vs Accuracy", len(headers))
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, headers); err != nil {
		return err
	}
	row++

	type tally struct{ correct, wrong int }
	tallies := make(map[model.Confidence]*tally)
	bands := []model.Confidence{model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow, ""}
	for _, band := range bands {
		tallies[band] = &tally{}
	}
	for _, d := range rec.DetailedResults {
		t, ok := tallies[d.Confidence]
		if !ok {
			t = tallies[""]
		}
		if d.IsCorrect {
			t.correct++
		} else {
			t.wrong++
		}
	}
	for _, band := range bands {
		label := string(band)
		if label == "" {
			label = "unreported"
		}
		t := tallies[band]
		if err := writeRow(f, sheet, row, []any{label, t.correct, t.wrong, t.correct + t.wrong}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, len(headers))
}

// buildInsights derives the narrative recommendations from thresholds over
// the evaluation.
func buildInsights(ctx context.Context, rec model.EvaluationRecord) []string {
	var out []string

	if rec.Accuracy >= 90 {
		out = append(out, i18n.Td(ctx, "insight.strong_performance",
			map[string]any{"Accuracy": round1(rec.Accuracy)}))
	}
	if rec.Accuracy < 50 {
		out = append(out, i18n.T(ctx, "insight.needs_improvement"))
	}

	lowCount := 0
	unattempted := 0
	for _, d := range rec.DetailedResults {
		if d.Confidence == model.ConfidenceLow {
			lowCount++
		}
		if d.Extracted == model.UnattemptedMark {
			unattempted++
		}
	}
	if lowCount > 5 {
		out = append(out, i18n.Td(ctx, "insight.review_fundamentals",
			map[string]any{"Count": lowCount}))
	}
	if unattempted > 0 {
		out = append(out, i18n.Td(ctx, "insight.unattempted",
			map[string]any{"Count": unattempted}))
	}
	if rec.ImageQuality == model.QualityPoor {
		out = append(out, i18n.T(ctx, "insight.poor_image"))
	}
	if mistakes := commonMistakes(rec.DetailedResults, 1); len(mistakes) > 0 {
		out = append(out, i18n.Td(ctx, "insight.top_mistake",
			map[string]any{"Pattern": mistakes[0].Pattern, "Count": mistakes[0].Count}))
	}
	return out
}

func (b *Builder) insightsSheet(ctx context.Context, f *excelize.File, names *sheetNamer, rec model.EvaluationRecord) error {
	sheet, err := newSheet(f, names, "Insights")
	if err != nil {
		return err
	}
	row, err := b.writeHeaderBlock(ctx, f, sheet, "Insights", 1)
	if err != nil {
		return err
	}
	if err := b.writeHeaderRow(f, sheet, row, []string{"Insight"}); err != nil {
		return err
	}
	row++
	for _, line := range buildInsights(ctx, rec) {
		if err := writeRow(f, sheet, row, []any{line}); err != nil {
			return err
		}
		row++
	}
	return b.writeFooter(f, sheet, row-1, 1)
}
