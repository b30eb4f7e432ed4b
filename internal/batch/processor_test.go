package batch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"omrgrader/internal/model"
	"omrgrader/internal/oracle"
)

type scriptedGrader struct {
	calls  int
	byFile map[string]*model.OracleResult
	failOn map[string]error
	after  func() // invoked after every call, e.g. to cancel mid-run
}

func (g *scriptedGrader) Grade(_ context.Context, image []byte, _ string, cfg model.AnswerKeyConfig) (*model.OracleResult, error) {
	g.calls++
	if g.after != nil {
		defer g.after()
	}
	name := string(image)
	if err, ok := g.failOn[name]; ok {
		return nil, err
	}
	if res, ok := g.byFile[name]; ok {
		return res, nil
	}
	total := len(cfg.Answers)
	return &model.OracleResult{
		ExtractedAnswers: model.NormalizeAnswers(cfg.Answers, total),
		CorrectAnswers:   model.NormalizeAnswers(cfg.Answers, total),
		Score:            total,
		TotalQuestions:   total,
		Accuracy:         100,
	}, nil
}

type memRecorder struct {
	records []model.EvaluationRecord
	err     error
}

func (r *memRecorder) InsertEvaluation(_ context.Context, rec model.EvaluationRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

type memNotifier struct {
	infos, warns []string
}

func (n *memNotifier) Info(msg string) { n.infos = append(n.infos, msg) }
func (n *memNotifier) Warn(msg string) { n.warns = append(n.warns, msg) }

func namedItems(names ...string) []model.BatchItem {
	items := make([]model.BatchItem, len(names))
	for i, n := range names {
		// The fake grader reads the file name back out of the image bytes.
		items[i] = model.BatchItem{FileName: n, ImageData: []byte(n)}
	}
	return items
}

func testKey() model.AnswerKeyConfig {
	return model.AnswerKeyConfig{Answers: []string{"A", "B", "C", "D"}}
}

func TestRunAllSucceed(t *testing.T) {
	s := NewStore()
	s.Seed(namedItems("a.jpg", "b.jpg", "c.jpg"))
	g := &scriptedGrader{}
	rec := &memRecorder{}
	p := NewProcessor(g, rec, nil, nil)

	summary, err := p.Run(context.Background(), s, testKey(), 0, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.SuccessCount != 3 || summary.ErrorCount != 0 || summary.TotalAttempted != 3 {
		t.Errorf("summary = %+v, want 3/0/3", summary)
	}
	prog := s.Progress()
	if prog.CompletedCount != 3 || prog.ErrorCount != 0 {
		t.Errorf("progress = %+v, want 3 completed", prog)
	}
	if p.CurrentIndex() != 3 {
		t.Errorf("CurrentIndex() = %d, want 3", p.CurrentIndex())
	}
	if len(rec.records) != 3 {
		t.Errorf("persisted %d records, want 3", len(rec.records))
	}
	for _, r := range rec.records {
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Errorf("record missing ID or timestamp: %+v", r)
		}
	}
}

func TestRunIdempotentOverTerminalItems(t *testing.T) {
	s := NewStore()
	s.Seed(namedItems("a.jpg", "b.jpg"))
	g := &scriptedGrader{failOn: map[string]error{
		"b.jpg": &oracle.Error{Kind: oracle.KindTransport, Message: "boom"},
	}}
	p := NewProcessor(g, nil, nil, nil)

	if _, err := p.Run(context.Background(), s, testKey(), 0, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := s.Items()
	callsBefore := g.calls

	summary, err := p.Run(context.Background(), s, testKey(), 0, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if g.calls != callsBefore {
		t.Errorf("second run made %d oracle calls, want 0", g.calls-callsBefore)
	}
	if summary.TotalAttempted != 0 {
		t.Errorf("second run attempted %d items, want 0", summary.TotalAttempted)
	}
	after := s.Items()
	for i := range before {
		if before[i].Status != after[i].Status {
			t.Errorf("item %d status changed from %s to %s", i, before[i].Status, after[i].Status)
		}
	}
	if p.CurrentIndex() != 2 {
		t.Errorf("CurrentIndex() = %d, want 2", p.CurrentIndex())
	}
}

func TestRunSingleFailureContinues(t *testing.T) {
	s := NewStore()
	s.Seed(namedItems("a.jpg", "b.jpg", "c.jpg"))
	g := &scriptedGrader{failOn: map[string]error{
		"b.jpg": &oracle.Error{Kind: oracle.KindInvalidImage, Message: "blurry"},
	}}
	n := &memNotifier{}
	p := NewProcessor(g, nil, n, nil)

	summary, err := p.Run(context.Background(), s, testKey(), 0, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.SuccessCount != 2 || summary.ErrorCount != 1 {
		t.Errorf("summary = %+v, want 2 successes and 1 error", summary)
	}
	if summary.SuccessCount+summary.ErrorCount != 3 {
		t.Error("success + error must equal the attempted count")
	}

	items := s.Items()
	if items[0].Status != model.StatusCompleted ||
		items[1].Status != model.StatusError ||
		items[2].Status != model.StatusCompleted {
		t.Errorf("statuses = %s/%s/%s, want completed/error/completed",
			items[0].Status, items[1].Status, items[2].Status)
	}
	if items[1].Error == "" || strings.Contains(items[1].Error, "blurry") {
		t.Errorf("item error %q must be actionable without internal diagnostics", items[1].Error)
	}
	if len(n.warns) != 1 {
		t.Errorf("notifier got %d warnings, want 1", len(n.warns))
	}
}

func TestRunResumeOverAppendedItems(t *testing.T) {
	s := NewStore()
	s.Seed(namedItems("a.jpg", "b.jpg"))
	g := &scriptedGrader{}
	p := NewProcessor(g, nil, nil, nil)

	if _, err := p.Run(context.Background(), s, testKey(), 0, nil); err != nil {
		t.Fatal(err)
	}
	before := s.Items()

	first := s.Append(namedItems("c.jpg", "d.jpg"))
	if !s.HasPendingSheets() {
		t.Fatal("HasPendingSheets must be true after append")
	}

	callsBefore := g.calls
	summary, err := p.Run(context.Background(), s, testKey(), first, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.calls-callsBefore != 2 {
		t.Errorf("resume made %d oracle calls, want 2", g.calls-callsBefore)
	}
	if summary.SuccessCount != 2 {
		t.Errorf("resume summary = %+v, want 2 successes", summary)
	}

	after := s.Items()
	for i := range before {
		if before[i].Status != after[i].Status || before[i].Score != after[i].Score {
			t.Errorf("prior item %d was altered by the resume run", i)
		}
	}
	if s.Progress().CompletedCount != 4 {
		t.Errorf("completed = %d, want 4", s.Progress().CompletedCount)
	}
}

func TestRunCancelBetweenItems(t *testing.T) {
	s := NewStore()
	s.Seed(namedItems("a.jpg", "b.jpg", "c.jpg"))
	cancel := &CancelFlag{}
	g := &scriptedGrader{after: cancel.Cancel}
	p := NewProcessor(g, nil, nil, nil)

	summary, err := p.Run(context.Background(), s, testKey(), 0, cancel)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The in-flight item finishes; the rest stay pending.
	if g.calls != 1 {
		t.Errorf("grader called %d times, want 1", g.calls)
	}
	if summary.SuccessCount != 1 {
		t.Errorf("summary = %+v, want exactly 1 success", summary)
	}
	items := s.Items()
	if items[0].Status != model.StatusCompleted {
		t.Errorf("item 0 = %s, want completed", items[0].Status)
	}
	if items[1].Status != model.StatusPending || items[2].Status != model.StatusPending {
		t.Error("remaining items must stay pending after cancel")
	}

	// The run resumes from the first pending index.
	g.after = nil
	if _, err := p.Run(context.Background(), s, testKey(), s.FirstPendingIndex(), &CancelFlag{}); err != nil {
		t.Fatal(err)
	}
	if s.HasPendingSheets() {
		t.Error("no sheets should remain pending after resume")
	}
}

func TestRunConfigurationErrorBlocksSubmission(t *testing.T) {
	s := NewStore()
	s.Seed(namedItems("a.jpg"))
	g := &scriptedGrader{}
	p := NewProcessor(g, nil, nil, nil)

	_, err := p.Run(context.Background(), s, model.AnswerKeyConfig{}, 0, nil)
	var cfgErr *model.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if g.calls != 0 {
		t.Errorf("grader called %d times before validation, want 0", g.calls)
	}
}

func TestRunPersistenceFailureIsWarning(t *testing.T) {
	s := NewStore()
	s.Seed(namedItems("a.jpg"))
	g := &scriptedGrader{}
	rec := &memRecorder{err: errors.New("disk full")}
	n := &memNotifier{}
	p := NewProcessor(g, rec, n, nil)

	summary, err := p.Run(context.Background(), s, testKey(), 0, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.SuccessCount != 1 || summary.ErrorCount != 0 {
		t.Errorf("summary = %+v, persistence failure must not fail the item", summary)
	}
	if it, _ := s.Item(0); it.Status != model.StatusCompleted {
		t.Errorf("item status = %s, want completed", it.Status)
	}
	if len(n.warns) != 1 {
		t.Errorf("notifier got %d warnings, want 1", len(n.warns))
	}
}
