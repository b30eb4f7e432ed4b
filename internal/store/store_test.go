package store

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"omrgrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(fileName string, created time.Time) model.EvaluationRecord {
	return model.EvaluationRecord{
		ID:               uuid.NewString(),
		FileName:         fileName,
		RollNumber:       "R7",
		SubjectCode:      "M1",
		Score:            3,
		TotalQuestions:   4,
		Accuracy:         75,
		ExtractedAnswers: []string{"A", "B", "C", "A"},
		CorrectAnswers:   []string{"A", "B", "C", "D"},
		DetailedResults: []model.QuestionResult{
			{Question: 1, Extracted: "A", Correct: "A", IsCorrect: true, Confidence: model.ConfidenceHigh},
			{Question: 4, Extracted: "A", Correct: "D", IsCorrect: false, Confidence: model.ConfidenceLow, Note: "smudged"},
		},
		Confidence:   model.ConfidenceMedium,
		ImageQuality: model.QualityGood,
		CreatedAt:    created,
	}
}

func TestEvaluationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.EvaluationCount(ctx)
	if err != nil {
		t.Fatalf("EvaluationCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store, got %d records", count)
	}

	rec := testRecord("sheet1.jpg", time.Now().UTC().Truncate(time.Second))
	if err := s.InsertEvaluation(ctx, rec); err != nil {
		t.Fatalf("InsertEvaluation: %v", err)
	}

	got, err := s.GetEvaluation(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetEvaluation: %v", err)
	}
	if got.FileName != rec.FileName || got.RollNumber != rec.RollNumber {
		t.Errorf("got %+v, want %+v", got, rec)
	}
	if !reflect.DeepEqual(got.ExtractedAnswers, rec.ExtractedAnswers) {
		t.Errorf("extracted answers = %v, want %v", got.ExtractedAnswers, rec.ExtractedAnswers)
	}
	if !reflect.DeepEqual(got.DetailedResults, rec.DetailedResults) {
		t.Errorf("detailed results = %v, want %v", got.DetailedResults, rec.DetailedResults)
	}
	if got.Confidence != model.ConfidenceMedium || got.ImageQuality != model.QualityGood {
		t.Errorf("enums = %q/%q, want medium/good", got.Confidence, got.ImageQuality)
	}

	// Missing ID.
	_, err = s.GetEvaluation(ctx, "nope")
	if err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestListEvaluationsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if err := s.InsertEvaluation(ctx, testRecord(name, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
	}

	recs, err := s.ListEvaluations(ctx)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, want := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if recs[i].FileName != want {
			t.Errorf("record %d = %s, want %s", i, recs[i].FileName, want)
		}
	}

	since, err := s.ListEvaluationsSince(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListEvaluationsSince: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("since filter returned %d records, want 2", len(since))
	}
}

func TestAnswerKeyMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetAnswerKey(ctx)
	if err != nil {
		t.Fatalf("GetAnswerKey: %v", err)
	}
	if ok {
		t.Fatal("expected no stored key")
	}

	cfg := model.AnswerKeyConfig{
		Answers:          []string{"A", "B", "C", "D"},
		Grid:             &model.GridConfig{Rows: 2, Columns: 2},
		DetectRollNumber: true,
	}
	if err := s.SetAnswerKey(ctx, cfg); err != nil {
		t.Fatalf("SetAnswerKey: %v", err)
	}

	got, ok, err := s.GetAnswerKey(ctx)
	if err != nil {
		t.Fatalf("GetAnswerKey: %v", err)
	}
	if !ok {
		t.Fatal("expected a stored key")
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("got %+v, want %+v", got, cfg)
	}

	// Replacing the key for a new run overwrites the stored one.
	cfg2 := model.AnswerKeyConfig{Answers: []string{"E", "E"}}
	if err := s.SetAnswerKey(ctx, cfg2); err != nil {
		t.Fatalf("SetAnswerKey replace: %v", err)
	}
	got, _, _ = s.GetAnswerKey(ctx)
	if len(got.Answers) != 2 {
		t.Errorf("replaced key has %d answers, want 2", len(got.Answers))
	}
}
