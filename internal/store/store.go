// Package store persists evaluation records in SQLite. Records are
// append-only history: inserted once per successfully processed sheet and
// never mutated.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"omrgrader/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		roll_number TEXT NOT NULL DEFAULT '',
		subject_code TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		accuracy REAL NOT NULL,
		extracted_answers TEXT NOT NULL,
		correct_answers TEXT NOT NULL,
		detailed_results TEXT NOT NULL DEFAULT '[]',
		confidence TEXT NOT NULL DEFAULT '',
		image_quality TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evaluations_subject ON evaluations(subject_code);
	CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertEvaluation stores one evaluation record.
func (s *Store) InsertEvaluation(ctx context.Context, rec model.EvaluationRecord) error {
	extracted, err := json.Marshal(rec.ExtractedAnswers)
	if err != nil {
		return fmt.Errorf("encode extracted answers: %w", err)
	}
	correct, err := json.Marshal(rec.CorrectAnswers)
	if err != nil {
		return fmt.Errorf("encode correct answers: %w", err)
	}
	details, err := json.Marshal(rec.DetailedResults)
	if err != nil {
		return fmt.Errorf("encode detailed results: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, file_name, roll_number, subject_code, score,
		 total_questions, accuracy, extracted_answers, correct_answers,
		 detailed_results, confidence, image_quality, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, rec.RollNumber, rec.SubjectCode, rec.Score,
		rec.TotalQuestions, rec.Accuracy, string(extracted), string(correct),
		string(details), string(rec.Confidence), string(rec.ImageQuality), rec.CreatedAt,
	)
	return err
}

// GetEvaluation returns one record by ID.
func (s *Store) GetEvaluation(ctx context.Context, id string) (model.EvaluationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_name, roll_number, subject_code, score, total_questions,
		 accuracy, extracted_answers, correct_answers, detailed_results,
		 confidence, image_quality, created_at
		 FROM evaluations WHERE id = ?`, id)
	return scanEvaluation(row)
}

// ListEvaluations returns all records in insertion order.
func (s *Store) ListEvaluations(ctx context.Context) ([]model.EvaluationRecord, error) {
	return s.queryEvaluations(ctx,
		`SELECT id, file_name, roll_number, subject_code, score, total_questions,
		 accuracy, extracted_answers, correct_answers, detailed_results,
		 confidence, image_quality, created_at
		 FROM evaluations ORDER BY created_at, id`)
}

// ListEvaluationsSince returns records created at or after the given time,
// in insertion order.
func (s *Store) ListEvaluationsSince(ctx context.Context, since time.Time) ([]model.EvaluationRecord, error) {
	return s.queryEvaluations(ctx,
		`SELECT id, file_name, roll_number, subject_code, score, total_questions,
		 accuracy, extracted_answers, correct_answers, detailed_results,
		 confidence, image_quality, created_at
		 FROM evaluations WHERE created_at >= ? ORDER BY created_at, id`, since)
}

// EvaluationCount returns the number of stored records.
func (s *Store) EvaluationCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations`).Scan(&count)
	return count, err
}

func (s *Store) queryEvaluations(ctx context.Context, query string, args ...any) ([]model.EvaluationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.EvaluationRecord
	for rows.Next() {
		rec, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (model.EvaluationRecord, error) {
	var rec model.EvaluationRecord
	var extracted, correct, details, confidence, quality string
	err := row.Scan(&rec.ID, &rec.FileName, &rec.RollNumber, &rec.SubjectCode,
		&rec.Score, &rec.TotalQuestions, &rec.Accuracy,
		&extracted, &correct, &details, &confidence, &quality, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(extracted), &rec.ExtractedAnswers); err != nil {
		return rec, fmt.Errorf("decode extracted answers for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(correct), &rec.CorrectAnswers); err != nil {
		return rec, fmt.Errorf("decode correct answers for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(details), &rec.DetailedResults); err != nil {
		return rec, fmt.Errorf("decode detailed results for %s: %w", rec.ID, err)
	}
	rec.Confidence = model.Confidence(confidence)
	rec.ImageQuality = model.ImageQuality(quality)
	return rec, nil
}
