package model

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a batch item.
type BatchStatus string

const (
	// StatusPending means the sheet is waiting to be submitted to the oracle.
	StatusPending BatchStatus = "pending"
	// StatusProcessing means the sheet is currently being evaluated.
	StatusProcessing BatchStatus = "processing"
	// StatusCompleted means the sheet was evaluated successfully. Terminal.
	StatusCompleted BatchStatus = "completed"
	// StatusError means evaluation failed for this sheet. Terminal.
	StatusError BatchStatus = "error"
)

// Terminal reports whether a status can no longer change.
func (s BatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Confidence is the oracle-reported certainty band for an extracted answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ImageQuality is the oracle's assessment of the photographed sheet.
type ImageQuality string

const (
	QualityPoor ImageQuality = "poor"
	QualityFair ImageQuality = "fair"
	QualityGood ImageQuality = "good"
)

// UnattemptedMark is the sentinel used for answer slots the student left
// blank or that the oracle did not return.
const UnattemptedMark = "-"

// GridConfig maps answer-box position to question number as rows x columns,
// as an alternative to simple sequential numbering.
type GridConfig struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// AnswerKeyConfig is the immutable per-run evaluation configuration.
// It may be replaced between runs but never mutated while a run is active.
type AnswerKeyConfig struct {
	Answers           []string    `json:"answers"`
	Grid              *GridConfig `json:"grid,omitempty"`
	DetectRollNumber  bool        `json:"detect_roll_number"`
	DetectSubjectCode bool        `json:"detect_subject_code"`
}

// ConfigurationError reports an answer key that cannot be used for a run.
// It blocks submission before any oracle call is made.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "answer key configuration: " + e.Reason
}

// Validate checks the answer key before a run starts.
func (c AnswerKeyConfig) Validate() error {
	if len(c.Answers) == 0 {
		return &ConfigurationError{Reason: "no answers configured"}
	}
	for i, a := range c.Answers {
		u := strings.ToUpper(strings.TrimSpace(a))
		if len(u) != 1 || u[0] < 'A' || u[0] > 'E' {
			return &ConfigurationError{Reason: fmt.Sprintf("answer %d is %q, expected a single letter A-E", i+1, a)}
		}
	}
	if c.Grid != nil {
		if c.Grid.Rows <= 0 || c.Grid.Columns <= 0 {
			return &ConfigurationError{Reason: "grid rows and columns must be positive"}
		}
		if c.Grid.Rows*c.Grid.Columns != len(c.Answers) {
			return &ConfigurationError{Reason: fmt.Sprintf("grid %dx%d does not match %d answers",
				c.Grid.Rows, c.Grid.Columns, len(c.Answers))}
		}
	}
	return nil
}

// BatchItem tracks one answer-sheet image through the pipeline.
// Items are created pending at upload time and mutated only by the processor.
type BatchItem struct {
	FileName    string      `json:"file_name"`
	ContentType string      `json:"content_type,omitempty"`
	ImageData   []byte      `json:"-"`
	Status      BatchStatus `json:"status"`

	// Populated on completion.
	RollNumber     string  `json:"roll_number,omitempty"`
	SubjectCode    string  `json:"subject_code,omitempty"`
	Score          int     `json:"score,omitempty"`
	TotalQuestions int     `json:"total_questions,omitempty"`
	Accuracy       float64 `json:"accuracy,omitempty"`

	// Populated on failure.
	Error string `json:"error,omitempty"`
}

// QuestionResult is the oracle's per-question comparison detail.
type QuestionResult struct {
	Question   int        `json:"question"`
	Extracted  string     `json:"extracted"`
	Correct    string     `json:"correct"`
	IsCorrect  bool       `json:"is_correct"`
	Confidence Confidence `json:"confidence,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// OracleResult is the validated, typed form of an oracle response.
// Loose JSON from the oracle is coerced into this shape at the boundary
// before it enters the pipeline.
type OracleResult struct {
	ExtractedAnswers   []string
	CorrectAnswers     []string
	RollNumber         string
	SubjectCode        string
	Score              int
	TotalQuestions     int
	Accuracy           float64
	Confidence         Confidence
	LowConfidenceCount int
	DetailedResults    []QuestionResult
	QualityIssues      []string
	ImageQuality       ImageQuality
}

// EvaluationRecord is the append-only persisted form of a completed
// evaluation. Created once per successfully processed item, never mutated.
type EvaluationRecord struct {
	ID               string           `json:"id"`
	FileName         string           `json:"file_name"`
	RollNumber       string           `json:"roll_number,omitempty"`
	SubjectCode      string           `json:"subject_code,omitempty"`
	Score            int              `json:"score"`
	TotalQuestions   int              `json:"total_questions"`
	Accuracy         float64          `json:"accuracy"`
	ExtractedAnswers []string         `json:"extracted_answers"`
	CorrectAnswers   []string         `json:"correct_answers"`
	DetailedResults  []QuestionResult `json:"detailed_results,omitempty"`
	Confidence       Confidence       `json:"confidence,omitempty"`
	ImageQuality     ImageQuality     `json:"image_quality,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// BatchRunSummary reports the outcome of one processor run.
type BatchRunSummary struct {
	SuccessCount   int `json:"success_count"`
	ErrorCount     int `json:"error_count"`
	TotalAttempted int `json:"total_attempted"`
}

// NormalizeAnswers pads or truncates answers to want entries so score
// denominators stay well-defined when the oracle violates its contract.
// Missing slots are filled with UnattemptedMark; entries are upper-cased.
func NormalizeAnswers(answers []string, want int) []string {
	out := make([]string, want)
	for i := range out {
		if i < len(answers) {
			a := strings.ToUpper(strings.TrimSpace(answers[i]))
			if a == "" {
				a = UnattemptedMark
			}
			out[i] = a
		} else {
			out[i] = UnattemptedMark
		}
	}
	return out
}
