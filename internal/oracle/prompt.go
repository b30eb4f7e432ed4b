package oracle

import (
	"fmt"
	"strings"

	"omrgrader/internal/model"
)

// buildSystemPrompt describes the sheet layout and the exact JSON shape the
// oracle must return for one answer-sheet photo.
func buildSystemPrompt(cfg model.AnswerKeyConfig) string {
	var sb strings.Builder
	sb.WriteString("You are an answer sheet evaluator. You receive a photo of a multiple-choice ")
	sb.WriteString("answer sheet where each question is answered with a single letter A-E.\n\n")

	sb.WriteString(fmt.Sprintf("The sheet contains %d questions.\n", len(cfg.Answers)))
	if cfg.Grid != nil {
		sb.WriteString(fmt.Sprintf(
			"Answer boxes are laid out in a grid of %d rows and %d columns; read them row by row, left to right.\n",
			cfg.Grid.Rows, cfg.Grid.Columns))
	} else {
		sb.WriteString("Answer boxes are numbered sequentially from top to bottom.\n")
	}

	sb.WriteString("\nANSWER KEY (question number: correct answer):\n")
	for i, a := range cfg.Answers {
		sb.WriteString(fmt.Sprintf("%d: %s\n", i+1, strings.ToUpper(a)))
	}

	sb.WriteString("\nINSTRUCTIONS:\n")
	sb.WriteString("- Extract the marked answer for every question. Use \"" + model.UnattemptedMark + "\" for blank or unreadable marks.\n")
	sb.WriteString("- Compare each extracted answer against the answer key and score the sheet.\n")
	if cfg.DetectRollNumber {
		sb.WriteString("- Extract the student's roll number written on the sheet.\n")
	}
	if cfg.DetectSubjectCode {
		sb.WriteString("- Extract the subject code written on the sheet.\n")
	}
	sb.WriteString("- Report per-answer confidence as high, medium, or low.\n")
	sb.WriteString("- Note any image quality issues that affected extraction.\n")

	sb.WriteString("\nRespond ONLY with a JSON object with these fields:\n")
	sb.WriteString(`{"extractedAnswers": ["A", ...], "correctAnswers": ["A", ...], ` +
		`"rollNumber": "<string or empty>", "subjectCode": "<string or empty>", ` +
		`"score": <int>, "totalQuestions": <int>, "accuracy": <number 0-100>, ` +
		`"confidence": "high|medium|low", "lowConfidenceCount": <int>, ` +
		`"detailedResults": [{"question": <int>, "extracted": "<letter>", "correct": "<letter>", ` +
		`"isCorrect": <bool>, "confidence": "high|medium|low", "note": "<string>"}], ` +
		`"qualityIssues": ["<string>"], "imageQuality": "poor|fair|good"}`)
	sb.WriteString("\n")

	return sb.String()
}
