// Package oracle talks to the external image-understanding service that
// extracts and scores handwritten answer sheets. Responses arrive as loose
// JSON and are coerced into the strict typed schema before they enter the
// pipeline.
package oracle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"omrgrader/internal/model"
)

// Client wraps an OpenAI-compatible vision API endpoint.
type Client struct {
	api   *openai.Client
	model string
}

// New creates an oracle client for the given endpoint.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the oracle endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("oracle health check: %w", err)
	}
	return nil
}

// wireResult mirrors the oracle's JSON response contract.
type wireResult struct {
	ExtractedAnswers   []string     `json:"extractedAnswers"`
	CorrectAnswers     []string     `json:"correctAnswers"`
	RollNumber         string       `json:"rollNumber"`
	SubjectCode        string       `json:"subjectCode"`
	Score              int          `json:"score"`
	TotalQuestions     int          `json:"totalQuestions"`
	Accuracy           float64      `json:"accuracy"`
	Confidence         string       `json:"confidence"`
	LowConfidenceCount int          `json:"lowConfidenceCount"`
	DetailedResults    []wireDetail `json:"detailedResults"`
	QualityIssues      []string     `json:"qualityIssues"`
	ImageQuality       string       `json:"imageQuality"`
}

type wireDetail struct {
	Question   int    `json:"question"`
	Extracted  string `json:"extracted"`
	Correct    string `json:"correct"`
	IsCorrect  bool   `json:"isCorrect"`
	Confidence string `json:"confidence"`
	Note       string `json:"note"`
}

// Grade submits one sheet photo with the answer key and returns the scored
// comparison. Failures are typed *Error values classified as invalid input,
// rate limit, quota, or transport.
func (c *Client) Grade(ctx context.Context, image []byte, contentType string, cfg model.AnswerKeyConfig) (*model.OracleResult, error) {
	if len(image) == 0 {
		return nil, &Error{Kind: KindInvalidImage, Message: "empty image"}
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildSystemPrompt(cfg),
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Evaluate this answer sheet.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindTransport, Message: "empty response"}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("oracle response", "raw", raw)

	var wire wireResult
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, &Error{Kind: KindTransport, Message: "unparseable response", Err: err}
	}

	return coerceResult(wire, cfg), nil
}

// coerceResult validates the loose oracle reply against the configured key.
// Wrong-length answer arrays are padded with the unattempted sentinel or
// truncated, and the score is recounted so the denominator always equals the
// configured question count.
func coerceResult(wire wireResult, cfg model.AnswerKeyConfig) *model.OracleResult {
	total := len(cfg.Answers)
	key := model.NormalizeAnswers(cfg.Answers, total)
	extracted := model.NormalizeAnswers(wire.ExtractedAnswers, total)

	score := wire.Score
	accuracy := wire.Accuracy
	contractOK := len(wire.ExtractedAnswers) == total &&
		wire.TotalQuestions == total &&
		score >= 0 && score <= total
	if !contractOK {
		if len(wire.ExtractedAnswers) != total {
			slog.Warn("oracle returned wrong answer count, normalizing",
				"got", len(wire.ExtractedAnswers), "want", total)
		}
		score = 0
		for i := range key {
			if extracted[i] == key[i] {
				score++
			}
		}
		accuracy = 0
		if total > 0 {
			accuracy = float64(score) / float64(total) * 100
		}
	}

	details := make([]model.QuestionResult, total)
	lowCount := 0
	for i := 0; i < total; i++ {
		d := model.QuestionResult{
			Question:  i + 1,
			Extracted: extracted[i],
			Correct:   key[i],
			IsCorrect: extracted[i] == key[i],
		}
		if i < len(wire.DetailedResults) {
			d.Confidence = parseConfidence(wire.DetailedResults[i].Confidence)
			d.Note = wire.DetailedResults[i].Note
		}
		if d.Confidence == model.ConfidenceLow {
			lowCount++
		}
		details[i] = d
	}
	if wire.LowConfidenceCount > 0 {
		lowCount = wire.LowConfidenceCount
	}

	return &model.OracleResult{
		ExtractedAnswers:   extracted,
		CorrectAnswers:     key,
		RollNumber:         wire.RollNumber,
		SubjectCode:        wire.SubjectCode,
		Score:              score,
		TotalQuestions:     total,
		Accuracy:           accuracy,
		Confidence:         parseConfidence(wire.Confidence),
		LowConfidenceCount: lowCount,
		DetailedResults:    details,
		QualityIssues:      wire.QualityIssues,
		ImageQuality:       parseQuality(wire.ImageQuality),
	}
}

func parseConfidence(s string) model.Confidence {
	switch model.Confidence(s) {
	case model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow:
		return model.Confidence(s)
	}
	return ""
}

func parseQuality(s string) model.ImageQuality {
	switch model.ImageQuality(s) {
	case model.QualityPoor, model.QualityFair, model.QualityGood:
		return model.ImageQuality(s)
	}
	return ""
}
