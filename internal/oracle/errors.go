package oracle

import (
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Kind classifies an oracle failure for retry and messaging decisions.
type Kind string

const (
	// KindInvalidImage means the image failed validation. Non-retryable.
	KindInvalidImage Kind = "invalid_image"
	// KindRateLimited means the oracle asked us to back off. Retryable.
	KindRateLimited Kind = "rate_limited"
	// KindQuotaExhausted means payment or quota ran out. Operator action required.
	KindQuotaExhausted Kind = "quota_exhausted"
	// KindTransport covers network failures and malformed oracle replies.
	KindTransport Kind = "transport"
)

// Error is an oracle failure scoped to a single evaluation attempt.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return "oracle: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later without
// operator intervention.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited
}

// UserMessage is the actionable text recorded on a failed batch item.
// It never exposes internal oracle diagnostics.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindInvalidImage:
		return "The image could not be read. Retake the photo with the full sheet visible."
	case KindRateLimited:
		return "The evaluation service is busy. Try again in a moment."
	case KindQuotaExhausted:
		return "The evaluation service quota is exhausted. Contact your administrator."
	default:
		return "The evaluation service is unavailable. Try again later."
	}
}

// classify maps a go-openai error to the failure taxonomy.
func classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		switch {
		case apiErr.HTTPStatusCode == 400 || apiErr.HTTPStatusCode == 413 || apiErr.HTTPStatusCode == 415:
			return &Error{Kind: KindInvalidImage, Message: "image rejected by service", Err: err}
		case apiErr.HTTPStatusCode == 402,
			strings.Contains(code, "insufficient_quota"),
			strings.Contains(apiErr.Type, "insufficient_quota"):
			return &Error{Kind: KindQuotaExhausted, Message: "quota exhausted", Err: err}
		case apiErr.HTTPStatusCode == 429:
			return &Error{Kind: KindRateLimited, Message: "rate limited", Err: err}
		}
		return &Error{Kind: KindTransport, Message: "service error", Err: err}
	}
	return &Error{Kind: KindTransport, Message: "request failed", Err: err}
}
