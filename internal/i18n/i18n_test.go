package i18n

import (
	"context"
	"strings"
	"testing"
)

func TestInitAndTranslate(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx := WithLanguage(context.Background(), "en")

	got := T(ctx, "report.batch_title")
	if got != "Batch Evaluation Report" {
		t.Errorf("T() = %q", got)
	}

	got = Td(ctx, "insight.review_fundamentals", map[string]any{"Count": 7})
	if !strings.Contains(got, "7") {
		t.Errorf("Td() = %q, want the count interpolated", got)
	}
	if !strings.Contains(got, "fundamentals") {
		t.Errorf("Td() = %q, want the recommendation text", got)
	}
}

func TestMissingIDFallsBackToID(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := T(context.Background(), "no.such.id"); got != "no.such.id" {
		t.Errorf("T() = %q, want the message ID back", got)
	}
}

func TestInitBadLanguage(t *testing.T) {
	if err := Init("definitely-not-a-tag!"); err == nil {
		t.Error("expected error for invalid language tag")
	}
}
