package model

import (
	"errors"
	"reflect"
	"testing"
)

func TestAnswerKeyConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AnswerKeyConfig
		wantErr bool
	}{
		{"valid", AnswerKeyConfig{Answers: []string{"A", "B", "C", "D"}}, false},
		{"valid lowercase", AnswerKeyConfig{Answers: []string{"a", "b"}}, false},
		{"empty", AnswerKeyConfig{}, true},
		{"bad letter", AnswerKeyConfig{Answers: []string{"A", "F"}}, true},
		{"multi char", AnswerKeyConfig{Answers: []string{"AB"}}, true},
		{"grid matches", AnswerKeyConfig{
			Answers: []string{"A", "B", "C", "D", "E", "A"},
			Grid:    &GridConfig{Rows: 2, Columns: 3},
		}, false},
		{"grid mismatch", AnswerKeyConfig{
			Answers: []string{"A", "B", "C"},
			Grid:    &GridConfig{Rows: 2, Columns: 2},
		}, true},
		{"grid zero rows", AnswerKeyConfig{
			Answers: []string{"A"},
			Grid:    &GridConfig{Rows: 0, Columns: 1},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("expected ConfigurationError, got %T", err)
				}
			}
		})
	}
}

func TestNormalizeAnswers(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		want    int
		expect  []string
	}{
		{"exact", []string{"A", "B"}, 2, []string{"A", "B"}},
		{"pad short", []string{"A"}, 3, []string{"A", "-", "-"}},
		{"truncate long", []string{"A", "B", "C"}, 2, []string{"A", "B"}},
		{"uppercase and trim", []string{" a ", "b"}, 2, []string{"A", "B"}},
		{"blank becomes sentinel", []string{"A", "", "C"}, 3, []string{"A", "-", "C"}},
		{"nil input", nil, 2, []string{"-", "-"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeAnswers(tt.answers, tt.want)
			if !reflect.DeepEqual(got, tt.expect) {
				t.Errorf("NormalizeAnswers() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestBatchStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Error("pending/processing must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusError.Terminal() {
		t.Error("completed/error must be terminal")
	}
}
