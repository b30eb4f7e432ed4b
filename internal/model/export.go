package model

// ExportSettings controls the styling of generated workbooks.
// Owned by the calling context; read-only to the report builder.
// The logo is written into the header block as a hyperlink to
// SchoolLogoURL, not embedded as an image.
type ExportSettings struct {
	HeaderColor   string `json:"header_color"` // hex RGB without '#'
	FontFamily    string `json:"font_family"`
	IncludeHeader bool   `json:"include_header"`
	IncludeLogo   bool   `json:"include_logo"`
	SchoolName    string `json:"school_name,omitempty"`
	SchoolLogoURL string `json:"school_logo_url,omitempty"`
	FooterText    string `json:"footer_text,omitempty"`
}

// DefaultExportSettings returns the styling used when the caller supplies none.
func DefaultExportSettings() ExportSettings {
	return ExportSettings{
		HeaderColor:   "4472C4",
		FontFamily:    "Calibri",
		IncludeHeader: true,
	}
}

// GradeDistribution counts completed items per accuracy bucket.
// Bucket lower bounds are inclusive: excellent >= 90, good [75, 90),
// average [50, 75), needs improvement < 50.
type GradeDistribution struct {
	Excellent        int `json:"excellent"`
	Good             int `json:"good"`
	Average          int `json:"average"`
	NeedsImprovement int `json:"needs_improvement"`
}

// ScoreRef points at the item owning an extremal or median score.
type ScoreRef struct {
	Index      int    `json:"index"`
	FileName   string `json:"file_name"`
	RollNumber string `json:"roll_number,omitempty"`
	Score      int    `json:"score"`
}

// AggregatedStats is derived on demand from the completed items of a batch.
// Never persisted.
type AggregatedStats struct {
	ScoredCount    int               `json:"scored_count"`
	AvgAccuracy    float64           `json:"avg_accuracy"`
	AvgScore       float64           `json:"avg_score"`
	TotalQuestions int               `json:"total_questions"`
	Highest        ScoreRef          `json:"highest"`
	Lowest         ScoreRef          `json:"lowest"`
	Distribution   GradeDistribution `json:"grade_distribution"`
	PassRate       float64           `json:"pass_rate"` // fraction 0..1 with accuracy >= 50
	// MixedKeyLengths is set when scored items disagree on question count.
	MixedKeyLengths bool `json:"mixed_key_lengths,omitempty"`
}
