package schema

import (
	"strconv"
	"strings"
)

// Key identifies a record across all stage tables. Every stage joins on ID.
type Key struct {
	ID     string
	Domain string // blog, story, news
}

// Sample is one ingested content item, the input of the constraint
// extraction stage.
type Sample struct {
	Key
	SourceText string
	// Pairing is "similar" or "dissimilar" for samples produced by merging
	// a pair, empty for directly ingested samples.
	Pairing string
}

// ConstraintRecord is the output row of the constraint extraction stage.
type ConstraintRecord struct {
	Key
	MainTask    string
	Constraints []Constraint
	// SubsetSize is the bucket size for rows produced by constraint
	// expansion; 0 for unexpanded rows.
	SubsetSize int
	Model      string
	Err        string // non-empty when extraction failed for this record
}

// BaseRecord is the output row of the base generation stage.
type BaseRecord struct {
	Key
	MainTask    string
	BaseContent string
	Model       string
	Err         string
}

// FittedRecord is the output row of the constraint fitting stage. It carries
// forward the constraint list and base content so evaluation is
// self-contained.
type FittedRecord struct {
	Key
	MainTask      string
	Constraints   []Constraint
	BaseContent   string
	FittedContent string
	Passes        int // revision passes spent
	Model         string
	Err           string
}

// EvaluationRecord is the output row of the evaluation stage.
type EvaluationRecord struct {
	Key
	FittedContent    string
	Constraints      []Constraint
	Verdicts         []Verdict
	NumSatisfied     int
	SatisfactionRate float64
	Model            string
	Err              string
}

// QualityRecord is one pairwise quality comparison between the fitted content
// of two constraint buckets of the same record. Side A is always the baseline
// bucket. Scores are out of 5; preferences and the winner are "A" or "B".
type QualityRecord struct {
	Key                 // ID of the unexpanded record both buckets came from
	SubsetA        int  // baseline bucket size
	SubsetB        int  // comparison bucket size
	GrammarA       float64
	GrammarB       float64
	GrammarPref    string
	CoherenceA     float64
	CoherenceB     float64
	CoherencePref  string
	LikabilityA    float64
	LikabilityB    float64
	LikabilityPref string
	Overall        string
	Model          string
	Err            string
}

// Failed reports whether a record was flagged failed at an earlier stage.
func (r ConstraintRecord) Failed() bool { return r.Err != "" }

// Failed reports whether a record was flagged failed at an earlier stage.
func (r BaseRecord) Failed() bool { return r.Err != "" }

// Failed reports whether a record was flagged failed at an earlier stage.
func (r FittedRecord) Failed() bool { return r.Err != "" }

// Failed reports whether evaluation failed for this record.
func (r EvaluationRecord) Failed() bool { return r.Err != "" }

// Failed reports whether the comparison failed for this pair of buckets.
func (r QualityRecord) Failed() bool { return r.Err != "" }

// FormatVerdicts renders verdicts in the "1. Yes - explanation" wire form
// used by the evaluation results table.
func FormatVerdicts(vs []Verdict) string {
	var b strings.Builder
	for i, v := range vs {
		if i > 0 {
			b.WriteByte('\n')
		}
		word := "No"
		if v.Satisfied {
			word = "Yes"
		}
		b.WriteString(strings.TrimSpace(
			strconv.Itoa(v.Index) + ". " + word + " - " + v.Explanation))
	}
	return b.String()
}
