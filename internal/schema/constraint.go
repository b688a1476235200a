// Package schema defines the constraint wire format shared by every pipeline
// stage, plus the per-stage record layouts that move between stage tables.
//
// Constraints travel inside CSV cells as a numbered list ("1. ...\n2. ..."),
// one constraint per line. Parse and Format round-trip that representation.
package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Constraint is one atomic, checkable content requirement.
type Constraint struct {
	Index       int    // 1-based, stable ordering within a record
	Description string // natural-language instruction
	Category    string // optional type tag (content, structure, reasoning, style)
}

// Verdict is a per-constraint satisfaction judgement.
type Verdict struct {
	Index       int    // matches Constraint.Index
	Satisfied   bool
	Explanation string
}

// SchemaErrorKind classifies constraint validation failures.
type SchemaErrorKind int

const (
	// WrongCount - the set does not contain exactly the configured number
	// of constraints.
	WrongCount SchemaErrorKind = iota
	// MalformedEntry - a constraint has an empty description or a broken
	// index sequence.
	MalformedEntry
)

func (k SchemaErrorKind) String() string {
	switch k {
	case WrongCount:
		return "wrong_count"
	case MalformedEntry:
		return "malformed_entry"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// SchemaError reports a constraint set that failed validation. Validation
// failures are never auto-corrected; callers must surface them.
type SchemaError struct {
	Kind  SchemaErrorKind
	Want  int    // expected count (WrongCount)
	Got   int    // observed count (WrongCount)
	Index int    // offending constraint index (MalformedEntry)
	Msg   string
}

func (e *SchemaError) Error() string {
	switch e.Kind {
	case WrongCount:
		return fmt.Sprintf("constraint schema: expected %d constraints, got %d", e.Want, e.Got)
	case MalformedEntry:
		return fmt.Sprintf("constraint schema: constraint %d: %s", e.Index, e.Msg)
	default:
		return fmt.Sprintf("constraint schema: %s", e.Msg)
	}
}

// constraintLine matches one numbered list entry, with an optional
// bracketed category tag: "12. [structure] The blog should ...".
var constraintLine = regexp.MustCompile(`^\s*(\d+)\.\s*(?:\[([^\]]+)\]\s*)?(.*\S)\s*$`)

// Parse extracts an ordered constraint list from its numbered-list wire
// representation. Lines that do not look like list entries are ignored, so
// the input may carry surrounding prose (e.g. a raw model response).
func Parse(raw string) []Constraint {
	var out []Constraint
	for _, line := range strings.Split(raw, "\n") {
		m := constraintLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, Constraint{
			Index:       idx,
			Category:    strings.TrimSpace(m[2]),
			Description: strings.TrimSpace(m[3]),
		})
	}
	return out
}

// Format renders constraints back to the numbered-list wire form. The output
// of Format is accepted by Parse unchanged.
func Format(cs []Constraint) string {
	var b strings.Builder
	for i, c := range cs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(c.Index))
		b.WriteString(". ")
		if c.Category != "" {
			b.WriteString("[" + c.Category + "] ")
		}
		b.WriteString(c.Description)
	}
	return b.String()
}

// Subset returns the first n constraints renumbered from 1, or a renumbered
// copy of the whole list when it holds fewer than n. The expansion stage uses
// it to build progressive constraint buckets.
func Subset(cs []Constraint, n int) []Constraint {
	if n > len(cs) {
		n = len(cs)
	}
	out := make([]Constraint, n)
	for i := 0; i < n; i++ {
		out[i] = cs[i]
		out[i].Index = i + 1
	}
	return out
}

// Unsatisfied filters a constraint list down to the entries whose verdict is
// negative. Verdicts align to constraints by index.
func Unsatisfied(cs []Constraint, vs []Verdict) []Constraint {
	bad := make(map[int]bool, len(vs))
	for _, v := range vs {
		if !v.Satisfied {
			bad[v.Index] = true
		}
	}
	var out []Constraint
	for _, c := range cs {
		if bad[c.Index] {
			out = append(out, c)
		}
	}
	return out
}

// SubsetID derives the record ID of one constraint bucket from the ID of the
// record it was expanded from.
func SubsetID(id string, size int) string {
	return id + "#" + strconv.Itoa(size)
}

// SplitSubsetID recovers the original record ID and bucket size from an
// expanded record ID. IDs without a bucket suffix return size 0.
func SplitSubsetID(id string) (string, int) {
	i := strings.LastIndex(id, "#")
	if i < 0 {
		return id, 0
	}
	size, err := strconv.Atoi(id[i+1:])
	if err != nil || size <= 0 {
		return id, 0
	}
	return id[:i], size
}

// Validate checks that cs holds exactly n well-formed constraints: contiguous
// indexes starting at 1 and non-empty descriptions. Duplicate descriptions
// are allowed; textually similar constraints may be genuinely distinct
// requirements and near-duplicate detection is not a schema concern.
func Validate(cs []Constraint, n int) error {
	if len(cs) != n {
		return &SchemaError{Kind: WrongCount, Want: n, Got: len(cs)}
	}
	for i, c := range cs {
		if c.Index != i+1 {
			return &SchemaError{
				Kind:  MalformedEntry,
				Index: c.Index,
				Msg:   fmt.Sprintf("expected index %d at position %d", i+1, i),
			}
		}
		if strings.TrimSpace(c.Description) == "" {
			return &SchemaError{Kind: MalformedEntry, Index: c.Index, Msg: "empty description"}
		}
	}
	return nil
}
