package eval

import "fmt"

// ErrorKind classifies evaluation failures.
type ErrorKind int

const (
	// JudgementUnavailable - the judge model never produced a parseable
	// verdict set within the retry budget.
	JudgementUnavailable ErrorKind = iota
)

func (k ErrorKind) String() string {
	switch k {
	case JudgementUnavailable:
		return "judgement_unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// EvaluationError reports that a record could not be judged. Records carrying
// this error get no satisfaction rate; an unparseable judgement is never
// coerced to zero.
type EvaluationError struct {
	Kind     ErrorKind
	RecordID string
	Cause    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation: record %s: %s: %v", e.RecordID, e.Kind, e.Cause)
}

func (e *EvaluationError) Unwrap() error { return e.Cause }
