package fitting

import "fmt"

// ErrorKind classifies fitting failures.
type ErrorKind int

const (
	// GenerationFailed - the model never produced a usable draft.
	GenerationFailed ErrorKind = iota
	// BudgetExceeded - the pass budget ran out with constraints still
	// unsatisfied and the run requires full satisfaction.
	BudgetExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case GenerationFailed:
		return "generation_failed"
	case BudgetExceeded:
		return "budget_exceeded"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// FittingError reports that a record could not be fitted.
type FittingError struct {
	Kind     ErrorKind
	RecordID string
	Passes   int
	Cause    error
}

func (e *FittingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fitting: record %s: %s after %d passes: %v", e.RecordID, e.Kind, e.Passes, e.Cause)
	}
	return fmt.Sprintf("fitting: record %s: %s after %d passes", e.RecordID, e.Kind, e.Passes)
}

func (e *FittingError) Unwrap() error { return e.Cause }
