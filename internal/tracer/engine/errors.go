package engine

import "fmt"

// Kind distinguishes the error dispositions an engine run can end in.
type Kind int

const (
	// KindParseFailure means the user source failed to compile. Handled
	// one level up, in internal/output, which re-parses independently to
	// recover a precise line/column before emitting the terminal
	// uncaught_exception entry.
	KindParseFailure Kind = iota
	// KindUserException means the traced program raised an error that
	// propagated to the top: a regular, terminal "exception" entry.
	KindUserException
	// KindStepBudgetExceeded means the configured step budget was
	// reached: a terminal "instruction_limit_reached" entry.
	KindStepBudgetExceeded
	// KindInvariantViolation means the engine detected its own bug: a
	// broken bookkeeping invariant that should be impossible. This is
	// fatal.
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindParseFailure:
		return "parse_failure"
	case KindUserException:
		return "user_exception"
	case KindStepBudgetExceeded:
		return "step_budget_exceeded"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// InvariantError is the structured error type engine operations return,
// letting internal/app map straight to an exit-code decision without
// string-matching messages.
type InvariantError struct {
	Kind    Kind
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Kind, e.Message)
}

// stepBudgetSentinel is the internal error PCallUser observes when the
// hook aborts execution deliberately by raising a Lua error once the
// step budget is spent. It is never surfaced to the user: the hook sets
// Engine.budgetHit before raising it, and Run() skips the exception
// entry when that flag is set, leaving the terminal
// instruction_limit_reached entry the hook already appended as the last.
const stepBudgetSentinel = "steptrace: step budget exhausted"
