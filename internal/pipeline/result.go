package pipeline

import "fmt"

type ResultKind int

const (
	// Completed covers both a recorded disposition and the vanished
	// object skip; either way the event needs no redelivery.
	Completed ResultKind = iota
	// TransientFailure means redelivery may succeed.
	TransientFailure
	// PermanentFailure means redelivery will not help. No dead-letter
	// policy exists, so the consumer treats it like a transient
	// failure; the distinction only changes how it is reported.
	PermanentFailure
)

type Result struct {
	Kind   ResultKind
	Reason string
	Err    error
}

func (r Result) Done() bool { return r.Kind == Completed }

func (r Result) String() string {
	switch r.Kind {
	case Completed:
		return "completed"
	case TransientFailure:
		return fmt.Sprintf("transient failure: %s", r.Reason)
	case PermanentFailure:
		return fmt.Sprintf("permanent failure: %s", r.Reason)
	default:
		return "unknown"
	}
}

func completed() Result {
	return Result{Kind: Completed}
}

func transient(reason string, err error) Result {
	return Result{Kind: TransientFailure, Reason: reason, Err: err}
}

func permanent(reason string, err error) Result {
	return Result{Kind: PermanentFailure, Reason: reason, Err: err}
}
