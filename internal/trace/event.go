package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1 // span start
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd // span end
	// KindPoint represents an instant event.
	KindPoint // instant event
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent higher-level/coarser events.
type Scope uint8

const (
	// ScopeRoutine represents one whole acquisition.
	ScopeRoutine Scope = iota + 1
	// ScopePhase represents pipeline phases (lower, optimize, encode, link).
	ScopePhase
	// ScopePass represents individual optimization passes.
	ScopePass
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeRoutine:
		return "routine"
	case ScopePhase:
		return "phase"
	case ScopePass:
		return "pass"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time    time.Time // wall-clock timestamp
	Seq     uint64    // global sequence number (monotonic)
	Kind    Kind      // event kind
	Scope   Scope     // granularity level
	Routine string    // acquisition name, e.g. "demo_square"
	Session uint64    // code generation session tag
	Name    string    // e.g. "encode", "pass:cfg"
	Detail  string    // optional detail message
}
