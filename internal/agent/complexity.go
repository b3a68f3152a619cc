package agent

// Complexity is an ordered estimate of how much work a task is.
// It only influences agent ranking; it is never persisted.
type Complexity int

const (
	Trivial  Complexity = iota // Typo fixes, doc updates
	Simple                     // Single-file changes
	Moderate                   // Multiple files plus tests
	Complex                    // New feature, refactor
	Epic                       // Major feature, architecture work
)

// String returns the lowercase name of the complexity level.
func (c Complexity) String() string {
	switch c {
	case Trivial:
		return "trivial"
	case Simple:
		return "simple"
	case Moderate:
		return "moderate"
	case Complex:
		return "complex"
	case Epic:
		return "epic"
	default:
		return "unknown"
	}
}

// ParseComplexity maps a string to a Complexity, defaulting to Moderate
// for unknown values.
func ParseComplexity(s string) Complexity {
	switch s {
	case "trivial":
		return Trivial
	case "simple":
		return Simple
	case "moderate":
		return Moderate
	case "complex":
		return Complex
	case "epic":
		return Epic
	default:
		return Moderate
	}
}
