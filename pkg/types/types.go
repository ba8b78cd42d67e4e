package types

// ProtocolVersion is sent with every acquire request so the server can
// reject workers speaking an older schema.
const ProtocolVersion = 1

// JobClass distinguishes jobs requested by a person from background work.
type JobClass string

const (
	ClassUser   JobClass = "user"
	ClassSystem JobClass = "system"
)

// Valid reports whether c is one of the known job classes.
func (c JobClass) Valid() bool {
	return c == ClassUser || c == ClassSystem
}

// Outcome is the terminal state reported for an accepted job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)
