package ir

import "fmt"

// StatementState is the lifecycle state of a continuous-query statement.
//
// The zero value is StateUnassociated: the statement is registered with a
// session but has no engine-side handle yet. Once associated, the engine
// owns the state and it moves between StateStarted and StateStopped until
// StateDestroyed, which is terminal.
type StatementState int

const (
	StateUnassociated StatementState = iota
	StateStarted
	StateStopped
	StateDestroyed
)

var stateNames = map[StatementState]string{
	StateUnassociated: "UNASSOCIATED",
	StateStarted:      "STARTED",
	StateStopped:      "STOPPED",
	StateDestroyed:    "DESTROYED",
}

// String returns the upper-case state name.
func (s StatementState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatementState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler so states render by name
// in JSON output and store rows.
func (s StatementState) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown statement state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StatementState) UnmarshalText(text []byte) error {
	state, err := ParseStatementState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ParseStatementState is the inverse of String.
func ParseStatementState(name string) (StatementState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return StateUnassociated, fmt.Errorf("unknown statement state %q", name)
}

// Terminal reports whether no further transition is possible.
func (s StatementState) Terminal() bool {
	return s == StateDestroyed
}

// Result is one statement match: the engine evaluated Event against the
// statement's query and the query held.
type Result struct {
	Session     string `json:"session"`
	StatementID string `json:"statement_id"`
	Seq         int64  `json:"seq"` // Logical clock of the engine that produced it
	Event       any    `json:"event"`
}

// Unmatched is an event the engine delivered to no statement.
type Unmatched struct {
	Session string `json:"session"`
	Seq     int64  `json:"seq"`
	Event   any    `json:"event"`
}

// Transition records a statement reaching a lifecycle state.
type Transition struct {
	Session     string         `json:"session"`
	StatementID string         `json:"statement_id"`
	State       StatementState `json:"state"`
}
