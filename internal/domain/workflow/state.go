package workflow

// State is the lifecycle status of an idea. The set is closed: values outside
// the constants below are rejected by IsValid and by the storage schema.
type State string

const (
	StateNew                 State = "new"
	StateAnalystReview       State = "analyst_review"
	StateFinanceReview       State = "finance_review"
	StateDeveloperAssignment State = "developer_assignment"
	StateImplementation      State = "implementation"
	StateCompleted           State = "completed"
	StateRejected            State = "rejected"
	StateDuplicate           State = "duplicate"
	StateImprovement         State = "improvement"
)

// AllStates lists every state in pipeline order.
var AllStates = []State{
	StateNew,
	StateAnalystReview,
	StateFinanceReview,
	StateDeveloperAssignment,
	StateImplementation,
	StateCompleted,
	StateRejected,
	StateDuplicate,
	StateImprovement,
}

var validStates = map[State]bool{
	StateNew:                 true,
	StateAnalystReview:       true,
	StateFinanceReview:       true,
	StateDeveloperAssignment: true,
	StateImplementation:      true,
	StateCompleted:           true,
	StateRejected:            true,
	StateDuplicate:           true,
	StateImprovement:         true,
}

var terminalStates = map[State]bool{
	StateCompleted:   true,
	StateRejected:    true,
	StateDuplicate:   true,
	StateImprovement: true,
}

// Stage identifies a timed review stage.
type Stage string

const (
	StageNone      Stage = ""
	StageAnalyst   Stage = "analyst"
	StageFinance   Stage = "finance"
	StageDeveloper Stage = "developer"
)

// IsTerminal returns true if no further transitions are allowed from s
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is one of the defined statuses
func (s State) IsValid() bool {
	return validStates[s]
}

// Stage returns the SLA stage an idea in this state is waiting in.
func (s State) Stage() Stage {
	switch s {
	case StateAnalystReview:
		return StageAnalyst
	case StateFinanceReview:
		return StageFinance
	case StateDeveloperAssignment:
		return StageDeveloper
	default:
		return StageNone
	}
}

// ParseState converts raw input into a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", ErrInvalidState
	}
	return s, nil
}
