package workflow

// Trigger is a routing action that moves an idea between states
type Trigger string

const (
	TriggerRouteToAnalyst      Trigger = "route_to_analyst"
	TriggerRouteToFinance      Trigger = "route_to_finance"
	TriggerRouteToDevelopers   Trigger = "route_to_developers"
	TriggerReject              Trigger = "reject"
	TriggerMarkDuplicate       Trigger = "mark_duplicate"
	TriggerMarkImprovement     Trigger = "mark_improvement"
	TriggerStartImplementation Trigger = "start_implementation"
	TriggerComplete            Trigger = "complete"
)

var validTriggers = map[Trigger]bool{
	TriggerRouteToAnalyst:      true,
	TriggerRouteToFinance:      true,
	TriggerRouteToDevelopers:   true,
	TriggerReject:              true,
	TriggerMarkDuplicate:       true,
	TriggerMarkImprovement:     true,
	TriggerStartImplementation: true,
	TriggerComplete:            true,
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsValid reports whether t is a known trigger.
func (t Trigger) IsValid() bool {
	return validTriggers[t]
}

// ParseTrigger converts raw input into a Trigger.
func ParseTrigger(raw string) (Trigger, error) {
	t := Trigger(raw)
	if !t.IsValid() {
		return "", ErrUnknownTrigger
	}
	return t, nil
}
