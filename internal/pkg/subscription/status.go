package subscription

// ExternalStatus is the position of one external subscription in its lifecycle.
type ExternalStatus string

const (
	StatusNone      ExternalStatus = "none"
	StatusTrialing  ExternalStatus = "trialing"
	StatusActive    ExternalStatus = "active"
	StatusPastDue   ExternalStatus = "past_due"
	StatusCancelled ExternalStatus = "cancelled"
)

type statusTransition struct {
	From ExternalStatus
	To   ExternalStatus
}

var validTransitions = map[statusTransition]struct{}{
	{StatusNone, StatusActive}:   {},
	{StatusNone, StatusTrialing}: {},

	{StatusTrialing, StatusTrialing}:  {},
	{StatusTrialing, StatusActive}:    {},
	{StatusTrialing, StatusPastDue}:   {},
	{StatusTrialing, StatusCancelled}: {},

	{StatusActive, StatusActive}:    {},
	{StatusActive, StatusPastDue}:   {},
	{StatusActive, StatusCancelled}: {},

	{StatusPastDue, StatusPastDue}:   {},
	{StatusPastDue, StatusActive}:    {},
	{StatusPastDue, StatusCancelled}: {},

	// Re-subscription, either with a new or a reused external subscription id.
	{StatusCancelled, StatusActive}:    {},
	{StatusCancelled, StatusTrialing}:  {},
	{StatusCancelled, StatusCancelled}: {},
}

// CanTransition reports whether an external subscription may move from one status to another.
func CanTransition(from, to ExternalStatus) bool {
	if from == "" {
		from = StatusNone
	}
	_, ok := validTransitions[statusTransition{From: from, To: to}]
	return ok
}
