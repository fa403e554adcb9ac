package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
}

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {StatusRefunded: true},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	_, ok := validNext[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ValidateTransition returns an *InvalidTransitionError when from -> to is not
// in the transition table.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	out := make([]Status, 0, len(validNext[s]))
	for _, st := range AllStatuses {
		if validNext[s][st] {
			out = append(out, st)
		}
	}
	return out
}

// ValidateHistory checks that history starts at pending and every entry is a
// legal step from its predecessor.
func ValidateHistory(history []HistoryEntry) error {
	if len(history) == 0 {
		return nil
	}
	if history[0].Status != StatusPending {
		return &InvalidTransitionError{To: history[0].Status}
	}
	for i := 1; i < len(history); i++ {
		if err := ValidateTransition(history[i-1].Status, history[i].Status); err != nil {
			return err
		}
	}
	return nil
}
