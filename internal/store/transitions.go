package store

import "qms/waitless-service/internal/models"

// transitionMap lists the statuses each single-ticket action may start from.
// Call-next picks its ticket by status in SQL and has no entry here.
var transitionMap = map[string][]string{
	"complete": {models.StatusCalled},
	"miss":     {models.StatusWaiting, models.StatusCalled},
	"cancel":   {models.StatusWaiting, models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

type MissAction int

const (
	MissRequeue MissAction = iota
	MissCancel
)

// MissOutcome applies the two-strikes rule: a ticket that has already been
// missed once is cancelled, otherwise it goes back to the tail of the line.
func MissOutcome(missedCount int) MissAction {
	if missedCount >= 1 {
		return MissCancel
	}
	return MissRequeue
}
