package milestone

import "github.com/Ramsey-B/clover/pkg/models"

// transitionTable is the explicit milestone state machine. Anything not
// listed is an invalid transition. Completed and cancelled are terminal.
var transitionTable = map[models.MilestoneStatus][]models.MilestoneStatus{
	models.MilestoneStatusPlanned: {
		models.MilestoneStatusInProgress,
	},
	models.MilestoneStatusInProgress: {
		models.MilestoneStatusCompleted,
		models.MilestoneStatusBlocked,
		models.MilestoneStatusCancelled,
	},
	models.MilestoneStatusBlocked: {
		models.MilestoneStatusInProgress,
		models.MilestoneStatusCancelled,
	},
	models.MilestoneStatusCompleted: {},
	models.MilestoneStatusCancelled: {},
}

// CanTransition reports whether the state machine allows from → to
func CanTransition(from, to models.MilestoneStatus) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// actualDateEffects reports which actual dates a transition sets. Entering
// in_progress stamps the start; entering a terminal state stamps the end.
func actualDateEffects(to models.MilestoneStatus) (setStart, setEnd bool) {
	switch to {
	case models.MilestoneStatusInProgress:
		return true, false
	case models.MilestoneStatusCompleted, models.MilestoneStatusCancelled:
		return false, true
	default:
		return false, false
	}
}

func validStatus(s models.MilestoneStatus) bool {
	_, ok := transitionTable[s]
	return ok
}
