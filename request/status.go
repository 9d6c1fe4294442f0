package request

import "charityflow/auth"

var transitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusRejected, StatusCanceled, StatusExpired},
	StatusAccepted:   {StatusProcessing, StatusFinished, StatusExpired, StatusCanceled},
	StatusProcessing: {StatusFinished, StatusExpired},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusRejected, StatusCanceled, StatusExpired:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusProcessing, StatusFinished, StatusExpired, StatusCanceled:
		return true
	default:
		return false
	}
}

// SweepStatuses are the statuses the expiration sweeper inspects.
var SweepStatuses = []Status{StatusPending, StatusAccepted, StatusProcessing}

// DisplayStatus is the status shown to actor. Branch staff whose own offer
// was rejected see REJECTED regardless of the request's stored status.
func DisplayStatus(r Request, offers []Offer, actor auth.Actor) Status {
	if actor.Role != auth.RoleBranchAdmin || actor.BranchID == "" {
		return r.Status
	}
	for _, o := range offers {
		if o.BranchID == actor.BranchID && o.Status == OfferRejected {
			return StatusRejected
		}
	}
	return r.Status
}
