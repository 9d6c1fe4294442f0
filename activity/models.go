package activity

import "time"

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusStarted    Status = "STARTED"
	StatusEnded      Status = "ENDED"
	StatusInactive   Status = "INACTIVE"
)

// Scope controls who may attach requests to an activity. Internal activities
// are run by branches without outside contributions.
type Scope string

const (
	ScopeInternal Scope = "INTERNAL"
	ScopePublic   Scope = "PUBLIC"
)

// TargetProcess tracks how much of one item an activity wants and has received.
type TargetProcess struct {
	ItemID  string
	Target  int64
	Process int64
}

type Activity struct {
	ID        string
	Name      string
	Scope     Scope
	Status    Status
	BranchIDs []string
	Targets   []TargetProcess
	StartAt   time.Time
	EndAt     time.Time
}

// HasTarget reports whether itemID is one of the activity's targets.
func (a Activity) HasTarget(itemID string) bool {
	for _, t := range a.Targets {
		if t.ItemID == itemID {
			return true
		}
	}
	return false
}
