package branch

import "time"

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// IsZero reports whether the location was never set.
func (l Location) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0
}

// Branch is an office that collects donations and delivers aid.
type Branch struct {
	ID          string
	Name        string
	Address     string
	Location    Location
	AdminUserID string
	Status      Status
	CreatedAt   time.Time
}

// Candidate is a branch together with its distance from a match origin.
type Candidate struct {
	Branch
	DistanceKM float64
}

// MatchQuery describes where a request originates and which branches may serve it.
type MatchQuery struct {
	Origin Location
	// Only restricts matching to these branch ids when non-empty.
	Only []string
	// Exclude removes these branch ids from matching.
	Exclude []string
}

// Match is the result of branch discovery. Nearest is nil when no branch lies
// within the maximum distance. Nearby may be empty even when Nearest is set.
type Match struct {
	Nearest *Candidate
	Nearby  []Candidate
}
