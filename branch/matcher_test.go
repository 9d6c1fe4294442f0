package branch

import "testing"

func TestPartition(t *testing.T) {
	candidates := []Candidate{
		{Branch: Branch{ID: "b1"}, DistanceKM: 2},
		{Branch: Branch{ID: "b2"}, DistanceKM: 4.5},
		{Branch: Branch{ID: "b3"}, DistanceKM: 9},
	}

	m := partition(candidates, 5)
	if m.Nearest == nil || m.Nearest.ID != "b1" {
		t.Fatalf("expected nearest b1, got %+v", m.Nearest)
	}
	if len(m.Nearby) != 2 || m.Nearby[1].ID != "b2" {
		t.Fatalf("expected b1,b2 nearby, got %+v", m.Nearby)
	}
}

func TestPartition_NearestOutsideNearbyRadius(t *testing.T) {
	m := partition([]Candidate{{Branch: Branch{ID: "far"}, DistanceKM: 12}}, 5)
	if m.Nearest == nil || m.Nearest.ID != "far" {
		t.Fatalf("expected nearest far, got %+v", m.Nearest)
	}
	if len(m.Nearby) != 0 {
		t.Fatalf("expected no nearby branches, got %d", len(m.Nearby))
	}
}

func TestPartition_Empty(t *testing.T) {
	if m := partition(nil, 5); m.Nearest != nil || len(m.Nearby) != 0 {
		t.Fatalf("expected empty match, got %+v", m)
	}
}

func TestNewPGMatcherClampsNearbyRadius(t *testing.T) {
	m := NewPGMatcher(nil, MatcherConfig{MaxDistanceKM: 10, NearbyDistanceKM: 50})
	if m.cfg.NearbyDistanceKM != 10 {
		t.Fatalf("expected nearby radius clamped to 10, got %v", m.cfg.NearbyDistanceKM)
	}
	if m.MaxDistanceKM() != 10 {
		t.Fatalf("expected max distance 10, got %v", m.MaxDistanceKM())
	}
}
