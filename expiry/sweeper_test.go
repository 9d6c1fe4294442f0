package expiry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charityflow/branch"
	"charityflow/notify"
	"charityflow/request"
	"charityflow/schedule"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.FixedZone("ICT", 7*60*60))

type fakeStore struct {
	mu        sync.Mutex
	requests  map[string]request.Request
	offers    map[string][]request.Offer
	expireErr map[string]error
	// interfere changes a request's status right before MarkExpired runs.
	interfere map[string]request.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:  map[string]request.Request{},
		offers:    map[string][]request.Offer{},
		expireErr: map[string]error{},
		interfere: map[string]request.Status{},
	}
}

func (f *fakeStore) add(r request.Request, offers ...request.Offer) {
	f.requests[r.ID] = r
	f.offers[r.ID] = offers
}

func (f *fakeStore) status(id string) request.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id].Status
}

func (f *fakeStore) ListByStatus(_ context.Context, statuses []request.Status) ([]request.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []request.Request
	for _, r := range f.requests {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) OffersFor(_ context.Context, ids []string) (map[string][]request.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]request.Offer{}
	for _, id := range ids {
		out[id] = f.offers[id]
	}
	return out, nil
}

func (f *fakeStore) MarkExpired(_ context.Context, id string, from request.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expireErr[id]; err != nil {
		return false, err
	}
	r := f.requests[id]
	if s, ok := f.interfere[id]; ok {
		r.Status = s
	}
	if r.Status != from {
		f.requests[id] = r
		return false, nil
	}
	r.Status = request.StatusExpired
	f.requests[id] = r
	return true, nil
}

type fakeBranches map[string]branch.Branch

func (f fakeBranches) GetByID(_ context.Context, id string) (branch.Branch, error) {
	b, ok := f[id]
	if !ok {
		return branch.Branch{}, branch.ErrNotFound
	}
	return b, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) receivers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, n := range f.sent {
		out = append(out, n.ReceiverID)
	}
	sort.Strings(out)
	return out
}

func window(dayOffset, startHour, endHour int) schedule.Window {
	return schedule.Window{
		Day:   schedule.DateOf(now.AddDate(0, 0, dayOffset)),
		Start: schedule.NewTimeOfDay(startHour, 0),
		End:   schedule.NewTimeOfDay(endHour, 0),
	}
}

func assigned(id string, status request.Status, windows ...schedule.Window) (request.Request, request.Offer) {
	return request.Request{ID: id, Kind: request.KindDonated, Status: status, CreatedBy: "donor-" + id, Windows: windows},
		request.Offer{RequestID: id, BranchID: "b-1", Status: request.OfferAccepted}
}

func newSweeper(store *fakeStore, n *fakeNotifier) *Sweeper {
	return NewSweeper(store, fakeBranches{"b-1": {ID: "b-1", AdminUserID: "admin-1"}}, n).
		WithClock(func() time.Time { return now })
}

func TestSweep_ExpiresElapsedRequestOnce(t *testing.T) {
	store := newFakeStore()
	store.add(assigned("r1", request.StatusAccepted, window(-2, 8, 10), window(-1, 8, 10)))
	n := &fakeNotifier{}
	s := newSweeper(store, n)

	report := s.Sweep(context.Background())
	assert.Equal(t, Report{Scanned: 1, Expired: 1}, report)
	assert.Equal(t, request.StatusExpired, store.status("r1"))
	assert.Equal(t, []string{"admin-1", "donor-r1"}, n.receivers())

	report = s.Sweep(context.Background())
	assert.Equal(t, Report{}, report)
	assert.Len(t, n.sent, 2)
}

func TestSweep_RemindsWithinHorizonWithoutStatusChange(t *testing.T) {
	store := newFakeStore()
	store.add(assigned("r1", request.StatusProcessing, window(-1, 8, 10), window(0, 14, 16)))
	n := &fakeNotifier{}

	report := newSweeper(store, n).Sweep(context.Background())
	assert.Equal(t, Report{Scanned: 1, Reminded: 1}, report)
	assert.Equal(t, request.StatusProcessing, store.status("r1"))
	require.Len(t, n.sent, 1)
	assert.Equal(t, "admin-1", n.sent[0].ReceiverID)
	assert.Equal(t, "r1", n.sent[0].DataID)
}

func TestSweep_IgnoresDistantAndUnassignedRequests(t *testing.T) {
	store := newFakeStore()
	store.add(assigned("far", request.StatusAccepted, window(3, 8, 10)))
	pending := request.Request{ID: "open", Status: request.StatusPending, Windows: []schedule.Window{window(-3, 8, 10)}}
	store.add(pending, request.Offer{RequestID: "open", BranchID: "b-1", Status: request.OfferPending})
	n := &fakeNotifier{}

	report := newSweeper(store, n).Sweep(context.Background())
	assert.Equal(t, Report{Scanned: 1}, report)
	assert.Equal(t, request.StatusPending, store.status("open"))
	assert.Empty(t, n.sent)
}

func TestSweep_LostRaceSendsNothing(t *testing.T) {
	store := newFakeStore()
	store.add(assigned("r1", request.StatusAccepted, window(-1, 8, 10)))
	store.interfere["r1"] = request.StatusFinished
	n := &fakeNotifier{}

	report := newSweeper(store, n).Sweep(context.Background())
	assert.Equal(t, Report{Scanned: 1}, report)
	assert.Equal(t, request.StatusFinished, store.status("r1"))
	assert.Empty(t, n.sent)
}

func TestSweep_WriteFailureIsContained(t *testing.T) {
	store := newFakeStore()
	store.add(assigned("r1", request.StatusAccepted, window(-1, 8, 10)))
	store.add(assigned("r2", request.StatusAccepted, window(-1, 8, 10)))
	store.expireErr["r1"] = errors.New("deadlock detected")
	n := &fakeNotifier{}

	report := newSweeper(store, n).Sweep(context.Background())
	assert.Equal(t, Report{Scanned: 2, Expired: 1, Failed: 1}, report)
	assert.Equal(t, request.StatusAccepted, store.status("r1"))
	assert.Equal(t, request.StatusExpired, store.status("r2"))
	assert.Equal(t, []string{"admin-1", "donor-r2"}, n.receivers())
}

type memoryGuard struct {
	claimed map[string]bool
}

func (g *memoryGuard) FirstReminder(_ context.Context, requestID string, end time.Time) (bool, error) {
	key := requestID + end.String()
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func TestSweep_ReminderGuard(t *testing.T) {
	store := newFakeStore()
	store.add(assigned("r1", request.StatusAccepted, window(0, 18, 20)))

	unguarded := &fakeNotifier{}
	s := newSweeper(store, unguarded)
	s.Sweep(context.Background())
	s.Sweep(context.Background())
	assert.Len(t, unguarded.sent, 2)

	guarded := &fakeNotifier{}
	s = newSweeper(store, guarded).WithReminderGuard(&memoryGuard{claimed: map[string]bool{}})
	s.Sweep(context.Background())
	s.Sweep(context.Background())
	assert.Len(t, guarded.sent, 1)
}

func TestSweeper_StartRunsImmediately(t *testing.T) {
	store := newFakeStore()
	store.add(assigned("r1", request.StatusAccepted, window(-1, 8, 10)))
	n := &fakeNotifier{}
	s := newSweeper(store, n).WithInterval(time.Hour)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return store.status("r1") == request.StatusExpired }, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}

type fakeSetNX struct {
	keys map[string]bool
	err  error
}

func (f *fakeSetNX) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func TestRedisGuard(t *testing.T) {
	client := &fakeSetNX{keys: map[string]bool{}}
	g := NewRedisGuard(client, 0)
	end := now.Add(3 * time.Hour)

	first, err := g.FirstReminder(context.Background(), "r1", end)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := g.FirstReminder(context.Background(), "r1", end)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := g.FirstReminder(context.Background(), "r1", end.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, other)

	client.err = errors.New("connection refused")
	_, err = g.FirstReminder(context.Background(), "r2", end)
	assert.Error(t, err)
}
