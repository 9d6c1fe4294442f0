package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"charityflow/activity"
	"charityflow/branch"
	"charityflow/catalog"
	"charityflow/charity"
	"charityflow/notify"
)

// fakePool hands out transactions whose staged writes reach fakeRepo only on commit.
type fakePool struct {
	began int
	txs   []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.began++
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) last() *fakeTx {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	rolled    bool
	committed bool
	staged    []func()
}

func (f *fakeTx) stage(fn func()) {
	f.staged = append(f.staged, fn)
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	for _, fn := range f.staged {
		fn()
	}
	f.staged = nil
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.staged = nil
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeRepo struct {
	mu       sync.Mutex
	requests map[string]Request
	items    map[string][]Item
	offers   map[string][]Offer

	insertItemsErr error
	appendErr      error
	appended       map[string][]string
	lastFilters    Filters
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		requests: map[string]Request{},
		items:    map[string][]Item{},
		offers:   map[string][]Offer{},
		appended: map[string][]string{},
	}
}

func (f *fakeRepo) seed(r Request, items []Item, offers []Offer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.ID] = r
	f.items[r.ID] = items
	f.offers[r.ID] = offers
}

func (f *fakeRepo) request(id string) (Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	return r, ok
}

func (f *fakeRepo) offersOf(id string) []Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Offer(nil), f.offers[id]...)
}

func (f *fakeRepo) itemsOf(id string) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Item(nil), f.items[id]...)
}

func (f *fakeRepo) total() (requests, items, offers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		items += len(it)
	}
	for _, o := range f.offers {
		offers += len(o)
	}
	return len(f.requests), items, offers
}

func stage(tx pgx.Tx, fn func()) {
	tx.(*fakeTx).stage(fn)
}

func (f *fakeRepo) InsertRequest(_ context.Context, tx pgx.Tx, req Request) error {
	stage(tx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests[req.ID] = req
	})
	return nil
}

func (f *fakeRepo) InsertItems(_ context.Context, tx pgx.Tx, items []Item) error {
	if f.insertItemsErr != nil {
		return f.insertItemsErr
	}
	stage(tx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, it := range items {
			f.items[it.RequestID] = append(f.items[it.RequestID], it)
		}
	})
	return nil
}

func (f *fakeRepo) InsertOffers(_ context.Context, tx pgx.Tx, offers []Offer) error {
	stage(tx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, o := range offers {
			f.offers[o.RequestID] = append(f.offers[o.RequestID], o)
		}
	})
	return nil
}

func (f *fakeRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (Request, error) {
	return f.Get(context.Background(), id)
}

func (f *fakeRepo) OffersTx(_ context.Context, _ pgx.Tx, requestID string) ([]Offer, error) {
	return f.offersOf(requestID), nil
}

func (f *fakeRepo) ItemsTx(_ context.Context, _ pgx.Tx, requestID string) ([]Item, error) {
	return f.itemsOf(requestID), nil
}

func (f *fakeRepo) CompareAndSetStatus(_ context.Context, tx pgx.Tx, id string, from, to Status, confirmedAt *time.Time) error {
	f.mu.Lock()
	r, ok := f.requests[id]
	f.mu.Unlock()
	if !ok || r.Status != from {
		return ErrStaleState
	}
	stage(tx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		r := f.requests[id]
		r.Status = to
		if confirmedAt != nil {
			r.ConfirmedAt = confirmedAt
		}
		f.requests[id] = r
	})
	return nil
}

func (f *fakeRepo) CompareAndSetOffer(_ context.Context, tx pgx.Tx, change OfferChange) error {
	f.mu.Lock()
	idx := -1
	for i, o := range f.offers[change.RequestID] {
		if o.BranchID == change.BranchID && o.Status == change.From {
			idx = i
		}
	}
	f.mu.Unlock()
	if idx < 0 {
		return ErrStaleState
	}
	stage(tx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		o := f.offers[change.RequestID][idx]
		o.Status = change.To
		if change.ConfirmedAt != nil {
			o.ConfirmedAt = change.ConfirmedAt
		}
		if change.RejectingReason != nil {
			o.RejectingReason = change.RejectingReason
		}
		f.offers[change.RequestID][idx] = o
	})
	return nil
}

func (f *fakeRepo) SetItemsStatus(_ context.Context, tx pgx.Tx, requestID string, from, to ItemStatus) (int64, error) {
	var n int64
	for _, it := range f.itemsOf(requestID) {
		if it.Status == from {
			n++
		}
	}
	stage(tx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, it := range f.items[requestID] {
			if it.Status == from {
				f.items[requestID][i].Status = to
			}
		}
	})
	return n, nil
}

func (f *fakeRepo) AppendImages(_ context.Context, id string, urls []string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.requests[id]
	r.Images = append(r.Images, urls...)
	f.requests[id] = r
	f.appended[id] = append(f.appended[id], urls...)
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (Request, error) {
	r, ok := f.request(id)
	if !ok {
		return Request{}, &NotFoundError{Entity: "request", ID: id}
	}
	return r, nil
}

func (f *fakeRepo) Items(_ context.Context, requestID string) ([]Item, error) {
	return f.itemsOf(requestID), nil
}

func (f *fakeRepo) Offers(_ context.Context, requestID string) ([]Offer, error) {
	return f.offersOf(requestID), nil
}

func (f *fakeRepo) List(_ context.Context, filters Filters) ([]Request, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilters = filters
	var out []Request
	for _, r := range f.requests {
		if filters.Status != "" && r.Status != filters.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f *fakeRepo) ListByStatus(_ context.Context, statuses []Status) ([]Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, r := range f.requests {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) OffersFor(_ context.Context, requestIDs []string) (map[string][]Offer, error) {
	out := map[string][]Offer{}
	for _, id := range requestIDs {
		out[id] = f.offersOf(id)
	}
	return out, nil
}

func (f *fakeRepo) MarkExpired(_ context.Context, id string, from Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = StatusExpired
	f.requests[id] = r
	return true, nil
}

type fakeCatalog map[string]catalog.Item

func (f fakeCatalog) GetItems(_ context.Context, ids []string) (map[string]catalog.Item, error) {
	out := map[string]catalog.Item{}
	for _, id := range ids {
		if it, ok := f[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

type increment struct {
	activityID string
	itemID     string
	quantity   int64
}

type fakeActivities struct {
	activities map[string]activity.Activity
	increments []increment
}

func (f *fakeActivities) GetByID(_ context.Context, id string) (activity.Activity, error) {
	a, ok := f.activities[id]
	if !ok {
		return activity.Activity{}, activity.ErrNotFound
	}
	return a, nil
}

func (f *fakeActivities) IncrementProcess(_ context.Context, tx pgx.Tx, activityID, itemID string, quantity int64) error {
	stage(tx, func() {
		f.increments = append(f.increments, increment{activityID, itemID, quantity})
	})
	return nil
}

type fakeBranches map[string]branch.Branch

func (f fakeBranches) GetByID(_ context.Context, id string) (branch.Branch, error) {
	b, ok := f[id]
	if !ok {
		return branch.Branch{}, branch.ErrNotFound
	}
	return b, nil
}

type fakeCharities map[string]charity.Unit

func (f fakeCharities) GetByID(_ context.Context, id string) (charity.Unit, error) {
	u, ok := f[id]
	if !ok {
		return charity.Unit{}, charity.ErrNotFound
	}
	return u, nil
}

type fakeMatcher struct {
	match   branch.Match
	maxKM   float64
	queries []branch.MatchQuery
}

func (f *fakeMatcher) FindDeliverable(_ context.Context, q branch.MatchQuery) (branch.Match, error) {
	f.queries = append(f.queries, q)
	return f.match, nil
}

func (f *fakeMatcher) MaxDistanceKM() float64 { return f.maxKM }

type fakeObjects struct {
	mu       sync.Mutex
	failOn   string
	uploaded []string
	deleted  []string
}

func (f *fakeObjects) Upload(_ context.Context, name string, body io.Reader, _ string) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && name == f.failOn {
		return "", fmt.Errorf("bucket unavailable")
	}
	url := "https://cdn.example.org/" + name
	f.uploaded = append(f.uploaded, url)
	return url, nil
}

func (f *fakeObjects) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeNotifier) receivers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.ReceiverID)
	}
	sort.Strings(out)
	return out
}
