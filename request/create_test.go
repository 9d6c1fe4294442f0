package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charityflow/activity"
	"charityflow/auth"
	"charityflow/branch"
	"charityflow/catalog"
	"charityflow/schedule"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

var (
	north = branch.Branch{ID: "b-north", Name: "North", Address: "1 North St", AdminUserID: "admin-north", Location: branch.Location{Latitude: 10.80, Longitude: 106.70}}
	south = branch.Branch{ID: "b-south", Name: "South", Address: "9 South St", AdminUserID: "admin-south", Location: branch.Location{Latitude: 10.70, Longitude: 106.68}}
	east  = branch.Branch{ID: "b-east", Name: "East", Address: "4 East St", AdminUserID: "admin-east", Location: branch.Location{Latitude: 10.78, Longitude: 106.80}}
)

type fixture struct {
	pool       *fakePool
	repo       *fakeRepo
	activities *fakeActivities
	matcher    *fakeMatcher
	objects    *fakeObjects
	notifier   *fakeNotifier
	svc        *Service
}

func newFixture() *fixture {
	f := &fixture{
		pool: &fakePool{},
		repo: newFakeRepo(),
		activities: &fakeActivities{activities: map[string]activity.Activity{
			"act-1": {
				ID:        "act-1",
				Scope:     activity.ScopePublic,
				Status:    activity.StatusStarted,
				BranchIDs: []string{south.ID},
				Targets:   []activity.TargetProcess{{ItemID: "rice", Target: 500}, {ItemID: "milk", Target: 200}},
			},
			"act-internal": {ID: "act-internal", Scope: activity.ScopeInternal, Status: activity.StatusStarted},
			"act-later":    {ID: "act-later", Scope: activity.ScopePublic, Status: activity.StatusNotStarted},
		}},
		matcher: &fakeMatcher{
			maxKM: 15,
			match: branch.Match{
				Nearest: &branch.Candidate{Branch: north, DistanceKM: 1.2},
				Nearby:  []branch.Candidate{{Branch: north, DistanceKM: 1.2}, {Branch: east, DistanceKM: 3.4}},
			},
		},
		objects:  &fakeObjects{},
		notifier: &fakeNotifier{},
	}

	seq := 0
	f.svc = NewService(Deps{
		Pool: f.pool,
		Repo: f.repo,
		Catalog: fakeCatalog{
			"rice":    {ID: "rice", Active: true, MaxTransportVolume: 100},
			"milk":    {ID: "milk", Active: true, MaxTransportVolume: 50},
			"retired": {ID: "retired", Active: false, MaxTransportVolume: 10},
		},
		Activities: f.activities,
		Branches:   fakeBranches{north.ID: north, south.ID: south, east.ID: east},
		Charities: fakeCharities{"unit-1": {
			ID:            "unit-1",
			Address:       "12 Shelter Rd",
			Location:      branch.Location{Latitude: 10.76, Longitude: 106.66},
			AccountUserID: "charity-user",
		}},
		Matcher:  f.matcher,
		Objects:  f.objects,
		Notifier: f.notifier,
	}).
		WithClock(func() time.Time { return fixedNow }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		})
	return f
}

func contributor() auth.Actor {
	return auth.Actor{UserID: "donor-1", Role: auth.RoleContributor}
}

func pickupWindows() []schedule.Window {
	return []schedule.Window{{
		Day:   schedule.NewDate(2025, 3, 12),
		Start: schedule.NewTimeOfDay(8, 0),
		End:   schedule.NewTimeOfDay(11, 0),
	}}
}

func donation(items ...ItemInput) CreateParams {
	return CreateParams{
		Actor:    contributor(),
		Kind:     KindDonated,
		Address:  "22 Donor Lane",
		Location: branch.Location{Latitude: 10.79, Longitude: 106.71},
		Windows:  pickupWindows(),
		Items:    items,
	}
}

func TestCreateDonated_FansOutPendingOffers(t *testing.T) {
	f := newFixture()

	req, err := f.svc.Create(context.Background(), donation(ItemInput{ItemID: "rice", Quantity: 40}))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, req.Status)
	assert.Nil(t, req.ConfirmedAt)
	require.True(t, f.pool.last().committed)

	stored, ok := f.repo.request(req.ID)
	require.True(t, ok)
	assert.Equal(t, "22 Donor Lane", stored.Address)

	items := f.repo.itemsOf(req.ID)
	require.Len(t, items, 1)
	assert.Equal(t, ItemWaiting, items[0].Status)

	offers := f.repo.offersOf(req.ID)
	require.Len(t, offers, 2)
	for _, o := range offers {
		assert.Equal(t, OfferPending, o.Status)
	}
	assert.Equal(t, []string{"admin-east", "admin-north"}, f.notifier.receivers())
}

func TestCreateDonated_NearestOnlyWhenNearbyEmpty(t *testing.T) {
	f := newFixture()
	f.matcher.match.Nearby = nil

	req, err := f.svc.Create(context.Background(), donation(ItemInput{ItemID: "rice", Quantity: 40}))
	require.NoError(t, err)

	offers := f.repo.offersOf(req.ID)
	require.Len(t, offers, 1)
	assert.Equal(t, north.ID, offers[0].BranchID)
	assert.Equal(t, []string{"admin-north"}, f.notifier.receivers())
}

func TestCreate_VolumeOutsideBandPersistsNothing(t *testing.T) {
	tests := []struct {
		name   string
		qty    int64
		reason Reason
	}{
		{name: "below minimum", qty: 2, reason: ReasonVolumeBelowMinimum},
		{name: "above maximum", qty: 120, reason: ReasonVolumeAboveMaximum},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.svc.WithVolumeBand(VolumeBand{Min: decimal.NewFromInt(5), Max: decimal.NewFromInt(100)})

			// Two milk cartons are 4% of a transport; 120 are 240%.
			_, err := f.svc.Create(context.Background(), donation(ItemInput{ItemID: "milk", Quantity: tc.qty}))

			var volErr *VolumeError
			require.ErrorAs(t, err, &volErr)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, tc.reason, volErr.Reason())
			assert.Zero(t, f.pool.began)
			assert.Empty(t, f.matcher.queries)

			requests, items, offers := f.repo.total()
			assert.Zero(t, requests+items+offers)
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestCreate_NoDeliverableBranchPersistsNothing(t *testing.T) {
	f := newFixture()
	f.matcher.match = branch.Match{}

	_, err := f.svc.Create(context.Background(), donation(ItemInput{ItemID: "rice", Quantity: 40}))

	var matchErr *MatchingError
	require.ErrorAs(t, err, &matchErr)
	assert.ErrorIs(t, err, ErrNoDeliverableBranch)
	assert.Equal(t, 15.0, matchErr.MaxDistanceKM)
	assert.Contains(t, err.Error(), "15.0 km")
	assert.Zero(t, f.pool.began)

	requests, _, offers := f.repo.total()
	assert.Zero(t, requests)
	assert.Zero(t, offers)
}

func TestCreate_ActivityLinkedIsPreAccepted(t *testing.T) {
	f := newFixture()
	f.matcher.match = branch.Match{Nearest: &branch.Candidate{Branch: south, DistanceKM: 6}}

	p := donation(ItemInput{ItemID: "rice", Quantity: 40}, ItemInput{ItemID: "milk", Quantity: 10})
	p.ActivityID = "act-1"

	req, err := f.svc.Create(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, f.matcher.queries, 1)
	assert.Equal(t, []string{south.ID}, f.matcher.queries[0].Only)

	assert.Equal(t, StatusAccepted, req.Status)
	require.NotNil(t, req.ConfirmedAt)
	assert.Equal(t, fixedNow, *req.ConfirmedAt)

	offers := f.repo.offersOf(req.ID)
	require.Len(t, offers, 1)
	assert.Equal(t, OfferAccepted, offers[0].Status)
	assert.Equal(t, south.ID, offers[0].BranchID)

	for _, it := range f.repo.itemsOf(req.ID) {
		assert.Equal(t, ItemAccepted, it.Status)
	}
	assert.Equal(t, []string{"admin-south", "donor-1"}, f.notifier.receivers())
}

func TestCreate_ActivityChecks(t *testing.T) {
	tests := []struct {
		name       string
		activityID string
		item       string
		sentinel   error
		reason     Reason
	}{
		{name: "missing", activityID: "act-missing", item: "rice", sentinel: ErrNotFound},
		{name: "internal", activityID: "act-internal", item: "rice", sentinel: ErrValidation, reason: ReasonActivityInternal},
		{name: "not started", activityID: "act-later", item: "rice", sentinel: ErrValidation, reason: ReasonActivityNotStarted},
		{name: "item outside targets", activityID: "act-1", item: "retired", sentinel: ErrValidation, reason: ReasonItemNotInActivity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			p := donation(ItemInput{ItemID: tc.item, Quantity: 10})
			p.ActivityID = tc.activityID

			_, err := f.svc.Create(context.Background(), p)
			require.ErrorIs(t, err, tc.sentinel)
			if tc.reason != "" {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tc.reason, vErr.Reason)
			}
			assert.Zero(t, f.pool.began)
		})
	}
}

func TestCreate_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CreateParams)
		reason Reason
	}{
		{name: "no windows", mutate: func(p *CreateParams) { p.Windows = nil }, reason: ReasonInvalidSchedule},
		{name: "inverted window", mutate: func(p *CreateParams) {
			p.Windows[0].End = schedule.NewTimeOfDay(7, 0)
		}, reason: ReasonInvalidSchedule},
		{name: "no items", mutate: func(p *CreateParams) { p.Items = nil }, reason: ReasonNoItems},
		{name: "zero quantity", mutate: func(p *CreateParams) { p.Items[0].Quantity = 0 }, reason: ReasonInvalidQuantity},
		{name: "duplicate item", mutate: func(p *CreateParams) {
			p.Items = append(p.Items, ItemInput{ItemID: "rice", Quantity: 1})
		}, reason: ReasonDuplicateItem},
		{name: "unknown item", mutate: func(p *CreateParams) { p.Items[0].ItemID = "caviar" }, reason: ReasonItemNotFound},
		{name: "inactive item", mutate: func(p *CreateParams) { p.Items[0].ItemID = "retired" }, reason: ReasonItemNotFound},
		{name: "missing address", mutate: func(p *CreateParams) { p.Address = "" }, reason: ReasonMissingField},
		{name: "missing location", mutate: func(p *CreateParams) { p.Location = branch.Location{} }, reason: ReasonInvalidLocation},
		{name: "branch staff donating", mutate: func(p *CreateParams) {
			p.Actor = auth.Actor{UserID: "staff", Role: auth.RoleBranchAdmin, BranchID: north.ID}
		}, reason: ReasonRoleNotAllowed},
		{name: "charity without unit", mutate: func(p *CreateParams) {
			p.Kind = KindAid
			p.Actor = auth.Actor{UserID: "charity-user", Role: auth.RoleCharity}
		}, reason: ReasonMissingAffiliation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			p := donation(ItemInput{ItemID: "rice", Quantity: 40})
			tc.mutate(&p)

			_, err := f.svc.Create(context.Background(), p)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.reason, vErr.Reason)
			assert.Zero(t, f.pool.began)
		})
	}
}

func TestCreate_RejectsElapsedWindows(t *testing.T) {
	elapsed := []schedule.Window{
		{Day: schedule.NewDate(2020, 1, 1), Start: schedule.NewTimeOfDay(8, 0), End: schedule.NewTimeOfDay(9, 0)},
		{Day: schedule.DateOf(fixedNow), Start: schedule.NewTimeOfDay(8, 0), End: schedule.NewTimeOfDay(12, 0)},
	}

	for _, activityID := range []string{"", "act-1"} {
		f := newFixture()
		p := donation(ItemInput{ItemID: "rice", Quantity: 40})
		p.Windows = elapsed
		p.ActivityID = activityID

		_, err := f.svc.Create(context.Background(), p)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, "activity %q", activityID)
		assert.Equal(t, ReasonInvalidSchedule, vErr.Reason)
		assert.Zero(t, f.pool.began)
		assert.Empty(t, f.repo.requests)
		assert.Empty(t, f.matcher.queries)
		assert.Empty(t, f.notifier.sent)
	}

	f := newFixture()
	p := donation(ItemInput{ItemID: "rice", Quantity: 40})
	p.Windows = append(elapsed, pickupWindows()...)
	_, err := f.svc.Create(context.Background(), p)
	require.NoError(t, err)
}

func TestCreateAid_OriginFromCharityUnit(t *testing.T) {
	f := newFixture()

	p := CreateParams{
		Actor:   auth.Actor{UserID: "charity-user", Role: auth.RoleCharity, CharityUnitID: "unit-1"},
		Kind:    KindAid,
		Windows: pickupWindows(),
		Items:   []ItemInput{{ItemID: "rice", Quantity: 1000}},
	}

	req, err := f.svc.Create(context.Background(), p)
	require.NoError(t, err, "aid requests skip the volume band")

	assert.Equal(t, "12 Shelter Rd", req.Address)
	require.NotNil(t, req.CharityUnitID)
	assert.Equal(t, "unit-1", *req.CharityUnitID)
	assert.Nil(t, req.RequesterBranchID)
	assert.Equal(t, branch.Location{Latitude: 10.76, Longitude: 106.66}, f.matcher.queries[0].Origin)
	assert.Empty(t, f.matcher.queries[0].Exclude)
}

func TestCreateAid_BranchExcludesItself(t *testing.T) {
	f := newFixture()

	p := CreateParams{
		Actor:   auth.Actor{UserID: "admin-south", Role: auth.RoleBranchAdmin, BranchID: south.ID},
		Kind:    KindAid,
		Windows: pickupWindows(),
		Items:   []ItemInput{{ItemID: "milk", Quantity: 30}},
	}

	req, err := f.svc.Create(context.Background(), p)
	require.NoError(t, err)

	require.NotNil(t, req.RequesterBranchID)
	assert.Equal(t, south.ID, *req.RequesterBranchID)
	assert.Equal(t, south.Location, f.matcher.queries[0].Origin)
	assert.Equal(t, []string{south.ID}, f.matcher.queries[0].Exclude)
}

func TestCreate_ItemRowMismatchAbortsUnitOfWork(t *testing.T) {
	f := newFixture()
	f.repo.insertItemsErr = &PersistenceError{Op: "insert items", Expected: 2, Affected: 1}

	_, err := f.svc.Create(context.Background(), donation(ItemInput{ItemID: "rice", Quantity: 40}))
	require.ErrorIs(t, err, ErrPersistence)

	tx := f.pool.last()
	require.NotNil(t, tx)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolled)

	requests, items, offers := f.repo.total()
	assert.Zero(t, requests+items+offers)
	assert.Empty(t, f.notifier.sent)
}

func TestCreate_NotificationFailureKeepsRequest(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("push gateway down")

	req, err := f.svc.Create(context.Background(), donation(ItemInput{ItemID: "rice", Quantity: 40}))
	require.NoError(t, err)

	_, ok := f.repo.request(req.ID)
	assert.True(t, ok)
	assert.Len(t, f.notifier.sent, 2)
}

func TestCreate_UploadsImages(t *testing.T) {
	f := newFixture()

	p := donation(ItemInput{ItemID: "rice", Quantity: 40})
	p.Images = []Image{
		{Name: "front.jpg", ContentType: "image/jpeg", Body: strings.NewReader("front")},
		{Name: "../side.png", ContentType: "image/png", Body: strings.NewReader("side")},
	}

	req, err := f.svc.Create(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.example.org/requests/id-1/front.jpg",
		"https://cdn.example.org/requests/id-1/side.png",
	}, req.Images)
	assert.Equal(t, req.Images, f.repo.appended[req.ID])
	assert.Empty(t, f.objects.deleted)
}

func TestCreate_UploadFailureCompensatesAndKeepsRequest(t *testing.T) {
	f := newFixture()
	f.objects.failOn = "requests/id-1/side.png"

	p := donation(ItemInput{ItemID: "rice", Quantity: 40})
	p.Images = []Image{
		{Name: "front.jpg", ContentType: "image/jpeg", Body: strings.NewReader("front")},
		{Name: "side.png", ContentType: "image/png", Body: strings.NewReader("side")},
	}

	req, err := f.svc.Create(context.Background(), p)

	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, ErrUpload)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, "id-1", upErr.RequestID)
	assert.Equal(t, "id-1", req.ID)

	stored, ok := f.repo.request("id-1")
	require.True(t, ok, "request stays committed")
	assert.Empty(t, stored.Images)
	assert.ElementsMatch(t, f.objects.uploaded, f.objects.deleted)
}

func TestCreate_AppendFailureDeletesAllUploads(t *testing.T) {
	f := newFixture()
	f.repo.appendErr = &PersistenceError{Op: "append images", Expected: 1, Affected: 0}

	p := donation(ItemInput{ItemID: "rice", Quantity: 40})
	p.Images = []Image{{Name: "front.jpg", ContentType: "image/jpeg", Body: strings.NewReader("front")}}

	_, err := f.svc.Create(context.Background(), p)
	require.ErrorIs(t, err, ErrUpload)
	assert.Equal(t, []string{"https://cdn.example.org/requests/id-1/front.jpg"}, f.objects.deleted)
}

func TestVolume(t *testing.T) {
	items := map[string]catalog.Item{
		"rice": {MaxTransportVolume: 100},
		"milk": {MaxTransportVolume: 50},
		"odd":  {MaxTransportVolume: 0},
	}
	got := Volume([]ItemInput{{ItemID: "rice", Quantity: 25}, {ItemID: "milk", Quantity: 10}, {ItemID: "odd", Quantity: 99}}, items)
	assert.True(t, got.Equal(decimal.NewFromInt(45)), "got %s", got)
}
