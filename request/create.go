package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"charityflow/activity"
	"charityflow/auth"
	"charityflow/branch"
	"charityflow/catalog"
	"charityflow/charity"
	"charityflow/notify"
	"charityflow/schedule"
)

type ItemInput struct {
	ItemID   string
	Quantity int64
}

type Image struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// CreateParams describes a new request. For donations Address and Location
// are the pickup point; aid requests take their origin from the caller's
// charity unit or branch.
type CreateParams struct {
	Actor      auth.Actor
	Kind       Kind
	Address    string
	Location   branch.Location
	Windows    []schedule.Window
	Note       string
	ActivityID string
	Items      []ItemInput
	Images     []Image
}

// draft is a fully validated and matched request ready to be written.
type draft struct {
	req     Request
	items   []Item
	offers  []Offer
	notices []notify.Notification
}

type origin struct {
	address           string
	location          branch.Location
	charityUnitID     *string
	requesterBranchID *string
	exclude           []string
}

// Create validates and matches the request before writing anything, commits
// the request with its items and offers, then notifies and uploads images.
// An *UploadError means the request was created without its images.
func (s *Service) Create(ctx context.Context, p CreateParams) (Request, error) {
	d, err := s.prepare(ctx, p)
	if err != nil {
		return Request{}, err
	}

	if err := s.persist(ctx, d); err != nil {
		s.logger.Error("request not persisted", "request_id", d.req.ID, "error", err)
		return Request{}, err
	}

	for _, n := range d.notices {
		s.notify(ctx, n)
	}

	if len(p.Images) > 0 {
		urls, err := s.uploadImages(ctx, d.req.ID, p.Images)
		if err != nil {
			s.logger.Warn("request images not stored", "request_id", d.req.ID, "error", err)
			return d.req, err
		}
		d.req.Images = urls
	}

	return d.req, nil
}

func (s *Service) prepare(ctx context.Context, p CreateParams) (draft, error) {
	if err := validateShape(p); err != nil {
		return draft{}, err
	}
	if _, ok := schedule.LastAvailableWindow(p.Windows, s.now()); !ok {
		return draft{}, invalid(ReasonInvalidSchedule, "every window has elapsed")
	}

	org, err := s.resolveOrigin(ctx, p)
	if err != nil {
		return draft{}, err
	}

	act, err := s.resolveActivity(ctx, p)
	if err != nil {
		return draft{}, err
	}

	items, err := s.resolveItems(ctx, p.Items)
	if err != nil {
		return draft{}, err
	}

	if p.Kind == KindDonated {
		if err := s.checkVolume(p.Items, items); err != nil {
			return draft{}, err
		}
	}

	q := branch.MatchQuery{Origin: org.location, Exclude: org.exclude}
	if act != nil {
		q.Only = act.BranchIDs
	}
	match, err := s.matcher.FindDeliverable(ctx, q)
	if err != nil {
		return draft{}, fmt.Errorf("request: match branches: %w", err)
	}
	if match.Nearest == nil {
		return draft{}, &MatchingError{MaxDistanceKM: s.matcher.MaxDistanceKM()}
	}

	return s.build(p, org, act != nil, match), nil
}

func validateShape(p CreateParams) error {
	if p.Actor.UserID == "" {
		return invalid(ReasonMissingField, "actor")
	}

	switch p.Kind {
	case KindDonated:
		if p.Actor.Role != auth.RoleContributor {
			return invalid(ReasonRoleNotAllowed, "%s cannot donate", p.Actor.Role)
		}
		if p.Address == "" {
			return invalid(ReasonMissingField, "address")
		}
		if !validLocation(p.Location) {
			return invalid(ReasonInvalidLocation, "%v,%v", p.Location.Latitude, p.Location.Longitude)
		}
	case KindAid:
		switch p.Actor.Role {
		case auth.RoleCharity:
			if p.Actor.CharityUnitID == "" {
				return invalid(ReasonMissingAffiliation, "charity unit")
			}
		case auth.RoleBranchAdmin:
			if p.Actor.BranchID == "" {
				return invalid(ReasonMissingAffiliation, "branch")
			}
		default:
			return invalid(ReasonRoleNotAllowed, "%s cannot request aid", p.Actor.Role)
		}
	default:
		return invalid(ReasonMissingField, "kind")
	}

	if err := schedule.Validate(p.Windows); err != nil {
		return invalid(ReasonInvalidSchedule, "%v", err)
	}

	if len(p.Items) == 0 {
		return invalid(ReasonNoItems, "")
	}
	seen := make(map[string]struct{}, len(p.Items))
	for _, it := range p.Items {
		if it.ItemID == "" {
			return invalid(ReasonMissingField, "item id")
		}
		if it.Quantity <= 0 {
			return invalid(ReasonInvalidQuantity, "%s: %d", it.ItemID, it.Quantity)
		}
		if _, dup := seen[it.ItemID]; dup {
			return invalid(ReasonDuplicateItem, "%s", it.ItemID)
		}
		seen[it.ItemID] = struct{}{}
	}
	return nil
}

func validLocation(l branch.Location) bool {
	if l.IsZero() {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

func (s *Service) resolveOrigin(ctx context.Context, p CreateParams) (origin, error) {
	if p.Kind == KindDonated {
		return origin{address: p.Address, location: p.Location}, nil
	}

	if p.Actor.Role == auth.RoleCharity {
		unit, err := s.charities.GetByID(ctx, p.Actor.CharityUnitID)
		if err != nil {
			if errors.Is(err, charity.ErrNotFound) {
				return origin{}, &NotFoundError{Entity: "charity unit", ID: p.Actor.CharityUnitID}
			}
			return origin{}, fmt.Errorf("request: load charity unit: %w", err)
		}
		return origin{
			address:       unit.Address,
			location:      unit.Location,
			charityUnitID: strPtr(unit.ID),
		}, nil
	}

	b, err := s.branches.GetByID(ctx, p.Actor.BranchID)
	if err != nil {
		if errors.Is(err, branch.ErrNotFound) {
			return origin{}, &NotFoundError{Entity: "branch", ID: p.Actor.BranchID}
		}
		return origin{}, fmt.Errorf("request: load branch: %w", err)
	}
	return origin{
		address:           b.Address,
		location:          b.Location,
		requesterBranchID: strPtr(b.ID),
		exclude:           []string{b.ID},
	}, nil
}

func (s *Service) resolveActivity(ctx context.Context, p CreateParams) (*activity.Activity, error) {
	if p.ActivityID == "" {
		return nil, nil
	}

	act, err := s.activities.GetByID(ctx, p.ActivityID)
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			return nil, &NotFoundError{Entity: "activity", ID: p.ActivityID}
		}
		return nil, fmt.Errorf("request: load activity: %w", err)
	}
	if act.Scope == activity.ScopeInternal {
		return nil, invalid(ReasonActivityInternal, "%s", act.ID)
	}
	if act.Status != activity.StatusStarted {
		return nil, invalid(ReasonActivityNotStarted, "%s is %s", act.ID, act.Status)
	}
	for _, it := range p.Items {
		if !act.HasTarget(it.ItemID) {
			return nil, invalid(ReasonItemNotInActivity, "%s", it.ItemID)
		}
	}
	return &act, nil
}

func (s *Service) resolveItems(ctx context.Context, inputs []ItemInput) (map[string]catalog.Item, error) {
	ids := make([]string, 0, len(inputs))
	for _, it := range inputs {
		ids = append(ids, it.ItemID)
	}

	found, err := s.catalog.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("request: load items: %w", err)
	}
	for _, id := range ids {
		item, ok := found[id]
		if !ok || !item.Active {
			return nil, invalid(ReasonItemNotFound, "%s", id)
		}
	}
	return found, nil
}

// checkVolume sums quantity / max transport volume * 100 over the items.
// Items without a transport volume do not count.
func (s *Service) checkVolume(inputs []ItemInput, items map[string]catalog.Item) error {
	volume := Volume(inputs, items)
	if volume.LessThan(s.band.Min) || volume.GreaterThan(s.band.Max) {
		return &VolumeError{Volume: volume, Min: s.band.Min, Max: s.band.Max}
	}
	return nil
}

// Volume is the share of one transport, in percent, the items occupy.
func Volume(inputs []ItemInput, items map[string]catalog.Item) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	total := decimal.Zero
	for _, it := range inputs {
		capacity := items[it.ItemID].MaxTransportVolume
		if capacity <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromInt(it.Quantity).Div(decimal.NewFromInt(capacity)).Mul(hundred))
	}
	return total
}

func (s *Service) build(p CreateParams, org origin, linked bool, match branch.Match) draft {
	now := s.now()

	req := Request{
		ID:                s.idGenerator(),
		Kind:              p.Kind,
		Address:           org.address,
		Location:          org.location,
		Windows:           p.Windows,
		Status:            StatusPending,
		Note:              p.Note,
		Images:            []string{},
		CreatedBy:         p.Actor.UserID,
		CharityUnitID:     org.charityUnitID,
		RequesterBranchID: org.requesterBranchID,
		ActivityID:        strPtr(p.ActivityID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	itemStatus := ItemWaiting
	if linked {
		itemStatus = ItemAccepted
	}
	items := make([]Item, 0, len(p.Items))
	for _, in := range p.Items {
		items = append(items, Item{
			ID:        s.idGenerator(),
			RequestID: req.ID,
			ItemID:    in.ItemID,
			Quantity:  in.Quantity,
			Status:    itemStatus,
		})
	}

	d := draft{items: items}

	if linked {
		confirmed := now
		req.Status = StatusAccepted
		req.ConfirmedAt = &confirmed
		nearest := match.Nearest
		d.offers = []Offer{{
			RequestID:   req.ID,
			BranchID:    nearest.ID,
			Status:      OfferAccepted,
			CreatedAt:   now,
			ConfirmedAt: &confirmed,
		}}
		d.notices = []notify.Notification{
			message(req, nearest.AdminUserID, "A new request for your activity was assigned to your branch."),
			message(req, req.CreatedBy, fmt.Sprintf("Your request was accepted by %s.", nearest.Name)),
		}
		d.req = req
		return d
	}

	targets := match.Nearby
	if len(targets) == 0 {
		targets = []branch.Candidate{*match.Nearest}
	}
	for _, c := range targets {
		d.offers = append(d.offers, Offer{
			RequestID: req.ID,
			BranchID:  c.ID,
			Status:    OfferPending,
			CreatedAt: now,
		})
		d.notices = append(d.notices, message(req, c.AdminUserID, "A new request near your branch is waiting for confirmation."))
	}
	d.req = req
	return d
}

func (s *Service) persist(ctx context.Context, d draft) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.InsertRequest(ctx, tx, d.req); err != nil {
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, d.items); err != nil {
			return err
		}
		return s.repo.InsertOffers(ctx, tx, d.offers)
	})
}

// uploadImages stores every image concurrently and records the URLs on the
// request. On any failure the objects already stored are deleted.
func (s *Service) uploadImages(ctx context.Context, requestID string, images []Image) ([]string, error) {
	if s.objects == nil {
		return nil, &UploadError{RequestID: requestID, Err: errors.New("no object store configured")}
	}

	urls := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		g.Go(func() error {
			name := path.Join("requests", requestID, path.Base(img.Name))
			url, err := s.objects.Upload(gctx, name, img.Body, img.ContentType)
			if err != nil {
				return fmt.Errorf("upload %s: %w", img.Name, err)
			}
			urls[i] = url
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = s.repo.AppendImages(ctx, requestID, urls)
	}
	if err != nil {
		s.discardObjects(context.WithoutCancel(ctx), requestID, urls)
		return nil, &UploadError{RequestID: requestID, Err: err}
	}
	return urls, nil
}

func (s *Service) discardObjects(ctx context.Context, requestID string, urls []string) {
	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := s.objects.Delete(ctx, url); err != nil {
			s.logger.Error("orphaned request image", "request_id", requestID, "url", url, "error", err)
		}
	}
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit tx", Err: err}
	}
	return nil
}
