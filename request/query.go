package request

import (
	"context"

	"charityflow/auth"
)

// Get returns a request with its items and offers as seen by actor. Only the
// requester, their charity unit, branches holding an offer and system
// administrators may read it.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (Detail, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	offers, err := s.repo.Offers(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if !canView(actor, req, offers) {
		return Detail{}, ErrForbidden
	}
	items, err := s.repo.Items(ctx, id)
	if err != nil {
		return Detail{}, err
	}

	return Detail{
		Request:       req,
		Items:         items,
		Offers:        offers,
		DisplayStatus: DisplayStatus(req, offers, actor),
	}, nil
}

func canView(actor auth.Actor, r Request, offers []Offer) bool {
	if actor.UserID == "" {
		return false
	}
	switch {
	case actor.Role == auth.RoleSystemAdmin:
		return true
	case r.CreatedBy == actor.UserID:
		return true
	case actor.Role == auth.RoleCharity && actor.CharityUnitID != "" &&
		r.CharityUnitID != nil && *r.CharityUnitID == actor.CharityUnitID:
		return true
	case actor.Role == auth.RoleBranchAdmin && actor.BranchID != "":
		if r.RequesterBranchID != nil && *r.RequesterBranchID == actor.BranchID {
			return true
		}
		_, ok := offerOf(offers, actor.BranchID)
		return ok
	}
	return false
}

// List pages through requests. Unknown sort keys or status filters are
// rejected rather than ignored.
func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	if _, err := sortColumn(filters.SortKey); err != nil {
		return ListResult{}, err
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return ListResult{}, invalid(ReasonUnknownStatusFilter, "%q", filters.Status)
	}
	filters = filters.normalized()

	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: filters.Page, PageSize: filters.PageSize}, nil
}
