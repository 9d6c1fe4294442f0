package request

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"charityflow/auth"
)

// Cancel withdraws a PENDING or ACCEPTED request. Only the user who created
// the request may cancel it.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id string) (Request, error) {
	var (
		req      Request
		accepted Offer
		hasOffer bool
	)

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.CreatedBy != actor.UserID {
			return ErrForbidden
		}
		if !r.Status.CanTransitionTo(StatusCanceled) {
			return fmt.Errorf("%w: cannot cancel a %s request", ErrInvalidState, r.Status)
		}

		offers, err := s.repo.OffersTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.repo.CompareAndSetStatus(ctx, tx, id, r.Status, StatusCanceled, nil); err != nil {
			return err
		}

		r.Status = StatusCanceled
		req = r
		accepted, hasOffer = AcceptedOffer(offers)
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	if hasOffer {
		s.notify(ctx, message(req, s.branchAdmin(ctx, accepted.BranchID), "A request assigned to your branch was canceled by its requester."))
	}
	return req, nil
}

// StartProcessing marks an ACCEPTED request as being picked up by the
// branch holding the accepted offer.
func (s *Service) StartProcessing(ctx context.Context, actor auth.Actor, id string) (Request, error) {
	req, err := s.advanceAccepted(ctx, actor, id, StatusProcessing, nil)
	if err != nil {
		return Request{}, err
	}
	s.notify(ctx, message(req, req.CreatedBy, "The branch started handling your request."))
	return req, nil
}

// Finish completes an ACCEPTED or PROCESSING request. Items become APPLIED
// and, for activity requests, the delivered quantities count towards the
// activity's targets.
func (s *Service) Finish(ctx context.Context, actor auth.Actor, id string) (Request, error) {
	req, err := s.advanceAccepted(ctx, actor, id, StatusFinished, func(tx pgx.Tx, r Request) error {
		items, err := s.repo.ItemsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.repo.SetItemsStatus(ctx, tx, id, ItemAccepted, ItemApplied); err != nil {
			return err
		}
		if r.ActivityID == nil {
			return nil
		}
		for _, it := range items {
			if err := s.activities.IncrementProcess(ctx, tx, *r.ActivityID, it.ItemID, it.Quantity); err != nil {
				return &PersistenceError{Op: "increment activity process", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.notify(ctx, message(req, req.CreatedBy, "Your request has been completed."))
	return req, nil
}

// advanceAccepted moves a request held by the actor's branch to next. after
// runs in the same transaction once the status has been swapped.
func (s *Service) advanceAccepted(ctx context.Context, actor auth.Actor, id string, next Status, after func(pgx.Tx, Request) error) (Request, error) {
	if actor.Role != auth.RoleBranchAdmin || actor.BranchID == "" {
		return Request{}, ErrForbidden
	}

	var req Request
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		offers, err := s.repo.OffersTx(ctx, tx, id)
		if err != nil {
			return err
		}
		acc, ok := AcceptedOffer(offers)
		if !ok || acc.BranchID != actor.BranchID {
			return ErrForbidden
		}
		if !r.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: cannot move a %s request to %s", ErrInvalidState, r.Status, next)
		}
		if err := s.repo.CompareAndSetStatus(ctx, tx, id, r.Status, next, nil); err != nil {
			return err
		}
		r.Status = next
		if after != nil {
			if err := after(tx, r); err != nil {
				return err
			}
		}
		req = r
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// AcceptOffer confirms the actor's branch as the one serving a PENDING request.
func (s *Service) AcceptOffer(ctx context.Context, actor auth.Actor, id string) (Request, error) {
	if actor.Role != auth.RoleBranchAdmin || actor.BranchID == "" {
		return Request{}, ErrForbidden
	}

	var req Request
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !r.Status.CanTransitionTo(StatusAccepted) {
			return fmt.Errorf("%w: cannot accept a %s request", ErrInvalidState, r.Status)
		}
		offers, err := s.repo.OffersTx(ctx, tx, id)
		if err != nil {
			return err
		}
		own, ok := offerOf(offers, actor.BranchID)
		if !ok {
			return ErrForbidden
		}
		if own.Status != OfferPending {
			return fmt.Errorf("%w: offer is %s", ErrInvalidState, own.Status)
		}
		if _, taken := AcceptedOffer(offers); taken {
			return fmt.Errorf("%w: request already accepted", ErrInvalidState)
		}

		now := s.now()
		if err := s.repo.CompareAndSetOffer(ctx, tx, OfferChange{
			RequestID:   id,
			BranchID:    actor.BranchID,
			From:        OfferPending,
			To:          OfferAccepted,
			ConfirmedAt: &now,
		}); err != nil {
			return err
		}
		if err := s.repo.CompareAndSetStatus(ctx, tx, id, r.Status, StatusAccepted, &now); err != nil {
			return err
		}
		if _, err := s.repo.SetItemsStatus(ctx, tx, id, ItemWaiting, ItemAccepted); err != nil {
			return err
		}

		r.Status = StatusAccepted
		r.ConfirmedAt = &now
		req = r
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.notify(ctx, message(req, req.CreatedBy, "Your request was accepted by a branch."))
	return req, nil
}

// RejectOffer declines the actor's offer on a PENDING request. When every
// offer has been declined the request itself becomes REJECTED.
func (s *Service) RejectOffer(ctx context.Context, actor auth.Actor, id, reason string) (Request, error) {
	if actor.Role != auth.RoleBranchAdmin || actor.BranchID == "" {
		return Request{}, ErrForbidden
	}

	var (
		req         Request
		rejectedAll bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return fmt.Errorf("%w: cannot reject a %s request", ErrInvalidState, r.Status)
		}
		offers, err := s.repo.OffersTx(ctx, tx, id)
		if err != nil {
			return err
		}
		own, ok := offerOf(offers, actor.BranchID)
		if !ok {
			return ErrForbidden
		}
		if own.Status != OfferPending {
			return fmt.Errorf("%w: offer is %s", ErrInvalidState, own.Status)
		}

		if err := s.repo.CompareAndSetOffer(ctx, tx, OfferChange{
			RequestID:       id,
			BranchID:        actor.BranchID,
			From:            OfferPending,
			To:              OfferRejected,
			RejectingReason: strPtr(strings.TrimSpace(reason)),
		}); err != nil {
			return err
		}

		rejectedAll = true
		for _, o := range offers {
			if o.BranchID != actor.BranchID && o.Status != OfferRejected {
				rejectedAll = false
				break
			}
		}
		if rejectedAll {
			if err := s.repo.CompareAndSetStatus(ctx, tx, id, StatusPending, StatusRejected, nil); err != nil {
				return err
			}
			r.Status = StatusRejected
		}
		req = r
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	if rejectedAll {
		s.notify(ctx, message(req, req.CreatedBy, "No branch could take your request."))
	}
	return req, nil
}

func offerOf(offers []Offer, branchID string) (Offer, bool) {
	for _, o := range offers {
		if o.BranchID == branchID {
			return o, true
		}
	}
	return Offer{}, false
}
