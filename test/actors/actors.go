package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"charityflow/auth"
	"charityflow/branch"
	"charityflow/expiry"
	"charityflow/request"
	"charityflow/schedule"
)

// Lifecycle is the part of the request service the actors drive.
type Lifecycle interface {
	Create(ctx context.Context, p request.CreateParams) (request.Request, error)
	Cancel(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
	AcceptOffer(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
	RejectOffer(ctx context.Context, actor auth.Actor, id, reason string) (request.Request, error)
	StartProcessing(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
	Finish(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
}

// Registry collects the ids of created requests so other actors can race on them.
type Registry struct {
	mu  sync.Mutex
	ids []string
}

func (r *Registry) Add(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *Registry) Pick() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return "", false
	}
	return r.ids[rand.Intn(len(r.ids))], true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// unexpected reports errors that contention alone cannot explain.
func unexpected(err error) bool {
	return errors.Is(err, request.ErrValidation) || errors.Is(err, request.ErrNoDeliverableBranch)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(minMS, spreadMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond)
}

// Creator files donations at origin. Every fourth one is linked to the
// activity and therefore pre-accepted by the nearest activity branch.
func Creator(ctx context.Context, svc Lifecycle, reg *Registry, contributor auth.Actor, origin branch.Location, itemIDs []string, activityID string, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		tomorrow := schedule.DateOf(time.Now().AddDate(0, 0, 1))
		p := request.CreateParams{
			Actor:    contributor,
			Kind:     request.KindDonated,
			Address:  "Stress St",
			Location: origin,
			Windows: []schedule.Window{{
				Day:   tomorrow,
				Start: schedule.NewTimeOfDay(8, 0),
				End:   schedule.NewTimeOfDay(17, 0),
			}},
			Items: []request.ItemInput{{ItemID: itemIDs[rand.Intn(len(itemIDs))], Quantity: int64(5 + rand.Intn(20))}},
		}
		if n%4 == 3 {
			p.ActivityID = activityID
		}

		created, err := svc.Create(ctx, p)
		if err != nil {
			if unexpected(err) {
				return fmt.Errorf("creator: %w", err)
			}
		} else {
			reg.Add(created.ID)
		}
		pause(10, 30)
	}
	return nil
}

// Acceptor has one branch administrator race to accept random requests.
func Acceptor(ctx context.Context, svc Lifecycle, reg *Registry, admin auth.Actor, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if id, ok := reg.Pick(); ok {
			if _, err := svc.AcceptOffer(ctx, admin, id); err != nil && unexpected(err) {
				return fmt.Errorf("acceptor %s: %w", admin.BranchID, err)
			}
		}
		pause(5, 20)
	}
	return nil
}

// Rejecter declines random requests on behalf of one branch.
func Rejecter(ctx context.Context, svc Lifecycle, reg *Registry, admin auth.Actor, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if id, ok := reg.Pick(); ok {
			if _, err := svc.RejectOffer(ctx, admin, id, "no capacity"); err != nil && unexpected(err) {
				return fmt.Errorf("rejecter %s: %w", admin.BranchID, err)
			}
		}
		pause(20, 40)
	}
	return nil
}

// Finisher moves requests held by its branch through processing to finished.
func Finisher(ctx context.Context, svc Lifecycle, reg *Registry, admin auth.Actor, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if id, ok := reg.Pick(); ok {
			var err error
			if rand.Intn(2) == 0 {
				_, err = svc.StartProcessing(ctx, admin, id)
			} else {
				_, err = svc.Finish(ctx, admin, id)
			}
			if err != nil && unexpected(err) {
				return fmt.Errorf("finisher %s: %w", admin.BranchID, err)
			}
		}
		pause(10, 30)
	}
	return nil
}

// Canceller has the requester cancel random requests.
func Canceller(ctx context.Context, svc Lifecycle, reg *Registry, requester auth.Actor, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if id, ok := reg.Pick(); ok {
			if _, err := svc.Cancel(ctx, requester, id); err != nil && unexpected(err) {
				return fmt.Errorf("canceller: %w", err)
			}
		}
		pause(40, 80)
	}
	return nil
}

// Expirer sweeps repeatedly. Its sweeper runs on a clock past every window,
// so it races the finisher for accepted requests.
func Expirer(ctx context.Context, sweeper *expiry.Sweeper, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		sweeper.Sweep(ctx)
		pause(100, 100)
	}
	return nil
}
