// Package expiry periodically inspects assigned requests, reminds branches
// whose last pickup window is close and expires requests whose windows have
// all elapsed.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"charityflow/branch"
	"charityflow/notify"
	"charityflow/request"
	"charityflow/schedule"
)

// DefaultReminderHorizon is how close the end of the last window must be
// before the branch is reminded.
const DefaultReminderHorizon = 24 * time.Hour

type Store interface {
	ListByStatus(ctx context.Context, statuses []request.Status) ([]request.Request, error)
	OffersFor(ctx context.Context, requestIDs []string) (map[string][]request.Offer, error)
	MarkExpired(ctx context.Context, id string, from request.Status) (bool, error)
}

type BranchDirectory interface {
	GetByID(ctx context.Context, id string) (branch.Branch, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// ReminderGuard reports whether a reminder for this request and window has
// not been sent yet, claiming it when so.
type ReminderGuard interface {
	FirstReminder(ctx context.Context, requestID string, windowEnd time.Time) (bool, error)
}

// Report summarises one sweep.
type Report struct {
	Scanned  int
	Reminded int
	Expired  int
	Failed   int
}

type Sweeper struct {
	store    Store
	branches BranchDirectory
	notifier Notifier
	guard    ReminderGuard
	horizon  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(store Store, branches BranchDirectory, notifier Notifier) *Sweeper {
	return &Sweeper{
		store:    store,
		branches: branches,
		notifier: notifier,
		horizon:  DefaultReminderHorizon,
		interval: time.Hour,
		now:      time.Now,
		logger:   slog.Default().With("component", "expiry"),
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// WithReminderGuard de-duplicates reminders across sweeps. Without a guard
// every sweep reminds again.
func (s *Sweeper) WithReminderGuard(guard ReminderGuard) *Sweeper {
	s.guard = guard
	return s
}

func (s *Sweeper) WithReminderHorizon(d time.Duration) *Sweeper {
	if d > 0 {
		s.horizon = d
	}
	return s
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Sweep runs one pass. Failures are logged per request and never returned.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	var report Report
	now := s.now()

	candidates, err := s.store.ListByStatus(ctx, request.SweepStatuses)
	if err != nil {
		s.logger.Error("sweep: list requests", "error", err)
		return report
	}
	if len(candidates) == 0 {
		return report
	}

	ids := make([]string, 0, len(candidates))
	for _, r := range candidates {
		ids = append(ids, r.ID)
	}
	offers, err := s.store.OffersFor(ctx, ids)
	if err != nil {
		s.logger.Error("sweep: load offers", "error", err)
		return report
	}

	for _, r := range candidates {
		accepted, ok := request.AcceptedOffer(offers[r.ID])
		if !ok {
			continue
		}
		report.Scanned++

		last, ok := schedule.LastAvailableWindow(r.Windows, now)
		if !ok {
			expired, err := s.expire(ctx, r, accepted)
			if err != nil {
				report.Failed++
				s.logger.Error("sweep: expire request", "request_id", r.ID, "error", err)
				continue
			}
			if expired {
				report.Expired++
			}
			continue
		}

		if schedule.Remaining(last, now) <= s.horizon {
			if s.remind(ctx, r, accepted, last, now) {
				report.Reminded++
			}
		}
	}

	s.logger.Info("sweep finished",
		"scanned", report.Scanned,
		"reminded", report.Reminded,
		"expired", report.Expired,
		"failed", report.Failed,
	)
	return report
}

// expire swaps the status and notifies both parties only when the swap won.
func (s *Sweeper) expire(ctx context.Context, r request.Request, accepted request.Offer) (bool, error) {
	swapped, err := s.store.MarkExpired(ctx, r.ID, r.Status)
	if err != nil {
		return false, err
	}
	if !swapped {
		s.logger.Debug("sweep: request changed before expiry", "request_id", r.ID)
		return false, nil
	}

	s.send(ctx, r, r.CreatedBy, "Your request expired because its last pickup window has passed.")
	s.send(ctx, r, s.branchAdmin(ctx, accepted.BranchID), "A request assigned to your branch expired without being completed.")
	return true, nil
}

func (s *Sweeper) remind(ctx context.Context, r request.Request, accepted request.Offer, last schedule.Window, now time.Time) bool {
	loc := now.Location()
	if s.guard != nil {
		first, err := s.guard.FirstReminder(ctx, r.ID, last.EndAt(loc))
		if err != nil {
			s.logger.Warn("sweep: reminder guard unavailable", "request_id", r.ID, "error", err)
		} else if !first {
			return false
		}
	}

	content := fmt.Sprintf("Request %s must be picked up before %s.", r.ID, last.EndAt(loc).Format("2006-01-02 15:04"))
	return s.send(ctx, r, s.branchAdmin(ctx, accepted.BranchID), content)
}

func (s *Sweeper) send(ctx context.Context, r request.Request, receiverID, content string) bool {
	if receiverID == "" {
		return false
	}
	kind := notify.DataDonatedRequest
	if r.Kind == request.KindAid {
		kind = notify.DataAidRequest
	}
	err := s.notifier.Notify(ctx, notify.Notification{
		ReceiverID: receiverID,
		DataType:   kind,
		DataID:     r.ID,
		Content:    content,
	})
	if err != nil {
		s.logger.Warn("sweep: notification not delivered", "request_id", r.ID, "receiver_id", receiverID, "error", err)
		return false
	}
	return true
}

func (s *Sweeper) branchAdmin(ctx context.Context, branchID string) string {
	b, err := s.branches.GetByID(ctx, branchID)
	if err != nil {
		s.logger.Warn("sweep: branch lookup failed", "branch_id", branchID, "error", err)
		return ""
	}
	return b.AdminUserID
}

// Start runs a sweep immediately and then on every interval until Stop or
// until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("sweeper started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}
