package activity

import (
	"context"

	"github.com/shopspring/decimal"

	"charityflow/progress"
)

// Reader abstracts the activity lookups the service needs.
type Reader interface {
	GetByID(ctx context.Context, id string) (Activity, error)
}

type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id string) (Activity, error) {
	return s.repo.GetByID(ctx, id)
}

// Progress returns the activity's fulfillment percentage in [0, 100].
func (s *Service) Progress(ctx context.Context, id string) (decimal.Decimal, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return Progress(a), nil
}

func Progress(a Activity) decimal.Decimal {
	targets := make([]progress.Target, 0, len(a.Targets))
	for _, t := range a.Targets {
		targets = append(targets, progress.Target{ItemID: t.ItemID, Target: t.Target, Process: t.Process})
	}
	return progress.Aggregate(targets)
}
