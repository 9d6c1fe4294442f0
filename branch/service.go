package branch

import "context"

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Branch, error)
	List(ctx context.Context, limit int) ([]Branch, error)
}

// Service exposes read operations over branches.
type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByID(ctx context.Context, id string) (Branch, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit active branches.
func (s *Service) List(ctx context.Context, limit int) ([]Branch, error) {
	return s.repo.List(ctx, limit)
}
