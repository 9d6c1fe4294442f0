package request

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"charityflow/activity"
	"charityflow/branch"
	"charityflow/catalog"
	"charityflow/charity"
	"charityflow/notify"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type ItemCatalog interface {
	GetItems(ctx context.Context, ids []string) (map[string]catalog.Item, error)
}

type ActivityStore interface {
	GetByID(ctx context.Context, id string) (activity.Activity, error)
	IncrementProcess(ctx context.Context, tx pgx.Tx, activityID, itemID string, quantity int64) error
}

type BranchDirectory interface {
	GetByID(ctx context.Context, id string) (branch.Branch, error)
}

type CharityDirectory interface {
	GetByID(ctx context.Context, id string) (charity.Unit, error)
}

// BranchMatcher finds branches able to serve a location.
type BranchMatcher interface {
	FindDeliverable(ctx context.Context, q branch.MatchQuery) (branch.Match, error)
	MaxDistanceKM() float64
}

// ObjectStore keeps request images. Upload returns the public URL of the object.
type ObjectStore interface {
	Upload(ctx context.Context, name string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// VolumeBand bounds the transport volume of a donation, in percent of one transport.
type VolumeBand struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultVolumeBand accepts donations between 1% and 100% of a transport.
var DefaultVolumeBand = VolumeBand{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(100)}

// Deps groups the collaborators of the request service.
type Deps struct {
	Pool       TxBeginner
	Repo       Repository
	Catalog    ItemCatalog
	Activities ActivityStore
	Branches   BranchDirectory
	Charities  CharityDirectory
	Matcher    BranchMatcher
	Objects    ObjectStore
	Notifier   Notifier
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	catalog     ItemCatalog
	activities  ActivityStore
	branches    BranchDirectory
	charities   CharityDirectory
	matcher     BranchMatcher
	objects     ObjectStore
	notifier    Notifier
	band        VolumeBand
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{
		pool:        deps.Pool,
		repo:        deps.Repo,
		catalog:     deps.Catalog,
		activities:  deps.Activities,
		branches:    deps.Branches,
		charities:   deps.Charities,
		matcher:     deps.Matcher,
		objects:     deps.Objects,
		notifier:    deps.Notifier,
		band:        DefaultVolumeBand,
		logger:      slog.Default().With("component", "request"),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

func (s *Service) WithVolumeBand(band VolumeBand) *Service {
	s.band = band
	return s
}

// notify delivers n and only logs failures; callers have already committed.
func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if s.notifier == nil || n.ReceiverID == "" {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification not delivered",
			"request_id", n.DataID,
			"receiver_id", n.ReceiverID,
			"error", err,
		)
	}
}

// branchAdmin resolves the administrator of a branch for notifications. A
// lookup failure is logged and yields no receiver.
func (s *Service) branchAdmin(ctx context.Context, branchID string) string {
	if s.branches == nil {
		return ""
	}
	b, err := s.branches.GetByID(ctx, branchID)
	if err != nil {
		s.logger.Warn("branch lookup failed", "branch_id", branchID, "error", err)
		return ""
	}
	return b.AdminUserID
}

func dataType(k Kind) notify.DataType {
	if k == KindAid {
		return notify.DataAidRequest
	}
	return notify.DataDonatedRequest
}

func message(r Request, receiverID, content string) notify.Notification {
	return notify.Notification{
		ReceiverID: receiverID,
		DataType:   dataType(r.Kind),
		DataID:     r.ID,
		Content:    content,
	}
}
