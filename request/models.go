package request

import (
	"time"

	"charityflow/branch"
	"charityflow/schedule"
)

// Kind distinguishes contributor donations from charity aid requests.
type Kind string

const (
	KindDonated Kind = "DONATED"
	KindAid     Kind = "AID"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusProcessing Status = "PROCESSING"
	StatusFinished   Status = "FINISHED"
	StatusExpired    Status = "EXPIRED"
	StatusCanceled   Status = "CANCELED"
)

type ItemStatus string

const (
	ItemWaiting  ItemStatus = "WAITING"
	ItemAccepted ItemStatus = "ACCEPTED"
	ItemApplied  ItemStatus = "APPLIED"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
)

// Request is a donation or an aid request. Exactly one of CreatedBy's
// contributor identity or CharityUnitID owns an aid request; RequesterBranchID
// is set when branch staff asked for aid on behalf of their branch.
type Request struct {
	ID                string
	Kind              Kind
	Address           string
	Location          branch.Location
	Windows           []schedule.Window
	Status            Status
	Note              string
	Images            []string
	CreatedBy         string
	CharityUnitID     *string
	RequesterBranchID *string
	ActivityID        *string
	CreatedAt         time.Time
	ConfirmedAt       *time.Time
	UpdatedAt         time.Time
}

// Item is one line of a request.
type Item struct {
	ID        string
	RequestID string
	ItemID    string
	Quantity  int64
	Status    ItemStatus
}

// Offer is a branch's standing on a request. The branch of an offer never
// changes and at most one offer per request is ACCEPTED.
type Offer struct {
	RequestID       string
	BranchID        string
	Status          OfferStatus
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	RejectingReason *string
}

// Detail is a request as seen by one caller.
type Detail struct {
	Request
	Items         []Item
	Offers        []Offer
	DisplayStatus Status
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filters narrows List. SortKey must be one of the keys accepted by sortColumns.
type Filters struct {
	Kind      Kind
	Status    Status
	CreatedBy string
	BranchID  string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

// normalized clamps paging to the first page and the default size when out of range.
func (f Filters) normalized() Filters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > MaxPageSize {
		f.PageSize = DefaultPageSize
	}
	return f
}

// ListResult is one page of requests. Page and PageSize are the values the
// page was actually read with.
type ListResult struct {
	Items    []Request
	Total    int
	Page     int
	PageSize int
}

// AcceptedOffer returns the request's ACCEPTED offer, if any.
func AcceptedOffer(offers []Offer) (Offer, bool) {
	for _, o := range offers {
		if o.Status == OfferAccepted {
			return o, true
		}
	}
	return Offer{}, false
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
