package request

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("request: validation failed")
	ErrNotFound            = errors.New("request: not found")
	ErrNoDeliverableBranch = errors.New("request: no deliverable branch")
	ErrPersistence         = errors.New("request: persistence failure")
	ErrUpload              = errors.New("request: image upload failed")
	ErrForbidden           = errors.New("request: forbidden")
	ErrInvalidState        = errors.New("request: invalid state")
	// ErrStaleState is returned when a compare-and-swap write found the row in
	// a different status than the one it was read in.
	ErrStaleState = errors.New("request: status changed concurrently")
)

// Reason enumerates validation failures.
type Reason string

const (
	ReasonMissingField        Reason = "missing_field"
	ReasonInvalidSchedule     Reason = "invalid_schedule"
	ReasonInvalidLocation     Reason = "invalid_location"
	ReasonNoItems             Reason = "no_items"
	ReasonDuplicateItem       Reason = "duplicate_item"
	ReasonInvalidQuantity     Reason = "invalid_quantity"
	ReasonItemNotFound        Reason = "item_not_found"
	ReasonActivityInternal    Reason = "activity_internal"
	ReasonActivityNotStarted  Reason = "activity_not_started"
	ReasonItemNotInActivity   Reason = "item_not_in_activity"
	ReasonVolumeBelowMinimum  Reason = "volume_below_minimum"
	ReasonVolumeAboveMaximum  Reason = "volume_above_maximum"
	ReasonRoleNotAllowed      Reason = "role_not_allowed"
	ReasonMissingAffiliation  Reason = "missing_affiliation"
	ReasonUnknownSortKey      Reason = "unknown_sort_key"
	ReasonUnknownStatusFilter Reason = "unknown_status_filter"
)

// ValidationError is a rejected input. Nothing has been written when it is returned.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request: validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("request: validation failed: %s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(reason Reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// VolumeError reports a donation whose transport volume is outside the
// accepted band. Volume and bounds are percentages of one transport.
type VolumeError struct {
	Volume decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
}

func (e *VolumeError) Reason() Reason {
	if e.Volume.LessThan(e.Min) {
		return ReasonVolumeBelowMinimum
	}
	return ReasonVolumeAboveMaximum
}

func (e *VolumeError) Error() string {
	return fmt.Sprintf("request: validation failed: %s: volume %s%% outside [%s%%, %s%%]",
		e.Reason(), e.Volume.StringFixed(2), e.Min.String(), e.Max.String())
}

func (e *VolumeError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("request: %s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// MatchingError reports that no branch lies within MaxDistanceKM of the request.
type MatchingError struct {
	MaxDistanceKM float64
}

func (e *MatchingError) Error() string {
	return fmt.Sprintf("request: no deliverable branch within %.1f km", e.MaxDistanceKM)
}

func (e *MatchingError) Unwrap() error { return ErrNoDeliverableBranch }

// PersistenceError is a write that failed or touched an unexpected number of rows.
type PersistenceError struct {
	Op       string
	Expected int64
	Affected int64
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("request: %s: expected %d rows, affected %d", e.Op, e.Expected, e.Affected)
}

func (e *PersistenceError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPersistence, e.Err}
	}
	return []error{ErrPersistence}
}

// UploadError is returned after the request was committed but its images
// could not be stored. Uploaded objects have already been deleted.
type UploadError struct {
	RequestID string
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("request: upload images for %s: %v", e.RequestID, e.Err)
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUpload, e.Err}
}
