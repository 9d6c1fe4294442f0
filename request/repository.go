package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence surface of the request lifecycle. Methods that
// take a pgx.Tx participate in the caller's unit of work.
type Repository interface {
	InsertRequest(ctx context.Context, tx pgx.Tx, req Request) error
	InsertItems(ctx context.Context, tx pgx.Tx, items []Item) error
	InsertOffers(ctx context.Context, tx pgx.Tx, offers []Offer) error

	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	OffersTx(ctx context.Context, tx pgx.Tx, requestID string) ([]Offer, error)
	ItemsTx(ctx context.Context, tx pgx.Tx, requestID string) ([]Item, error)
	CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, confirmedAt *time.Time) error
	CompareAndSetOffer(ctx context.Context, tx pgx.Tx, change OfferChange) error
	SetItemsStatus(ctx context.Context, tx pgx.Tx, requestID string, from, to ItemStatus) (int64, error)

	AppendImages(ctx context.Context, id string, urls []string) error
	Get(ctx context.Context, id string) (Request, error)
	Items(ctx context.Context, requestID string) ([]Item, error)
	Offers(ctx context.Context, requestID string) ([]Offer, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
	ListByStatus(ctx context.Context, statuses []Status) ([]Request, error)
	OffersFor(ctx context.Context, requestIDs []string) (map[string][]Offer, error)
	MarkExpired(ctx context.Context, id string, from Status) (bool, error)
}

// OfferChange moves one branch's offer from one status to another.
type OfferChange struct {
	RequestID       string
	BranchID        string
	From            OfferStatus
	To              OfferStatus
	ConfirmedAt     *time.Time
	RejectingReason *string
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, kind, address, latitude, longitude, windows, status, note, images,
	created_by, charity_unit_id, requester_branch_id, activity_id, created_at, confirmed_at, updated_at`

const offerColumns = `request_id, branch_id, status, created_at, confirmed_at, rejecting_reason`

func (r *PGRepository) InsertRequest(ctx context.Context, tx pgx.Tx, req Request) error {
	const query = `
		INSERT INTO requests (id, kind, address, latitude, longitude, windows, status, note, images,
			created_by, charity_unit_id, requester_branch_id, activity_id, created_at, confirmed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $14)
	`

	images := req.Images
	if images == nil {
		images = []string{}
	}

	tag, err := tx.Exec(ctx, query,
		req.ID,
		req.Kind,
		req.Address,
		req.Location.Latitude,
		req.Location.Longitude,
		req.Windows,
		req.Status,
		req.Note,
		images,
		req.CreatedBy,
		req.CharityUnitID,
		req.RequesterBranchID,
		req.ActivityID,
		req.CreatedAt,
		req.ConfirmedAt,
	)
	if err != nil {
		return &PersistenceError{Op: "insert request", Err: err}
	}
	if tag.RowsAffected() != 1 {
		return &PersistenceError{Op: "insert request", Expected: 1, Affected: tag.RowsAffected()}
	}
	return nil
}

func (r *PGRepository) InsertItems(ctx context.Context, tx pgx.Tx, items []Item) error {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, []any{it.ID, it.RequestID, it.ItemID, it.Quantity, it.Status})
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"request_items"},
		[]string{"id", "request_id", "item_id", "quantity", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return &PersistenceError{Op: "insert items", Err: err}
	}
	if n != int64(len(items)) {
		return &PersistenceError{Op: "insert items", Expected: int64(len(items)), Affected: n}
	}
	return nil
}

func (r *PGRepository) InsertOffers(ctx context.Context, tx pgx.Tx, offers []Offer) error {
	rows := make([][]any, 0, len(offers))
	for _, o := range offers {
		rows = append(rows, []any{o.RequestID, o.BranchID, o.Status, o.CreatedAt, o.ConfirmedAt, o.RejectingReason})
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"acceptable_requests"},
		[]string{"request_id", "branch_id", "status", "created_at", "confirmed_at", "rejecting_reason"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return &PersistenceError{Op: "insert offers", Err: err}
	}
	if n != int64(len(offers)) {
		return &PersistenceError{Op: "insert offers", Expected: int64(len(offers)), Affected: n}
	}
	return nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR UPDATE`

	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, &NotFoundError{Entity: "request", ID: id}
		}
		return Request{}, fmt.Errorf("request: get for update: %w", err)
	}
	return req, nil
}

func (r *PGRepository) OffersTx(ctx context.Context, tx pgx.Tx, requestID string) ([]Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM acceptable_requests WHERE request_id = $1 ORDER BY created_at, branch_id`
	rows, err := tx.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: query offers: %w", err)
	}
	return collectOffers(rows)
}

func (r *PGRepository) ItemsTx(ctx context.Context, tx pgx.Tx, requestID string) ([]Item, error) {
	rows, err := tx.Query(ctx, `SELECT id, request_id, item_id, quantity, status FROM request_items WHERE request_id = $1 ORDER BY item_id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: query items: %w", err)
	}
	return collectItems(rows)
}

// CompareAndSetStatus moves the request to `to` only if it is still in `from`.
// confirmedAt is written only when non-nil.
func (r *PGRepository) CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, confirmedAt *time.Time) error {
	const query = `
		UPDATE requests
		SET status = $3,
		    confirmed_at = COALESCE($4, confirmed_at),
		    updated_at = now()
		WHERE id = $1 AND status = $2
	`

	tag, err := tx.Exec(ctx, query, id, from, to, confirmedAt)
	if err != nil {
		return &PersistenceError{Op: "update request status", Err: err}
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleState
	}
	return nil
}

func (r *PGRepository) CompareAndSetOffer(ctx context.Context, tx pgx.Tx, change OfferChange) error {
	const query = `
		UPDATE acceptable_requests
		SET status = $4,
		    confirmed_at = COALESCE($5, confirmed_at),
		    rejecting_reason = COALESCE($6, rejecting_reason)
		WHERE request_id = $1 AND branch_id = $2 AND status = $3
	`

	tag, err := tx.Exec(ctx, query,
		change.RequestID,
		change.BranchID,
		change.From,
		change.To,
		change.ConfirmedAt,
		change.RejectingReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrStaleState
		}
		return &PersistenceError{Op: "update offer", Err: err}
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleState
	}
	return nil
}

func (r *PGRepository) SetItemsStatus(ctx context.Context, tx pgx.Tx, requestID string, from, to ItemStatus) (int64, error) {
	tag, err := tx.Exec(ctx, `UPDATE request_items SET status = $3 WHERE request_id = $1 AND status = $2`, requestID, from, to)
	if err != nil {
		return 0, &PersistenceError{Op: "update items", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) AppendImages(ctx context.Context, id string, urls []string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE requests SET images = images || $2::text[], updated_at = now() WHERE id = $1`, id, urls)
	if err != nil {
		return &PersistenceError{Op: "append images", Err: err}
	}
	if tag.RowsAffected() != 1 {
		return &PersistenceError{Op: "append images", Expected: 1, Affected: tag.RowsAffected()}
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, &NotFoundError{Entity: "request", ID: id}
		}
		return Request{}, fmt.Errorf("request: get: %w", err)
	}
	return req, nil
}

func (r *PGRepository) Items(ctx context.Context, requestID string) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, item_id, quantity, status FROM request_items WHERE request_id = $1 ORDER BY item_id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: query items: %w", err)
	}
	return collectItems(rows)
}

func (r *PGRepository) Offers(ctx context.Context, requestID string) ([]Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM acceptable_requests WHERE request_id = $1 ORDER BY created_at, branch_id`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("request: query offers: %w", err)
	}
	return collectOffers(rows)
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	filters = filters.normalized()

	sortKey, err := sortColumn(filters.SortKey)
	if err != nil {
		return nil, 0, err
	}
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Kind != "" {
		where = append(where, fmt.Sprintf("r.kind=$%d", len(args)+1))
		args = append(args, filters.Kind)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("r.status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.CreatedBy != "" {
		where = append(where, fmt.Sprintf("r.created_by=$%d", len(args)+1))
		args = append(args, filters.CreatedBy)
	}
	if filters.BranchID != "" {
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM acceptable_requests ar WHERE ar.request_id = r.id AND ar.branch_id=$%d)", len(args)+1))
		args = append(args, filters.BranchID)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM requests r%s ORDER BY r.%s %s, r.id LIMIT %d OFFSET %d`,
		requestColumns, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("request: query list: %w", err)
	}
	list, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM requests r"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("request: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) ListByStatus(ctx context.Context, statuses []Status) ([]Request, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	query := `SELECT ` + requestColumns + ` FROM requests WHERE status = ANY($1) ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("request: query by status: %w", err)
	}
	return collectRequests(rows)
}

func (r *PGRepository) OffersFor(ctx context.Context, requestIDs []string) (map[string][]Offer, error) {
	out := make(map[string][]Offer, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + offerColumns + ` FROM acceptable_requests WHERE request_id = ANY($1) ORDER BY created_at, branch_id`
	rows, err := r.pool.Query(ctx, query, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("request: query offers: %w", err)
	}
	offers, err := collectOffers(rows)
	if err != nil {
		return nil, err
	}
	for _, o := range offers {
		out[o.RequestID] = append(out[o.RequestID], o)
	}
	return out, nil
}

// MarkExpired moves the request to EXPIRED if it is still in `from`. It
// reports false when another writer changed the status first.
func (r *PGRepository) MarkExpired(ctx context.Context, id string, from Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE requests SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`, id, from, StatusExpired)
	if err != nil {
		return false, &PersistenceError{Op: "expire request", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.Kind,
		&req.Address,
		&req.Location.Latitude,
		&req.Location.Longitude,
		&req.Windows,
		&req.Status,
		&req.Note,
		&req.Images,
		&req.CreatedBy,
		&req.CharityUnitID,
		&req.RequesterBranchID,
		&req.ActivityID,
		&req.CreatedAt,
		&req.ConfirmedAt,
		&req.UpdatedAt,
	)
	return req, err
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request: scan request: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate requests: %w", err)
	}
	return list, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.RequestID, &it.ItemID, &it.Quantity, &it.Status); err != nil {
			return nil, fmt.Errorf("request: scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate items: %w", err)
	}
	return items, nil
}

func collectOffers(rows pgx.Rows) ([]Offer, error) {
	defer rows.Close()

	offers := []Offer{}
	for rows.Next() {
		var o Offer
		if err := rows.Scan(&o.RequestID, &o.BranchID, &o.Status, &o.CreatedAt, &o.ConfirmedAt, &o.RejectingReason); err != nil {
			return nil, fmt.Errorf("request: scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate offers: %w", err)
	}
	return offers, nil
}

var sortColumns = map[string]string{
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
	"confirmedAt": "confirmed_at",
	"status":      "status",
	"kind":        "kind",
}

// sortColumn resolves a public sort key. An empty key sorts by creation time;
// any key outside sortColumns is rejected.
func sortColumn(key string) (string, error) {
	if key == "" {
		return "created_at", nil
	}
	col, ok := sortColumns[key]
	if !ok {
		return "", invalid(ReasonUnknownSortKey, "%q", key)
	}
	return col, nil
}
