package httpapi

import (
	"time"

	"charityflow/activity"
	"charityflow/auth"
	"charityflow/branch"
	"charityflow/request"
	"charityflow/schedule"
)

type itemInput struct {
	ItemID   string `json:"itemId"`
	Quantity int64  `json:"quantity"`
}

type imageInput struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type createRequestBody struct {
	Kind       request.Kind      `json:"kind"`
	Address    string            `json:"address"`
	Location   branch.Location   `json:"location"`
	Windows    []schedule.Window `json:"windows"`
	Note       string            `json:"note"`
	ActivityID string            `json:"activityId"`
	Items      []itemInput       `json:"items"`
	Images     []imageInput      `json:"images"`
}

type rejectBody struct {
	Reason string `json:"reason"`
}

type itemResponse struct {
	ID       string             `json:"id"`
	ItemID   string             `json:"itemId"`
	Quantity int64              `json:"quantity"`
	Status   request.ItemStatus `json:"status"`
}

type offerResponse struct {
	BranchID        string              `json:"branchId"`
	Status          request.OfferStatus `json:"status"`
	CreatedAt       string              `json:"createdAt"`
	ConfirmedAt     *string             `json:"confirmedAt,omitempty"`
	RejectingReason *string             `json:"rejectingReason,omitempty"`
}

type requestResponse struct {
	ID                string            `json:"id"`
	Kind              request.Kind      `json:"kind"`
	Address           string            `json:"address"`
	Location          branch.Location   `json:"location"`
	Windows           []schedule.Window `json:"windows"`
	Status            request.Status    `json:"status"`
	DisplayStatus     request.Status    `json:"displayStatus,omitempty"`
	Note              string            `json:"note,omitempty"`
	Images            []string          `json:"images"`
	CreatedBy         string            `json:"createdBy"`
	CharityUnitID     *string           `json:"charityUnitId,omitempty"`
	RequesterBranchID *string           `json:"requesterBranchId,omitempty"`
	ActivityID        *string           `json:"activityId,omitempty"`
	CreatedAt         string            `json:"createdAt"`
	ConfirmedAt       *string           `json:"confirmedAt,omitempty"`
	UpdatedAt         string            `json:"updatedAt"`
	Items             []itemResponse    `json:"items,omitempty"`
	Offers            []offerResponse   `json:"offers,omitempty"`
}

type listResponse struct {
	Items    []requestResponse `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

type userResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	Role           auth.Role `json:"role"`
	BranchID       *string   `json:"branch_id,omitempty"`
	CharityUnitID  *string   `json:"charity_unit_id,omitempty"`
	TelegramLinked bool      `json:"telegram_linked"`
}

type linkTelegramBody struct {
	ChatID int64 `json:"chat_id"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type progressResponse struct {
	ActivityID string          `json:"activityId"`
	Name       string          `json:"name"`
	Status     activity.Status `json:"status"`
	Percent    string          `json:"percent"`
}

type branchResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Address  string          `json:"address"`
	Location branch.Location `json:"location"`
	Status   branch.Status   `json:"status"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toRequestResponse(r request.Request) requestResponse {
	images := r.Images
	if images == nil {
		images = []string{}
	}
	return requestResponse{
		ID:                r.ID,
		Kind:              r.Kind,
		Address:           r.Address,
		Location:          r.Location,
		Windows:           r.Windows,
		Status:            r.Status,
		Note:              r.Note,
		Images:            images,
		CreatedBy:         r.CreatedBy,
		CharityUnitID:     r.CharityUnitID,
		RequesterBranchID: r.RequesterBranchID,
		ActivityID:        r.ActivityID,
		CreatedAt:         formatTime(r.CreatedAt),
		ConfirmedAt:       formatTimePtr(r.ConfirmedAt),
		UpdatedAt:         formatTime(r.UpdatedAt),
	}
}

func toDetailResponse(d request.Detail) requestResponse {
	resp := toRequestResponse(d.Request)
	resp.DisplayStatus = d.DisplayStatus
	resp.Items = make([]itemResponse, 0, len(d.Items))
	for _, it := range d.Items {
		resp.Items = append(resp.Items, itemResponse{ID: it.ID, ItemID: it.ItemID, Quantity: it.Quantity, Status: it.Status})
	}
	resp.Offers = make([]offerResponse, 0, len(d.Offers))
	for _, o := range d.Offers {
		resp.Offers = append(resp.Offers, offerResponse{
			BranchID:        o.BranchID,
			Status:          o.Status,
			CreatedAt:       formatTime(o.CreatedAt),
			ConfirmedAt:     formatTimePtr(o.ConfirmedAt),
			RejectingReason: o.RejectingReason,
		})
	}
	return resp
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		FullName:       u.FullName,
		Role:           u.Role,
		BranchID:       u.BranchID,
		CharityUnitID:  u.CharityUnitID,
		TelegramLinked: u.TelegramChatID != nil,
	}
}

func toBranchResponse(b branch.Branch) branchResponse {
	return branchResponse{ID: b.ID, Name: b.Name, Address: b.Address, Location: b.Location, Status: b.Status}
}
