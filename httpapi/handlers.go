package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"charityflow/activity"
	"charityflow/auth"
	"charityflow/media"
	"charityflow/request"
)

const (
	maxJSONBody      = 1 << 20
	maxMultipartBody = 8 * media.MaxImageBytes
)

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body auth.RegisterRequest
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	user, err := s.auth.Register(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body auth.LoginRequest
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	result, err := s.auth.Login(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: result.Token, User: toUserResponse(result.User)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	user, err := s.auth.GetUserByID(r.Context(), actor.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

// handleLinkTelegram stores the chat id the Telegram sink pushes to. A zero
// chat_id unlinks.
func (s *Server) handleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	var body linkTelegramBody
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	actor, _ := actorFrom(r.Context())
	user, err := s.auth.LinkTelegram(r.Context(), actor, body.ChatID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

// handleCreateRequest accepts either a JSON body with base64 images or a
// multipart form whose "payload" field holds the JSON and whose "images"
// files are the attachments.
func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	var (
		body   createRequestBody
		images []request.Image
		err    error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		body, images, err = readMultipartCreate(w, r)
	} else {
		body, images, err = readJSONCreate(r)
	}
	defer closeImages(images)
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	params := request.CreateParams{
		Actor:      actor,
		Kind:       body.Kind,
		Address:    body.Address,
		Location:   body.Location,
		Windows:    body.Windows,
		Note:       body.Note,
		ActivityID: body.ActivityID,
		Images:     images,
	}
	for _, it := range body.Items {
		params.Items = append(params.Items, request.ItemInput{ItemID: it.ItemID, Quantity: it.Quantity})
	}

	created, err := s.requests.Create(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/requests/"+created.ID)
	writeJSON(w, http.StatusCreated, toRequestResponse(created))
}

func readJSONCreate(r *http.Request) (createRequestBody, []request.Image, error) {
	var body createRequestBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMultipartBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return createRequestBody{}, nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	images := make([]request.Image, 0, len(body.Images))
	for i, img := range body.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return createRequestBody{}, nil, fmt.Errorf("images[%d]: invalid base64 data", i)
		}
		images = append(images, request.Image{
			Name:        img.Name,
			ContentType: img.ContentType,
			Body:        bytes.NewReader(data),
		})
	}
	body.Images = nil
	return body, images, nil
}

func readMultipartCreate(w http.ResponseWriter, r *http.Request) (createRequestBody, []request.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(media.MaxImageBytes); err != nil {
		return createRequestBody{}, nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	var body createRequestBody
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &body); err != nil {
		return createRequestBody{}, nil, fmt.Errorf("invalid payload field: %w", err)
	}

	var images []request.Image
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			closeImages(images)
			return createRequestBody{}, nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		images = append(images, request.Image{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}
	return body, images, nil
}

// closeImages releases multipart parts, some of which may be spilled to disk.
func closeImages(images []request.Image) {
	for _, img := range images {
		if c, ok := img.Body.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	detail, err := s.requests.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

// handleListRequests scopes the listing to what the caller may see: staff of a
// branch see the requests offered to their branch, requesters see their own.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	q := r.URL.Query()

	filters := request.Filters{
		Kind:      request.Kind(q.Get("kind")),
		Status:    request.Status(q.Get("status")),
		SortKey:   q.Get("sort"),
		SortOrder: q.Get("order"),
	}

	var err error
	if filters.Page, err = intParam(q.Get("page"), 1); err != nil {
		writeBadRequest(w, r, "page must be a number")
		return
	}
	if filters.PageSize, err = intParam(q.Get("pageSize"), 20); err != nil {
		writeBadRequest(w, r, "pageSize must be a number")
		return
	}

	switch actor.Role {
	case auth.RoleSystemAdmin:
		filters.BranchID = q.Get("branchId")
		filters.CreatedBy = q.Get("createdBy")
	case auth.RoleBranchAdmin:
		if q.Get("mine") == "true" {
			filters.CreatedBy = actor.UserID
		} else {
			filters.BranchID = actor.BranchID
		}
	default:
		filters.CreatedBy = actor.UserID
	}

	result, err := s.requests.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := listResponse{
		Items:    make([]requestResponse, 0, len(result.Items)),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	}
	for _, req := range result.Items {
		resp.Items = append(resp.Items, toRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, resp)
}

type transition func(r *http.Request, actor auth.Actor, id string) (request.Request, error)

func (s *Server) runTransition(w http.ResponseWriter, r *http.Request, fn transition) {
	actor, _ := actorFrom(r.Context())
	updated, err := fn(r, actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(updated))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, func(r *http.Request, actor auth.Actor, id string) (request.Request, error) {
		return s.requests.Cancel(r.Context(), actor, id)
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, func(r *http.Request, actor auth.Actor, id string) (request.Request, error) {
		return s.requests.AcceptOffer(r.Context(), actor, id)
	})
}

func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, func(r *http.Request, actor auth.Actor, id string) (request.Request, error) {
		return s.requests.StartProcessing(r.Context(), actor, id)
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.runTransition(w, r, func(r *http.Request, actor auth.Actor, id string) (request.Request, error) {
		return s.requests.Finish(r.Context(), actor, id)
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeBadRequest(w, r, err.Error())
			return
		}
	}
	s.runTransition(w, r, func(r *http.Request, actor auth.Actor, id string) (request.Request, error) {
		return s.requests.RejectOffer(r.Context(), actor, id, body.Reason)
	})
}

func (s *Server) handleActivityProgress(w http.ResponseWriter, r *http.Request) {
	a, err := s.activities.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		ActivityID: a.ID,
		Name:       a.Name,
		Status:     a.Status,
		Percent:    activity.Progress(a).StringFixed(2),
	})
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeBadRequest(w, r, "limit must be a number")
		return
	}

	branches, err := s.branches.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]branchResponse, 0, len(branches))
	for _, b := range branches {
		items = append(items, toBranchResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	limit, err := intParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeBadRequest(w, r, "limit must be a number")
		return
	}

	items, err := s.inbox.ListForReceiver(r.Context(), actor.UserID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	ok, err := s.inbox.MarkRead(r.Context(), actor.UserID, chi.URLParam(r, "id"), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeProblem(w, r, Problem{Status: http.StatusNotFound, Detail: "notification not found or already read"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errNotNumber = errors.New("not a number")

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errNotNumber
	}
	return n, nil
}
