package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"charityflow/activity"
	"charityflow/auth"
	"charityflow/branch"
	"charityflow/request"
)

// Problem is an RFC 7807 error body. Reason carries the machine-readable
// validation reason when there is one.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Reason   string `json:"reason,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.Type = fmt.Sprintf("https://charityflow.dev/errors/%d", p.Status)
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	if r != nil {
		if p.Instance == "" {
			p.Instance = r.URL.Path
		}
		p.TraceID = middleware.GetReqID(r.Context())
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, Problem{Status: http.StatusBadRequest, Detail: detail})
}

// writeError maps domain errors to HTTP problems. Unknown errors are logged and
// reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *request.ValidationError
		volume     *request.VolumeError
		matching   *request.MatchingError
		upload     *request.UploadError
	)

	switch {
	case errors.As(err, &validation):
		writeProblem(w, r, Problem{Status: http.StatusBadRequest, Detail: err.Error(), Reason: string(validation.Reason)})
	case errors.As(err, &volume):
		writeProblem(w, r, Problem{Status: http.StatusBadRequest, Detail: err.Error(), Reason: string(volume.Reason())})
	case errors.As(err, &matching):
		writeProblem(w, r, Problem{Status: http.StatusUnprocessableEntity, Detail: err.Error()})
	case errors.As(err, &upload):
		s.logger.Error("image upload failed", "request_id", upload.RequestID, "error", err)
		writeProblem(w, r, Problem{
			Status:   http.StatusBadGateway,
			Detail:   "request was created but its images could not be stored",
			Instance: "/api/requests/" + upload.RequestID,
		})
	case errors.Is(err, request.ErrNotFound),
		errors.Is(err, activity.ErrNotFound),
		errors.Is(err, branch.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeProblem(w, r, Problem{Status: http.StatusNotFound, Detail: err.Error()})
	case errors.Is(err, request.ErrForbidden):
		writeProblem(w, r, Problem{Status: http.StatusForbidden, Detail: err.Error()})
	case errors.Is(err, request.ErrInvalidState),
		errors.Is(err, request.ErrStaleState),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeProblem(w, r, Problem{Status: http.StatusConflict, Detail: err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeProblem(w, r, Problem{Status: http.StatusUnauthorized, Detail: err.Error()})
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrRoleNotSelfAssignable):
		writeProblem(w, r, Problem{Status: http.StatusBadRequest, Detail: err.Error()})
	default:
		s.logger.Error("internal server error", "path", r.URL.Path, "error", err)
		writeProblem(w, r, Problem{
			Status: http.StatusInternalServerError,
			Detail: "An unexpected error occurred. Please try again later.",
		})
	}
}
