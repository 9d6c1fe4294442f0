// Package httpapi exposes the request lifecycle over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"charityflow/activity"
	"charityflow/auth"
	"charityflow/branch"
	"charityflow/notify"
	"charityflow/request"
)

type Authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Actor, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	LinkTelegram(ctx context.Context, actor auth.Actor, chatID int64) (*auth.User, error)
}

type Requests interface {
	Create(ctx context.Context, p request.CreateParams) (request.Request, error)
	Get(ctx context.Context, actor auth.Actor, id string) (request.Detail, error)
	List(ctx context.Context, filters request.Filters) (request.ListResult, error)
	Cancel(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
	StartProcessing(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
	Finish(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
	AcceptOffer(ctx context.Context, actor auth.Actor, id string) (request.Request, error)
	RejectOffer(ctx context.Context, actor auth.Actor, id, reason string) (request.Request, error)
}

type Activities interface {
	Get(ctx context.Context, id string) (activity.Activity, error)
}

type Branches interface {
	List(ctx context.Context, limit int) ([]branch.Branch, error)
}

type Inbox interface {
	ListForReceiver(ctx context.Context, receiverID string, limit int) ([]notify.Notification, error)
	MarkRead(ctx context.Context, receiverID, id string, at time.Time) (bool, error)
}

type Deps struct {
	Auth        Authenticator
	Requests    Requests
	Activities  Activities
	Branches    Branches
	Inbox       Inbox
	CORSOrigins []string
}

type Server struct {
	auth        Authenticator
	requests    Requests
	activities  Activities
	branches    Branches
	inbox       Inbox
	corsOrigins []string
	now         func() time.Time
	logger      *slog.Logger
}

func NewServer(deps Deps) *Server {
	return &Server{
		auth:        deps.Auth,
		requests:    deps.Requests,
		activities:  deps.Activities,
		branches:    deps.Branches,
		inbox:       deps.Inbox,
		corsOrigins: deps.CORSOrigins,
		now:         time.Now,
		logger:      slog.Default().With("component", "httpapi"),
	}
}

func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) WithLogger(logger *slog.Logger) *Server {
	s.logger = logger
	return s
}

// Router builds the route tree. Everything under /api except auth requires a
// bearer token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/me", s.handleMe)
			r.Put("/me/telegram", s.handleLinkTelegram)

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", s.handleListRequests)
				r.Post("/", s.handleCreateRequest)
				r.Get("/{id}", s.handleGetRequest)
				r.Post("/{id}/cancel", s.handleCancel)
				r.Post("/{id}/accept", s.handleAccept)
				r.Post("/{id}/reject", s.handleReject)
				r.Post("/{id}/process", s.handleStartProcessing)
				r.Post("/{id}/finish", s.handleFinish)
			})

			r.Get("/activities/{id}/progress", s.handleActivityProgress)
			r.Get("/branches", s.handleBranches)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleNotifications)
				r.Post("/{id}/read", s.handleMarkRead)
			})
		})
	})

	return r
}

type ctxKey int

const actorKey ctxKey = iota

func withActor(ctx context.Context, actor auth.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func actorFrom(ctx context.Context) (auth.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(auth.Actor)
	return actor, ok
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeProblem(w, r, Problem{Status: http.StatusUnauthorized, Detail: "Authentication required"})
			return
		}

		actor, err := s.auth.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeProblem(w, r, Problem{Status: http.StatusUnauthorized, Detail: "invalid or expired token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
