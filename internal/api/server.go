package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"investments/internal/app"
	"investments/internal/auth"
	"investments/internal/economy"
	"investments/internal/investment"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

type contextKey string

const accountContextKey contextKey = "account"

type Server struct {
	app     *app.App
	log     *slog.Logger
	limiter *rateLimiter
	replays *replayCache
	mux     *chi.Mux
}

func New(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := a.Config().Server
	s := &Server{
		app:     a,
		log:     logger,
		limiter: newRateLimiter(cfg.RatePerSec, cfg.RateBurst),
		replays: newReplayCache(),
		mux:     chi.NewRouter(),
	}
	s.routes(cfg.CORSOrigins)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes(origins []string) {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "interest_running": s.app.Interest.Running()})
	})
	r.Handle("/metrics", s.app.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.limiter.perAccount)

		// long-lived; kept out of the request timeout
		r.With(s.requirePermission(app.PermUse)).Get("/ws", s.handleWebsocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(app.PermUse))
				r.Get("/profile", s.handleProfile)
				r.Get("/wallet", s.handleWallet)
				r.Post("/investments", s.handleInvest)
				r.Delete("/investments", s.handleDeleteInvestments)
				r.Post("/collect", s.handleCollect)
				r.Post("/autocollect/toggle", s.handleAutoCollectToggle)
				r.Post("/notifications/toggle", s.handleNotificationsToggle)
				r.Post("/presence", s.handlePresence)
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(s.requirePermission(app.PermAdminReload)).Post("/reload", s.handleAdminReload)
				r.With(s.requirePermission(app.PermAdminMultiplier)).Post("/multipliers", s.handleAdminMultiplier)
				r.With(s.requirePermission(app.PermAdminView)).Get("/accounts/{account}", s.handleAdminView)
				r.With(s.requirePermission(app.PermAdminGive)).Post("/accounts/{account}/investments", s.handleAdminGive)
				r.With(s.requirePermission(app.PermAdminDelete)).Delete("/accounts/{account}/investments", s.handleAdminDelete)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.app.Tokens == nil {
			writeError(w, http.StatusServiceUnavailable, "authentication is not configured")
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		account, err := s.app.Tokens.Verify(token)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requirePermission(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := accountFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if !s.app.Perms.HasPermission(account, key) {
				writeDomainError(w, app.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accountFromContext(ctx context.Context) (uuid.UUID, error) {
	account, ok := ctx.Value(accountContextKey).(uuid.UUID)
	if !ok || account == uuid.Nil {
		return uuid.Nil, errors.New("missing auth context")
	}
	return account, nil
}

func (s *Server) observe(action string, err error) {
	s.app.Metrics.ObserveAction(action, err)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.app.View(r.Context(), account))
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	balance, err := s.app.Wallets.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": balance})
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	var in struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := idempotencyKey(r)
	if key != "" {
		key = account.String() + ":" + key
	}
	status, body := s.replays.do(key, func() (int, any) {
		amount, err := s.app.Invest(r.Context(), account, in.Amount)
		s.observe("invest", err)
		if err != nil {
			return domainStatus(err), errorBody(err.Error())
		}
		return http.StatusCreated, map[string]any{
			"amount":  amount,
			"profile": s.app.View(r.Context(), account),
		}
	})
	writeJSON(w, status, body)
}

func (s *Server) handleDeleteInvestments(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	n, err := s.app.DeleteInvestments(r.Context(), account, confirm)
	s.observe("delete", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	amount, err := s.app.Collect(r.Context(), account)
	s.observe("collect", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collected": amount})
}

func (s *Server) handleAutoCollectToggle(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	on, err := s.app.ToggleAutoCollect(r.Context(), account)
	s.observe("autocollect", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auto_collect": on})
}

func (s *Server) handleNotificationsToggle(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	on := s.app.ToggleNotifications(account)
	s.observe("notifications", nil)
	writeJSON(w, http.StatusOK, map[string]any{"notifications": on})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	s.app.Presence.Touch(account)
	writeJSON(w, http.StatusOK, map[string]any{"active": s.app.Activity.Active(account)})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	opts := &websocket.AcceptOptions{}
	if origins := s.app.Config().Server.CORSOrigins; len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("websocket accept failed", "account", account, "err", err)
		return
	}
	touch := func() { s.app.Presence.Touch(account) }
	touch()
	if err := s.app.Hub.Serve(r.Context(), conn, account, touch); err != nil {
		s.log.Debug("websocket closed", "account", account, "err", err)
	}
}

func (s *Server) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	running, err := s.app.Reload()
	s.observe("admin_reload", err)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interest_running": running})
}

func (s *Server) handleAdminMultiplier(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Target  string `json:"target"`
		Factor  string `json:"factor"`
		Minutes int    `json:"minutes"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.app.SetMultiplier(in.Target, in.Factor, in.Minutes)
	s.observe("admin_multiplier", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": in.Target, "multiplier": m})
}

func (s *Server) handleAdminView(w http.ResponseWriter, r *http.Request) {
	target, ok := targetAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.app.View(r.Context(), target))
}

func (s *Server) handleAdminGive(w http.ResponseWriter, r *http.Request) {
	target, ok := targetAccount(w, r)
	if !ok {
		return
	}
	var in struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.app.Give(r.Context(), target, in.Amount)
	s.observe("admin_give", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"amount":  amount,
		"profile": s.app.View(r.Context(), target),
	})
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	target, ok := targetAccount(w, r)
	if !ok {
		return
	}
	n, err := s.app.DeleteInvestments(r.Context(), target, true)
	s.observe("admin_delete", err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func targetAccount(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "account must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, investment.ErrNoInvestments):
		return http.StatusNotFound
	case errors.Is(err, investment.ErrSlotLimit), errors.Is(err, investment.ErrPrincipalLimit):
		return http.StatusConflict
	case errors.Is(err, investment.ErrInvalidAmount),
		errors.Is(err, investment.ErrBelowMinimum),
		errors.Is(err, economy.ErrInsufficientFunds),
		errors.Is(err, app.ErrConfirmRequired),
		errors.Is(err, app.ErrInvalidMultiplier),
		errors.Is(err, app.ErrUnknownAccount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorBody(message string) map[string]any {
	return map[string]any{"error": strings.TrimSpace(message)}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody(message))
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
