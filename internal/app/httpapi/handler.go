// Package httpapi exposes the account and item services over HTTP.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"

	app "github.com/atproject/projectone/internal/app"
	"github.com/atproject/projectone/internal/app/auth"
	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/domain/item"
	"github.com/atproject/projectone/internal/app/health"
	"github.com/atproject/projectone/internal/app/metrics"
	"github.com/atproject/projectone/internal/app/services/items"
	"github.com/atproject/projectone/internal/app/storage"
	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/internal/errors"
	"github.com/atproject/projectone/internal/httputil"
	"github.com/atproject/projectone/internal/middleware"
	"github.com/atproject/projectone/pkg/logger"
)

// Options carries the cross-cutting dependencies of the HTTP layer. Nil
// fields get working defaults: auth disabled, no rate limit, no-op spans
// and an in-memory audit log.
type Options struct {
	Auth           *auth.Manager
	RateLimiter    *middleware.RateLimiter
	TracerProvider trace.TracerProvider
	Audit          *AuditLog
	AllowedOrigins []string
	Logger         *logger.Logger
}

// publicPaths never require credentials.
var publicPaths = []string{"/healthz", "/readyz", "/metrics", "/auth/login"}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	auth  *auth.Manager
	audit *AuditLog
	log   *logger.Logger
}

// NewHandler returns the full HTTP stack: routes plus middleware.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("http")
	}
	if opts.Auth == nil {
		// an empty config yields a manager that admits everyone as admin
		opts.Auth, _ = auth.NewManager(config.AuthConfig{})
	}
	if opts.Audit == nil {
		opts.Audit = NewAuditLog(0, nil)
	}

	h := &handler{app: application, auth: opts.Auth, audit: opts.Audit, log: log}
	authMW := middleware.NewAuthMiddleware(opts.Auth, log.Named("auth"), publicPaths)

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(h.notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	router.Use(middleware.MetricsMiddleware, authMW.Handler, capturePrincipal)
	if opts.RateLimiter != nil {
		router.Use(opts.RateLimiter.Handler)
	}

	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	router.HandleFunc("/system/status", h.systemStatus).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	router.HandleFunc("/accounts", h.createAccount).Methods(http.MethodPost)
	router.HandleFunc("/accounts", h.listAccounts).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}", h.getAccount).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}", h.updateAccount).Methods(http.MethodPatch)
	router.HandleFunc("/accounts/{id}", h.deleteAccount).Methods(http.MethodDelete)

	router.HandleFunc("/accounts/{id}/items", h.createItem).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/items", h.listItems).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/items/{itemID}", h.getItem).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/items/{itemID}", h.updateItem).Methods(http.MethodPut)
	router.HandleFunc("/accounts/{id}/items/{itemID}", h.deleteItem).Methods(http.MethodDelete)

	router.Handle("/audit", authMW.RequireAdmin(http.HandlerFunc(h.auditEntries))).Methods(http.MethodGet)
	router.HandleFunc("/events", h.events).Methods(http.MethodGet)

	return wrapOuter(router, opts, log)
}

// wrapOuter applies the request-scoped middleware around the router. A
// recovered panic is written as a 500 before the audit entry is taken.
func wrapOuter(next http.Handler, opts Options, log *logger.Logger) http.Handler {
	stack := chimw.Recoverer(next)
	stack = auditMiddleware(opts.Audit, log)(stack)
	stack = middleware.NewTracingMiddleware(opts.TracerProvider, log).Handler(stack)
	stack = chimw.RealIP(stack)
	stack = middleware.CORSMiddleware(opts.AllowedOrigins)(stack)
	return stack
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := httputil.WriteError(w, err)
	if se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, errors.NotFound("route", r.URL.Path))
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, errors.MethodNotAllowed(r.Method))
}

// --- system -----------------------------------------------------------------

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	report := h.app.Health.Run(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, report)
}

type systemStatus struct {
	Host     health.HostSnapshot `json:"host"`
	Checks   health.Report       `json:"checks"`
	Services []string            `json:"services"`
	Events   eventStats          `json:"events"`
}

type eventStats struct {
	Running     bool `json:"running"`
	Subscribers int  `json:"subscribers"`
	Dropped     int  `json:"dropped"`
}

func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, systemStatus{
		Host:     health.Host(r.Context()),
		Checks:   h.app.Health.Run(r.Context()),
		Services: h.app.Services(),
		Events: eventStats{
			Running:     h.app.Events.Running(),
			Subscribers: h.app.Events.Subscribers(),
			Dropped:     h.app.Events.Dropped(),
		},
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, expires, err := h.auth.Login(req.Username, req.Password)
	switch {
	case stderrors.Is(err, auth.ErrLoginDisabled):
		h.writeError(w, r, errors.BadRequest("login is not enabled"))
		return
	case stderrors.Is(err, auth.ErrInvalidCredentials):
		h.log.LogSecurityEvent(r.Context(), "login_failed", map[string]interface{}{"username": req.Username})
		h.writeError(w, r, errors.Unauthorized("invalid username or password"))
		return
	case err != nil:
		h.writeError(w, r, errors.Internal("issue token", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": h.audit.Recent(limit)})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID != "" {
		if _, err := h.app.Accounts.Get(r.Context(), accountID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.app.Events.ServeWS(w, r, accountID)
}

// --- accounts ---------------------------------------------------------------

type accountRequest struct {
	Owner    string            `json:"owner"`
	Metadata map[string]string `json:"metadata"`
}

type accountPatch struct {
	Metadata map[string]string `json:"metadata"`
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, err := h.app.Accounts.Create(r.Context(), req.Owner, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/accounts/"+acct.ID)
	httputil.WriteJSON(w, http.StatusCreated, acct)
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.app.Accounts.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if accts == nil {
		accts = []account.Account{}
	}
	httputil.WriteJSON(w, http.StatusOK, accts)
}

func (h *handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountPatch
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, err := h.app.Accounts.UpdateMetadata(r.Context(), mux.Vars(r)["id"], req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Accounts.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- items ------------------------------------------------------------------

type itemRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Attributes  json.RawMessage `json:"attributes"`
	Tags        []string        `json:"tags"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	Version     int64           `json:"version"`
}

func (req itemRequest) toItem(accountID, id string) item.Item {
	return item.Item{
		ID:          id,
		AccountID:   accountID,
		Name:        req.Name,
		Description: req.Description,
		Attributes:  req.Attributes,
		Tags:        req.Tags,
		ExpiresAt:   req.ExpiresAt,
		Version:     req.Version,
	}
}

type itemList struct {
	Items  []item.Item `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func writeItem(w http.ResponseWriter, status int, it item.Item) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(it.Version, 10)))
	httputil.WriteJSON(w, status, it)
}

func (h *handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	accountID := mux.Vars(r)["id"]
	created, err := h.app.Items.Create(r.Context(), req.toItem(accountID, ""))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/accounts/"+accountID+"/items/"+created.ID)
	writeItem(w, http.StatusCreated, created)
}

func (h *handler) listItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intParam(r, "limit", storage.DefaultListLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filters, err := items.ParseAttributeFilters(query["attr"])
	if err != nil {
		h.writeError(w, r, errors.InvalidFormat("attr", err.Error()))
		return
	}

	q := storage.ItemQuery{
		AccountID:  mux.Vars(r)["id"],
		Tag:        query.Get("tag"),
		NamePrefix: query.Get("name_prefix"),
		Limit:      limit,
		Offset:     offset,
	}.Normalize()
	found, err := h.app.Items.List(r.Context(), q, filters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if found == nil {
		found = []item.Item{}
	}
	httputil.WriteJSON(w, http.StatusOK, itemList{Items: found, Limit: q.Limit, Offset: q.Offset})
}

func (h *handler) getItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	it, err := h.app.Items.Get(r.Context(), vars["id"], vars["itemID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeItem(w, http.StatusOK, it)
}

func (h *handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	version, err := resolveVersion(r.Header.Get("If-Match"), req.Version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Version = version

	vars := mux.Vars(r)
	updated, err := h.app.Items.Update(r.Context(), req.toItem(vars["id"], vars["itemID"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeItem(w, http.StatusOK, updated)
}

func (h *handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Items.Delete(r.Context(), vars["id"], vars["itemID"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveVersion merges the If-Match header with the body version. Either
// may be omitted; when both are present they must agree.
func resolveVersion(ifMatch string, body int64) (int64, error) {
	ifMatch = strings.TrimSpace(ifMatch)
	if ifMatch == "" {
		return body, nil
	}
	raw := strings.Trim(strings.TrimPrefix(ifMatch, "W/"), `"`)
	header, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || header <= 0 {
		return 0, errors.InvalidFormat("If-Match", "must be a positive item version")
	}
	if body != 0 && body != header {
		return 0, errors.InvalidFormat("version", "does not match If-Match header")
	}
	return header, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.InvalidFormat(name, "must be a non-negative integer")
	}
	return v, nil
}
