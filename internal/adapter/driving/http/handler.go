package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/coverhook/internal/application"
	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// CallerHeader carries the authenticated owner id set by the fronting auth proxy.
const CallerHeader = "X-Coverhook-Owner-Id"

// SchemaVersionFunc reports the applied schema version and whether it is dirty.
type SchemaVersionFunc func() (uint, bool, error)

// Registrar adds routes of another driving adapter to the shared mux.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// Stores groups the persistence ports the read API serves from.
type Stores struct {
	Owners   driven.OwnerStore
	Repos    driven.RepoStore
	Commits  driven.CommitStore
	Pulls    driven.PullStore
	Branches driven.BranchStore
}

// Handler is the HTTP driving adapter that serves the read API. Every
// repository-scoped route runs the permission gate first.
type Handler struct {
	stores        Stores
	perms         *application.PermissionService
	schemaVersion SchemaVersionFunc
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(stores Stores, perms *application.PermissionService, schemaVersion SchemaVersionFunc, logger *slog.Logger) *Handler {
	return &Handler{
		stores:        stores,
		perms:         perms,
		schemaVersion: schemaVersion,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger, extra ...Registrar) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/{service}/{owner}/admin", h.GetAdmin)
	mux.HandleFunc("GET /api/v1/{service}/{owner}/repos/{repo}", h.GetRepo)
	mux.HandleFunc("GET /api/v1/{service}/{owner}/repos/{repo}/pulls", h.ListPulls)
	mux.HandleFunc("GET /api/v1/{service}/{owner}/repos/{repo}/pulls/{pullid}", h.GetPull)
	mux.HandleFunc("GET /api/v1/{service}/{owner}/repos/{repo}/commits/{commitid}", h.GetCommit)
	mux.HandleFunc("GET /api/v1/{service}/{owner}/repos/{repo}/branches", h.ListBranches)

	for _, r := range extra {
		r.Register(mux)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// repoScope is the resolved context of a repository-scoped request.
type repoScope struct {
	owner   model.Owner
	repo    model.Repository
	canEdit bool
}

// resolveRepo authenticates the caller, resolves owner and repository from
// the path and applies the permission gate. On failure the response has
// already been written and ok is false.
func (h *Handler) resolveRepo(w http.ResponseWriter, r *http.Request) (scope repoScope, ok bool) {
	ctx := r.Context()

	caller, ok := h.caller(w, r)
	if !ok {
		return scope, false
	}

	owner, ok := h.pathOwner(w, r)
	if !ok {
		return scope, false
	}

	repo, err := h.stores.Repos.GetByName(ctx, owner.ID, r.PathValue("repo"))
	if err != nil {
		h.internalError(w, "failed to get repository", err)
		return scope, false
	}
	if repo == nil || repo.Deleted {
		writeError(w, http.StatusNotFound, "repository not found")
		return scope, false
	}

	canView, canEdit, err := h.perms.GetRepoPermissions(ctx, *caller, *repo, *owner)
	if err != nil {
		h.providerError(w, err)
		return scope, false
	}
	if !canView {
		// Unviewable repositories are indistinguishable from missing ones.
		writeError(w, http.StatusNotFound, "repository not found")
		return scope, false
	}

	if repo.Private && caller.ID != owner.ID {
		activated, err := h.perms.IsUserActivated(ctx, *caller, *owner)
		if err != nil {
			h.internalError(w, "failed to check activation", err)
			return scope, false
		}
		if !activated {
			writeError(w, http.StatusForbidden, "user not activated for this owner")
			return scope, false
		}
	}

	return repoScope{owner: *owner, repo: *repo, canEdit: canEdit}, true
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (*model.Owner, bool) {
	id, err := strconv.ParseInt(r.Header.Get(CallerHeader), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+CallerHeader)
		return nil, false
	}

	caller, err := h.stores.Owners.GetByID(r.Context(), id)
	if err != nil {
		h.internalError(w, "failed to get caller", err)
		return nil, false
	}
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "unknown caller")
		return nil, false
	}
	return caller, true
}

func (h *Handler) pathOwner(w http.ResponseWriter, r *http.Request) (*model.Owner, bool) {
	service, err := model.ParseService(r.PathValue("service"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}

	owner, err := h.stores.Owners.GetByUsername(r.Context(), service, r.PathValue("owner"))
	if err != nil {
		h.internalError(w, "failed to get owner", err)
		return nil, false
	}
	if owner == nil {
		writeError(w, http.StatusNotFound, "owner not found")
		return nil, false
	}
	return owner, true
}

// GetRepo returns a repository with the caller's edit permission.
func (h *Handler) GetRepo(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toRepoResponse(scope.repo, scope.owner, scope.canEdit))
}

// ListPulls returns the repository's pulls, optionally filtered by ?state=.
func (h *Handler) ListPulls(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	state := model.PullState(r.URL.Query().Get("state"))
	switch state {
	case "", model.PullStateOpen, model.PullStateClosed, model.PullStateMerged:
	default:
		writeError(w, http.StatusBadRequest, "invalid state filter")
		return
	}

	pulls, err := h.stores.Pulls.ListByRepo(r.Context(), scope.repo.ID, state)
	if err != nil {
		h.internalError(w, "failed to list pulls", err)
		return
	}

	resp := make([]PullResponse, 0, len(pulls))
	for _, p := range pulls {
		resp = append(resp, toPullResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPull returns one pull by its provider number.
func (h *Handler) GetPull(w http.ResponseWriter, r *http.Request) {
	pullID, err := strconv.Atoi(r.PathValue("pullid"))
	if err != nil || pullID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pull number")
		return
	}

	scope, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	pull, err := h.stores.Pulls.Get(r.Context(), scope.repo.ID, pullID)
	if err != nil {
		h.internalError(w, "failed to get pull", err)
		return
	}
	if pull == nil {
		writeError(w, http.StatusNotFound, "pull not found")
		return
	}

	writeJSON(w, http.StatusOK, toPullResponse(*pull))
}

// GetCommit returns one commit with its recorded CI statuses.
func (h *Handler) GetCommit(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	commitID := r.PathValue("commitid")
	commit, err := h.stores.Commits.Get(r.Context(), scope.repo.ID, commitID)
	if err != nil {
		h.internalError(w, "failed to get commit", err)
		return
	}
	if commit == nil {
		writeError(w, http.StatusNotFound, "commit not found")
		return
	}

	statuses, err := h.stores.Commits.ListStatuses(r.Context(), scope.repo.ID, commitID)
	if err != nil {
		h.internalError(w, "failed to list commit statuses", err)
		return
	}

	writeJSON(w, http.StatusOK, toCommitResponse(*commit, statuses))
}

// ListBranches returns the repository's branches.
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.resolveRepo(w, r)
	if !ok {
		return
	}

	branches, err := h.stores.Branches.ListByRepo(r.Context(), scope.repo.ID)
	if err != nil {
		h.internalError(w, "failed to list branches", err)
		return
	}

	resp := make([]BranchResponse, 0, len(branches))
	for _, b := range branches {
		resp = append(resp, BranchResponse{
			Name:      b.Name,
			Head:      b.Head,
			UpdatedAt: b.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAdmin asks the provider whether the caller administers the owner.
func (h *Handler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	org, ok := h.pathOwner(w, r)
	if !ok {
		return
	}

	admin, err := h.perms.IsAdminOnProvider(r.Context(), *caller, *org)
	if err != nil {
		h.providerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AdminResponse{Owner: org.Username, IsAdmin: admin})
}

// Health reports liveness and the applied schema version. A dirty schema
// answers 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	if h.schemaVersion != nil {
		version, dirty, err := h.schemaVersion()
		if err != nil {
			h.logger.Error("failed to read schema version", "error", err)
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.SchemaVersion = version
		if dirty {
			resp.Status = "dirty"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) providerError(w http.ResponseWriter, err error) {
	var apiErr *application.ProviderAPIError
	if errors.As(err, &apiErr) {
		h.logger.Warn("provider request failed", "status", apiErr.StatusCode, "error", err)
		writeError(w, apiErr.StatusCode, apiErr.Message)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.internalError(w, "permission check failed", err)
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
