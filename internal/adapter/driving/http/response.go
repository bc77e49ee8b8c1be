package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RepoResponse is the JSON representation of a repository.
type RepoResponse struct {
	Service       string `json:"service"`
	ServiceID     string `json:"service_id"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Private       bool   `json:"private"`
	Active        bool   `json:"active"`
	Activated     bool   `json:"activated"`
	DefaultBranch string `json:"branch"`
	CanEdit       bool   `json:"can_edit"`
	UpdatedAt     string `json:"updated_at"`
}

// PullResponse is the JSON representation of a pull request.
type PullResponse struct {
	PullID     int     `json:"pullid"`
	State      string  `json:"state"`
	Title      string  `json:"title"`
	Head       *string `json:"head"`
	Base       *string `json:"base"`
	ComparedTo *string `json:"compared_to"`
	UpdatedAt  string  `json:"updated_at"`
}

// CommitResponse is the JSON representation of a commit and its CI statuses.
type CommitResponse struct {
	CommitID  string                 `json:"commitid"`
	State     string                 `json:"state"`
	Branch    string                 `json:"branch"`
	Merged    bool                   `json:"merged"`
	PullID    *int                   `json:"pullid"`
	Message   string                 `json:"message"`
	Totals    *model.Totals          `json:"totals"`
	Statuses  []CommitStatusResponse `json:"statuses"`
	UpdatedAt string                 `json:"updated_at"`
}

// CommitStatusResponse is one CI status of a commit.
type CommitStatusResponse struct {
	Context string `json:"context"`
	State   string `json:"state"`
}

// BranchResponse is the JSON representation of a branch.
type BranchResponse struct {
	Name      string `json:"name"`
	Head      string `json:"head"`
	UpdatedAt string `json:"updated_at"`
}

// AdminResponse reports the caller's admin status on an owner.
type AdminResponse struct {
	Owner   string `json:"owner"`
	IsAdmin bool   `json:"is_admin"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Time          string `json:"time"`
	SchemaVersion uint   `json:"schema_version"`
}

func toRepoResponse(repo model.Repository, owner model.Owner, canEdit bool) RepoResponse {
	return RepoResponse{
		Service:       string(repo.Service),
		ServiceID:     repo.ServiceID,
		Owner:         owner.Username,
		Name:          repo.Name,
		Private:       repo.Private,
		Active:        repo.Active,
		Activated:     repo.Activated,
		DefaultBranch: repo.DefaultBranch,
		CanEdit:       canEdit,
		UpdatedAt:     repo.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toPullResponse(p model.Pull) PullResponse {
	return PullResponse{
		PullID:     p.PullID,
		State:      string(p.State),
		Title:      p.Title,
		Head:       p.Head,
		Base:       p.Base,
		ComparedTo: p.ComparedTo,
		UpdatedAt:  p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toCommitResponse(c model.Commit, statuses []model.CommitStatus) CommitResponse {
	out := make([]CommitStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, CommitStatusResponse{Context: s.Context, State: string(s.State)})
	}

	return CommitResponse{
		CommitID:  c.CommitID,
		State:     string(c.State),
		Branch:    c.Branch,
		Merged:    c.Merged,
		PullID:    c.PullID,
		Message:   c.Message,
		Totals:    c.Totals,
		Statuses:  out,
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
