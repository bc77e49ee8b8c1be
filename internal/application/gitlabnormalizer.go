package application

import (
	"context"
	"log/slog"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

const gitlabNullSHA = "0000000000000000000000000000000000000000"

// GitLabNormalizer translates GitLab and GitLab Enterprise webhooks.
type GitLabNormalizer struct {
	normalizer
}

// NewGitLabNormalizer creates a normalizer for service, which must be gitlab
// or gitlab_enterprise.
func NewGitLabNormalizer(service model.Service, state *StateMutator, tasks driven.TaskDispatcher, cfg NormalizerConfig, logger *slog.Logger) *GitLabNormalizer {
	return &GitLabNormalizer{normalizer: newNormalizer(service, state, tasks, cfg, logger)}
}

// Routes returns the GitLab event table keyed by X-Gitlab-Event.
func (n *GitLabNormalizer) Routes() map[string]Route {
	return map[string]Route{
		string(gitlab.EventTypePush):         {Handle: n.push},
		string(gitlab.EventTypeTagPush):      {Handle: n.tagPush},
		string(gitlab.EventTypeMergeRequest): {Handle: n.mergeRequest},
		string(gitlab.EventTypeJob):          {Handle: n.job},
		string(gitlab.EventTypeBuild):        {Handle: n.job},
		string(gitlab.EventTypePipeline):     {Handle: n.pipeline},
		string(gitlab.EventTypeSystemHook):   {Handle: n.systemHook, AllowUnresolved: true},
	}
}

// RepoServiceID returns the project id of the payload. Merge request events
// are attributed to their target project.
func (n *GitLabNormalizer) RepoServiceID(_ string, body []byte) (string, error) {
	var payload struct {
		ProjectID        flexID `json:"project_id"`
		ObjectAttributes *struct {
			TargetProjectID flexID `json:"target_project_id"`
		} `json:"object_attributes"`
		Project *struct {
			ID flexID `json:"id"`
		} `json:"project"`
	}
	if err := decode(body, &payload); err != nil {
		return "", err
	}

	switch {
	case payload.ProjectID != "":
		return payload.ProjectID.String(), nil
	case payload.ObjectAttributes != nil && payload.ObjectAttributes.TargetProjectID != "":
		return payload.ObjectAttributes.TargetProjectID.String(), nil
	case payload.Project != nil:
		return payload.Project.ID.String(), nil
	default:
		return "", nil
	}
}

type gitlabCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

type gitlabPushPayload struct {
	Ref         string         `json:"ref"`
	Before      string         `json:"before"`
	After       string         `json:"after"`
	CheckoutSHA string         `json:"checkout_sha"`
	Commits     []gitlabCommit `json:"commits"`
}

func (n *GitLabNormalizer) push(ctx context.Context, ev *Event) (Result, error) {
	var e gitlabPushPayload
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}

	branch, ok := branchFromRef(e.Ref)
	if !ok {
		return result(MsgUnsupportedRefType), nil
	}

	if e.After == gitlabNullSHA {
		if err := n.state.DeleteBranch(ctx, ev.Repo, branch); err != nil {
			return Result{}, err
		}
		return result(MsgBranchDeleted), nil
	}

	head := e.CheckoutSHA
	if head == "" {
		head = e.After
	}

	p := branchPush{Branch: branch, Head: head, FilesKnown: true}
	for _, c := range e.Commits {
		files := make([]string, 0, len(c.Added)+len(c.Modified)+len(c.Removed))
		files = append(files, c.Added...)
		files = append(files, c.Modified...)
		files = append(files, c.Removed...)
		p.Commits = append(p.Commits, pushedCommit{ID: c.ID, Message: c.Message, Files: files})
	}

	return n.normalizer.push(ctx, ev.Repo, p)
}

func (n *GitLabNormalizer) tagPush(context.Context, *Event) (Result, error) {
	return result(MsgUnsupportedRefType), nil
}

type gitlabMergeRequestPayload struct {
	ObjectAttributes *struct {
		IID        int    `json:"iid"`
		State      string `json:"state"`
		Action     string `json:"action"`
		Title      string `json:"title"`
		AuthorID   flexID `json:"author_id"`
		LastCommit *struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
}

func (n *GitLabNormalizer) mergeRequest(ctx context.Context, ev *Event) (Result, error) {
	var e gitlabMergeRequestPayload
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	attrs := e.ObjectAttributes
	if attrs == nil {
		return result(MsgSkipProcessing), nil
	}

	upd := PullUpdate{
		PullID:          attrs.IID,
		State:           gitlabPullState(attrs.State),
		Title:           attrs.Title,
		AuthorServiceID: attrs.AuthorID.String(),
	}
	if attrs.LastCommit != nil {
		upd.Head = nonEmpty(attrs.LastCommit.ID)
	}

	return n.upsertPull(ctx, ev.Repo, upd)
}

func gitlabPullState(state string) model.PullState {
	switch state {
	case "merged":
		return model.PullStateMerged
	case "closed":
		return model.PullStateClosed
	default:
		return model.PullStateOpen
	}
}

func (n *GitLabNormalizer) job(ctx context.Context, ev *Event) (Result, error) {
	var e struct {
		SHA         string `json:"sha"`
		BuildName   string `json:"build_name"`
		BuildStatus string `json:"build_status"`
	}
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	return n.commitStatus(ctx, ev.Repo, e.SHA, e.BuildName, e.BuildStatus)
}

func (n *GitLabNormalizer) pipeline(ctx context.Context, ev *Event) (Result, error) {
	var e struct {
		ObjectAttributes *struct {
			SHA    string `json:"sha"`
			Status string `json:"status"`
			Name   string `json:"name"`
		} `json:"object_attributes"`
	}
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	if e.ObjectAttributes == nil {
		return result(MsgSkipProcessing), nil
	}
	attrs := e.ObjectAttributes
	return n.commitStatus(ctx, ev.Repo, attrs.SHA, attrs.Name, attrs.Status)
}

type gitlabSystemPayload struct {
	EventName         string `json:"event_name"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	ProjectVisibility string `json:"project_visibility"`
	UserID            flexID `json:"user_id"`
	UserUsername      string `json:"user_username"`
}

// systemHook handles instance-wide events, which only self-hosted
// installations may receive.
func (n *GitLabNormalizer) systemHook(ctx context.Context, ev *Event) (Result, error) {
	if !n.cfg.Enterprise {
		return Result{}, ErrEventForbidden
	}

	var e gitlabSystemPayload
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}

	namespace, name := splitNamespace(e.PathWithNamespace)

	switch e.EventName {
	case "project_create":
		if ev.Repo != nil {
			return result(MsgRepoUpdated), nil
		}
		owner, err := n.state.OwnerByUsername(ctx, n.service, namespace)
		if err != nil {
			return Result{}, err
		}
		if owner == nil || ev.RepoServiceID == "" {
			return Result{}, &UnresolvedRepositoryError{Service: n.service, ServiceID: ev.RepoServiceID}
		}
		if _, err := n.state.CreateRepository(ctx, owner, NewRepository{
			ServiceID: ev.RepoServiceID,
			Name:      name,
			Private:   e.ProjectVisibility != "public",
		}); err != nil {
			return Result{}, err
		}
		return result(MsgRepoCreated), nil

	case "project_destroy":
		if ev.Repo == nil {
			return Result{}, &UnresolvedRepositoryError{Service: n.service, ServiceID: ev.RepoServiceID}
		}
		if err := n.state.Deactivate(ctx, ev.Repo, true); err != nil {
			return Result{}, err
		}
		return result(MsgRepoUpdated), nil

	case "project_rename", "project_transfer":
		if ev.Repo == nil {
			return Result{}, &UnresolvedRepositoryError{Service: n.service, ServiceID: ev.RepoServiceID}
		}
		owner, err := n.state.OwnerByUsername(ctx, n.service, namespace)
		if err != nil {
			return Result{}, err
		}
		if err := n.state.TransferRepository(ctx, ev.Repo, owner, name); err != nil {
			return Result{}, err
		}
		return result(MsgRepoUpdated), nil

	case "user_add_to_team", "user_remove_from_team":
		user, err := n.state.Owner(ctx, n.service, e.UserID.String())
		if err != nil {
			return Result{}, err
		}
		if user == nil {
			return result(MsgIgnored), nil
		}
		n.tasks.Refresh(driven.RefreshRequest{
			OwnerID:   user.ID,
			Username:  user.Username,
			SyncTeams: true,
			SyncRepos: true,
		})
		return result(MsgRefreshQueued), nil

	default:
		return result(MsgIgnored), nil
	}
}

// splitNamespace splits "group/sub/project" into "group" and "project".
func splitNamespace(full string) (string, string) {
	parts := strings.Split(full, "/")
	if len(parts) < 2 {
		return "", full
	}
	return parts[0], parts[len(parts)-1]
}
