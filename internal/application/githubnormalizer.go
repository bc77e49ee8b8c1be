package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// GitHubNormalizer translates GitHub and GitHub Enterprise webhooks.
type GitHubNormalizer struct {
	normalizer
}

// NewGitHubNormalizer creates a normalizer for service, which must be
// github or github_enterprise.
func NewGitHubNormalizer(service model.Service, state *StateMutator, tasks driven.TaskDispatcher, cfg NormalizerConfig, logger *slog.Logger) *GitHubNormalizer {
	return &GitHubNormalizer{normalizer: newNormalizer(service, state, tasks, cfg, logger)}
}

// Routes returns the GitHub event table keyed by X-GitHub-Event.
func (n *GitHubNormalizer) Routes() map[string]Route {
	return map[string]Route{
		"ping":                      {Handle: n.ping, AllowUnresolved: true},
		"status":                    {Handle: n.status},
		"pull_request":              {Handle: n.pullRequest},
		"push":                      {Handle: n.push, AllowUnresolved: true},
		"delete":                    {Handle: n.delete},
		"repository":                {Handle: n.repository, AllowUnresolved: true},
		"installation":              {Handle: n.installation, AllowUnresolved: true},
		"installation_repositories": {Handle: n.installation, AllowUnresolved: true},
		"organization":              {Handle: n.organization, AllowUnresolved: true},
		"marketplace_purchase":      {Handle: n.marketplacePurchase, AllowUnresolved: true},
	}
}

// RepoServiceID returns repository.id, when present.
func (n *GitHubNormalizer) RepoServiceID(_ string, body []byte) (string, error) {
	var payload struct {
		Repository *struct {
			ID flexID `json:"id"`
		} `json:"repository"`
	}
	if err := decode(body, &payload); err != nil {
		return "", err
	}
	if payload.Repository == nil {
		return "", nil
	}
	return payload.Repository.ID.String(), nil
}

func parseGitHub[T any](ev *Event) (*T, error) {
	payload, err := gh.ParseWebHook(ev.Event, ev.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	typed, ok := payload.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %T for %s", ErrMalformedPayload, payload, ev.Event)
	}
	return typed, nil
}

func (n *GitHubNormalizer) ping(context.Context, *Event) (Result, error) {
	return result(MsgPong), nil
}

func (n *GitHubNormalizer) status(ctx context.Context, ev *Event) (Result, error) {
	e, err := parseGitHub[gh.StatusEvent](ev)
	if err != nil {
		return Result{}, err
	}
	return n.commitStatus(ctx, ev.Repo, e.GetSHA(), e.GetContext(), e.GetState())
}

func (n *GitHubNormalizer) pullRequest(ctx context.Context, ev *Event) (Result, error) {
	e, err := parseGitHub[gh.PullRequestEvent](ev)
	if err != nil {
		return Result{}, err
	}

	pr := e.GetPullRequest()
	state := model.PullStateOpen
	if pr.GetState() == "closed" {
		state = model.PullStateClosed
		if pr.GetMerged() {
			state = model.PullStateMerged
		}
	}

	number := e.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}

	return n.upsertPull(ctx, ev.Repo, PullUpdate{
		PullID:          number,
		State:           state,
		Title:           pr.GetTitle(),
		AuthorServiceID: formatID(pr.GetUser().GetID()),
		Head:            nonEmpty(pr.GetHead().GetSHA()),
		Base:            nonEmpty(pr.GetBase().GetSHA()),
	})
}

func (n *GitHubNormalizer) push(ctx context.Context, ev *Event) (Result, error) {
	e, err := parseGitHub[gh.PushEvent](ev)
	if err != nil {
		return Result{}, err
	}

	branch, ok := branchFromRef(e.GetRef())
	if !ok {
		return result(MsgUnsupportedRefType), nil
	}

	repo := ev.Repo
	if repo == nil {
		r := e.GetRepo()
		repo, err = n.createRepository(ctx, ev, formatID(r.GetOwner().GetID()), NewRepository{
			ServiceID:     ev.RepoServiceID,
			Name:          r.GetName(),
			Private:       r.GetPrivate(),
			DefaultBranch: r.GetDefaultBranch(),
		})
		if err != nil {
			return Result{}, err
		}
	}

	if e.GetDeleted() {
		if err := n.state.DeleteBranch(ctx, repo, branch); err != nil {
			return Result{}, err
		}
		return result(MsgBranchDeleted), nil
	}

	p := branchPush{Branch: branch, Head: e.GetAfter(), FilesKnown: true}
	for _, c := range e.Commits {
		files := make([]string, 0, len(c.Added)+len(c.Modified)+len(c.Removed))
		files = append(files, c.Added...)
		files = append(files, c.Modified...)
		files = append(files, c.Removed...)
		p.Commits = append(p.Commits, pushedCommit{ID: c.GetID(), Message: c.GetMessage(), Files: files})
	}
	if len(p.Commits) == 0 && e.HeadCommit != nil {
		p.Commits = append(p.Commits, pushedCommit{ID: e.HeadCommit.GetID(), Message: e.HeadCommit.GetMessage()})
	}

	return n.normalizer.push(ctx, repo, p)
}

func (n *GitHubNormalizer) delete(ctx context.Context, ev *Event) (Result, error) {
	e, err := parseGitHub[gh.DeleteEvent](ev)
	if err != nil {
		return Result{}, err
	}
	if e.GetRefType() != "branch" {
		return result(MsgUnsupportedRefType), nil
	}
	if err := n.state.DeleteBranch(ctx, ev.Repo, e.GetRef()); err != nil {
		return Result{}, err
	}
	return result(MsgBranchDeleted), nil
}

// repositoryPayload keeps only the repository fields the state needs. Fork
// parents are left out so their shape can never fail the event.
type repositoryPayload struct {
	Action     string `json:"action"`
	Repository struct {
		Name          string `json:"name"`
		Private       bool   `json:"private"`
		DefaultBranch string `json:"default_branch"`
		Owner         struct {
			ID flexID `json:"id"`
		} `json:"owner"`
	} `json:"repository"`
}

func (n *GitHubNormalizer) repository(ctx context.Context, ev *Event) (Result, error) {
	var e repositoryPayload
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	r := e.Repository
	action := e.Action

	repo := ev.Repo
	if repo == nil {
		if action == "deleted" {
			return Result{}, &UnresolvedRepositoryError{Service: n.service, ServiceID: ev.RepoServiceID}
		}
		if _, err := n.createRepository(ctx, ev, r.Owner.ID.String(), NewRepository{
			ServiceID:     ev.RepoServiceID,
			Name:          r.Name,
			Private:       r.Private,
			DefaultBranch: r.DefaultBranch,
		}); err != nil {
			return Result{}, err
		}
		return result(MsgRepoCreated), nil
	}

	var err error
	switch action {
	case "publicized":
		err = n.state.SetVisibility(ctx, repo, false)
	case "privatized":
		err = n.state.SetVisibility(ctx, repo, true)
	case "deleted":
		err = n.state.Deactivate(ctx, repo, true)
	case "renamed":
		err = n.state.RenameRepository(ctx, repo, r.Name)
	case "edited":
		err = n.state.SetDefaultBranch(ctx, repo, r.DefaultBranch)
	case "transferred":
		var owner *model.Owner
		owner, err = n.state.Owner(ctx, n.service, r.Owner.ID.String())
		if err == nil {
			err = n.state.TransferRepository(ctx, repo, owner, r.Name)
		}
	default:
		return result(MsgIgnored), nil
	}
	if err != nil {
		return Result{}, err
	}
	return result(MsgRepoUpdated), nil
}

// createRepository creates the repository an event announces when its owner
// installed the integration.
func (n *GitHubNormalizer) createRepository(ctx context.Context, ev *Event, ownerServiceID string, nr NewRepository) (*model.Repository, error) {
	unresolved := &UnresolvedRepositoryError{Service: n.service, ServiceID: ev.RepoServiceID}
	if nr.ServiceID == "" {
		return nil, unresolved
	}

	owner, err := n.state.Owner(ctx, n.service, ownerServiceID)
	if err != nil {
		return nil, err
	}
	if owner == nil || !owner.HasIntegration() {
		return nil, unresolved
	}

	repo, err := n.state.CreateRepository(ctx, owner, nr)
	if err != nil {
		return nil, err
	}
	n.logger.Info("repository created from webhook",
		"repo", repo.ID, "owner", owner.ID, "delivery", ev.DeliveryID)
	return repo, nil
}

// installationPayload covers both installation and installation_repositories.
type installationPayload struct {
	Action              string           `json:"action"`
	Installation        *gh.Installation `json:"installation"`
	Repositories        []*gh.Repository `json:"repositories"`
	RepositoriesAdded   []*gh.Repository `json:"repositories_added"`
	RepositoriesRemoved []*gh.Repository `json:"repositories_removed"`
}

func (n *GitHubNormalizer) installation(ctx context.Context, ev *Event) (Result, error) {
	var e installationPayload
	if err := json.Unmarshal(ev.Body, &e); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	account := e.Installation.GetAccount()
	if account.GetID() == 0 {
		return result(MsgIgnored), nil
	}

	owner, err := n.state.EnsureOwner(ctx, n.service, formatID(account.GetID()), account.GetLogin())
	if err != nil {
		return Result{}, err
	}

	if e.Action == "deleted" {
		if err := n.state.SetIntegration(ctx, owner, nil); err != nil {
			return Result{}, err
		}
		return result(MsgRepoUpdated), nil
	}

	id := e.Installation.GetID()
	if err := n.state.SetIntegration(ctx, owner, &id); err != nil {
		return Result{}, err
	}

	var affected []driven.RepoAffected
	for _, list := range [][]*gh.Repository{e.Repositories, e.RepositoriesAdded, e.RepositoriesRemoved} {
		for _, r := range list {
			affected = append(affected, driven.RepoAffected{ServiceID: formatID(r.GetID()), Name: r.GetName()})
		}
	}

	n.tasks.Refresh(driven.RefreshRequest{
		OwnerID:          owner.ID,
		Username:         owner.Username,
		SyncTeams:        false,
		SyncRepos:        true,
		UsingIntegration: true,
		ReposAffected:    affected,
	})
	return result(MsgRefreshQueued), nil
}

func (n *GitHubNormalizer) organization(ctx context.Context, ev *Event) (Result, error) {
	e, err := parseGitHub[gh.OrganizationEvent](ev)
	if err != nil {
		return Result{}, err
	}

	member := e.GetMembership().GetUser()
	memberID := formatID(member.GetID())

	switch e.GetAction() {
	case "member_removed":
		if err := n.state.RemoveOrganization(ctx, n.service, memberID, formatID(e.GetOrganization().GetID())); err != nil {
			return Result{}, err
		}
		return result(MsgRepoUpdated), nil
	case "member_added":
		if err := n.state.AddOrganization(ctx, n.service, memberID, formatID(e.GetOrganization().GetID())); err != nil {
			return Result{}, err
		}
		owner, err := n.state.Owner(ctx, n.service, memberID)
		if err != nil {
			return Result{}, err
		}
		if owner == nil {
			return result(MsgIgnored), nil
		}
		n.tasks.Refresh(driven.RefreshRequest{
			OwnerID:   owner.ID,
			Username:  owner.Username,
			SyncTeams: true,
			SyncRepos: true,
		})
		return result(MsgRefreshQueued), nil
	default:
		return result(MsgIgnored), nil
	}
}

func (n *GitHubNormalizer) marketplacePurchase(_ context.Context, ev *Event) (Result, error) {
	e, err := parseGitHub[gh.MarketplacePurchaseEvent](ev)
	if err != nil {
		return Result{}, err
	}

	purchase := e.GetMarketplacePurchase()
	n.tasks.SyncPlans(driven.SyncPlansRequest{
		Service:          n.service,
		SenderLogin:      e.GetSender().GetLogin(),
		AccountServiceID: formatID(purchase.GetAccount().GetID()),
		AccountUsername:  purchase.GetAccount().GetLogin(),
		Action:           e.GetAction(),
		Plan:             purchase.GetPlan().GetName(),
	})
	return result(MsgSyncPlansQueued), nil
}
