package application

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// oneOrMany decodes a JSON value that is either a single object or an array
// of objects.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*o = nil
		return nil
	}
	if data[0] == '[' {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

type bitbucketRef struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Target struct {
		Hash    string `json:"hash"`
		Message string `json:"message"`
	} `json:"target"`
}

type bitbucketChange struct {
	New     *bitbucketRef `json:"new"`
	Old     *bitbucketRef `json:"old"`
	Commits []struct {
		Hash    string `json:"hash"`
		Message string `json:"message"`
	} `json:"commits"`
}

// bitbucketPush translates one ref change. Bitbucket push payloads carry no
// file lists, so yaml changes are never detected here.
func (n *normalizer) bitbucketPush(ctx context.Context, repo *model.Repository, changes []bitbucketChange) (Result, error) {
	res := result(MsgUnsupportedRefType)
	for _, c := range changes {
		if c.New == nil {
			if c.Old != nil && strings.EqualFold(c.Old.Type, "branch") {
				if err := n.state.DeleteBranch(ctx, repo, c.Old.Name); err != nil {
					return Result{}, err
				}
				res = result(MsgBranchDeleted)
			}
			continue
		}
		if !strings.EqualFold(c.New.Type, "branch") {
			continue
		}

		p := branchPush{Branch: c.New.Name, Head: c.New.Target.Hash}
		// Commits are listed newest first.
		for i := len(c.Commits) - 1; i >= 0; i-- {
			p.Commits = append(p.Commits, pushedCommit{ID: c.Commits[i].Hash, Message: c.Commits[i].Message})
		}
		if p.Head == "" && len(c.Commits) > 0 {
			p.Head = c.Commits[0].Hash
		}

		var err error
		if res, err = n.push(ctx, repo, p); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// BitbucketNormalizer translates Bitbucket Cloud webhooks.
type BitbucketNormalizer struct {
	normalizer
}

// NewBitbucketNormalizer creates the Bitbucket Cloud normalizer.
func NewBitbucketNormalizer(state *StateMutator, tasks driven.TaskDispatcher, cfg NormalizerConfig, logger *slog.Logger) *BitbucketNormalizer {
	return &BitbucketNormalizer{normalizer: newNormalizer(model.ServiceBitbucket, state, tasks, cfg, logger)}
}

// Routes returns the Bitbucket event table keyed by X-Event-Key.
func (n *BitbucketNormalizer) Routes() map[string]Route {
	return map[string]Route{
		"repo:push":                  {Handle: n.repoPush},
		"pullrequest:created":        {Handle: n.pullRequest},
		"pullrequest:updated":        {Handle: n.pullRequest},
		"pullrequest:fulfilled":      {Handle: n.pullRequest},
		"pullrequest:rejected":       {Handle: n.pullRequest},
		"repo:commit_status_created": {Handle: n.commitStatusChanged},
		"repo:commit_status_updated": {Handle: n.commitStatusChanged},
	}
}

// RepoServiceID returns repository.uuid without braces.
func (n *BitbucketNormalizer) RepoServiceID(_ string, body []byte) (string, error) {
	var payload struct {
		Repository *struct {
			UUID string `json:"uuid"`
		} `json:"repository"`
	}
	if err := decode(body, &payload); err != nil {
		return "", err
	}
	if payload.Repository == nil || payload.Repository.UUID == "" {
		return "", nil
	}
	return normalizeUUID(payload.Repository.UUID), nil
}

func (n *BitbucketNormalizer) repoPush(ctx context.Context, ev *Event) (Result, error) {
	var e struct {
		Push struct {
			Changes oneOrMany[bitbucketChange] `json:"changes"`
		} `json:"push"`
	}
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	if !ev.Repo.Active {
		return result(MsgRepoNotActive), nil
	}
	return n.bitbucketPush(ctx, ev.Repo, e.Push.Changes)
}

func (n *BitbucketNormalizer) pullRequest(ctx context.Context, ev *Event) (Result, error) {
	var e struct {
		PullRequest *struct {
			ID     int    `json:"id"`
			Title  string `json:"title"`
			State  string `json:"state"`
			Author struct {
				UUID string `json:"uuid"`
			} `json:"author"`
			Source struct {
				Commit struct {
					Hash string `json:"hash"`
				} `json:"commit"`
			} `json:"source"`
			Destination struct {
				Commit struct {
					Hash string `json:"hash"`
				} `json:"commit"`
			} `json:"destination"`
		} `json:"pullrequest"`
	}
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	pr := e.PullRequest
	if pr == nil {
		return result(MsgSkipProcessing), nil
	}

	upd := PullUpdate{
		PullID: pr.ID,
		State:  bitbucketPullState(pr.State),
		Title:  pr.Title,
		Head:   nonEmpty(pr.Source.Commit.Hash),
		Base:   nonEmpty(pr.Destination.Commit.Hash),
	}
	if pr.Author.UUID != "" {
		upd.AuthorServiceID = normalizeUUID(pr.Author.UUID)
	}

	return n.upsertPull(ctx, ev.Repo, upd)
}

func bitbucketPullState(state string) model.PullState {
	switch strings.ToUpper(state) {
	case "MERGED", "FULFILLED":
		return model.PullStateMerged
	case "DECLINED", "REJECTED", "SUPERSEDED", "DELETED":
		return model.PullStateClosed
	default:
		return model.PullStateOpen
	}
}

func (n *BitbucketNormalizer) commitStatusChanged(ctx context.Context, ev *Event) (Result, error) {
	var e struct {
		CommitStatus *struct {
			Key   string `json:"key"`
			State string `json:"state"`
			Links struct {
				Commit struct {
					Href string `json:"href"`
				} `json:"commit"`
			} `json:"links"`
		} `json:"commit_status"`
	}
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	cs := e.CommitStatus
	if cs == nil {
		return result(MsgSkipProcessing), nil
	}

	href := strings.TrimRight(cs.Links.Commit.Href, "/")
	commitID := href[strings.LastIndex(href, "/")+1:]

	return n.commitStatus(ctx, ev.Repo, commitID, cs.Key, cs.State)
}

// BitbucketServerNormalizer translates Bitbucket Server webhooks.
type BitbucketServerNormalizer struct {
	normalizer
}

// NewBitbucketServerNormalizer creates the Bitbucket Server normalizer.
func NewBitbucketServerNormalizer(state *StateMutator, tasks driven.TaskDispatcher, cfg NormalizerConfig, logger *slog.Logger) *BitbucketServerNormalizer {
	return &BitbucketServerNormalizer{normalizer: newNormalizer(model.ServiceBitbucketServer, state, tasks, cfg, logger)}
}

// Routes returns the Bitbucket Server event table keyed by X-Event-Key.
func (n *BitbucketServerNormalizer) Routes() map[string]Route {
	return map[string]Route{
		"repo:refs_changed":   {Handle: n.refsChanged},
		"pr:opened":           {Handle: n.pullRequest},
		"pr:modified":         {Handle: n.pullRequest},
		"pr:from_ref_updated": {Handle: n.pullRequest},
		"pr:merged":           {Handle: n.pullRequest},
		"pr:declined":         {Handle: n.pullRequest},
		"pr:deleted":          {Handle: n.pullRequest},
	}
}

// RepoServiceID returns repository.id, which may be a number or a string.
func (n *BitbucketServerNormalizer) RepoServiceID(_ string, body []byte) (string, error) {
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

type bitbucketServerChange struct {
	Ref struct {
		ID        string `json:"id"`
		DisplayID string `json:"displayId"`
		Type      string `json:"type"`
	} `json:"ref"`
	ToHash string `json:"toHash"`
	Type   string `json:"type"`
}

func (n *BitbucketServerNormalizer) refsChanged(ctx context.Context, ev *Event) (Result, error) {
	var e struct {
		Changes oneOrMany[bitbucketServerChange] `json:"changes"`
		Push    struct {
			Changes oneOrMany[bitbucketChange] `json:"changes"`
		} `json:"push"`
	}
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	if !ev.Repo.Active {
		return result(MsgRepoNotActive), nil
	}

	changes := []bitbucketChange(e.Push.Changes)
	for _, c := range e.Changes {
		if !strings.EqualFold(c.Ref.Type, "branch") {
			continue
		}
		ref := &bitbucketRef{Type: "branch", Name: c.Ref.DisplayID}
		if c.Type == "DELETE" {
			changes = append(changes, bitbucketChange{Old: ref})
			continue
		}
		ref.Target.Hash = c.ToHash
		changes = append(changes, bitbucketChange{New: ref})
	}

	return n.bitbucketPush(ctx, ev.Repo, changes)
}

func (n *BitbucketServerNormalizer) pullRequest(ctx context.Context, ev *Event) (Result, error) {
	var e struct {
		PullRequest *struct {
			ID     int    `json:"id"`
			Title  string `json:"title"`
			State  string `json:"state"`
			Author struct {
				User struct {
					ID flexID `json:"id"`
				} `json:"user"`
			} `json:"author"`
			FromRef struct {
				LatestCommit string `json:"latestCommit"`
			} `json:"fromRef"`
			ToRef struct {
				LatestCommit string `json:"latestCommit"`
			} `json:"toRef"`
		} `json:"pullRequest"`
	}
	if err := decode(ev.Body, &e); err != nil {
		return Result{}, err
	}
	pr := e.PullRequest
	if pr == nil {
		return result(MsgSkipProcessing), nil
	}

	state := bitbucketPullState(pr.State)
	if ev.Event == "pr:deleted" {
		state = model.PullStateClosed
	}

	return n.upsertPull(ctx, ev.Repo, PullUpdate{
		PullID:          pr.ID,
		State:           state,
		Title:           pr.Title,
		AuthorServiceID: pr.Author.User.ID.String(),
		Head:            nonEmpty(pr.FromRef.LatestCommit),
		Base:            nonEmpty(pr.ToRef.LatestCommit),
	})
}
