package application

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

// DefaultCIContext is the status context reported by the coverage service.
const DefaultCIContext = "codecov"

// NormalizerConfig holds settings shared by all provider normalizers.
type NormalizerConfig struct {
	// CIContext is the commit status context (or prefix before "/") that
	// triggers notifications. Defaults to DefaultCIContext.
	CIContext string
	// Enterprise enables self-hosted-only events such as GitLab system hooks.
	Enterprise bool
	// StatusPendingOnPush dispatches status_set_pending for pushed heads.
	StatusPendingOnPush bool
}

var yamlPaths = map[string]struct{}{
	"codecov.yml":          {},
	".codecov.yml":         {},
	"codecov.yaml":         {},
	".codecov.yaml":        {},
	".github/codecov.yml":  {},
	".github/.codecov.yml": {},
	".github/codecov.yaml": {},
	"dev/codecov.yml":      {},
	"dev/.codecov.yml":     {},
	"dev/codecov.yaml":     {},
}

// normalizer carries the canonical operations every provider translates
// its payloads into.
type normalizer struct {
	service model.Service
	state   *StateMutator
	tasks   driven.TaskDispatcher
	cfg     NormalizerConfig
	logger  *slog.Logger
}

func newNormalizer(service model.Service, state *StateMutator, tasks driven.TaskDispatcher, cfg NormalizerConfig, logger *slog.Logger) normalizer {
	if cfg.CIContext == "" {
		cfg.CIContext = DefaultCIContext
	}
	return normalizer{
		service: service,
		state:   state,
		tasks:   tasks,
		cfg:     cfg,
		logger:  logger.With("service", string(service)),
	}
}

// Service returns the provider this normalizer serves.
func (n *normalizer) Service() model.Service {
	return n.service
}

func (n *normalizer) matchesCIContext(key string) bool {
	return key == n.cfg.CIContext || strings.HasPrefix(key, n.cfg.CIContext+"/")
}

// commitStatus applies a CI status change. Only the configured context on a
// processed commit is recorded; a recorded change queues a notification.
func (n *normalizer) commitStatus(ctx context.Context, repo *model.Repository, commitID, key, rawState string) (Result, error) {
	if commitID == "" || !n.matchesCIContext(key) {
		return result(MsgSkipProcessing), nil
	}

	commit, err := n.state.Commit(ctx, repo.ID, commitID)
	if err != nil {
		return Result{}, err
	}
	if commit == nil || commit.State == model.CommitStatePending {
		return result(MsgSkipProcessing), nil
	}

	changed, err := n.state.UpsertCommitStatus(ctx, repo, commitID, key, model.NormalizeCIState(rawState))
	if err != nil {
		return Result{}, err
	}
	if !changed {
		return result(MsgStatusProcessed), nil
	}

	n.tasks.Notify(repo.ID, commitID)
	return result(MsgNotifyQueued), nil
}

type pushedCommit struct {
	ID      string
	Message string
	Files   []string
}

// branchPush is a push to a single branch. FilesKnown is false for
// providers whose push payloads carry no file lists.
type branchPush struct {
	Branch     string
	Head       string
	Commits    []pushedCommit
	FilesKnown bool
}

func (p branchPush) headMessage() string {
	for _, c := range p.Commits {
		if c.ID == p.Head {
			return c.Message
		}
	}
	if len(p.Commits) > 0 {
		return p.Commits[len(p.Commits)-1].Message
	}
	return ""
}

func (p branchPush) touchesYaml() bool {
	for _, c := range p.Commits {
		for _, f := range c.Files {
			if _, ok := yamlPaths[path.Clean(f)]; ok {
				return true
			}
		}
	}
	return false
}

func (n *normalizer) push(ctx context.Context, repo *model.Repository, p branchPush) (Result, error) {
	if !repo.Active {
		return result(MsgRepoNotActive), nil
	}

	if p.Head != "" {
		if err := n.state.UpsertBranch(ctx, repo, p.Branch, p.Head); err != nil {
			return Result{}, err
		}
	}

	if p.Branch == repo.DefaultBranch && len(p.Commits) > 0 {
		ids := make([]string, 0, len(p.Commits))
		for _, c := range p.Commits {
			ids = append(ids, c.ID)
		}
		if err := n.state.MarkMerged(ctx, repo, ids, p.Branch); err != nil {
			return Result{}, err
		}
	}

	if isCISkip(p.headMessage()) {
		return result(MsgCISkipped), nil
	}

	if n.cfg.StatusPendingOnPush && p.Head != "" {
		n.tasks.StatusSetPending(repo.ID, p.Head, p.Branch, false)
	}

	if p.FilesKnown && p.touchesYaml() {
		n.tasks.SyncBranchYaml(repo.ID, p.Branch)
		return result(MsgSyncYamlQueued), nil
	}
	return result(MsgSyncYamlSkipped), nil
}

// upsertPull stores a pull and queues pulls_sync when it is new, its head
// moved or its state changed. A redelivered event changes none of these.
func (n *normalizer) upsertPull(ctx context.Context, repo *model.Repository, upd PullUpdate) (Result, error) {
	if upd.PullID == 0 {
		return result(MsgSkipProcessing), nil
	}

	prev, err := n.state.UpsertPull(ctx, repo, upd)
	if err != nil {
		return Result{}, err
	}

	if !pullNeedsSync(prev, upd) {
		return result(MsgPullUpdated), nil
	}

	n.tasks.PullsSync(repo.ID, upd.PullID)
	return result(MsgPullsSyncQueued), nil
}

func pullNeedsSync(prev *model.Pull, upd PullUpdate) bool {
	if prev == nil || prev.State != upd.State {
		return true
	}
	if upd.Head == nil {
		return false
	}
	return prev.Head == nil || *prev.Head != *upd.Head
}

func isCISkip(message string) bool {
	return strings.Contains(message, "[ci skip]") || strings.Contains(message, "[skip ci]")
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewNormalizers returns one normalizer per supported service.
func NewNormalizers(state *StateMutator, tasks driven.TaskDispatcher, cfg NormalizerConfig, logger *slog.Logger) []Normalizer {
	return []Normalizer{
		NewGitHubNormalizer(model.ServiceGitHub, state, tasks, cfg, logger),
		NewGitHubNormalizer(model.ServiceGitHubEnterprise, state, tasks, cfg, logger),
		NewGitLabNormalizer(model.ServiceGitLab, state, tasks, cfg, logger),
		NewGitLabNormalizer(model.ServiceGitLabEnterprise, state, tasks, cfg, logger),
		NewBitbucketNormalizer(state, tasks, cfg, logger),
		NewBitbucketServerNormalizer(state, tasks, cfg, logger),
	}
}
