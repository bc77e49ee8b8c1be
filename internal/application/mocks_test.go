package application_test

import (
	"context"
	"sync"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

func cloneSet(s model.IDSet) model.IDSet {
	return model.NewIDSet(s.Slice()...)
}

func cloneOwner(o model.Owner) *model.Owner {
	o.PlanActivatedUsers = cloneSet(o.PlanActivatedUsers)
	o.Organizations = cloneSet(o.Organizations)
	o.Admins = cloneSet(o.Admins)
	o.Permission = cloneSet(o.Permission)
	return &o
}

// --- mockOwnerStore ---

type mockOwnerStore struct {
	mu     sync.Mutex
	nextID int64
	owners map[int64]*model.Owner
}

func newMockOwnerStore() *mockOwnerStore {
	return &mockOwnerStore{owners: make(map[int64]*model.Owner)}
}

func (m *mockOwnerStore) add(o model.Owner) *model.Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	m.owners[o.ID] = cloneOwner(o)
	return cloneOwner(o)
}

func (m *mockOwnerStore) get(id int64) model.Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *cloneOwner(*m.owners[id])
}

func (m *mockOwnerStore) Upsert(_ context.Context, o model.Owner) (*model.Owner, error) {
	m.mu.Lock()
	for _, existing := range m.owners {
		if existing.Service == o.Service && existing.ServiceID == o.ServiceID {
			existing.Username = o.Username
			out := cloneOwner(*existing)
			m.mu.Unlock()
			return out, nil
		}
	}
	m.mu.Unlock()
	return m.add(o), nil
}

func (m *mockOwnerStore) GetByID(_ context.Context, id int64) (*model.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.owners[id]; ok {
		return cloneOwner(*o), nil
	}
	return nil, nil
}

func (m *mockOwnerStore) find(match func(*model.Owner) bool) *model.Owner {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owners {
		if match(o) {
			return cloneOwner(*o)
		}
	}
	return nil
}

func (m *mockOwnerStore) GetByServiceID(_ context.Context, service model.Service, serviceID string) (*model.Owner, error) {
	return m.find(func(o *model.Owner) bool { return o.Service == service && o.ServiceID == serviceID }), nil
}

func (m *mockOwnerStore) GetByUsername(_ context.Context, service model.Service, username string) (*model.Owner, error) {
	return m.find(func(o *model.Owner) bool { return o.Service == service && o.Username == username }), nil
}

func (m *mockOwnerStore) SetIntegration(_ context.Context, ownerID int64, integrationID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[ownerID]
	if !ok {
		return driven.ErrOwnerNotFound
	}
	o.IntegrationID = integrationID
	return nil
}

func (m *mockOwnerStore) ActivateUser(_ context.Context, ownerID, userID int64, capacity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[ownerID]
	if !ok {
		return false, driven.ErrOwnerNotFound
	}
	if o.PlanActivatedUsers.Contains(userID) {
		return true, nil
	}
	if o.PlanActivatedUsers.Len() >= capacity {
		return false, nil
	}
	o.PlanActivatedUsers.Add(userID)
	return true, nil
}

func (m *mockOwnerStore) mutate(ownerID int64, fn func(*model.Owner)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[ownerID]
	if !ok {
		return driven.ErrOwnerNotFound
	}
	fn(o)
	return nil
}

func (m *mockOwnerStore) DeactivateUser(_ context.Context, ownerID, userID int64) error {
	return m.mutate(ownerID, func(o *model.Owner) { o.PlanActivatedUsers.Remove(userID) })
}

func (m *mockOwnerStore) AddAdmin(_ context.Context, ownerID, userID int64) error {
	return m.mutate(ownerID, func(o *model.Owner) { o.Admins.Add(userID) })
}

func (m *mockOwnerStore) RemoveAdmin(_ context.Context, ownerID, userID int64) error {
	return m.mutate(ownerID, func(o *model.Owner) { o.Admins.Remove(userID) })
}

func (m *mockOwnerStore) AddOrganization(_ context.Context, ownerID, orgID int64) error {
	return m.mutate(ownerID, func(o *model.Owner) { o.Organizations.Add(orgID) })
}

func (m *mockOwnerStore) RemoveOrganization(_ context.Context, ownerID, orgID int64) error {
	return m.mutate(ownerID, func(o *model.Owner) { o.Organizations.Remove(orgID) })
}

func (m *mockOwnerStore) AddPermission(_ context.Context, ownerID, repoID int64) error {
	return m.mutate(ownerID, func(o *model.Owner) { o.Permission.Add(repoID) })
}

func (m *mockOwnerStore) RemovePermission(_ context.Context, ownerID, repoID int64) error {
	return m.mutate(ownerID, func(o *model.Owner) { o.Permission.Remove(repoID) })
}

// --- mockRepoStore ---

type mockRepoStore struct {
	mu     sync.Mutex
	nextID int64
	repos  map[int64]*model.Repository
}

func newMockRepoStore() *mockRepoStore {
	return &mockRepoStore{repos: make(map[int64]*model.Repository)}
}

func (m *mockRepoStore) add(r model.Repository) *model.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	stored := r
	m.repos[r.ID] = &stored
	return &r
}

func (m *mockRepoStore) get(id int64) model.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.repos[id]
}

func (m *mockRepoStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.repos)
}

func (m *mockRepoStore) Create(_ context.Context, r model.Repository) (*model.Repository, bool, error) {
	m.mu.Lock()
	for _, existing := range m.repos {
		if existing.Service == r.Service && existing.ServiceID == r.ServiceID {
			out := *existing
			m.mu.Unlock()
			return &out, false, nil
		}
	}
	m.mu.Unlock()
	return m.add(r), true, nil
}

func (m *mockRepoStore) GetByID(_ context.Context, id int64) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[id]; ok {
		out := *r
		return &out, nil
	}
	return nil, nil
}

func (m *mockRepoStore) GetByServiceID(_ context.Context, service model.Service, serviceID string) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.Service == service && r.ServiceID == serviceID {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

func (m *mockRepoStore) GetByName(_ context.Context, ownerID int64, name string) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.OwnerID == ownerID && r.Name == name {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

func (m *mockRepoStore) ListByOwner(_ context.Context, ownerID int64) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Repository
	for _, r := range m.repos {
		if r.OwnerID == ownerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRepoStore) mutate(id int64, fn func(*model.Repository)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return driven.ErrRepoNotFound
	}
	fn(r)
	return nil
}

func (m *mockRepoStore) Rename(_ context.Context, id int64, name string) error {
	return m.mutate(id, func(r *model.Repository) { r.Name = name })
}

func (m *mockRepoStore) Transfer(_ context.Context, id, ownerID int64, name string) error {
	return m.mutate(id, func(r *model.Repository) { r.OwnerID, r.Name = ownerID, name })
}

func (m *mockRepoStore) SetPrivate(_ context.Context, id int64, private bool) error {
	return m.mutate(id, func(r *model.Repository) { r.Private = private })
}

func (m *mockRepoStore) SetDefaultBranch(_ context.Context, id int64, branch string) error {
	return m.mutate(id, func(r *model.Repository) { r.DefaultBranch = branch })
}

func (m *mockRepoStore) Deactivate(_ context.Context, id int64, deleted bool) error {
	return m.mutate(id, func(r *model.Repository) {
		r.Active, r.Activated = false, false
		r.Deleted = r.Deleted || deleted
	})
}

// --- mockCommitStore ---

type commitKey struct {
	repoID   int64
	commitID string
}

type statusKey struct {
	commitKey
	context string
}

type mockCommitStore struct {
	mu       sync.Mutex
	commits  map[commitKey]*model.Commit
	statuses map[statusKey]model.CIState
}

func newMockCommitStore() *mockCommitStore {
	return &mockCommitStore{
		commits:  make(map[commitKey]*model.Commit),
		statuses: make(map[statusKey]model.CIState),
	}
}

func (m *mockCommitStore) Upsert(_ context.Context, c model.Commit, correction bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commitKey{c.RepoID, c.CommitID}
	stored, ok := m.commits[key]
	if !ok {
		stored = &model.Commit{RepoID: c.RepoID, CommitID: c.CommitID, State: model.CommitStatePending}
		m.commits[key] = stored
	}
	if c.State != "" {
		if !correction && !stored.State.CanAdvanceTo(c.State) {
			return driven.ErrCommitStateRegression
		}
		stored.State = c.State
	}
	if c.PullID != nil {
		stored.PullID = c.PullID
	}
	if c.Message != "" {
		stored.Message = c.Message
	}
	if c.Branch != "" {
		stored.Branch = c.Branch
	}
	stored.Merged = stored.Merged || c.Merged
	return nil
}

func (m *mockCommitStore) Get(_ context.Context, repoID int64, commitID string) (*model.Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.commits[commitKey{repoID, commitID}]; ok {
		out := *c
		return &out, nil
	}
	return nil, nil
}

func (m *mockCommitStore) MarkMerged(_ context.Context, repoID int64, commitIDs []string, branch string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range commitIDs {
		if c, ok := m.commits[commitKey{repoID, id}]; ok && !c.Merged {
			c.Merged, c.Branch = true, branch
			n++
		}
	}
	return n, nil
}

func (m *mockCommitStore) UpsertStatus(_ context.Context, s model.CommitStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := statusKey{commitKey{s.RepoID, s.CommitID}, s.Context}
	if current, ok := m.statuses[key]; ok && current == s.State {
		return false, nil
	}
	m.statuses[key] = s.State
	return true, nil
}

func (m *mockCommitStore) ListStatuses(_ context.Context, repoID int64, commitID string) ([]model.CommitStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CommitStatus
	for k, state := range m.statuses {
		if k.repoID == repoID && k.commitID == commitID {
			out = append(out, model.CommitStatus{RepoID: repoID, CommitID: commitID, Context: k.context, State: state})
		}
	}
	return out, nil
}

// --- mockPullStore / mockBranchStore ---

type pullKey struct {
	repoID int64
	pullID int
}

type mockPullStore struct {
	mu    sync.Mutex
	pulls map[pullKey]*model.Pull
}

func newMockPullStore() *mockPullStore {
	return &mockPullStore{pulls: make(map[pullKey]*model.Pull)}
}

func (m *mockPullStore) Upsert(_ context.Context, p model.Pull) (*model.Pull, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pullKey{p.RepoID, p.PullID}
	existing, ok := m.pulls[key]
	if !ok {
		stored := p
		m.pulls[key] = &stored
		return nil, nil
	}
	prev := *existing
	existing.State = p.State
	if p.Title != "" {
		existing.Title = p.Title
	}
	if p.AuthorID != nil {
		existing.AuthorID = p.AuthorID
	}
	if p.Head != nil {
		existing.Head = p.Head
	}
	if p.Base != nil {
		existing.Base = p.Base
	}
	return &prev, nil
}

func (m *mockPullStore) Get(_ context.Context, repoID int64, pullID int) (*model.Pull, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pulls[pullKey{repoID, pullID}]; ok {
		out := *p
		return &out, nil
	}
	return nil, nil
}

func (m *mockPullStore) ListByRepo(_ context.Context, repoID int64, state model.PullState) ([]model.Pull, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Pull
	for k, p := range m.pulls {
		if k.repoID == repoID && (state == "" || p.State == state) {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockBranchStore struct {
	mu       sync.Mutex
	branches map[string]string
}

func newMockBranchStore() *mockBranchStore {
	return &mockBranchStore{branches: make(map[string]string)}
}

func (m *mockBranchStore) head(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.branches[name]
	return h, ok
}

func (m *mockBranchStore) Upsert(_ context.Context, b model.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.Name] = b.Head
	return nil
}

func (m *mockBranchStore) Delete(_ context.Context, _ int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.branches, name)
	return nil
}

func (m *mockBranchStore) ListByRepo(_ context.Context, repoID int64) ([]model.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Branch
	for name, head := range m.branches {
		out = append(out, model.Branch{RepoID: repoID, Name: name, Head: head})
	}
	return out, nil
}

// --- mockDispatcher ---

type dispatched struct {
	name string
	args []any
}

type mockDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (m *mockDispatcher) record(name string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dispatched{name: name, args: args})
}

func (m *mockDispatcher) named(name string) []dispatched {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []dispatched
	for _, c := range m.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockDispatcher) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockDispatcher) Notify(repoID int64, commitID string) {
	m.record(model.TaskNotify, repoID, commitID)
}

func (m *mockDispatcher) PullsSync(repoID int64, pullID int) {
	m.record(model.TaskPullsSync, repoID, pullID)
}

func (m *mockDispatcher) Refresh(req driven.RefreshRequest) {
	m.record(model.TaskRefresh, req)
}

func (m *mockDispatcher) SyncPlans(req driven.SyncPlansRequest) {
	m.record(model.TaskSyncPlans, req)
}

func (m *mockDispatcher) StatusSetPending(repoID int64, commitID, branch string, onPullRequest bool) {
	m.record(model.TaskStatusSetPending, repoID, commitID, branch, onPullRequest)
}

func (m *mockDispatcher) SyncBranchYaml(repoID int64, branch string) {
	m.record(model.TaskSyncBranchYaml, repoID, branch)
}

// --- mockProvider ---

type mockProvider struct {
	mu         sync.Mutex
	admin      bool
	canView    bool
	canEdit    bool
	err        error
	adminCalls int
	permCalls  int
	factoryErr error
}

func (m *mockProvider) Adapter(model.Owner) (driven.ProviderAdapter, error) {
	if m.factoryErr != nil {
		return nil, m.factoryErr
	}
	return m, nil
}

func (m *mockProvider) IsAdmin(context.Context, string, string, string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminCalls++
	return m.admin, m.err
}

func (m *mockProvider) GetPermissions(context.Context, driven.RepoRef, string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permCalls++
	return m.canView, m.canEdit, m.err
}

type mockSeats struct {
	seats int
}

func (m mockSeats) LicenseSeats(context.Context) (int, error) {
	return m.seats, nil
}
