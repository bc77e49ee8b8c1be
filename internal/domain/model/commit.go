package model

import "time"

// Commit mirrors a provider commit that has (or will have) coverage data.
type Commit struct {
	ID        int64
	RepoID    int64
	CommitID  string
	AuthorID  *int64
	State     CommitState
	Branch    string
	Merged    bool
	PullID    *int
	Message   string
	Totals    *Totals
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Totals is a coverage statistics snapshot attached to a Commit.
type Totals struct {
	Files      int     `json:"f"`
	Lines      int     `json:"n"`
	Hits       int     `json:"h"`
	Misses     int     `json:"m"`
	Partials   int     `json:"p"`
	Coverage   float64 `json:"c"`
	Complexity float64 `json:"C"`
}

// CommitStatus is the last CI status an external system reported for a
// commit under one context key.
type CommitStatus struct {
	RepoID    int64
	CommitID  string
	Context   string
	State     CIState
	UpdatedAt time.Time
}
