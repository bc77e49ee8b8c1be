package model

import "time"

// Pull mirrors a provider pull/merge request. Head, Base and ComparedTo are
// commit SHAs. ComparedTo is the memoized base of the last computed
// comparison and is not cleared when Base moves.
type Pull struct {
	ID         int64
	RepoID     int64
	PullID     int
	State      PullState
	Title      string
	AuthorID   *int64
	Head       *string
	Base       *string
	ComparedTo *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Branch is a named ref in a Repository pointing at a head commit SHA.
type Branch struct {
	RepoID    int64
	Name      string
	Head      string
	UpdatedAt time.Time
}
