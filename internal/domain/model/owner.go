package model

import "time"

// Owner is an account (user or organization) on a source-control provider.
type Owner struct {
	ID               int64
	Service          Service
	ServiceID        string
	Username         string
	Plan             string
	PlanAutoActivate bool
	PlanUserCount    int

	PlanActivatedUsers IDSet
	Organizations      IDSet
	Admins             IDSet
	Permission         IDSet // Repository ids the owner is known to be able to view.

	IntegrationID *int64
	OAuthToken    string // Plaintext at the domain boundary; encrypted at rest.

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasIntegration reports whether the owner has an installed provider app.
func (o Owner) HasIntegration() bool {
	return o.IntegrationID != nil
}

// HasSeatCapacity reports whether another user can be activated under the plan.
func (o Owner) HasSeatCapacity() bool {
	return o.PlanActivatedUsers.Len() < o.PlanUserCount
}
