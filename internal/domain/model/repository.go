package model

import "time"

// Repository is a project tracked under one Owner. ServiceID is the
// provider-native id and is unique per Service; Name is mutable upstream and
// is never used to resolve webhook targets.
type Repository struct {
	ID            int64
	OwnerID       int64
	Service       Service
	ServiceID     string
	Name          string
	Private       bool
	Active        bool
	Activated     bool
	Deleted       bool
	DefaultBranch string
	HookID        string
	WebhookSecret *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasWebhookSecret reports whether a non-empty per-repository secret is stored.
func (r Repository) HasWebhookSecret() bool {
	return r.WebhookSecret != nil && *r.WebhookSecret != ""
}
