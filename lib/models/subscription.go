package models

import (
	"database/sql"
	"strings"
	"time"
)

// Activity subtypes.
const (
	SubtypePublicEvents             = "public_events"
	SubtypeRepoEvents               = "repo_events"
	SubtypeRepoNetworkEvents        = "repo_network_events"
	SubtypeOrgPublicEvents          = "org_public_events"
	SubtypeUserEvents               = "user_events"
	SubtypeUserPublicEvents         = "user_public_events"
	SubtypeUserReceivedEvents       = "user_received_events"
	SubtypeUserReceivedPublicEvents = "user_received_public_events"
)

// Issue or pull request subtypes.
const (
	SubtypeIssues                = "issues"
	SubtypePullRequests          = "pull_requests"
	SubtypeIssuesAndPullRequests = "issues_and_pull_requests"
)

// Notification subtypes.
const (
	SubtypeAllNotifications           = "all"
	SubtypeParticipatingNotifications = "participating"
	SubtypeRepoNotifications          = "repo"
)

type SubscriptionParams struct {
	RepoFullName string `json:"repoFullName,omitempty"`
	Org          string `json:"org,omitempty"`
	Username     string `json:"username,omitempty"`
	All          bool   `json:"all,omitempty"`
}

// OwnerAndRepo splits "owner/repo", tolerating surrounding whitespace and
// empty segments.
func (p SubscriptionParams) OwnerAndRepo() (owner, repo string) {
	return SplitRepoFullName(p.RepoFullName)
}

// Normalized trims the params so that targets naming the same endpoint
// compare equal.
func (p SubscriptionParams) Normalized() SubscriptionParams {
	p.RepoFullName = strings.TrimSpace(p.RepoFullName)
	if owner, repo := p.OwnerAndRepo(); owner != "" && repo != "" {
		p.RepoFullName = owner + "/" + repo
	}
	p.Org = strings.TrimSpace(p.Org)
	p.Username = strings.TrimSpace(p.Username)
	return p
}

func SplitRepoFullName(fullName string) (owner, repo string) {
	parts := make([]string, 0, 2)
	for _, part := range strings.Split(strings.TrimSpace(fullName), "/") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		owner = parts[0]
	}
	if len(parts) > 1 {
		repo = parts[1]
	}
	return owner, repo
}

type Subscription struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Type    ColumnType
	Subtype string
	Params  SubscriptionParams `gorm:"serializer:json"`

	LoadState     LoadState
	Page          int
	PerPage       int
	CanFetchMore  bool
	LastFetchedAt sql.NullTime
	ErrorMessage  string
}

type Subscriptions []Subscription

// SubscriptionID derives a stable id so that columns watching the same
// target share one subscription.
func SubscriptionID(typ ColumnType, subtype string, params SubscriptionParams) string {
	return DigestJSON(struct {
		Type    ColumnType
		Subtype string
		Params  SubscriptionParams
	}{typ, subtype, params.Normalized()})
}
