package github

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/fiffu/hubdeck/lib/models"
)

type eventRecord struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Repo struct {
		Name string `json:"name"`
	} `json:"repo"`
	CreatedAt time.Time `json:"created_at"`
}

type issueRecord struct {
	ID          json.Number     `json:"id"`
	URL         string          `json:"url"`
	HTMLURL     string          `json:"html_url"`
	PullRequest json.RawMessage `json:"pull_request"`
	MergedAt    json.RawMessage `json:"merged_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

type notificationRecord struct {
	ID        string    `json:"id"`
	Unread    bool      `json:"unread"`
	UpdatedAt time.Time `json:"updated_at"`
	Subject   struct {
		Type string `json:"type"`
	} `json:"subject"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// IsPullRequest recognises pull requests listed by the issues endpoint.
func (r *issueRecord) IsPullRequest() bool {
	if present(r.PullRequest) || present(r.MergedAt) {
		return true
	}
	return strings.Contains(r.HTMLURL, "/pull/") || strings.Contains(r.URL, "/pulls/")
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// parsePage converts records into items. Records without an id or timestamp
// are skipped.
func parsePage(sub *models.Subscription, records []json.RawMessage) *Page {
	page := &Page{Received: len(records)}
	for _, raw := range records {
		it, ts, ok := parseRecord(sub, raw)
		if ts.IsZero() {
			continue
		}
		if page.Oldest.IsZero() || ts.Before(page.Oldest) {
			page.Oldest = ts
		}
		if ok {
			page.Items = append(page.Items, it)
		}
	}
	return page
}

func parseRecord(sub *models.Subscription, raw json.RawMessage) (it models.Item, ts time.Time, ok bool) {
	it = models.Item{
		SubscriptionID: sub.ID,
		Kind:           sub.Type,
		Unread:         true,
		Payload:        []byte(raw),
	}

	switch sub.Type {
	case models.ColumnTypeActivity:
		var r eventRecord
		if json.Unmarshal(raw, &r) != nil {
			return it, ts, false
		}
		it.ID, it.Type, it.Timestamp = r.ID, r.Type, r.CreatedAt
		it.Owner, it.Repo = models.SplitRepoFullName(r.Repo.Name)

	case models.ColumnTypeIssueOrPR:
		var r issueRecord
		if json.Unmarshal(raw, &r) != nil {
			return it, ts, false
		}
		it.ID, it.Timestamp = r.ID.String(), r.CreatedAt
		it.Owner, it.Repo = sub.Params.OwnerAndRepo()
		it.Type = "issue"
		if r.IsPullRequest() {
			it.Type = "pull_request"
		}
		switch {
		case sub.Subtype == models.SubtypeIssues && it.Type != "issue":
			return it, it.Timestamp, false
		case sub.Subtype == models.SubtypePullRequests && it.Type != "pull_request":
			return it, it.Timestamp, false
		}

	case models.ColumnTypeNotifications:
		var r notificationRecord
		if json.Unmarshal(raw, &r) != nil {
			return it, ts, false
		}
		it.ID, it.Type, it.Timestamp, it.Unread = r.ID, r.Subject.Type, r.UpdatedAt, r.Unread
		it.Owner, it.Repo = models.SplitRepoFullName(r.Repository.FullName)
	}

	return it, it.Timestamp, it.ID != ""
}
