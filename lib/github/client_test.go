package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fiffu/hubdeck/config"
	"github.com/fiffu/hubdeck/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.GitHub.BaseURL = srv.URL
	cfg.GitHub.Token = "t0ken"
	return NewClient(cfg, zaptest.NewLogger(t), http.DefaultTransport)
}

func subscription(typ models.ColumnType, subtype string, params models.SubscriptionParams) *models.Subscription {
	return &models.Subscription{
		ID:      models.SubscriptionID(typ, subtype, params),
		Type:    typ,
		Subtype: subtype,
		Params:  params,
	}
}

func TestFetchPage_Events(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/fiffu/hubdeck/events", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		w.Write([]byte(`[
			{"id":"2","type":"PushEvent","repo":{"name":"fiffu/hubdeck"},"created_at":"2026-10-01T12:00:00Z"},
			{"id":"1","type":"WatchEvent","repo":{"name":"fiffu/hubdeck"},"created_at":"2026-10-01T11:00:00Z"}
		]`))
	})

	sub := subscription(models.ColumnTypeActivity, models.SubtypeRepoEvents, models.SubscriptionParams{RepoFullName: " fiffu/hubdeck "})
	page, err := client.FetchPage(context.Background(), sub, 2, 10)
	require.NoError(t, err)

	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Received)
	assert.Equal(t, "2", page.Items[0].ID)
	assert.Equal(t, "PushEvent", page.Items[0].Type)
	assert.Equal(t, "fiffu", page.Items[0].Owner)
	assert.Equal(t, "hubdeck", page.Items[0].Repo)
	assert.Equal(t, sub.ID, page.Items[0].SubscriptionID)
	assert.True(t, page.Items[0].Unread)
	assert.Equal(t, page.Items[1].Timestamp, page.Oldest)
}

func TestFetchPage_IssuesSubtypeKeepsRawCount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		w.Write([]byte(`[
			{"id":11,"html_url":"https://github.com/a/b/issues/1","created_at":"2026-10-01T12:00:00Z"},
			{"id":12,"html_url":"https://github.com/a/b/pull/2","pull_request":{"url":"x"},"created_at":"2026-10-01T10:00:00Z"}
		]`))
	})
	params := models.SubscriptionParams{RepoFullName: "a/b"}

	issues, err := client.FetchPage(context.Background(), subscription(models.ColumnTypeIssueOrPR, models.SubtypeIssues, params), 1, 2)
	require.NoError(t, err)
	require.Len(t, issues.Items, 1)
	assert.Equal(t, "11", issues.Items[0].ID)
	assert.Equal(t, "issue", issues.Items[0].Type)
	assert.Equal(t, 2, issues.Received)
	assert.Equal(t, 10, issues.Oldest.Hour())

	prs, err := client.FetchPage(context.Background(), subscription(models.ColumnTypeIssueOrPR, models.SubtypePullRequests, params), 1, 2)
	require.NoError(t, err)
	require.Len(t, prs.Items, 1)
	assert.Equal(t, "pull_request", prs.Items[0].Type)

	both, err := client.FetchPage(context.Background(), subscription(models.ColumnTypeIssueOrPR, models.SubtypeIssuesAndPullRequests, params), 1, 2)
	require.NoError(t, err)
	assert.Len(t, both.Items, 2)
}

func TestFetchPage_Notifications(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("participating"))
		w.Write([]byte(`[{"id":"99","unread":false,"updated_at":"2026-10-01T12:00:00Z",
			"subject":{"type":"PullRequest"},"repository":{"full_name":"golang/go"}}]`))
	})

	sub := subscription(models.ColumnTypeNotifications, models.SubtypeParticipatingNotifications, models.SubscriptionParams{})
	page, err := client.FetchPage(context.Background(), sub, 1, 10)
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	it := page.Items[0]
	assert.Equal(t, "99", it.ID)
	assert.Equal(t, "PullRequest", it.Type)
	assert.Equal(t, "golang", it.Owner)
	assert.False(t, it.Unread)
	assert.True(t, it.IsNotification())
}

func TestFetchPage_MalformedBodyIsEmptyPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"not a list"}`))
	})

	page, err := client.FetchPage(context.Background(), subscription(models.ColumnTypeActivity, models.SubtypePublicEvents, models.SubscriptionParams{}), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Received)
}

func TestFetchPage_HTTPErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/ghost/events" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "rate limited", http.StatusForbidden)
	})

	_, err := client.FetchPage(context.Background(), subscription(models.ColumnTypeActivity, models.SubtypeUserEvents, models.SubscriptionParams{Username: "ghost"}), 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.FetchPage(context.Background(), subscription(models.ColumnTypeActivity, models.SubtypePublicEvents, models.SubscriptionParams{}), 1, 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestEndpoint_RejectsIncompleteParams(t *testing.T) {
	_, _, err := Endpoint(subscription(models.ColumnTypeActivity, models.SubtypeRepoEvents, models.SubscriptionParams{RepoFullName: "onlyowner"}))
	assert.ErrorIs(t, err, ErrUnsupportedTarget)

	_, _, err = Endpoint(subscription(models.ColumnTypeActivity, "starred", models.SubscriptionParams{}))
	assert.ErrorIs(t, err, ErrUnsupportedTarget)

	path, query, err := Endpoint(subscription(models.ColumnTypeNotifications, models.SubtypeRepoNotifications, models.SubscriptionParams{RepoFullName: "a/b", All: true}))
	require.NoError(t, err)
	assert.Equal(t, "/repos/a/b/notifications", path)
	assert.Equal(t, "true", query.Get("all"))
}

func TestMarkThreadRead(t *testing.T) {
	var called bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/notifications/threads/42", r.URL.Path)
		w.WriteHeader(http.StatusResetContent)
	})

	require.NoError(t, client.MarkThreadRead(context.Background(), "42"))
	assert.True(t, called)
}
