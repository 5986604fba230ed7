// Package github fetches pages of events, issues and notification threads
// from the GitHub REST API and turns them into items.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/hubdeck/config"
	"github.com/fiffu/hubdeck/lib/models"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedTarget = errors.New("unsupported subscription")
)

// Page is the outcome of one fetch. Received and Oldest describe the raw
// response, which may hold records that did not become items.
type Page struct {
	Items    models.Items
	Received int
	Oldest   time.Time
}

type Client struct {
	log       *zap.Logger
	baseURL   string
	token     string
	transport http.RoundTripper
}

func NewClient(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) *Client {
	return &Client{
		log:       log,
		baseURL:   cfg.GitHub.BaseURL,
		token:     cfg.GitHub.Token,
		transport: transport,
	}
}

// FetchPage requests one page of the subscription's endpoint. A body that is
// not a JSON array yields an empty page.
func (c *Client) FetchPage(ctx context.Context, sub *models.Subscription, page, perPage int) (*Page, error) {
	path, query, err := Endpoint(sub)
	if err != nil {
		return nil, err
	}
	query.Set("page", strconv.Itoa(max(1, page)))
	query.Set("per_page", strconv.Itoa(config.ClampPerPage(perPage)))

	rb := c.builder(path).CheckStatus(http.StatusOK)
	for key, values := range query {
		rb.Param(key, values...)
	}

	var buf bytes.Buffer
	err = rb.ToBytesBuffer(&buf).Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		c.log.Sugar().Warnw("Discarding malformed response", "path", path, "err", err)
		return &Page{}, nil
	}
	return parsePage(sub, records), nil
}

// MarkThreadRead marks a notification thread as read on GitHub.
func (c *Client) MarkThreadRead(ctx context.Context, threadID string) error {
	path := "/notifications/threads/" + url.PathEscape(threadID)
	err := c.builder(path).
		Method(http.MethodPatch).
		CheckStatus(http.StatusResetContent, http.StatusOK).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("PATCH %s: %w", path, err)
	}
	return nil
}

// builder prepares a request whose 404 surfaces as ErrNotFound. Callers add
// the accepted statuses.
func (c *Client) builder(path string) *requests.Builder {
	rb := requests.URL(c.baseURL+path).
		Transport(c.transport).
		Accept("application/vnd.github+json").
		Header("X-GitHub-Api-Version", "2022-11-28").
		AddValidator(rejectNotFound)
	if c.token != "" {
		rb.Bearer(c.token)
	}
	return rb
}

func rejectNotFound(res *http.Response) error {
	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Endpoint resolves the request path and base query for a subscription.
func Endpoint(sub *models.Subscription) (string, url.Values, error) {
	query := url.Values{}
	p := sub.Params
	owner, repo := p.OwnerAndRepo()
	needRepo := func() error {
		if owner == "" || repo == "" {
			return fmt.Errorf("%w: %s/%s needs owner/repo, got %q", ErrUnsupportedTarget, sub.Type, sub.Subtype, p.RepoFullName)
		}
		return nil
	}
	needUser := func() error {
		if p.Username == "" {
			return fmt.Errorf("%w: %s/%s needs a username", ErrUnsupportedTarget, sub.Type, sub.Subtype)
		}
		return nil
	}
	esc := url.PathEscape

	switch sub.Type {
	case models.ColumnTypeActivity:
		switch sub.Subtype {
		case models.SubtypePublicEvents:
			return "/events", query, nil
		case models.SubtypeRepoEvents:
			return fmt.Sprintf("/repos/%s/%s/events", esc(owner), esc(repo)), query, needRepo()
		case models.SubtypeRepoNetworkEvents:
			return fmt.Sprintf("/networks/%s/%s/events", esc(owner), esc(repo)), query, needRepo()
		case models.SubtypeOrgPublicEvents:
			if p.Org == "" {
				return "", nil, fmt.Errorf("%w: %s needs an org", ErrUnsupportedTarget, sub.Subtype)
			}
			return fmt.Sprintf("/orgs/%s/events", esc(p.Org)), query, nil
		case models.SubtypeUserEvents:
			return fmt.Sprintf("/users/%s/events", esc(p.Username)), query, needUser()
		case models.SubtypeUserPublicEvents:
			return fmt.Sprintf("/users/%s/events/public", esc(p.Username)), query, needUser()
		case models.SubtypeUserReceivedEvents:
			return fmt.Sprintf("/users/%s/received_events", esc(p.Username)), query, needUser()
		case models.SubtypeUserReceivedPublicEvents:
			return fmt.Sprintf("/users/%s/received_events/public", esc(p.Username)), query, needUser()
		}

	case models.ColumnTypeIssueOrPR:
		switch sub.Subtype {
		case models.SubtypeIssues, models.SubtypePullRequests, models.SubtypeIssuesAndPullRequests:
			query.Set("state", "all")
			return fmt.Sprintf("/repos/%s/%s/issues", esc(owner), esc(repo)), query, needRepo()
		}

	case models.ColumnTypeNotifications:
		if p.All {
			query.Set("all", "true")
		}
		switch sub.Subtype {
		case models.SubtypeAllNotifications:
			return "/notifications", query, nil
		case models.SubtypeParticipatingNotifications:
			query.Set("participating", "true")
			return "/notifications", query, nil
		case models.SubtypeRepoNotifications:
			return fmt.Sprintf("/repos/%s/%s/notifications", esc(owner), esc(repo)), query, needRepo()
		}
	}
	return "", nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedTarget, sub.Type, sub.Subtype)
}
