package models

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"time"
)

type LoadState string

const (
	LoadStateNotLoaded    LoadState = "not_loaded"
	LoadStateLoadingFirst LoadState = "loading_first"
	LoadStateLoading      LoadState = "loading"
	LoadStateLoadingMore  LoadState = "loading_more"
	LoadStateLoaded       LoadState = "loaded"
	LoadStateError        LoadState = "error"
)

// IsLoading reports whether a fetch is in flight.
func (ls LoadState) IsLoading() bool {
	switch ls {
	case LoadStateLoadingFirst, LoadStateLoading, LoadStateLoadingMore:
		return true
	}
	return false
}

type ColumnType string

const (
	ColumnTypeActivity      ColumnType = "activity"
	ColumnTypeIssueOrPR     ColumnType = "issue_or_pr"
	ColumnTypeNotifications ColumnType = "notifications"
)

func (ct ColumnType) Valid() bool {
	switch ct {
	case ColumnTypeActivity, ColumnTypeIssueOrPR, ColumnTypeNotifications:
		return true
	}
	return false
}

// ErrorReport is a structured, non-fatal error destined for error tracking.
type ErrorReport struct {
	Name       string
	Message    string
	Context    map[string]any
	OccurredAt time.Time
}

func DigestContent(content string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(content)))
}

// DigestJSON digests the JSON encoding of v; struct encoding is field-ordered
// and map keys are sorted, so equal values share a digest.
func DigestJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return DigestContent(string(b))
}
