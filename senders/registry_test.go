package senders

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/fiffu/hubdeck/config"
	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/senders/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

type fakeSender struct {
	err     error
	reports []*models.ErrorReport
}

func (f *fakeSender) SendReport(ctx context.Context, report *models.ErrorReport) (string, error) {
	f.reports = append(f.reports, report)
	return "id", f.err
}

func report() *models.ErrorReport {
	return &models.ErrorReport{
		Name:       "InvalidColumnType",
		Message:    "Invalid column type",
		Context:    map[string]any{"type": "starred"},
		OccurredAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewSenderRegistry_EmailNeedsMailgun(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	log := zaptest.NewLogger(t)

	cfg := &config.Config{}
	registry := NewSenderRegistry(lc, log, cfg, http.DefaultTransport)
	assert.Contains(t, registry, "log")
	assert.NotContains(t, registry, "email")

	cfg.Mailgun.Domain = "mg.example.com"
	cfg.Mailgun.Recipient = "ops@example.com"
	registry = NewSenderRegistry(lc, log, cfg, http.DefaultTransport)
	assert.Contains(t, registry, "email")
}

func TestRegistry_NotifyReachesEverySenderAndJoinsErrors(t *testing.T) {
	ok := &fakeSender{}
	broken := &fakeSender{err: errors.New("smtp down")}
	registry := Registry{"ok": ok, "broken": broken}

	err := registry.Notify(context.Background(), report())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: smtp down")
	assert.Len(t, ok.reports, 1)
	assert.Len(t, broken.reports, 1)
}

func TestLogSender(t *testing.T) {
	s := &logSender{base{log: zaptest.NewLogger(t)}}
	_, err := s.SendReport(context.Background(), report())
	assert.NoError(t, err)
}

func TestReportEmailFormat(t *testing.T) {
	ef := &email.ReportEmailFormat{Report: report()}

	assert.Equal(t, "hubdeck: InvalidColumnType", ef.Subject())
	body := ef.Body()
	assert.Contains(t, body, "Invalid column type")
	assert.Contains(t, body, "starred")
	assert.Contains(t, body, "2026-10-01T12:00:00Z")
}
