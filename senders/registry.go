// Package senders delivers error reports to the configured trackers.
package senders

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fiffu/hubdeck/config"
	"github.com/fiffu/hubdeck/lib/models"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Sender interface {
	SendReport(ctx context.Context, report *models.ErrorReport) (string, error)
}

type Registry map[string]Sender

func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	registry := Registry{
		"log": &logSender{base},
	}
	if cfg.Mailgun.Domain != "" && cfg.Mailgun.Recipient != "" {
		registry["email"] = &mailgunSender{base}
	} else {
		log.Sugar().Info("Email reports are disabled since no Mailgun domain or recipient is defined")
	}
	return registry
}

// Notify fans the report out to every sender.
func (r Registry) Notify(ctx context.Context, report *models.ErrorReport) error {
	var errs []error
	for name, sender := range r {
		if _, err := sender.SendReport(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}

type logSender struct {
	base
}

func (s *logSender) SendReport(ctx context.Context, report *models.ErrorReport) (string, error) {
	args := []any{"name", report.Name, "occurred_at", report.OccurredAt}
	for k, v := range report.Context {
		args = append(args, k, v)
	}
	s.log.Sugar().Errorw(report.Message, args...)
	return "", nil
}
