package senders

import (
	"context"
	"time"

	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/senders/email"
	"github.com/mailgun/mailgun-go/v4"
)

type mailgunSender struct {
	base
}

func (e *mailgunSender) SendReport(ctx context.Context, report *models.ErrorReport) (string, error) {
	format := &email.ReportEmailFormat{Report: report}
	return e.send(ctx, format.Subject(), format.Body(), e.cfg.Mailgun.Recipient)
}

func (e *mailgunSender) send(ctx context.Context, subject, body, recipient string) (string, error) {
	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.Client().Transport = e.transport

	// Empty text body; SetHtml assigns the MIME type.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, subject, "", recipient)
	message.SetHtml(body)

	timeout := time.Duration(e.cfg.Mailgun.TimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, id, err := mg.Send(ctx, message)
	if err != nil {
		e.log.Sugar().Infow("Failed to send report", "err", err)
	}
	return id, err
}
