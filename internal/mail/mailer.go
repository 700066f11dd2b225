package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portal-auth/internal/client"
	"portal-auth/internal/models"
	"portal-auth/internal/util"
)

var ErrInvalidRequest = errors.New("invalid mail request")

// Mailer is the mail collaborator invoked by the auth engine. Exactly one
// option flag is expected per request; validation happens before any
// dispatch attempt.
type Mailer interface {
	Send(ctx context.Context, req *models.MailRequest) error
}

// SESMailer renders the template selected by the request options and
// dispatches it through AWS SES.
type SESMailer struct {
	ses    *client.SESClient
	logger *zap.Logger
}

func NewSESMailer(ses *client.SESClient, logger *zap.Logger) *SESMailer {
	return &SESMailer{ses: ses, logger: logger}
}

func (m *SESMailer) Send(ctx context.Context, req *models.MailRequest) error {
	subject, body, err := render(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.ses.SendHTML(ctx, req.Recipient, subject, body); err != nil {
		m.logger.Error("Mail dispatch failed",
			util.String("recipient", req.Recipient),
			util.ErrorField(err))
		return err
	}
	return nil
}

func render(req *models.MailRequest) (subject, body string, err error) {
	if err := req.Validate(); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var name string
	switch {
	case req.Options.OTP:
		name = "otp"
		subject = fmt.Sprintf("Data Portal - OTP - %s", req.Context.OTPCode)
	case req.Options.Waitlist:
		name = "waitlist"
		subject = "Data Portal - Welcome to the Data Portal"
	case req.Options.Confirmation:
		name = "confirmation"
		subject = "Data Portal - Activation Email"
		if req.Context.DashboardURL == "" {
			req.Context.DashboardURL = "https://portal.example.com/"
		}
	case req.Options.TNC:
		name = "tnc"
		subject = "Data Portal - Terms and Conditions"
	case req.Options.Invoice:
		name = "invoice"
		subject = "Data Portal - Invoice"
	default:
		return "", "", fmt.Errorf("%w: no mail option selected", ErrInvalidRequest)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, req.Context); err != nil {
		return "", "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return subject, buf.String(), nil
}

// LogMailer is the development stand-in: it validates and renders the
// request the same way, then logs instead of dispatching.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, req *models.MailRequest) error {
	subject, _, err := render(req)
	if err != nil {
		return err
	}
	m.logger.Info("Mail dispatch skipped (mail disabled)",
		util.String("recipient", req.Recipient),
		util.String("subject", subject),
	)
	return nil
}
