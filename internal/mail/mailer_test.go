package mail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"portal-auth/internal/models"
)

func TestRenderOTP(t *testing.T) {
	subject, body, err := render(&models.MailRequest{
		Recipient: "alice@example.com",
		Options:   models.MailOptions{OTP: true},
		Context:   models.MailContext{OTPCode: "123456"},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if subject != "Data Portal - OTP - 123456" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "123456") {
		t.Fatal("body must contain the code")
	}
}

func TestRenderOTPWithoutCode(t *testing.T) {
	_, _, err := render(&models.MailRequest{
		Recipient: "alice@example.com",
		Options:   models.MailOptions{OTP: true},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRenderNoOptionSelected(t *testing.T) {
	_, _, err := render(&models.MailRequest{Recipient: "alice@example.com"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRenderMissingRecipient(t *testing.T) {
	_, _, err := render(&models.MailRequest{
		Options: models.MailOptions{OTP: true},
		Context: models.MailContext{OTPCode: "123456"},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRenderConfirmationDefaultsDashboard(t *testing.T) {
	_, body, err := render(&models.MailRequest{
		Recipient: "alice@example.com",
		Options:   models.MailOptions{Confirmation: true},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(body, "https://portal.example.com/") {
		t.Fatal("expected the default dashboard URL in the body")
	}
}

func TestRenderTNCRequiresLocation(t *testing.T) {
	_, _, err := render(&models.MailRequest{
		Recipient: "alice@example.com",
		Options:   models.MailOptions{TNC: true},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	_, body, err := render(&models.MailRequest{
		Recipient: "alice@example.com",
		Options:   models.MailOptions{TNC: true},
		Context:   models.MailContext{TNCLocation: "https://portal.example.com/tnc.pdf"},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(body, "tnc.pdf") {
		t.Fatal("expected the document location in the body")
	}
}

func TestLogMailerValidates(t *testing.T) {
	mailer := NewLogMailer(zap.NewNop())

	err := mailer.Send(context.Background(), &models.MailRequest{
		Recipient: "alice@example.com",
		Options:   models.MailOptions{Invoice: true},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	err = mailer.Send(context.Background(), &models.MailRequest{
		Recipient: "alice@example.com",
		Options:   models.MailOptions{Invoice: true},
		Context:   models.MailContext{InvoiceLocation: "https://portal.example.com/invoice.pdf"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}
