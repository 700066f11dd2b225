package models

import "errors"

var ErrMailContextMissing = errors.New("mail option enabled without its required context")

// MailOptions selects the template to render. Exactly one option is expected
// to be set per request.
type MailOptions struct {
	OTP          bool `json:"otp"`
	TNC          bool `json:"tnc"`
	Waitlist     bool `json:"waitlist"`
	Confirmation bool `json:"confirmation"`
	Invoice      bool `json:"invoice"`
}

// MailContext carries the template inputs for whichever option is set.
type MailContext struct {
	OTPCode             string `json:"otp_code,omitempty"`
	TNCLocation         string `json:"tnc_location,omitempty"`
	InvoiceLocation     string `json:"invoice_location,omitempty"`
	RegistrationDetails string `json:"registration_details,omitempty"`
	DashboardURL        string `json:"dashboard_url,omitempty"`
}

// MailRequest is the structured payload handed to the mail collaborator.
type MailRequest struct {
	Recipient string      `json:"recipient"`
	Options   MailOptions `json:"options"`
	Context   MailContext `json:"context"`
}

// Validate fails before any dispatch attempt when an enabled option is
// missing its required context field.
func (m *MailRequest) Validate() error {
	if m.Recipient == "" {
		return errors.New("mail recipient is required")
	}
	if m.Options.OTP && m.Context.OTPCode == "" {
		return ErrMailContextMissing
	}
	if m.Options.TNC && m.Context.TNCLocation == "" {
		return ErrMailContextMissing
	}
	if m.Options.Invoice && m.Context.InvoiceLocation == "" {
		return ErrMailContextMissing
	}
	return nil
}
