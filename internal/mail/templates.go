package mail

import "html/template"

const otpTemplate = `
<html>
  <body style="font-family: Arial, sans-serif;">
    <h2>Data Portal Sign-in Code</h2>
    <p>Use the one-time password below to complete your sign-in. It expires in 5 minutes.</p>
    <p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.OTPCode}}</p>
    <p>If you did not request this code, you can safely ignore this email.</p>
  </body>
</html>`

const waitlistTemplate = `
<html>
  <body style="font-family: Arial, sans-serif;">
    <h2>Welcome to the Data Portal</h2>
    <p>Thanks for your interest. You are on the waitlist and we will reach out as soon as access opens up.</p>
  </body>
</html>`

const confirmationTemplate = `
<html>
  <body style="font-family: Arial, sans-serif;">
    <h2>Your account is active</h2>
    <p>Your Data Portal account has been activated.</p>
    <p><a href="{{.DashboardURL}}">Open your dashboard</a></p>
  </body>
</html>`

const tncTemplate = `
<html>
  <body style="font-family: Arial, sans-serif;">
    <h2>Terms and Conditions</h2>
    <p>Please review the current <a href="{{.TNCLocation}}">terms and conditions</a>.</p>
  </body>
</html>`

const invoiceTemplate = `
<html>
  <body style="font-family: Arial, sans-serif;">
    <h2>Your Invoice</h2>
    <p>Your invoice is ready. <a href="{{.InvoiceLocation}}">Download it here</a>.</p>
  </body>
</html>`

var templates = template.Must(template.New("otp").Parse(otpTemplate))

func init() {
	template.Must(templates.New("waitlist").Parse(waitlistTemplate))
	template.Must(templates.New("confirmation").Parse(confirmationTemplate))
	template.Must(templates.New("tnc").Parse(tncTemplate))
	template.Must(templates.New("invoice").Parse(invoiceTemplate))
}
