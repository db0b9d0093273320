package mailer

import (
	"net/url"
	"time"
)

// EmailJob is the JSON payload put on the RabbitMQ queue for sending email.
// Rendering and delivery belong to the worker that consumes the queue.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

const (
	TemplatePasswordReset     = "password_reset"
	TemplateEmailConfirmation = "email_confirmation"
)

// Links builds the front-end URLs that carry one-time tokens.
type Links struct {
	AppName          string
	ResetPasswordURL string
	VerifyEmailURL   string
}

// PasswordReset builds the job for a reset link valid for ttl.
func (l Links) PasswordReset(email, name, token string, ttl time.Duration) EmailJob {
	return EmailJob{
		To:       email,
		Subject:  l.AppName + ": reset your password",
		Template: TemplatePasswordReset,
		Data: map[string]any{
			"Name":      name,
			"Email":     email,
			"ResetURL":  withParams(l.ResetPasswordURL, email, token),
			"ExpiresIn": ttl.String(),
			"AppName":   l.AppName,
			"IssuedAt":  time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// EmailConfirmation builds the job for a confirmation link valid for ttl.
func (l Links) EmailConfirmation(email, name, token string, ttl time.Duration) EmailJob {
	return EmailJob{
		To:       email,
		Subject:  l.AppName + ": confirm your email address",
		Template: TemplateEmailConfirmation,
		Data: map[string]any{
			"Name":      name,
			"Email":     email,
			"VerifyURL": withParams(l.VerifyEmailURL, email, token),
			"ExpiresIn": ttl.String(),
			"AppName":   l.AppName,
			"IssuedAt":  time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func withParams(base, email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	sep := "?"
	if u, err := url.Parse(base); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return base + sep + q.Encode()
}
