// Package email delivers verification and password-reset mail over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured reports whether the service can actually deliver mail.
// Unconfigured callers are expected to fall back to returning tokens
// directly to the client.
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendVerificationEmail mails the account-confirmation link.
func (s *Service) SendVerificationEmail(to, userName, verifyURL string) error {
	html, err := renderMail(verifyTemplate, mailData{UserName: userName, ActionURL: verifyURL})
	if err != nil {
		return fmt.Errorf("render verification mail: %w", err)
	}
	return s.sendHTML([]string{to}, "Verify your Afkar account", html)
}

// SendPasswordResetEmail mails the password-reset link.
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	html, err := renderMail(resetTemplate, mailData{UserName: userName, ActionURL: resetURL})
	if err != nil {
		return fmt.Errorf("render reset mail: %w", err)
	}
	return s.sendHTML([]string{to}, "Reset your Afkar password", html)
}

func (s *Service) sendHTML(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	const boundary = "afkar-mail-boundary"
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "Please view this message in an HTML-capable mail client.\r\n\r\n")

	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "%s\r\n\r\n--%s--\r\n", htmlBody, boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type mailData struct {
	UserName  string
	ActionURL string
}

func renderMail(tmpl *template.Template, data mailData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var verifyTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2>Welcome to Afkar</h2>
  <p>Hi {{.UserName}},</p>
  <p>Confirm your email address to finish creating your account:</p>
  <p><a href="{{.ActionURL}}" style="display:inline-block;padding:12px 24px;background:#4f46e5;color:#fff;text-decoration:none;border-radius:4px;">Verify email</a></p>
  <p>If the button does not work, open this link:<br><a href="{{.ActionURL}}">{{.ActionURL}}</a></p>
  <p style="color:#666;font-size:12px;">If you did not sign up for Afkar, you can ignore this message.</p>
</body>
</html>`))

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2>Password reset</h2>
  <p>Hi {{.UserName}},</p>
  <p>We received a request to reset your Afkar password. The link below expires in one hour:</p>
  <p><a href="{{.ActionURL}}" style="display:inline-block;padding:12px 24px;background:#4f46e5;color:#fff;text-decoration:none;border-radius:4px;">Choose a new password</a></p>
  <p>If the button does not work, open this link:<br><a href="{{.ActionURL}}">{{.ActionURL}}</a></p>
  <p style="color:#666;font-size:12px;">If you did not request a reset, your password is unchanged.</p>
</body>
</html>`))
