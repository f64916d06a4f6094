// Package email delivers verification and password-reset mail via
// SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration. An empty Host disables delivery.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service sends the two transactional mails the site needs.
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

// IsConfigured returns true if email is configured.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) send(to, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		to,
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, []string{to}, msg)
}

// SendVerification mails the email-confirmation link.
func (s *Service) SendVerification(to, name, link string) error {
	greeting := "Hi"
	if strings.TrimSpace(name) != "" {
		greeting = "Hi " + strings.TrimSpace(name)
	}
	body := fmt.Sprintf(
		"%s,\n\n"+
			"Welcome to Verse. Confirm your email address to start publishing:\n\n"+
			"%s\n\n"+
			"The link expires in 24 hours. If you did not create this account, ignore this message.\n",
		greeting, link)
	return s.send(to, "Confirm your Verse email", body)
}

// SendPasswordReset mails the reset link.
func (s *Service) SendPasswordReset(to, link string) error {
	body := fmt.Sprintf(
		"Hi,\n\n"+
			"A password reset was requested for your Verse account. Set a new password here:\n\n"+
			"%s\n\n"+
			"The link expires in one hour. If you did not request this, ignore this message.\n",
		link)
	return s.send(to, "Reset your Verse password", body)
}
