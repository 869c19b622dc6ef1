package services

import (
	"crypto/tls"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/pkg/logger"
)

// Mailer sends transactional mail. Delivery is best effort and never part of a transaction.
type Mailer interface {
	SendInvite(email string, inviteID uint, projectName, inviterName string) error
	SendPasswordReset(email, token string) error
}

type EmailService struct {
	config  config.SMTPConfig
	baseURL string
}

// NewEmailService creates a mailer; baseURL prefixes the links in outgoing mail.
func NewEmailService(cfg config.SMTPConfig, baseURL string) *EmailService {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailService{config: cfg, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *EmailService) IsEnabled() bool {
	return s.config.Enabled && s.config.Host != ""
}

func (s *EmailService) SendInvite(email string, inviteID uint, projectName, inviterName string) error {
	if !s.IsEnabled() {
		return nil
	}

	subject := fmt.Sprintf("[TaskHub] %s invited you to %s", inviterName, projectName)
	link := fmt.Sprintf("%s/invites/%d", s.baseURL, inviteID)

	var sb strings.Builder
	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString(fmt.Sprintf("<h2>You have been invited to %s</h2>", html.EscapeString(projectName)))
	sb.WriteString(fmt.Sprintf("<p>%s invited you to join the project on TaskHub.</p>", html.EscapeString(inviterName)))
	sb.WriteString(fmt.Sprintf("<p><a href=\"%s\">Open the invitation</a></p>", link))
	sb.WriteString("<hr><p style=\"color: #888; font-size: 12px;\">Sent by TaskHub</p>")
	sb.WriteString("</body></html>")

	return s.sendEmail([]string{email}, subject, sb.String())
}

func (s *EmailService) SendPasswordReset(email, token string) error {
	if !s.IsEnabled() {
		return nil
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)

	var sb strings.Builder
	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString("<h2>Reset your password</h2>")
	sb.WriteString(fmt.Sprintf("<p><a href=\"%s\">Choose a new password</a></p>", link))
	sb.WriteString("<p>If you did not ask for this, ignore this mail.</p>")
	sb.WriteString("</body></html>")

	return s.sendEmail([]string{email}, "[TaskHub] Password reset", sb.String())
}

func (s *EmailService) sendEmail(to []string, subject, body string) error {
	from := s.config.From
	if from == "" {
		from = s.config.Username
	}
	fromHeader := from
	if s.config.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", s.config.FromName, from)
	}

	headers := [][2]string{
		{"From", fromHeader},
		{"To", strings.Join(to, ",")},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}

	var message strings.Builder
	for _, h := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	var err error
	if s.config.UseTLS {
		err = s.sendEmailTLS(addr, auth, from, to, message.String())
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message.String()))
	}

	if err != nil {
		logger.Warn().Err(err).Strs("to", to).Msg("[Email] send failed")
		return err
	}

	logger.Infof("[Email] Sent %q to %v", subject, to)
	return nil
}

func (s *EmailService) sendEmailTLS(addr string, auth smtp.Auth, from string, to []string, message string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	if _, err = w.Write([]byte(message)); err != nil {
		return err
	}

	return w.Close()
}
