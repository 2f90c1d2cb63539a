package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
)

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func ConfigFromEnv() Config {
	cfg := Config{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		From:     env.GetEnv("SMTP_SENDER", ""),
	}
	if cfg.From == "" {
		cfg.From = fmt.Sprintf("no-reply@%s", env.GetEnv("PUBLIC_DOMAIN", "localhost"))
	}
	return cfg
}

func (c Config) Configured() bool {
	return c.Host != ""
}

// SMTPMailer sends HTML emails via SMTP.
type SMTPMailer struct {
	cfg      Config
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, sendMail: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.cfg.Configured() {
		return fmt.Errorf("smtp is not configured")
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)

	err := m.sendMail(addr, auth, m.cfg.From, []string{to}, buildMessage(m.cfg.From, to, subject, body))
	if err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return err
	}
	log.Infof("[Mail] Email sent to %s via %s", to, addr)
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	// header injection guard
	subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
}

// LogSender only logs. Used when SMTP is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, subject, body string) error {
	log.Infof("[Mail] (not sent) to=%s subject=%q", to, subject)
	return nil
}
