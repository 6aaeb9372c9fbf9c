// Package mail はサインイン用リンクのメール送信を提供する。
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// Config はSMTP送信の設定。
type Config struct {
	Host     string // 例: smtp.sendgrid.net
	Port     int    // 587 (STARTTLS)
	Username string
	Password string
	From     string
}

// sendFunc はsmtp.SendMailと同じシグネチャ。テストで差し替える。
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer はSMTPでメールを送信する。
// smtp.SendMailはサーバーが対応していればSTARTTLSに昇格する。
type SMTPMailer struct {
	config Config
	send   sendFunc
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(config Config) *SMTPMailer {
	return &SMTPMailer{config: config, send: smtp.SendMail}
}

var linkTemplate = template.Must(template.New("link").Parse(
	`<p>Sign in to your account</p>` +
		`<p><a href="{{.Link}}">Sign in</a></p>` +
		`<p>If you did not request this email you can safely ignore it.</p>`,
))

// SendVerificationLink はサインイン用リンクを送信する。
func (m *SMTPMailer) SendVerificationLink(ctx context.Context, to, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}

	msg, err := buildMessage(m.config.From, to, "Sign in to your account", link)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := m.send(addr, auth, m.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

func buildMessage(from, to, subject, link string) ([]byte, error) {
	var body bytes.Buffer
	if err := linkTemplate.Execute(&body, struct{ Link string }{Link: link}); err != nil {
		return nil, fmt.Errorf("failed to render mail body: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// LogMailer はメールを送らず、リンクをログに出力する。ローカル開発用。
type LogMailer struct{}

// SendVerificationLink はリンクをログに出力する。
func (LogMailer) SendVerificationLink(_ context.Context, to, link string) error {
	slog.Info("verification link (not sent)",
		slog.String("to", to),
		slog.String("link", link),
	)
	return nil
}
