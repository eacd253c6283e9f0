// Package email provides reminder delivery via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/gely25/cronograma/internal/notifications"
	"golang.org/x/time/rate"
)

// Config holds SMTP transport configuration.
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	FromAddress   string
	UseSSL        bool // implicit TLS, conventionally port 465
	DialTimeout   time.Duration
	RatePerSecond float64 // outgoing message rate limit, 0 disables
}

// Transport implements notifications.Transport over SMTP. One Open yields
// one authenticated connection that serves a whole batch of messages.
type Transport struct {
	config  Config
	auth    smtp.Auth
	limiter *rate.Limiter
}

// NewTransport creates an SMTP transport.
// Returns an error if required config is missing.
func NewTransport(config Config) (*Transport, error) {
	if config.Host == "" {
		return nil, errors.New("email transport: SMTP host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email transport: from address is required")
	}

	if config.Port == 0 {
		config.Port = 587
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}

	slog.Info("email transport configured",
		"smtp_host", config.Host,
		"smtp_port", config.Port,
		"from_address", config.FromAddress,
		"use_ssl", config.UseSSL,
	)

	return &Transport{
		config:  config,
		auth:    auth,
		limiter: limiter,
	}, nil
}

// Open dials the SMTP server, negotiates TLS and authenticates.
func (t *Transport) Open(ctx context.Context) (notifications.Conn, error) {
	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	tlsConfig := &tls.Config{
		ServerName: t.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: t.config.DialTimeout}

	var (
		client *smtp.Client
		err    error
	)
	if t.config.UseSSL {
		// Implicit TLS from the first byte (port 465 convention).
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, dialErr := tlsDialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return nil, notifications.NewRetryableError(fmt.Errorf("dial smtps: %w", dialErr))
		}
		client, err = smtp.NewClient(conn, t.config.Host)
		if err != nil {
			_ = conn.Close()
			return nil, notifications.NewRetryableError(fmt.Errorf("create smtp client: %w", err))
		}
	} else {
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return nil, notifications.NewRetryableError(fmt.Errorf("dial smtp: %w", dialErr))
		}
		client, err = smtp.NewClient(conn, t.config.Host)
		if err != nil {
			_ = conn.Close()
			return nil, notifications.NewRetryableError(fmt.Errorf("create smtp client: %w", err))
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, notifications.NewRetryableError(fmt.Errorf("starttls: %w", err))
			}
		}
	}

	if t.auth != nil {
		if err := client.Auth(t.auth); err != nil {
			_ = client.Close()
			return nil, classify(fmt.Errorf("auth: %w", err))
		}
	}

	return &conn{
		client:  client,
		from:    extractEmail(t.config.FromAddress),
		header:  t.config.FromAddress,
		limiter: t.limiter,
	}, nil
}

type conn struct {
	client  *smtp.Client
	from    string
	header  string
	limiter *rate.Limiter
}

// Send delivers one message over the open connection. BCC recipients are
// best-effort: a rejected BCC address is logged and does not fail the send.
func (c *conn) Send(ctx context.Context, msg notifications.Message) error {
	if len(msg.To) == 0 {
		return notifications.NewPermanentError(errors.New("message has no recipients"))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return notifications.NewRetryableError(err)
	}

	if err := c.client.Mail(c.from); err != nil {
		return classify(fmt.Errorf("mail from: %w", err))
	}

	for _, rcpt := range msg.To {
		if err := c.client.Rcpt(rcpt); err != nil {
			return classify(fmt.Errorf("rcpt %s: %w", rcpt, err))
		}
	}
	for _, rcpt := range msg.BCC {
		if err := c.client.Rcpt(rcpt); err != nil {
			slog.Warn("failed to add bcc recipient", "recipient", rcpt, "error", err)
		}
	}

	w, err := c.client.Data()
	if err != nil {
		return classify(fmt.Errorf("data: %w", err))
	}

	payload, err := buildMessage(c.header, msg)
	if err != nil {
		_ = w.Close()
		return notifications.NewPermanentError(fmt.Errorf("build message: %w", err))
	}

	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return classify(fmt.Errorf("write message: %w", err))
	}
	if err := w.Close(); err != nil {
		return classify(fmt.Errorf("close data: %w", err))
	}

	return nil
}

// Close ends the SMTP session.
func (c *conn) Close() error {
	if err := c.client.Quit(); err != nil {
		return c.client.Close()
	}
	return nil
}

// buildMessage constructs a MIME message: multipart/related wrapping a
// multipart/alternative (text + HTML) plus any inline images.
func buildMessage(from string, msg notifications.Message) ([]byte, error) {
	var buf strings.Builder

	body := &strings.Builder{}
	related := multipart.NewWriter(body)

	// Headers in deterministic order
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/related; boundary=%q\r\n", related.Boundary()))
	buf.WriteString("\r\n")

	altBuf := &strings.Builder{}
	alt := multipart.NewWriter(altBuf)

	textPart, err := alt.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/plain; charset="utf-8"`},
	})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(msg.TextBody)); err != nil {
		return nil, err
	}

	htmlBody := msg.HTMLBody
	if htmlBody == "" {
		htmlBody = msg.TextBody
	}
	htmlPart, err := alt.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/html; charset="utf-8"`},
	})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(htmlBody)); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}

	altPart, err := related.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary())},
	})
	if err != nil {
		return nil, err
	}
	if _, err := altPart.Write([]byte(altBuf.String())); err != nil {
		return nil, err
	}

	for _, img := range msg.Inline {
		part, err := related.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("image/png; name=%q", img.Name)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-ID":                {fmt.Sprintf("<%s>", img.ContentID)},
			"Content-Disposition":       {fmt.Sprintf("inline; filename=%q", img.Name)},
		})
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(base64.StdEncoding.EncodeToString(img.Data))); err != nil {
			return nil, err
		}
	}

	if err := related.Close(); err != nil {
		return nil, err
	}

	buf.WriteString(body.String())
	return []byte(buf.String()), nil
}

// extractEmail extracts the address from formats like "Name <a@b.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// classify wraps an SMTP error with its retryability. Network errors and
// 4xx responses are transient; permanent rejections (5xx) are not.
func classify(err error) error {
	if isTransient(err) {
		return notifications.NewRetryableError(err)
	}
	return notifications.NewPermanentError(err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := err.Error()

	// SMTP 4xx codes are temporary failures
	if strings.Contains(errStr, "421") || // Service not available
		strings.Contains(errStr, "450") || // Mailbox unavailable
		strings.Contains(errStr, "451") || // Local error
		strings.Contains(errStr, "452") { // Insufficient storage
		return true
	}

	// 552 - Mailbox full is sometimes retryable
	if strings.Contains(errStr, "552") {
		return true
	}

	return false
}
