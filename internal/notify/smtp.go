package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/fetekit/fete-agent/internal/config"
)

const smtpDialTimeout = 30 * time.Second

// SendMail connects to the relay, authenticates, and delivers the
// message. Each call opens and closes its own connection. Port 465
// gets implicit TLS; anything else connects plain and upgrades with
// STARTTLS.
func SendMail(ctx context.Context, cfg config.SMTPConfig, from string, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	implicitTLS := cfg.Port == 465

	var client *smtp.Client
	if implicitTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if err != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	} else {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if !implicitTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(extractAddress(from)); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(extractAddress(rcpt)); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}

// extractAddress extracts the bare email address from a string that
// may be in "Name <addr>" or just "addr" format.
func extractAddress(s string) string {
	if idx := len(s) - 1; idx > 0 && s[idx] == '>' {
		for start := idx - 1; start >= 0; start-- {
			if s[start] == '<' {
				return s[start+1 : idx]
			}
		}
	}
	return s
}
