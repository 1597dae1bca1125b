// Package notify delivers run summaries to an administrator.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lms-course-sync/internal/domain"
)

var ErrNoRecipient = errors.New("notify: no recipient")

type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Send(_ context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return ErrNoRecipient
	}
	n.Log.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("notification")
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	// RequireTLS fails the send when the server does not offer STARTTLS.
	RequireTLS bool
	Timeout    time.Duration
}

type SMTPNotifier struct {
	cfg SMTPConfig
	now func() time.Time
}

func NewSMTP(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("notify: smtp host and from address are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPNotifier{cfg: cfg, now: time.Now}, nil
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return ErrNoRecipient
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	d := net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(n.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	} else if n.cfg.RequireTLS {
		return errors.New("notify: server does not support STARTTLS")
	}

	if n.cfg.User != "" {
		auth := smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("notify: auth: %w", err)
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("notify: rcpt %s: %w", to, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := w.Write(n.message(to, subject, body)); err != nil {
		w.Close()
		return fmt.Errorf("notify: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: close data: %w", err)
	}
	return c.Quit()
}

func (n *SMTPNotifier) message(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

// Summary renders the notification for a scheduled import run. Each
// imported course is listed with a link when siteURL is set.
func Summary(sum domain.SyncSummary, siteURL string, at time.Time) (subject, body string) {
	subject = fmt.Sprintf("Course sync: %d new course(s) imported", sum.Imported)

	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled course sync finished at %s.\n\n", at.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Imported: %d\nSkipped: %d\nErrors: %d\nTotal: %d\n", sum.Imported, sum.Skipped, sum.Errors, sum.Total)

	if len(sum.Courses) > 0 {
		b.WriteString("\nNew courses (saved as drafts):\n")
		base := strings.TrimRight(siteURL, "/")
		for _, c := range sum.Courses {
			if base != "" && c.Slug != "" {
				fmt.Fprintf(&b, "- %s: %s/courses/%s\n", c.Title, base, c.Slug)
			} else {
				fmt.Fprintf(&b, "- %s\n", c.Title)
			}
		}
	}
	if sum.RunID != "" {
		fmt.Fprintf(&b, "\nRun: %s\n", sum.RunID)
	}
	return subject, b.String()
}
