package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/mailtally/internal/model"
)

// Notifier sends a finished daily summary somewhere a human will read it.
type Notifier interface {
	Send(ctx context.Context, summary *model.DailySummary) error
}

// ErrNoRecipients is returned when a notifier has nobody to send to.
var ErrNoRecipients = errors.New("no notification recipients configured")

// SMTPConfig configures SMTP delivery.
type SMTPConfig struct {
	Host     string
	Username string
	Password string
	From     string
	To       []string
	Port     int
}

// SMTPNotifier delivers summaries over SMTP with STARTTLS and PLAIN auth.
type SMTPNotifier struct {
	now  func() time.Time
	send func(addr string, a sasl.Client, from string, to []string, msg []byte) error
	cfg  SMTPConfig
}

// NewSMTPNotifier validates cfg and returns a notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if len(cfg.To) == 0 {
		return nil, ErrNoRecipients
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPNotifier{cfg: cfg, now: time.Now, send: sendMail}, nil
}

// Send delivers the summary.
func (n *SMTPNotifier) Send(_ context.Context, summary *model.DailySummary) error {
	var buf bytes.Buffer
	if err := BuildMessage(&buf, n.cfg.From, n.cfg.To, summary, n.now()); err != nil {
		return err
	}

	var auth sasl.Client
	if n.cfg.Username != "" {
		auth = sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, auth, n.cfg.From, n.cfg.To, buf.Bytes()); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return nil
}

func sendMail(addr string, a sasl.Client, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, a, from, to, bytes.NewReader(msg))
}

// GmailNotifier sends summaries from the authorized Gmail account.
type GmailNotifier struct {
	svc  *gmail.Service
	now  func() time.Time
	from string
	to   []string
}

// NewGmailNotifier creates a notifier using the Gmail API.
func NewGmailNotifier(ctx context.Context, ts oauth2.TokenSource, from string, to []string, opts ...option.ClientOption) (*GmailNotifier, error) {
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	if ts != nil {
		opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail client: %w", err)
	}
	if from == "" {
		from = "me"
	}
	return &GmailNotifier{svc: svc, from: from, to: to, now: time.Now}, nil
}

// Send delivers the summary.
func (n *GmailNotifier) Send(ctx context.Context, summary *model.DailySummary) error {
	var buf bytes.Buffer
	if err := BuildMessage(&buf, n.from, n.to, summary, n.now()); err != nil {
		return err
	}

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(buf.Bytes())}
	if _, err := n.svc.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}
