package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"

	"github.com/Veraticus/mailtally/internal/model"
)

const imapFetchBatch = 50

// IMAPConfig configures an IMAP mailbox.
type IMAPConfig struct {
	// TokenSource enables OAUTHBEARER instead of password login.
	TokenSource oauth2.TokenSource
	Host        string
	Username    string
	Password    string
	Mailbox     string
	// TLSConfig overrides the default config that verifies Host.
	TLSConfig   *tls.Config
	Port        int
	DialTimeout time.Duration
}

// IMAPSource reads messages over IMAP with implicit TLS.
type IMAPSource struct {
	logger    *slog.Logger
	cfg       IMAPConfig
	batchSize int
}

// NewIMAPSource validates cfg and returns a source. No connection is made until Fetch.
func NewIMAPSource(cfg IMAPConfig, logger *slog.Logger) (*IMAPSource, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, errors.New("imap host and username are required")
	}
	if cfg.Password == "" && cfg.TokenSource == nil {
		return nil, errors.New("imap password or oauth token is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IMAPSource{cfg: cfg, logger: logger, batchSize: imapFetchBatch}, nil
}

// Fetch searches the mailbox for messages in r, fetches them in small
// batches and yields them oldest first. UIDs follow delivery order rather than
// the Date header, so the whole result is sorted before the first yield.
// The connection is closed as soon as ctx ends, which fails any command
// still waiting on the server.
func (s *IMAPSource) Fetch(ctx context.Context, r model.DateRange) iter.Seq2[model.RawMessage, error] {
	return func(yield func(model.RawMessage, error) bool) {
		msgs, err := s.fetchRange(ctx, r)
		if err != nil {
			yield(model.RawMessage{}, unavailable(err))
			return
		}
		for _, msg := range msgs {
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (s *IMAPSource) fetchRange(ctx context.Context, r model.DateRange) ([]model.RawMessage, error) {
	c, stop, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if stop() {
			if err := c.Logout(); err != nil {
				s.logger.Debug("IMAP logout failed", "error", err)
			}
		}
	}()

	criteria := imap.NewSearchCriteria()
	criteria.Since = r.Start
	criteria.Before = r.ExclusiveEnd()
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, canceledOr(ctx, fmt.Errorf("imap search: %w", err))
	}
	slices.Sort(uids)

	var out []model.RawMessage
	for batch := range slices.Chunk(uids, s.batchSize) {
		msgs, err := s.fetchBatch(c, batch)
		if err != nil {
			return nil, canceledOr(ctx, err)
		}
		for _, msg := range msgs {
			if r.Contains(msg.ReceivedAt) {
				out = append(out, msg)
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	slices.SortStableFunc(out, func(a, b model.RawMessage) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	return out, nil
}

// canceledOr reports ctx's error in place of the I/O error its cancellation caused.
func canceledOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// connect dials, logs in and selects the mailbox. The returned stop detaches
// the ctx watcher; it reports false when ctx already closed the connection.
func (s *IMAPSource) connect(ctx context.Context) (*client.Client, func() bool, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := s.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: s.cfg.DialTimeout}, Config: tlsConfig}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, canceledOr(ctx, fmt.Errorf("imap dial %s: %w", addr, err))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	fail := func(err error) (*client.Client, func() bool, error) {
		stop()
		_ = conn.Close()
		return nil, nil, canceledOr(ctx, err)
	}

	c, err := client.New(conn)
	if err != nil {
		return fail(fmt.Errorf("imap greeting: %w", err))
	}

	if s.cfg.TokenSource != nil {
		token, tokenErr := s.cfg.TokenSource.Token()
		if tokenErr != nil {
			return fail(fmt.Errorf("imap oauth token: %w", tokenErr))
		}
		err = c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: s.cfg.Username,
			Host:     s.cfg.Host,
			Port:     s.cfg.Port,
			Token:    token.AccessToken,
		}))
	} else {
		err = c.Login(s.cfg.Username, s.cfg.Password)
	}
	if err != nil {
		return fail(fmt.Errorf("imap login: %w", err))
	}

	if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
		return fail(fmt.Errorf("imap select %s: %w", s.cfg.Mailbox, err))
	}
	return c, stop, nil
}

func (s *IMAPSource) fetchBatch(c *client.Client, uids []uint32) ([]model.RawMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []model.RawMessage
	for m := range messages {
		body := m.GetBody(section)
		if body == nil {
			s.logger.Warn("IMAP server returned no body", "uid", m.Uid)
			continue
		}
		msg, err := ParseMessage(body, fmt.Sprintf("imap-%d", m.Uid), m.InternalDate)
		if err != nil {
			s.logger.Warn("Skipping unparseable message", "uid", m.Uid, "error", err)
			continue
		}
		out = append(out, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}
