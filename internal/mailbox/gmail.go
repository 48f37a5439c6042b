package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/mailtally/internal/model"
)

const gmailUser = "me"

// GmailSource reads messages through the Gmail API.
type GmailSource struct {
	svc    *gmail.Service
	logger *slog.Logger
	label  string
}

// NewGmailSource creates a source authorized by ts. Extra options are passed
// to the API client.
func NewGmailSource(ctx context.Context, ts oauth2.TokenSource, label string, logger *slog.Logger, opts ...option.ClientOption) (*GmailSource, error) {
	if ts != nil {
		opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail client: %w", err)
	}
	if label == "" {
		label = "INBOX"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GmailSource{svc: svc, label: label, logger: logger}, nil
}

// gmailQuery builds a search covering r. Gmail's after/before are day granular
// and before is exclusive.
func gmailQuery(r model.DateRange) string {
	return fmt.Sprintf("after:%s before:%s",
		r.Start.AddDate(0, 0, -1).Format("2006/01/02"),
		r.ExclusiveEnd().AddDate(0, 0, 1).Format("2006/01/02"))
}

// Fetch lists matching message ids and then retrieves each message lazily.
// Gmail lists newest first; ids are reversed to yield oldest first.
func (g *GmailSource) Fetch(ctx context.Context, r model.DateRange) iter.Seq2[model.RawMessage, error] {
	return func(yield func(model.RawMessage, error) bool) {
		ids, err := g.list(ctx, r)
		if err != nil {
			yield(model.RawMessage{}, unavailable(err))
			return
		}

		for _, id := range ids {
			m, err := g.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
			if err != nil {
				yield(model.RawMessage{}, unavailable(fmt.Errorf("getting gmail message %s: %w", id, err)))
				return
			}

			msg := gmailMessage(m)
			if !r.Contains(msg.ReceivedAt) {
				g.logger.Debug("Skipping message outside range", "message_id", msg.MessageID, "received_at", msg.ReceivedAt)
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (g *GmailSource) list(ctx context.Context, r model.DateRange) ([]string, error) {
	var ids []string
	err := g.svc.Users.Messages.List(gmailUser).
		Q(gmailQuery(r)).
		LabelIds(g.label).
		Pages(ctx, func(page *gmail.ListMessagesResponse) error {
			for _, m := range page.Messages {
				ids = append(ids, m.Id)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing gmail messages: %w", err)
	}
	slices.Reverse(ids)
	return ids, nil
}

func gmailMessage(m *gmail.Message) model.RawMessage {
	msg := model.RawMessage{
		MessageID:  m.Id,
		ReceivedAt: time.UnixMilli(m.InternalDate).UTC(),
	}
	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = DecodeHeader(h.Value)
		case "from":
			msg.Sender = senderAddress(DecodeHeader(h.Value))
		case "message-id":
			if v := strings.Trim(strings.TrimSpace(h.Value), "<>"); v != "" {
				msg.MessageID = v
			}
		}
	}

	var plain, rich string
	walkParts(m.Payload, func(p *gmail.MessagePart) {
		if p.Body == nil || p.Body.Data == "" {
			return
		}
		switch p.MimeType {
		case "text/plain":
			if plain == "" {
				plain = decodeBase64URL(p.Body.Data)
			}
		case "text/html":
			if rich == "" {
				rich = decodeBase64URL(p.Body.Data)
			}
		}
	})
	msg.BodyText = chooseBody(plain, rich)
	return msg
}

func walkParts(p *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	fn(p)
	for _, child := range p.Parts {
		walkParts(child, fn)
	}
}

func decodeBase64URL(data string) string {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

// senderAddress extracts the address from `Name <addr>`.
func senderAddress(from string) string {
	if start := strings.LastIndex(from, "<"); start != -1 {
		if end := strings.LastIndex(from, ">"); end > start {
			return from[start+1 : end]
		}
	}
	return strings.TrimSpace(from)
}
