package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	// Registers decoders for non-UTF-8 charsets.
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"

	"github.com/Veraticus/mailtally/internal/model"
)

var wordDecoder = &mime.WordDecoder{}

// DecodeHeader decodes RFC 2047 encoded words, returning the input on failure.
func DecodeHeader(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// ParseMessage reads an RFC 822 message into a RawMessage. fallbackID is used
// when the message has no Message-ID header; fallbackDate when it has no Date.
// A non-zero fallbackDate (the server's internal date) takes precedence over the Date header.
func ParseMessage(r io.Reader, fallbackID string, fallbackDate time.Time) (model.RawMessage, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return model.RawMessage{}, fmt.Errorf("failed to read message: %w", err)
	}

	header := mail.Header{Header: entity.Header}
	msg := model.RawMessage{MessageID: fallbackID, ReceivedAt: fallbackDate}

	if id, err := header.MessageID(); err == nil && id != "" {
		msg.MessageID = id
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	} else {
		msg.Sender = senderAddress(header.Get("From"))
	}
	if msg.ReceivedAt.IsZero() {
		if date, err := header.Date(); err == nil {
			msg.ReceivedAt = date
		}
	}

	var plain, rich string
	err = entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			return err
		}
		if disp, _, _ := part.Header.ContentDisposition(); disp == "attachment" {
			return nil
		}

		contentType, _, _ := part.Header.ContentType()
		if contentType != "text/plain" && contentType != "text/html" {
			return nil
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("failed to read %s part: %w", contentType, err)
		}

		if contentType == "text/plain" && plain == "" {
			plain = string(body)
		} else if contentType == "text/html" && rich == "" {
			rich = string(body)
		}
		return nil
	})
	if err != nil {
		return msg, err
	}

	msg.BodyText = chooseBody(plain, rich)
	return msg, nil
}

// chooseBody prefers the plain text part and falls back to text extracted from HTML.
func chooseBody(plain, rich string) string {
	if strings.TrimSpace(plain) != "" {
		return collapseWhitespace(plain)
	}
	if rich != "" {
		return HTMLToText(rich)
	}
	return ""
}

// HTMLToText extracts the visible text of an HTML document. Script and style
// contents are dropped and whitespace is collapsed.
func HTMLToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return collapseWhitespace(src)
	}

	var buf bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head", "noscript":
				return
			case "br", "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "table":
				buf.WriteByte('\n')
			case "td", "th":
				buf.WriteByte(' ')
			}
		case html.TextNode:
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return collapseWhitespace(buf.String())
}

// collapseWhitespace squeezes runs of spaces within lines and drops blank lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
