package mailbox

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/model"
)

func TestNewIMAPSource(t *testing.T) {
	tests := []struct {
		name    string
		cfg     IMAPConfig
		wantErr bool
	}{
		{name: "password login", cfg: IMAPConfig{Host: "imap.example.com", Username: "me", Password: "secret"}},
		{name: "oauth login", cfg: IMAPConfig{Host: "imap.example.com", Username: "me", TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"})}},
		{name: "missing host", cfg: IMAPConfig{Username: "me", Password: "secret"}, wantErr: true},
		{name: "missing credentials", cfg: IMAPConfig{Host: "imap.example.com", Username: "me"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewIMAPSource(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 993, src.cfg.Port)
			assert.Equal(t, "INBOX", src.cfg.Mailbox)
			assert.Equal(t, 30*time.Second, src.cfg.DialTimeout)
		})
	}
}

func TestIMAPSource_ConnectFailureIsSourceUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	src, err := NewIMAPSource(IMAPConfig{
		Host:        "127.0.0.1",
		Port:        addr.Port,
		Username:    "me",
		Password:    "secret",
		DialTimeout: time.Second,
	}, nil)
	require.NoError(t, err)

	r := model.SingleDay(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	var errs []error
	for msg, err := range src.Fetch(context.Background(), r) {
		assert.Empty(t, msg.MessageID)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], common.ErrSourceUnavailable)
}

// imapReply answers one tagged command. A handled command with an empty
// reply is left unanswered.
type imapReply func(tag, cmd string) (reply string, handled bool)

// fakeIMAP serves a minimal IMAP dialogue over TLS and returns a config that
// trusts it. Commands that reply does not handle get a plain OK.
func fakeIMAP(t *testing.T, reply imapReply) IMAPConfig {
	t.Helper()

	certSrv := httptest.NewTLSServer(http.NotFoundHandler())
	certs := certSrv.TLS.Certificates
	roots := certSrv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	certSrv.Close()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: certs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveIMAP(conn, reply)
		}
	}()

	return IMAPConfig{
		Host:        "127.0.0.1",
		Port:        ln.Addr().(*net.TCPAddr).Port,
		Username:    "me",
		Password:    "secret",
		DialTimeout: time.Second,
		TLSConfig:   &tls.Config{RootCAs: roots, ServerName: "127.0.0.1", MinVersion: tls.VersionTLS12},
	}
}

func serveIMAP(conn net.Conn, reply imapReply) {
	defer func() { _ = conn.Close() }()
	fmt.Fprint(conn, "* OK [CAPABILITY IMAP4rev1] ready\r\n")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		tag, cmd, _ := strings.Cut(scanner.Text(), " ")
		upper := strings.ToUpper(cmd)
		if reply != nil {
			if out, handled := reply(tag, upper); handled {
				fmt.Fprint(conn, out)
				continue
			}
		}
		switch {
		case strings.HasPrefix(upper, "CAPABILITY"):
			fmt.Fprintf(conn, "* CAPABILITY IMAP4rev1\r\n%s OK done\r\n", tag)
		case strings.HasPrefix(upper, "LOGOUT"):
			fmt.Fprintf(conn, "* BYE\r\n%s OK done\r\n", tag)
			return
		default:
			fmt.Fprintf(conn, "%s OK done\r\n", tag)
		}
	}
}

func TestIMAPSource_StalledServerHonorsDeadline(t *testing.T) {
	cfg := fakeIMAP(t, func(_, cmd string) (string, bool) {
		return "", strings.Contains(cmd, "SEARCH")
	})
	src, err := NewIMAPSource(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errs := make(chan []error, 1)
	go func() {
		var got []error
		for _, err := range src.Fetch(ctx, model.SingleDay(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC))) {
			got = append(got, err)
		}
		errs <- got
	}()

	select {
	case got := <-errs:
		require.Len(t, got, 1)
		assert.ErrorIs(t, got[0], common.ErrSourceUnavailable)
		assert.ErrorIs(t, got[0], context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not return after the deadline")
	}
}

func rfc822(date, subject string) string {
	return "Message-ID: <" + strings.ReplaceAll(subject, " ", "-") + "@bank.example>\r\n" +
		"Date: " + date + "\r\n" +
		"From: alerts@bank.example\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"You spent $5.00.\r\n"
}

func TestIMAPSource_OrdersAcrossBatches(t *testing.T) {
	// UID 1 arrived first but carries the later Date header.
	bodies := map[string]string{
		"1": rfc822("Sat, 11 Jan 2025 15:00:00 +0000", "Afternoon"),
		"2": rfc822("Sat, 11 Jan 2025 09:00:00 +0000", "Morning"),
	}
	cfg := fakeIMAP(t, func(tag, cmd string) (string, bool) {
		switch {
		case strings.HasPrefix(cmd, "UID SEARCH"):
			return "* SEARCH 1 2\r\n" + tag + " OK done\r\n", true
		case strings.HasPrefix(cmd, "UID FETCH"):
			uid := strings.Fields(cmd)[2]
			body := bodies[uid]
			return fmt.Sprintf("* %s FETCH (UID %s INTERNALDATE \"11-Jan-2025 16:00:00 +0000\" BODY[] {%d}\r\n%s)\r\n%s OK done\r\n",
				uid, uid, len(body), body, tag), true
		}
		return "", false
	})
	src, err := NewIMAPSource(cfg, nil)
	require.NoError(t, err)
	src.batchSize = 1

	var subjects []string
	for msg, err := range src.Fetch(context.Background(), model.SingleDay(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC))) {
		require.NoError(t, err)
		subjects = append(subjects, msg.Subject)
	}
	assert.Equal(t, []string{"Morning", "Afternoon"}, subjects)
}
