package googleauth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}

	require.NoError(t, SaveToken(path, token))

	loaded, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "access", loaded.AccessToken)
	assert.Equal(t, "refresh", loaded.RefreshToken)
	assert.True(t, token.Expiry.Equal(loaded.Expiry))
}

func TestLoadToken_Missing(t *testing.T) {
	_, err := LoadToken(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = TokenSource(context.Background(), Config{TokenFile: filepath.Join(t.TempDir(), "absent.json")})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestTokenSource_ValidTokenIsServed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, SaveToken(path, &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))

	ts, err := TokenSource(context.Background(), Config{ClientID: "id", ClientSecret: "secret", TokenFile: path})
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "a", token.AccessToken)
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "localhost:8085", hostPort("http://localhost:8085/callback"))
	assert.Equal(t, "127.0.0.1:9", hostPort("http://127.0.0.1:9"))
}
