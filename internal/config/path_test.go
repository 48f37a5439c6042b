package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("TALLY_TEST_DIR", "/srv/tally")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: home},
		{in: "~/tally/tally.db", want: filepath.Join(home, "tally", "tally.db")},
		{in: "$TALLY_TEST_DIR/tally.db", want: "/srv/tally/tally.db"},
		{in: "/var/lib/tally.db", want: "/var/lib/tally.db"},
		{in: "~user/tally.db", want: "~user/tally.db"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
