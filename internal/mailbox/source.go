// Package mailbox fetches raw emails from Gmail or any IMAP server.
package mailbox

import (
	"context"
	"fmt"
	"iter"

	"github.com/Veraticus/mailtally/internal/common"
	"github.com/Veraticus/mailtally/internal/model"
)

// Source yields the messages received within a date range, oldest first.
// The sequence is finite and not restartable; each Fetch call queries the
// provider again. A connection or authentication failure is yielded once as
// an error wrapping common.ErrSourceUnavailable, after which the sequence ends.
type Source interface {
	Fetch(ctx context.Context, r model.DateRange) iter.Seq2[model.RawMessage, error]
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", common.ErrSourceUnavailable, err)
}
