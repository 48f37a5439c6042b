package storage

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mailtally/internal/model"
)

// createPostgresStorage connects to TALLY_TEST_POSTGRES_URL inside a fresh
// schema that is dropped when the test ends.
func createPostgresStorage(t *testing.T) *PostgresStorage {
	t.Helper()
	connString := os.Getenv("TALLY_TEST_POSTGRES_URL")
	if connString == "" {
		t.Skip("TALLY_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	schema := "tally_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgx.Connect(ctx, connString)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close(context.Background())
	})

	u, err := url.Parse(connString)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	store, err := NewPostgresStorage(ctx, u.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresStorage_CommitDeduplicates(t *testing.T) {
	store := createPostgresStorage(t)
	ctx := context.Background()

	txn := testTxn("msg-1", "2024-03-01", "Corner Cafe", "4.50", model.DirectionDebit)
	require.NoError(t, store.Commit(ctx, txn))
	assert.NotEmpty(t, txn.ID)

	again := testTxn("msg-1", "2024-03-01", "Corner Cafe", "4.50", model.DirectionDebit)
	require.NoError(t, store.Commit(ctx, again))

	txns, err := store.TransactionsInRange(ctx, model.SingleDay(day("2024-03-01")))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
	assert.True(t, decimal.RequireFromString("4.50").Equal(txns[0].Amount))

	has, err := store.Has(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPostgresStorage_MarkProcessedNoExtraction(t *testing.T) {
	store := createPostgresStorage(t)
	ctx := context.Background()

	has, err := store.Has(ctx, "newsletter")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.MarkProcessedNoExtraction(ctx, "newsletter", "no transaction"))
	require.NoError(t, store.MarkProcessedNoExtraction(ctx, "newsletter", "no transaction"))

	has, err = store.Has(ctx, "newsletter")
	require.NoError(t, err)
	assert.True(t, has)

	txns, err := store.TransactionsInRange(ctx, model.DateRange{Start: day("2000-01-01"), End: day("2100-01-01")})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestPostgresStorage_Runs(t *testing.T) {
	store := createPostgresStorage(t)
	ctx := context.Background()

	run := model.RunState{
		RunID:      uuid.NewString(),
		Trigger:    model.TriggerScheduled,
		Range:      model.SingleDay(day("2024-03-01")),
		Status:     model.RunDone,
		StartedAt:  day("2024-03-01"),
		FinishedAt: day("2024-03-01").Add(time.Minute),
	}
	require.NoError(t, store.SaveRun(ctx, run))

	last, err := store.LastSuccessfulRun(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, last.RunID)
	assert.Equal(t, "2024-03-01..2024-03-01", last.Range.String())
}
