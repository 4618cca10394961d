package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	paymentModels "pipay/internal/payment/models"
	"pipay/internal/storage"
	"pipay/internal/storage/storagetest"
)

func TestSQLiteAdapter(t *testing.T) {
	suite.Run(t, &storagetest.AdapterSuite{
		NewAdapter: func() storage.Adapter {
			store, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			return store
		},
	})
}

func TestSQLiteFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "pipay.db")
	at := time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, inserted, err := store.CreateReceiptIfAbsent(ctx, &paymentModels.Receipt{
		IdempotencyKey: "k1",
		PaymentID:      "pay_1",
		Amount:         2.5,
		UserID:         "user-1",
		Status:         paymentModels.StatusCreated,
		CreatedAt:      at,
		UpdatedAt:      at,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, store.Close())

	// second open re-runs Migrate, which must skip applied files
	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetReceipt(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.Amount)
	assert.Equal(t, "sqlite", reopened.Backend())
	assert.True(t, got.CreatedAt.Equal(at.Truncate(time.Microsecond)))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}

func TestRebind(t *testing.T) {
	q := `SELECT 1 FROM receipts WHERE a = ? AND b LIKE ? ESCAPE '\' LIMIT ?`
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, `SELECT 1 FROM receipts WHERE a = $1 AND b LIKE $2 ESCAPE '\' LIMIT $3`, postgresDialect.rebind(q))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x TEXT);\n\n CREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x TEXT)", "CREATE INDEX i ON a (x)"}, stmts)
}
