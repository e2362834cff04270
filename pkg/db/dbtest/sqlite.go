// Package dbtest opens throwaway in-memory databases with the finance schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/clinic-finance/pkg/db"
	"github.com/vetcare/clinic-finance/pkg/db/models"
)

// New returns a client over a private in-memory sqlite database with every
// finance table migrated. The database is closed when the test ends.
func New(t testing.TB) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	client, err := db.OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, client.DB().AutoMigrate(models.All()...))

	t.Cleanup(func() { _ = client.Close() })
	return client
}
