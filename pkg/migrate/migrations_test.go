package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/clinic-finance/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one %s migration", suffix)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"create_invoices": {
			"CREATE TABLE IF NOT EXISTS invoices",
			"ux_invoices_source ON invoices (source_type, source_id)",
			"CHECK (status IN ('pending', 'paid', 'overdue', 'cancelled', 'refunded'))",
			"REFERENCES invoices(id) ON DELETE CASCADE",
			"DROP TABLE IF EXISTS invoices",
		},
		"create_coupons": {
			"ux_coupons_global_code ON coupons (upper(code)) WHERE scope = 'global'",
			"ux_coupons_owner_parent ON coupons (owner_id, parent_id)",
			"used_count <= usage_limit",
			"DROP TABLE IF EXISTS coupons",
		},
		"create_payments": {
			"ux_payments_pending_gateway ON payments (invoice_id)",
			"WHERE status = 'pending' AND method = 'gateway'",
			"CHECK (refunded_amount >= 0 AND refunded_amount <= amount)",
			"DROP TABLE IF EXISTS payments",
		},
		"create_refund_requests": {
			"ux_refund_requests_pending_payment ON refund_requests (payment_id)",
			"WHERE status = 'pending'",
			"REFERENCES payments(id) ON DELETE RESTRICT",
		},
		"create_loyalty_accounts": {
			"ux_loyalty_accounts_owner_id ON loyalty_accounts (owner_id)",
			"CHECK (points >= 0)",
		},
		"create_finance_events": {
			"metadata jsonb",
			"'payment_completed', 'refund_issued', 'coupon_applied', 'invoice_reconciled'",
		},
		"add_notification_claims": {
			"ADD COLUMN IF NOT EXISTS receipt_claimed_at timestamptz",
			"ADD COLUMN IF NOT EXISTS approval_claimed_at timestamptz",
			"DROP COLUMN IF EXISTS rejection_claimed_at",
		},
	}

	for suffix, checks := range cases {
		t.Run(suffix, func(t *testing.T) {
			content := readMigration(t, suffix)
			for _, sub := range checks {
				assert.True(t, strings.Contains(content, sub), "missing expected statement %q", sub)
			}
		})
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Coupon Index!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_coupon_index.sql"))
	require.NoError(t, migrate.ValidateDir(dir))
}
