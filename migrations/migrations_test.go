package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	data, err := fs.ReadFile(FS, name)
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return string(data)
}

func TestEveryMigrationHasDown(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("reading migrations: %v", err)
	}

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}

	var ups int
	for name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		ups++
		down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
		if !names[down] {
			t.Errorf("%s has no matching down migration", name)
		}
	}
	if ups == 0 {
		t.Fatal("no up migrations embedded")
	}
}

// The schema carries the invariants the stores rely on; migrations are the
// only place they live, so pin them here.
func TestSchemaInvariants(t *testing.T) {
	orders := readMigration(t, "000002_create_orders.up.sql")

	// One payment per gateway transaction per order. Redelivered webhooks
	// depend on the insert failing, not on any application-level dedup.
	if !strings.Contains(orders, "UNIQUE (order_id, transaction_id)") {
		t.Error("payments must be unique per (order_id, transaction_id)")
	}

	// At most one enabled method per handler per channel, so the handler
	// lookup can never silently pick an arbitrary row.
	if !strings.Contains(orders, "CREATE UNIQUE INDEX idx_payment_methods_handler") {
		t.Error("enabled payment methods must be unique per (channel_id, handler_code)")
	}
	if !strings.Contains(orders, "WHERE enabled") {
		t.Error("payment method handler uniqueness must apply to enabled methods only")
	}

	channels := readMigration(t, "000001_create_channels.up.sql")
	if !strings.Contains(channels, "token") || !strings.Contains(channels, "UNIQUE") {
		t.Error("channel tokens must be unique")
	}
}
