package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"entsync/db"
	"entsync/test/infra"
)

// TestRepository_Integration runs against a disposable Postgres 16 container,
// or a live database when ENTSYNC_TEST_PG_DSN is set.
func TestRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer container.Terminate(ctx)

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	repo := NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema application must be idempotent: %v", err)
	}

	t.Run("deployment lifecycle", func(t *testing.T) {
		rows := []Deployment{
			{
				DeploymentID:    "dep-1",
				MembershipID:    "member-1",
				MainAgreementID: "AGR-0001",
				TransferID:      "transfer-1",
				CustomerID:      "cust-1",
				ProductID:       "PRD-1234",
				Currency:        "EUR",
				Country:         "DE",
			},
			{
				DeploymentID:    "dep-2",
				MembershipID:    "member-1",
				MainAgreementID: "AGR-0001",
				TransferID:      "transfer-1",
				CustomerID:      "cust-1",
				ProductID:       "PRD-1234",
				Currency:        "EUR",
				Country:         "FR",
			},
		}
		if err := repo.CreateDeployments(ctx, rows); err != nil {
			t.Fatalf("create deployments: %v", err)
		}
		// Re-inserting the same keys must be a no-op.
		if err := repo.CreateDeployments(ctx, rows[:1]); err != nil {
			t.Fatalf("idempotent insert: %v", err)
		}

		tracked, err := repo.DeploymentsByMainAgreement(ctx, "PRD-1234", "AGR-0001")
		if err != nil {
			t.Fatalf("list deployments: %v", err)
		}
		if len(tracked) != 2 {
			t.Fatalf("expected 2 tracked deployments, got %d", len(tracked))
		}
		if tracked[0].DeploymentID != "dep-1" || tracked[0].Status != StatusPending {
			t.Fatalf("first row = %+v", tracked[0])
		}

		pending, err := repo.PendingDeployments(ctx, "PRD-1234", "AGR-0001")
		if err != nil {
			t.Fatalf("list pending: %v", err)
		}
		if len(pending) != 2 {
			t.Fatalf("expected 2 pending rows, got %d", len(pending))
		}

		created := tracked[0]
		created.AgreementID = "AGR-0002"
		created.AuthorizationID = "AUT-2"
		created.PriceListID = "PRC-2"
		created.ListingID = "LST-2"
		created.Status = StatusCreated
		if err := repo.UpdateDeployment(ctx, created); err != nil {
			t.Fatalf("update deployment: %v", err)
		}

		pending, err = repo.PendingDeployments(ctx, "PRD-1234", "AGR-0001")
		if err != nil {
			t.Fatalf("list pending after update: %v", err)
		}
		if len(pending) != 1 || pending[0].DeploymentID != "dep-2" {
			t.Fatalf("expected only dep-2 pending, got %+v", pending)
		}

		tracked, err = repo.DeploymentsByMainAgreement(ctx, "PRD-1234", "AGR-0001")
		if err != nil {
			t.Fatalf("relist deployments: %v", err)
		}
		if tracked[0].AgreementID != "AGR-0002" || tracked[0].Status != StatusCreated {
			t.Fatalf("update not persisted: %+v", tracked[0])
		}

		untracked := Deployment{MembershipID: "member-x", DeploymentID: "dep-x"}
		if err := repo.UpdateDeployment(ctx, untracked); err == nil {
			t.Fatal("updating an untracked row must fail")
		}
	})

	t.Run("transfer lookup", func(t *testing.T) {
		_, err := pool.Exec(ctx, `
			INSERT INTO transfers (membership_id, transfer_id, customer_id, authorization_id, product_id)
			VALUES ('member-1', 'transfer-1', 'cust-1', 'AUT-1', 'PRD-1234')
		`)
		if err != nil {
			t.Fatalf("seed transfer: %v", err)
		}

		transfer, err := repo.TransferByCustomer(ctx, "PRD-1234", "AUT-1", "cust-1")
		if err != nil {
			t.Fatalf("get transfer: %v", err)
		}
		if transfer.MembershipID != "member-1" || transfer.TransferID != "transfer-1" {
			t.Fatalf("transfer = %+v", transfer)
		}

		_, err = repo.TransferByCustomer(ctx, "PRD-1234", "AUT-1", "cust-unknown")
		if !errors.Is(err, ErrTransferNotFound) {
			t.Fatalf("expected ErrTransferNotFound, got %v", err)
		}
	})

	t.Run("price windows", func(t *testing.T) {
		_, err := pool.Exec(ctx, `
			INSERT INTO price_list_items (sku, product_id, currency, unit_pp, valid_from, valid_until) VALUES
			('65304578CA14A12', 'PRD-1234', 'USD', 25.00, NULL, NULL),
			('65304578CA14A12', 'PRD-1234', 'USD', 20.22, '2024-06-01', '2025-06-01'),
			('65322999CA14A12', 'PRD-1234', 'USD', 12.40, NULL, NULL)
		`)
		if err != nil {
			t.Fatalf("seed prices: %v", err)
		}

		skus := []string{"65304578CA14A12", "65322999CA14A12", "65399999CA14A12"}

		current, err := repo.PricesForSKUs(ctx, "PRD-1234", "USD", skus)
		if err != nil {
			t.Fatalf("current prices: %v", err)
		}
		if got := current["65304578CA14A12"]; got != 25.00 {
			t.Fatalf("current price = %v", got)
		}
		if _, ok := current["65399999CA14A12"]; ok {
			t.Fatal("unknown SKU must be absent from the result")
		}

		anchor := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
		committed, err := repo.CommitmentPricesForSKUs(ctx, "PRD-1234", "USD", anchor, skus)
		if err != nil {
			t.Fatalf("commitment prices: %v", err)
		}
		if got := committed["65304578CA14A12"]; got != 20.22 {
			t.Fatalf("dated window must win, got %v", got)
		}
		if got := committed["65322999CA14A12"]; got != 12.40 {
			t.Fatalf("open-ended fallback = %v", got)
		}

		outside := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		fallback, err := repo.CommitmentPricesForSKUs(ctx, "PRD-1234", "USD", outside, skus)
		if err != nil {
			t.Fatalf("commitment prices outside window: %v", err)
		}
		if got := fallback["65304578CA14A12"]; got != 25.00 {
			t.Fatalf("expected open-ended price outside window, got %v", got)
		}

		empty, err := repo.PricesForSKUs(ctx, "PRD-1234", "USD", nil)
		if err != nil {
			t.Fatalf("empty sku list: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("expected empty result, got %v", empty)
		}
	})
}
