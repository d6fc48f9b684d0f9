package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ErrTransferNotFound signals that no transfer identity exists for the
// customer, so a newly observed deployment cannot be keyed yet.
var ErrTransferNotFound = errors.New("ledger: transfer not found")

// Repository persists deployment topology and price list entries.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema applies the ledger schema. Idempotent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ledger: apply schema: %w", err)
	}
	return nil
}

// DeploymentsByMainAgreement returns every tracked deployment of the primary
// agreement.
func (r *Repository) DeploymentsByMainAgreement(ctx context.Context, productID, mainAgreementID string) ([]Deployment, error) {
	const query = `
		SELECT deployment_id, membership_id, main_agreement_id, agreement_id, transfer_id,
		       customer_id, product_id, account_id, seller_id, licensee_id,
		       authorization_id, price_list_id, listing_id, currency, country,
		       status, error_detail, created_at, updated_at
		FROM gc_deployments
		WHERE product_id = $1 AND main_agreement_id = $2
		ORDER BY deployment_id
	`
	rows, err := r.pool.Query(ctx, query, productID, mainAgreementID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list deployments: %w", err)
	}
	defer rows.Close()

	return scanDeployments(rows)
}

// PendingDeployments returns rows awaiting agreement materialization.
func (r *Repository) PendingDeployments(ctx context.Context, productID, mainAgreementID string) ([]Deployment, error) {
	const query = `
		SELECT deployment_id, membership_id, main_agreement_id, agreement_id, transfer_id,
		       customer_id, product_id, account_id, seller_id, licensee_id,
		       authorization_id, price_list_id, listing_id, currency, country,
		       status, error_detail, created_at, updated_at
		FROM gc_deployments
		WHERE product_id = $1 AND main_agreement_id = $2 AND status = $3
		ORDER BY deployment_id
	`
	rows, err := r.pool.Query(ctx, query, productID, mainAgreementID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending deployments: %w", err)
	}
	defer rows.Close()

	return scanDeployments(rows)
}

// CreateDeployments inserts newly observed deployments in one batch.
// Conflicting keys are left untouched so repeated passes stay idempotent.
func (r *Repository) CreateDeployments(ctx context.Context, deployments []Deployment) error {
	if len(deployments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const insert = `
		INSERT INTO gc_deployments (
			deployment_id, membership_id, main_agreement_id, agreement_id, transfer_id,
			customer_id, product_id, account_id, seller_id, licensee_id,
			authorization_id, price_list_id, listing_id, currency, country, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (membership_id, deployment_id) DO NOTHING
	`
	for _, d := range deployments {
		batch.Queue(insert,
			d.DeploymentID, d.MembershipID, d.MainAgreementID, d.AgreementID, d.TransferID,
			d.CustomerID, d.ProductID, d.AccountID, d.SellerID, d.LicenseeID,
			d.AuthorizationID, d.PriceListID, d.ListingID, d.Currency, d.Country,
			StatusPending,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range deployments {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("ledger: insert deployment: %w", err)
		}
	}
	return nil
}

// UpdateDeployment persists derived topology and status changes on one row.
func (r *Repository) UpdateDeployment(ctx context.Context, d Deployment) error {
	const query = `
		UPDATE gc_deployments
		SET agreement_id = $3,
		    authorization_id = $4,
		    price_list_id = $5,
		    listing_id = $6,
		    currency = $7,
		    country = $8,
		    status = $9,
		    error_detail = $10,
		    updated_at = now()
		WHERE membership_id = $1 AND deployment_id = $2
	`
	tag, err := r.pool.Exec(ctx, query,
		d.MembershipID, d.DeploymentID, d.AgreementID, d.AuthorizationID,
		d.PriceListID, d.ListingID, d.Currency, d.Country, d.Status, d.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("ledger: update deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: deployment %s/%s not tracked", d.MembershipID, d.DeploymentID)
	}
	return nil
}

// TransferByCustomer resolves the membership/transfer identity of a customer.
func (r *Repository) TransferByCustomer(ctx context.Context, productID, authorizationID, customerID string) (Transfer, error) {
	const query = `
		SELECT membership_id, transfer_id, customer_id, authorization_id, product_id
		FROM transfers
		WHERE product_id = $1 AND authorization_id = $2 AND customer_id = $3
		LIMIT 1
	`
	var t Transfer
	err := r.pool.QueryRow(ctx, query, productID, authorizationID, customerID).
		Scan(&t.MembershipID, &t.TransferID, &t.CustomerID, &t.AuthorizationID, &t.ProductID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("ledger: get transfer: %w", err)
	}
	return t, nil
}

// PricesForSKUs returns the current (open-ended) unit price per SKU.
func (r *Repository) PricesForSKUs(ctx context.Context, productID, currency string, skus []string) (map[string]float64, error) {
	if len(skus) == 0 {
		return map[string]float64{}, nil
	}
	const query = `
		SELECT sku, unit_pp
		FROM price_list_items
		WHERE product_id = $1 AND currency = $2 AND valid_until IS NULL AND sku = ANY($3)
	`
	rows, err := r.pool.Query(ctx, query, productID, currency, skus)
	if err != nil {
		return nil, fmt.Errorf("ledger: query prices: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

// CommitmentPricesForSKUs returns, per SKU, the unit price from the price
// list window containing the commitment start date, falling back to the
// current list for SKUs with no matching window. Rows are ordered so the
// dated window wins over the open-ended one.
func (r *Repository) CommitmentPricesForSKUs(ctx context.Context, productID, currency string, startDate time.Time, skus []string) (map[string]float64, error) {
	if len(skus) == 0 {
		return map[string]float64{}, nil
	}
	const query = `
		SELECT sku, unit_pp
		FROM price_list_items
		WHERE product_id = $1 AND currency = $2 AND sku = ANY($4)
		  AND (valid_until IS NULL OR (valid_from <= $3 AND valid_until > $3))
		ORDER BY valid_until DESC NULLS LAST
	`
	rows, err := r.pool.Query(ctx, query, productID, currency, startDate, skus)
	if err != nil {
		return nil, fmt.Errorf("ledger: query commitment prices: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

func scanPrices(rows pgx.Rows) (map[string]float64, error) {
	prices := make(map[string]float64)
	for rows.Next() {
		var (
			sku    string
			unitPP float64
		)
		if err := rows.Scan(&sku, &unitPP); err != nil {
			return nil, fmt.Errorf("ledger: scan price: %w", err)
		}
		if _, ok := prices[sku]; !ok {
			prices[sku] = unitPP
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate prices: %w", err)
	}
	return prices, nil
}

func scanDeployments(rows pgx.Rows) ([]Deployment, error) {
	deployments := make([]Deployment, 0, 4)
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(
			&d.DeploymentID, &d.MembershipID, &d.MainAgreementID, &d.AgreementID, &d.TransferID,
			&d.CustomerID, &d.ProductID, &d.AccountID, &d.SellerID, &d.LicenseeID,
			&d.AuthorizationID, &d.PriceListID, &d.ListingID, &d.Currency, &d.Country,
			&d.Status, &d.ErrorDetail, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate deployments: %w", err)
	}
	return deployments, nil
}
