// Package sync reconciles local agreements with the vendor licensing
// program. A pass is read-mostly and single-threaded per agreement: it
// fetches the vendor customer snapshot once, then converges entitlements,
// prices and parameters toward it. Every write is idempotent so a crashed
// pass is recovered by running it again.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"entsync/commerce"
	"entsync/ledger"
	"entsync/licensing"
	"entsync/notify"
)

// VendorClient is the read-mostly surface of the licensing vendor API used
// by a pass. The only write is disabling auto-renewal.
type VendorClient interface {
	GetCustomer(ctx context.Context, authorizationID, customerID string) (licensing.Customer, error)
	GetSubscriptions(ctx context.Context, authorizationID, customerID string) ([]licensing.Subscription, error)
	UpdateSubscription(ctx context.Context, authorizationID, customerID, subscriptionID string, update licensing.SubscriptionUpdate) (licensing.Subscription, error)
	GetCustomerDeployments(ctx context.Context, authorizationID, customerID string) ([]licensing.Deployment, error)
}

// CommerceClient is the commerce platform surface used by a pass.
type CommerceClient interface {
	GetAgreement(ctx context.Context, agreementID string) (commerce.Agreement, error)
	UpdateAgreement(ctx context.Context, agreementID string, update commerce.AgreementUpdate) error
	CreateAgreement(ctx context.Context, agreement commerce.Agreement) (commerce.Agreement, error)
	GetAgreementsByQuery(ctx context.Context, query string) ([]commerce.Agreement, error)
	GetAgreementsByCustomerDeployments(ctx context.Context, deploymentIDs []string) ([]commerce.Agreement, error)
	GetAgreementSubscription(ctx context.Context, subscriptionID string) (commerce.Subscription, error)
	UpdateAgreementSubscription(ctx context.Context, subscriptionID string, update commerce.SubscriptionUpdate) error
	CreateAgreementSubscription(ctx context.Context, subscription commerce.Subscription) (commerce.Subscription, error)
	TerminateSubscription(ctx context.Context, subscriptionID, reason string) error
	GetAssetByID(ctx context.Context, assetID string) (commerce.Asset, error)
	CreateAsset(ctx context.Context, asset commerce.Asset) (commerce.Asset, error)
	UpdateAsset(ctx context.Context, assetID string, update commerce.AssetUpdate) error
	GetProductItemsBySKUs(ctx context.Context, productID string, skus []string) ([]commerce.Item, error)
	GetTemplateByName(ctx context.Context, productID, name string) (commerce.Template, bool, error)
	GetAssetTemplateByName(ctx context.Context, productID, name string) (commerce.Template, bool, error)
	GetItemPricesByPriceListID(ctx context.Context, priceListID, itemID string) ([]commerce.Price, error)
	GetListing(ctx context.Context, productID, authorizationID, priceListID string) (commerce.Listing, bool, error)
	GetPriceListByCurrency(ctx context.Context, productID, currency string) (commerce.PriceList, bool, error)
	GetAuthorizationByCurrencyAndCountry(ctx context.Context, productID, currency, country string) (commerce.Reference, bool, error)
}

// Ledger persists deployment topology and dated vendor price lists.
type Ledger interface {
	DeploymentsByMainAgreement(ctx context.Context, productID, mainAgreementID string) ([]ledger.Deployment, error)
	PendingDeployments(ctx context.Context, productID, mainAgreementID string) ([]ledger.Deployment, error)
	CreateDeployments(ctx context.Context, deployments []ledger.Deployment) error
	UpdateDeployment(ctx context.Context, deployment ledger.Deployment) error
	TransferByCustomer(ctx context.Context, productID, authorizationID, customerID string) (ledger.Transfer, error)
	PricesForSKUs(ctx context.Context, productID, currency string, skus []string) (map[string]float64, error)
	CommitmentPricesForSKUs(ctx context.Context, productID, currency string, startDate time.Time, skus []string) (map[string]float64, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Send(ctx context.Context, alert notify.Alert) error
}

// Options select the write behavior of a pass.
type Options struct {
	// DryRun replaces every write with a preview line.
	DryRun bool
	// SyncPrices also refreshes unit prices; quantity and parameter
	// reconciliation always runs.
	SyncPrices bool
}

// Deps bundles the collaborators of a Syncer.
type Deps struct {
	Vendor    VendorClient
	Commerce  CommerceClient
	Ledger    Ledger
	Notifier  Notifier
	Logger    *slog.Logger
	ProductID string
	// Preview receives dry-run output. Defaults to io.Discard.
	Preview io.Writer
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Syncer runs reconciliation passes over agreements.
type Syncer struct {
	vendor    VendorClient
	commerce  CommerceClient
	ledger    Ledger
	notifier  Notifier
	logger    *slog.Logger
	productID string
	preview   io.Writer
	now       func() time.Time
	prices    *PriceResolver
}

func NewSyncer(deps Deps) *Syncer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Preview == nil {
		deps.Preview = io.Discard
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Syncer{
		vendor:    deps.Vendor,
		commerce:  deps.Commerce,
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		productID: deps.ProductID,
		preview:   deps.Preview,
		now:       deps.Now,
	}
	s.prices = NewPriceResolver(deps.Ledger, deps.Commerce, deps.Notifier, deps.Logger, deps.Now)
	return s
}

// pass is the immutable context shared by the stages of one agreement pass.
// The vendor customer snapshot and subscription list are fetched once and
// never refetched.
type pass struct {
	agreement       commerce.Agreement
	customer        licensing.Customer
	vendorSubs      []licensing.Subscription
	authorizationID string
	customerID      string
	opts            Options
}

// Sync runs one reconciliation pass over the agreement. Guard failures skip
// the pass without error; any stage failure aborts the remainder of the
// pass, raises an operator alert and leaves lastSyncDate unstamped so the
// agreement is retried by the next scheduled run.
func (s *Syncer) Sync(ctx context.Context, agreement commerce.Agreement, opts Options) error {
	logger := s.logger.With("agreement", agreement.ID)

	if agreement.Status != commerce.AgreementStatusActive {
		logger.Info("skipping agreement, not active", "status", agreement.Status)
		return nil
	}
	if agreement.HasProcessingEntitlements() {
		logger.Info("agreement has processing entitlements, skipping")
		return nil
	}

	customerID := agreement.CustomerID()
	if customerID == "" || agreement.Authorization == nil {
		logger.Error("agreement has no vendor customer binding")
		return nil
	}
	authorizationID := agreement.Authorization.ID

	customer, err := s.vendor.GetCustomer(ctx, authorizationID, customerID)
	if err != nil {
		switch {
		case errors.Is(err, licensing.ErrAuthorizationNotFound):
			logger.Error("authorization not found", "error", err)
			return nil
		case licensing.IsInvalidCustomer(err):
			logger.Info("vendor reports invalid customer, running lost customer procedure", "error", err)
			s.notify(ctx, notify.LostCustomer(fmt.Sprintf(
				"received vendor error for agreement %s: %v, assuming lost customer and proceeding with lost customer procedure", agreement.ID, err)))
			return s.processLostCustomer(ctx, agreement, opts)
		default:
			return s.fail(ctx, logger, agreement.ID, fmt.Errorf("sync: get customer %s: %w", customerID, err))
		}
	}

	if len(customer.Discounts) == 0 {
		logger.Error("customer has no discounts information, cannot resolve prices", "customer", customerID)
		s.notify(ctx, notify.MissingDiscounts(agreement.ID, customerID))
		return nil
	}

	vendorSubs, err := s.vendor.GetSubscriptions(ctx, authorizationID, customerID)
	if err != nil {
		return s.fail(ctx, logger, agreement.ID, fmt.Errorf("sync: get vendor subscriptions: %w", err))
	}
	if len(vendorSubs) == 0 {
		logger.Info("customer has no vendor subscriptions, skipping", "customer", customerID)
		return nil
	}

	p := pass{
		agreement:       agreement,
		customer:        customer,
		vendorSubs:      vendorSubs,
		authorizationID: authorizationID,
		customerID:      customerID,
		opts:            opts,
	}

	if err := s.run(ctx, p); err != nil {
		return s.fail(ctx, logger, agreement.ID, err)
	}

	if !opts.DryRun {
		if err := s.stampLastSyncDate(ctx, agreement.ID); err != nil {
			return s.fail(ctx, logger, agreement.ID, err)
		}
	}
	logger.Info("agreement synchronized")
	return nil
}

func (s *Syncer) run(ctx context.Context, p pass) error {
	if err := s.addMissingEntitlements(ctx, p, p.agreement); err != nil {
		return err
	}

	assets, err := s.assetsForUpdate(ctx, p, p.agreement)
	if err != nil {
		return err
	}
	if err := s.updateAssets(ctx, p, assets); err != nil {
		return err
	}

	subscriptions, err := s.subscriptionsForUpdate(ctx, p, p.agreement)
	if err != nil {
		return err
	}
	if len(subscriptions) > 0 {
		if err := s.updateSubscriptions(ctx, p, p.agreement, subscriptions); err != nil {
			return err
		}
	}

	if err := s.updateAgreement(ctx, p, p.agreement); err != nil {
		return err
	}

	if p.customer.GlobalSalesEnabled {
		deployments, err := s.vendor.GetCustomerDeployments(ctx, p.authorizationID, p.customerID)
		if err != nil {
			return fmt.Errorf("sync: get customer deployments: %w", err)
		}
		if err := s.syncGlobalCustomerParameters(ctx, p, deployments); err != nil {
			return err
		}
		if err := s.syncDeploymentAgreements(ctx, p, deployments); err != nil {
			return err
		}
	}
	return nil
}

// fail is the single top-level failure path of a pass: log, alert, return.
func (s *Syncer) fail(ctx context.Context, logger *slog.Logger, agreementID string, err error) error {
	logger.Error("error synchronizing agreement", "error", err)
	s.notify(ctx, notify.UnhandledSyncException(agreementID, err))
	return err
}

// notify delivers an alert best-effort; alerting never fails a pass.
func (s *Syncer) notify(ctx context.Context, alert notify.Alert) {
	if err := s.notifier.Send(ctx, alert); err != nil {
		s.logger.Error("failed to send alert", "title", alert.Title, "error", err)
	}
}

func (s *Syncer) today() string {
	return s.now().UTC().Format("2006-01-02")
}

// stampLastSyncDate marks the agreement as synchronized today. Only reached
// when every stage succeeded, so a failed pass stays eligible for retry.
func (s *Syncer) stampLastSyncDate(ctx context.Context, agreementID string) error {
	update := commerce.AgreementUpdate{
		Parameters: &commerce.Parameters{
			Fulfillment: []commerce.Parameter{
				{ExternalID: commerce.ParamLastSyncDate, Value: s.today()},
			},
		},
	}
	if err := s.commerce.UpdateAgreement(ctx, agreementID, update); err != nil {
		return fmt.Errorf("sync: update last sync date: %w", err)
	}
	return nil
}
