package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"entsync/commerce"
	"entsync/ledger"
	"entsync/licensing"
	"entsync/notify"
)

// Fixed clock shared by the tests.
var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

const testToday = "2025-06-15"

type vendorUpdate struct {
	SubscriptionID string
	Update         licensing.SubscriptionUpdate
}

type fakeVendor struct {
	customer       licensing.Customer
	customerErr    error
	subs           []licensing.Subscription
	subsErr        error
	deployments    []licensing.Deployment
	deploymentsErr error
	updates        []vendorUpdate
	updateErr      error
}

func (f *fakeVendor) GetCustomer(ctx context.Context, authorizationID, customerID string) (licensing.Customer, error) {
	if f.customerErr != nil {
		return licensing.Customer{}, f.customerErr
	}
	return f.customer, nil
}

func (f *fakeVendor) GetSubscriptions(ctx context.Context, authorizationID, customerID string) ([]licensing.Subscription, error) {
	return f.subs, f.subsErr
}

func (f *fakeVendor) UpdateSubscription(ctx context.Context, authorizationID, customerID, subscriptionID string, update licensing.SubscriptionUpdate) (licensing.Subscription, error) {
	if f.updateErr != nil {
		return licensing.Subscription{}, f.updateErr
	}
	f.updates = append(f.updates, vendorUpdate{SubscriptionID: subscriptionID, Update: update})
	return licensing.Subscription{SubscriptionID: subscriptionID}, nil
}

func (f *fakeVendor) GetCustomerDeployments(ctx context.Context, authorizationID, customerID string) ([]licensing.Deployment, error) {
	return f.deployments, f.deploymentsErr
}

type agreementUpdate struct {
	ID     string
	Update commerce.AgreementUpdate
}

type subscriptionUpdate struct {
	ID     string
	Update commerce.SubscriptionUpdate
}

type assetUpdate struct {
	ID     string
	Update commerce.AssetUpdate
}

type termination struct {
	ID     string
	Reason string
}

type fakeCommerce struct {
	agreements           map[string]commerce.Agreement
	subscriptions        map[string]commerce.Subscription
	assets               map[string]commerce.Asset
	items                []commerce.Item
	templates            map[string]commerce.Template
	itemPrices           map[string][]commerce.Price
	queryResults         []commerce.Agreement
	deploymentAgreements []commerce.Agreement
	authorization        *commerce.Reference
	priceList            *commerce.PriceList
	listing              *commerce.Listing

	agreementUpdates     []agreementUpdate
	subscriptionUpdates  []subscriptionUpdate
	assetUpdates         []assetUpdate
	terminations         []termination
	createdSubscriptions []commerce.Subscription
	createdAssets        []commerce.Asset
	createdAgreements    []commerce.Agreement

	subscriptionUpdateErrs map[string]error
	terminationErrs        map[string]error
}

func (f *fakeCommerce) GetAgreement(ctx context.Context, agreementID string) (commerce.Agreement, error) {
	agreement, ok := f.agreements[agreementID]
	if !ok {
		return commerce.Agreement{}, fmt.Errorf("%w: %s", commerce.ErrNotFound, agreementID)
	}
	return agreement, nil
}

func (f *fakeCommerce) UpdateAgreement(ctx context.Context, agreementID string, update commerce.AgreementUpdate) error {
	f.agreementUpdates = append(f.agreementUpdates, agreementUpdate{ID: agreementID, Update: update})
	return nil
}

func (f *fakeCommerce) CreateAgreement(ctx context.Context, agreement commerce.Agreement) (commerce.Agreement, error) {
	agreement.ID = fmt.Sprintf("AGR-NEW-%04d", len(f.createdAgreements)+1)
	f.createdAgreements = append(f.createdAgreements, agreement)
	return agreement, nil
}

func (f *fakeCommerce) GetAgreementsByQuery(ctx context.Context, query string) ([]commerce.Agreement, error) {
	return f.queryResults, nil
}

func (f *fakeCommerce) GetAgreementsByCustomerDeployments(ctx context.Context, deploymentIDs []string) ([]commerce.Agreement, error) {
	return f.deploymentAgreements, nil
}

func (f *fakeCommerce) GetAgreementSubscription(ctx context.Context, subscriptionID string) (commerce.Subscription, error) {
	subscription, ok := f.subscriptions[subscriptionID]
	if !ok {
		return commerce.Subscription{}, fmt.Errorf("%w: %s", commerce.ErrNotFound, subscriptionID)
	}
	return subscription, nil
}

func (f *fakeCommerce) UpdateAgreementSubscription(ctx context.Context, subscriptionID string, update commerce.SubscriptionUpdate) error {
	if err := f.subscriptionUpdateErrs[subscriptionID]; err != nil {
		return err
	}
	f.subscriptionUpdates = append(f.subscriptionUpdates, subscriptionUpdate{ID: subscriptionID, Update: update})
	return nil
}

func (f *fakeCommerce) CreateAgreementSubscription(ctx context.Context, subscription commerce.Subscription) (commerce.Subscription, error) {
	subscription.ID = fmt.Sprintf("SUB-NEW-%04d", len(f.createdSubscriptions)+1)
	f.createdSubscriptions = append(f.createdSubscriptions, subscription)
	return subscription, nil
}

func (f *fakeCommerce) TerminateSubscription(ctx context.Context, subscriptionID, reason string) error {
	if err := f.terminationErrs[subscriptionID]; err != nil {
		return err
	}
	f.terminations = append(f.terminations, termination{ID: subscriptionID, Reason: reason})
	return nil
}

func (f *fakeCommerce) GetAssetByID(ctx context.Context, assetID string) (commerce.Asset, error) {
	asset, ok := f.assets[assetID]
	if !ok {
		return commerce.Asset{}, fmt.Errorf("%w: %s", commerce.ErrNotFound, assetID)
	}
	return asset, nil
}

func (f *fakeCommerce) CreateAsset(ctx context.Context, asset commerce.Asset) (commerce.Asset, error) {
	asset.ID = fmt.Sprintf("AST-NEW-%04d", len(f.createdAssets)+1)
	f.createdAssets = append(f.createdAssets, asset)
	return asset, nil
}

func (f *fakeCommerce) UpdateAsset(ctx context.Context, assetID string, update commerce.AssetUpdate) error {
	f.assetUpdates = append(f.assetUpdates, assetUpdate{ID: assetID, Update: update})
	return nil
}

func (f *fakeCommerce) GetProductItemsBySKUs(ctx context.Context, productID string, skus []string) ([]commerce.Item, error) {
	return f.items, nil
}

func (f *fakeCommerce) GetTemplateByName(ctx context.Context, productID, name string) (commerce.Template, bool, error) {
	template, ok := f.templates[name]
	return template, ok, nil
}

func (f *fakeCommerce) GetAssetTemplateByName(ctx context.Context, productID, name string) (commerce.Template, bool, error) {
	template, ok := f.templates[name]
	return template, ok, nil
}

func (f *fakeCommerce) GetItemPricesByPriceListID(ctx context.Context, priceListID, itemID string) ([]commerce.Price, error) {
	return f.itemPrices[itemID], nil
}

func (f *fakeCommerce) GetListing(ctx context.Context, productID, authorizationID, priceListID string) (commerce.Listing, bool, error) {
	if f.listing == nil {
		return commerce.Listing{}, false, nil
	}
	return *f.listing, true, nil
}

func (f *fakeCommerce) GetPriceListByCurrency(ctx context.Context, productID, currency string) (commerce.PriceList, bool, error) {
	if f.priceList == nil {
		return commerce.PriceList{}, false, nil
	}
	return *f.priceList, true, nil
}

func (f *fakeCommerce) GetAuthorizationByCurrencyAndCountry(ctx context.Context, productID, currency, country string) (commerce.Reference, bool, error) {
	if f.authorization == nil {
		return commerce.Reference{}, false, nil
	}
	return *f.authorization, true, nil
}

type fakeLedger struct {
	deployments  []ledger.Deployment
	pending      []ledger.Deployment
	transfer     ledger.Transfer
	transferErr  error
	prices       map[string]float64
	commitPrices map[string]float64

	created []ledger.Deployment
	updated []ledger.Deployment

	currentQueried bool
	commitQueried  bool
	commitStart    time.Time
}

func (f *fakeLedger) DeploymentsByMainAgreement(ctx context.Context, productID, mainAgreementID string) ([]ledger.Deployment, error) {
	return f.deployments, nil
}

func (f *fakeLedger) PendingDeployments(ctx context.Context, productID, mainAgreementID string) ([]ledger.Deployment, error) {
	return f.pending, nil
}

func (f *fakeLedger) CreateDeployments(ctx context.Context, deployments []ledger.Deployment) error {
	f.created = append(f.created, deployments...)
	return nil
}

func (f *fakeLedger) UpdateDeployment(ctx context.Context, deployment ledger.Deployment) error {
	f.updated = append(f.updated, deployment)
	return nil
}

func (f *fakeLedger) TransferByCustomer(ctx context.Context, productID, authorizationID, customerID string) (ledger.Transfer, error) {
	if f.transferErr != nil {
		return ledger.Transfer{}, f.transferErr
	}
	return f.transfer, nil
}

func (f *fakeLedger) PricesForSKUs(ctx context.Context, productID, currency string, skus []string) (map[string]float64, error) {
	f.currentQueried = true
	return pickPrices(f.prices, skus), nil
}

func (f *fakeLedger) CommitmentPricesForSKUs(ctx context.Context, productID, currency string, startDate time.Time, skus []string) (map[string]float64, error) {
	f.commitQueried = true
	f.commitStart = startDate
	return pickPrices(f.commitPrices, skus), nil
}

func pickPrices(prices map[string]float64, skus []string) map[string]float64 {
	out := make(map[string]float64)
	for _, sku := range skus {
		if price, ok := prices[sku]; ok {
			out[sku] = price
		}
	}
	return out
}

type fakeNotifier struct {
	alerts []notify.Alert
}

func (f *fakeNotifier) Send(ctx context.Context, alert notify.Alert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) titles() []string {
	var titles []string
	for _, alert := range f.alerts {
		titles = append(titles, alert.Title)
	}
	return titles
}

type testEnv struct {
	vendor   *fakeVendor
	commerce *fakeCommerce
	ledger   *fakeLedger
	notifier *fakeNotifier
	syncer   *Syncer
}

func newTestEnv(preview io.Writer) *testEnv {
	if preview == nil {
		preview = io.Discard
	}
	env := &testEnv{
		vendor: &fakeVendor{},
		commerce: &fakeCommerce{
			agreements:             map[string]commerce.Agreement{},
			subscriptions:          map[string]commerce.Subscription{},
			assets:                 map[string]commerce.Asset{},
			templates:              map[string]commerce.Template{},
			itemPrices:             map[string][]commerce.Price{},
			subscriptionUpdateErrs: map[string]error{},
			terminationErrs:        map[string]error{},
		},
		ledger:   &fakeLedger{prices: map[string]float64{}, commitPrices: map[string]float64{}},
		notifier: &fakeNotifier{},
	}
	env.syncer = NewSyncer(Deps{
		Vendor:    env.vendor,
		Commerce:  env.commerce,
		Ledger:    env.ledger,
		Notifier:  env.notifier,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ProductID: "PRD-1234",
		Preview:   preview,
		Now:       func() time.Time { return testNow },
	})
	return env
}

// Shared fixture: one active agreement bound to one vendor subscription.
const (
	testAgreementID    = "AGR-0001"
	testSubscriptionID = "SUB-0001"
	testVendorSubID    = "adobe-sub-1"
	testOfferID        = "65304578CA01A12"
	testActualSKU      = "65304578CA14A12"
)

func activeCustomer() licensing.Customer {
	return licensing.Customer{
		CustomerID: "adobe-customer-1",
		CotermDate: "2026-06-14",
		Discounts:  []licensing.Discount{{OfferType: licensing.OfferTypeLicense, Level: "14"}},
	}
}

func activeVendorSub() licensing.Subscription {
	return licensing.Subscription{
		SubscriptionID:  testVendorSubID,
		OfferID:         testOfferID,
		CurrentQuantity: 10,
		UsedQuantity:    4,
		AutoRenewal:     licensing.AutoRenewal{Enabled: true, RenewalQuantity: 15},
		CreationDate:    "2024-06-14",
		RenewalDate:     "2026-06-14",
		Status:          licensing.StatusSubscriptionActive,
		CurrencyCode:    "USD",
	}
}

func activeAgreement() commerce.Agreement {
	return commerce.Agreement{
		ID:     testAgreementID,
		Name:   "Creative Agreement",
		Status: commerce.AgreementStatusActive,
		Subscriptions: []commerce.Subscription{
			{ID: testSubscriptionID, Status: commerce.SubscriptionStatusActive,
				ExternalIDs: commerce.ExternalIDs{Vendor: testVendorSubID}},
		},
		Parameters: commerce.Parameters{
			Fulfillment: []commerce.Parameter{
				{ExternalID: commerce.ParamCustomerID, Value: "adobe-customer-1"},
			},
		},
		Product:       &commerce.NamedRef{ID: "PRD-1234"},
		Listing:       &commerce.Listing{ID: "LST-1", PriceList: &commerce.PriceList{ID: "PRC-1", Currency: "USD"}},
		Authorization: &commerce.Reference{ID: "AUT-1"},
		Client:        &commerce.Reference{ID: "ACC-1"},
		Buyer:         &commerce.Reference{ID: "BUY-1"},
		Seller:        &commerce.Reference{ID: "SEL-1"},
		Licensee:      &commerce.Reference{ID: "LCE-1"},
	}
}

func fullSubscription() commerce.Subscription {
	return commerce.Subscription{
		ID:          testSubscriptionID,
		Status:      commerce.SubscriptionStatusActive,
		ExternalIDs: commerce.ExternalIDs{Vendor: testVendorSubID},
		Lines: []commerce.Line{{
			ID:       "ALI-0001",
			Item:     commerce.Item{ID: "ITM-0001", Name: "Creative Suite", ExternalIDs: commerce.ExternalIDs{Vendor: "65304578CA"}},
			Quantity: 10,
			Price:    &commerce.Price{UnitPP: 18.50},
		}},
		AutoRenew: true,
	}
}

func testDeploymentRow(agreementID string) ledger.Deployment {
	return ledger.Deployment{
		DeploymentID:    "deployment-1",
		MainAgreementID: testAgreementID,
		AgreementID:     agreementID,
		MembershipID:    "member-1",
		CustomerID:      "adobe-customer-1",
		ProductID:       "PRD-1234",
		Status:          ledger.StatusCreated,
	}
}

func (env *testEnv) seedActiveScenario() {
	env.vendor.customer = activeCustomer()
	env.vendor.subs = []licensing.Subscription{activeVendorSub()}
	env.commerce.subscriptions[testSubscriptionID] = fullSubscription()
	env.ledger.prices[testActualSKU] = 20.22
}
