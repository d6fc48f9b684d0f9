package sync

import (
	"context"
	"errors"
	"testing"

	"entsync/commerce"
	"entsync/licensing"
)

func TestSync_UpdatesSubscriptionFromVendorSnapshot(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()
	env.commerce.templates[TemplateSubscriptionAutoRenewalOn] = commerce.Template{ID: "TPL-1", Name: TemplateSubscriptionAutoRenewalOn}

	if err := env.syncer.Sync(context.Background(), activeAgreement(), Options{SyncPrices: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(env.commerce.subscriptionUpdates) != 1 {
		t.Fatalf("expected one subscription update, got %d", len(env.commerce.subscriptionUpdates))
	}
	update := env.commerce.subscriptionUpdates[0]
	if update.ID != testSubscriptionID {
		t.Fatalf("unexpected subscription %s", update.ID)
	}

	if len(update.Update.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(update.Update.Lines))
	}
	line := update.Update.Lines[0]
	if line.Quantity != 15 {
		t.Errorf("quantity must track the renewal quantity, got %d", line.Quantity)
	}
	if line.Price == nil || line.Price.UnitPP != 20.22 {
		t.Errorf("expected unit price 20.22, got %+v", line.Price)
	}

	params := update.Update.Parameters
	if params == nil {
		t.Fatalf("expected fulfillment parameters")
	}
	want := map[string]string{
		commerce.ParamAdobeSKU:        testActualSKU,
		commerce.ParamCurrentQuantity: "10",
		commerce.ParamRenewalQuantity: "15",
		commerce.ParamRenewalDate:     "2026-06-14",
		commerce.ParamLastSyncDate:    testToday,
	}
	got := map[string]string{}
	for _, param := range params.Fulfillment {
		got[param.ExternalID] = param.String()
	}
	for externalID, value := range want {
		if got[externalID] != value {
			t.Errorf("parameter %s = %q, want %q", externalID, got[externalID], value)
		}
	}
	if len(got) != len(want) {
		t.Errorf("unexpected extra parameters: %v", got)
	}

	if update.Update.CommitmentDate != "2026-06-14" {
		t.Errorf("commitment date must mirror the customer coterm date, got %q", update.Update.CommitmentDate)
	}
	if update.Update.AutoRenew == nil || !*update.Update.AutoRenew {
		t.Errorf("auto renew must mirror the vendor flag")
	}
	if update.Update.Template == nil || update.Update.Template.Name != TemplateSubscriptionAutoRenewalOn {
		t.Errorf("expected auto-renewal template, got %+v", update.Update.Template)
	}
}

func TestSync_SubscriptionUpdateFailureDoesNotAbortSiblings(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()
	secondVendor := activeVendorSub()
	secondVendor.SubscriptionID = "adobe-sub-2"
	secondVendor.OfferID = "65322999CA01A12"
	env.vendor.subs = append(env.vendor.subs, secondVendor)

	second := fullSubscription()
	second.ID = "SUB-0002"
	second.ExternalIDs.Vendor = "adobe-sub-2"
	second.Lines[0].Item.ExternalIDs.Vendor = "65322999CA"
	env.commerce.subscriptions["SUB-0002"] = second
	env.ledger.prices["65322999CA14A12"] = 31.5

	agreement := activeAgreement()
	agreement.Subscriptions = append(agreement.Subscriptions, commerce.Subscription{
		ID: "SUB-0002", Status: commerce.SubscriptionStatusActive,
		ExternalIDs: commerce.ExternalIDs{Vendor: "adobe-sub-2"},
	})

	env.commerce.subscriptionUpdateErrs[testSubscriptionID] = errors.New("update rejected")

	err := env.syncer.Sync(context.Background(), agreement, Options{SyncPrices: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(env.commerce.subscriptionUpdates) != 1 || env.commerce.subscriptionUpdates[0].ID != "SUB-0002" {
		t.Fatalf("one rejected update must not stop the siblings, got %v", env.commerce.subscriptionUpdates)
	}
	alerted := false
	for _, alert := range env.notifier.alerts {
		if alert.Title == "Agreement synchronization failed for "+testAgreementID {
			alerted = true
		}
	}
	if !alerted {
		t.Errorf("expected a sync failure alert, got %v", env.notifier.titles())
	}
	for _, update := range env.commerce.agreementUpdates {
		if update.Update.Parameters == nil {
			continue
		}
		for _, param := range update.Update.Parameters.Fulfillment {
			if param.ExternalID == commerce.ParamLastSyncDate {
				t.Errorf("lastSyncDate must not be stamped on failure")
			}
		}
	}
}

func TestSync_NoPriceSyncKeepsPrice(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()

	if err := env.syncer.Sync(context.Background(), activeAgreement(), Options{SyncPrices: false}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(env.commerce.subscriptionUpdates) != 1 {
		t.Fatalf("expected one subscription update, got %d", len(env.commerce.subscriptionUpdates))
	}
	line := env.commerce.subscriptionUpdates[0].Update.Lines[0]
	if line.Price != nil {
		t.Errorf("price must stay untouched without price sync, got %+v", line.Price)
	}
	if line.Quantity != 15 {
		t.Errorf("quantity reconciliation must still run, got %d", line.Quantity)
	}
}

func TestSync_TerminatedVendorSubscription(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()
	sub := activeVendorSub()
	sub.Status = licensing.StatusSubscriptionInactive
	env.vendor.subs = []licensing.Subscription{sub}
	env.commerce.templates[TemplateSubscriptionExpired] = commerce.Template{ID: "TPL-9", Name: TemplateSubscriptionExpired}

	if err := env.syncer.Sync(context.Background(), activeAgreement(), Options{SyncPrices: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(env.commerce.terminations) != 1 {
		t.Fatalf("expected one termination, got %d", len(env.commerce.terminations))
	}
	if env.commerce.terminations[0].ID != testSubscriptionID {
		t.Errorf("unexpected termination target %s", env.commerce.terminations[0].ID)
	}

	templated := false
	for _, update := range env.commerce.subscriptionUpdates {
		if update.ID == testSubscriptionID && update.Update.Template != nil &&
			update.Update.Template.Name == TemplateSubscriptionExpired {
			templated = true
			if update.Update.Lines != nil || update.Update.Parameters != nil {
				t.Errorf("terminal template update must not touch quantity or price: %+v", update.Update)
			}
		}
	}
	if !templated {
		t.Errorf("expected terminal template attached before termination")
	}
}

func TestSync_TerminatedVendorSubscriptionIsTerminatedOnce(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()
	sub := activeVendorSub()
	sub.Status = licensing.StatusSubscriptionInactive
	env.vendor.subs = []licensing.Subscription{sub}

	// Recovery pass: the terminal template is already attached.
	local := fullSubscription()
	local.Template = &commerce.Template{ID: "TPL-9", Name: TemplateSubscriptionExpired}
	env.commerce.subscriptions[testSubscriptionID] = local

	if err := env.syncer.Sync(context.Background(), activeAgreement(), Options{SyncPrices: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(env.commerce.terminations) != 0 {
		t.Errorf("expected no repeated termination, got %d", len(env.commerce.terminations))
	}
}

func TestSync_MissingVendorCounterpartIsSkipped(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()
	local := fullSubscription()
	local.ExternalIDs.Vendor = "adobe-sub-unknown"
	env.commerce.subscriptions[testSubscriptionID] = local
	agreement := activeAgreement()
	agreement.Subscriptions[0].ExternalIDs.Vendor = "adobe-sub-unknown"

	if err := env.syncer.Sync(context.Background(), agreement, Options{SyncPrices: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(env.commerce.subscriptionUpdates) != 0 {
		t.Errorf("expected the unmatched subscription to be skipped")
	}
}

func TestSync_MissingPriceKeepsPriorPrice(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()
	delete(env.ledger.prices, testActualSKU)

	if err := env.syncer.Sync(context.Background(), activeAgreement(), Options{SyncPrices: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(env.commerce.subscriptionUpdates) != 0 {
		t.Errorf("unpriced subscription must be skipped, got %d updates", len(env.commerce.subscriptionUpdates))
	}
	found := false
	for _, alert := range env.notifier.alerts {
		if alert.Title == "Missing prices detected" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing prices alert, got %v", env.notifier.titles())
	}
}

func TestSync_UpdatesAssetUsedQuantity(t *testing.T) {
	env := newTestEnv(nil)
	env.seedActiveScenario()
	agreement := activeAgreement()
	agreement.Subscriptions = nil
	agreement.Assets = []commerce.Asset{{
		ID: "AST-0001", Status: commerce.AssetStatusActive,
		ExternalIDs: commerce.ExternalIDs{Vendor: testVendorSubID},
	}}
	env.commerce.assets["AST-0001"] = commerce.Asset{
		ID:          "AST-0001",
		Status:      commerce.AssetStatusActive,
		ExternalIDs: commerce.ExternalIDs{Vendor: testVendorSubID},
	}

	if err := env.syncer.Sync(context.Background(), agreement, Options{SyncPrices: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(env.commerce.assetUpdates) != 1 {
		t.Fatalf("expected one asset update, got %d", len(env.commerce.assetUpdates))
	}
	params := env.commerce.assetUpdates[0].Update.Parameters
	if params == nil {
		t.Fatalf("expected parameters")
	}
	got := map[string]string{}
	for _, param := range params.Fulfillment {
		got[param.ExternalID] = param.String()
	}
	if got[commerce.ParamUsedQuantity] != "4" {
		t.Errorf("used quantity = %q, want 4", got[commerce.ParamUsedQuantity])
	}
	if got[commerce.ParamLastSyncDate] != testToday {
		t.Errorf("lastSyncDate = %q, want %s", got[commerce.ParamLastSyncDate], testToday)
	}
}
