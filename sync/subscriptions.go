package sync

import (
	"context"
	"fmt"
	"strconv"

	"entsync/commerce"
	"entsync/licensing"
	"entsync/notify"
)

// Lifecycle template names defined on the product.
const (
	TemplateSubscriptionExpired        = "SubscriptionExpired"
	TemplateSubscriptionAutoRenewalOn  = "SubscriptionAutoRenewalEnabled"
	TemplateSubscriptionAutoRenewalOff = "SubscriptionAutoRenewalDisabled"
	TemplateAssetCreated               = "AssetCreated"
)

func templateNameForVendorSubscription(sub licensing.Subscription) string {
	if sub.Status == licensing.StatusSubscriptionExpired {
		return TemplateSubscriptionExpired
	}
	if sub.AutoRenewal.Enabled {
		return TemplateSubscriptionAutoRenewalOn
	}
	return TemplateSubscriptionAutoRenewalOff
}

// subscriptionForUpdate pairs a local subscription with its vendor
// counterpart and the discount-level SKU used for pricing.
type subscriptionForUpdate struct {
	subscription commerce.Subscription
	vendorSub    licensing.Subscription
	actualSKU    string
}

// assetForUpdate pairs a local asset with its vendor counterpart.
type assetForUpdate struct {
	asset     commerce.Asset
	vendorSub licensing.Subscription
	actualSKU string
}

func findVendorSubscription(subs []licensing.Subscription, subscriptionID string) (licensing.Subscription, bool) {
	for _, sub := range subs {
		if sub.SubscriptionID == subscriptionID {
			return sub, true
		}
	}
	return licensing.Subscription{}, false
}

// subscriptionsForUpdate pairs active local subscriptions with their vendor
// counterparts. Subscriptions whose vendor side is terminated are handled
// here: the terminal template is attached and the local subscription is
// terminated, exactly once.
func (s *Syncer) subscriptionsForUpdate(ctx context.Context, p pass, agreement commerce.Agreement) ([]subscriptionForUpdate, error) {
	logger := s.logger.With("agreement", agreement.ID)
	var forUpdate []subscriptionForUpdate

	for _, stub := range agreement.Subscriptions {
		if stub.Status == commerce.SubscriptionStatusTerminated || stub.Status == commerce.SubscriptionStatusExpired {
			continue
		}

		subscription, err := s.commerce.GetAgreementSubscription(ctx, stub.ID)
		if err != nil {
			return nil, fmt.Errorf("sync: get subscription %s: %w", stub.ID, err)
		}
		vendorID := subscription.ExternalIDs.Vendor
		if vendorID == "" {
			logger.Error("subscription has no vendor external id", "subscription", subscription.ID)
			s.notify(ctx, notify.MissingExternalID(agreement.ID, subscription.ID))
			continue
		}

		vendorSub, ok := findVendorSubscription(p.vendorSubs, vendorID)
		if !ok {
			logger.Error("no matching subscription in vendor customer data", "subscription", subscription.ID, "vendor", vendorID)
			continue
		}

		if vendorSub.Status == licensing.StatusSubscriptionInactive {
			if err := s.terminateSubscription(ctx, p, agreement, subscription, vendorSub); err != nil {
				return nil, err
			}
			continue
		}

		forUpdate = append(forUpdate, subscriptionForUpdate{
			subscription: subscription,
			vendorSub:    vendorSub,
			actualSKU:    licensing.SKUWithDiscountLevel(vendorSub.OfferID, p.customer),
		})
	}
	return forUpdate, nil
}

// terminateSubscription attaches the terminal template and terminates the
// local subscription. Skipped entirely when the template is already
// terminal, so re-running a crashed pass never terminates twice.
func (s *Syncer) terminateSubscription(ctx context.Context, p pass, agreement commerce.Agreement, subscription commerce.Subscription, vendorSub licensing.Subscription) error {
	logger := s.logger.With("agreement", agreement.ID, "subscription", subscription.ID)
	if subscription.Template != nil && subscription.Template.Name == TemplateSubscriptionExpired {
		logger.Info("subscription already carries terminal template, skipping termination")
		return nil
	}
	if p.opts.DryRun {
		fmt.Fprintf(s.preview, "Terminate subscription: %s: vendor status=%s\n", subscription.ID, vendorSub.Status)
		return nil
	}

	logger.Info("processing terminated vendor subscription", "vendor", vendorSub.SubscriptionID)
	template, ok, err := s.commerce.GetTemplateByName(ctx, s.reconcileProductID(agreement), TemplateSubscriptionExpired)
	if err != nil {
		return fmt.Errorf("sync: get terminal template: %w", err)
	}
	if ok {
		update := commerce.SubscriptionUpdate{Template: &template}
		if err := s.commerce.UpdateAgreementSubscription(ctx, subscription.ID, update); err != nil {
			return fmt.Errorf("sync: attach terminal template to %s: %w", subscription.ID, err)
		}
	}
	reason := fmt.Sprintf("Vendor subscription status %s.", vendorSub.Status)
	if err := s.commerce.TerminateSubscription(ctx, subscription.ID, reason); err != nil {
		return fmt.Errorf("sync: terminate subscription %s: %w", subscription.ID, err)
	}
	return nil
}

// updateSubscriptions converges the paired subscriptions toward the vendor
// snapshot. Quantity always tracks the forward-looking renewal quantity;
// unit price only moves when price sync is enabled. SKUs the resolver could
// not price are skipped so they keep their prior price.
func (s *Syncer) updateSubscriptions(ctx context.Context, p pass, agreement commerce.Agreement, forUpdate []subscriptionForUpdate) error {
	requests := make([]PriceRequest, 0, len(forUpdate))
	for _, item := range forUpdate {
		itemID := ""
		if len(item.subscription.Lines) > 0 {
			itemID = item.subscription.Lines[0].Item.ID
		}
		requests = append(requests, PriceRequest{SKU: item.actualSKU, ItemID: itemID})
	}
	prices, err := s.prices.Resolve(ctx, p.customer, agreement, requests)
	if err != nil {
		return err
	}

	var batch BatchResult
	for _, item := range forUpdate {
		price, ok := prices[item.actualSKU]
		if !ok {
			s.logger.Error("skipping subscription, sku has no price",
				"subscription", item.subscription.ID, "sku", item.actualSKU)
			continue
		}
		if err := s.updateSubscription(ctx, p, agreement, item, price); err != nil {
			s.logger.Error("failed to update subscription",
				"subscription", item.subscription.ID, "error", err)
			batch.Record(item.subscription.ID, err)
			continue
		}
		batch.Record(item.subscription.ID, nil)
	}
	if err := batch.Err(); err != nil {
		return err
	}

	if p.opts.SyncPrices {
		return s.refreshAgreementLines(ctx, p, agreement)
	}
	return nil
}

func (s *Syncer) updateSubscription(ctx context.Context, p pass, agreement commerce.Agreement, item subscriptionForUpdate, price float64) error {
	// One line per subscription is a vendor invariant.
	if len(item.subscription.Lines) == 0 {
		s.logger.Error("subscription has no lines", "subscription", item.subscription.ID)
		return nil
	}
	line := item.subscription.Lines[0]
	vendorSub := item.vendorSub

	if p.opts.DryRun {
		currentPrice := 0.0
		if line.Price != nil {
			currentPrice = line.Price.UnitPP
		}
		fmt.Fprintf(s.preview,
			"Subscription: %s (%s): sku=%s, current_price=%v, new_price=%v, auto_renew=%v, current_quantity=%d, renewal_quantity=%d, renewal_date=%s, commitment_date=%s\n",
			item.subscription.ID, line.ID, item.actualSKU, currentPrice, price,
			vendorSub.AutoRenewal.Enabled, vendorSub.CurrentQuantity,
			vendorSub.AutoRenewal.RenewalQuantity, vendorSub.RenewalDate, p.customer.CotermDate)
		return nil
	}

	s.logger.Info("updating subscription", "subscription", item.subscription.ID, "line", line.ID, "sku", item.actualSKU)

	lines := []commerce.Line{{
		ID:       line.ID,
		Quantity: vendorSub.AutoRenewal.RenewalQuantity,
	}}
	if p.opts.SyncPrices {
		lines[0].Price = &commerce.Price{UnitPP: price}
	}

	update := commerce.SubscriptionUpdate{
		Lines: lines,
		Parameters: &commerce.Parameters{
			Fulfillment: []commerce.Parameter{
				{ExternalID: commerce.ParamAdobeSKU, Value: item.actualSKU},
				{ExternalID: commerce.ParamCurrentQuantity, Value: strconv.Itoa(vendorSub.CurrentQuantity)},
				{ExternalID: commerce.ParamRenewalQuantity, Value: strconv.Itoa(vendorSub.AutoRenewal.RenewalQuantity)},
				{ExternalID: commerce.ParamRenewalDate, Value: vendorSub.RenewalDate},
				{ExternalID: commerce.ParamLastSyncDate, Value: s.today()},
			},
		},
		CommitmentDate: p.customer.CotermDate,
		AutoRenew:      boolPtr(vendorSub.AutoRenewal.Enabled),
	}

	templateName := templateNameForVendorSubscription(vendorSub)
	template, ok, err := s.commerce.GetTemplateByName(ctx, s.reconcileProductID(agreement), templateName)
	if err != nil {
		return fmt.Errorf("sync: get template %s: %w", templateName, err)
	}
	if ok {
		update.Template = &template
	}

	if err := s.commerce.UpdateAgreementSubscription(ctx, item.subscription.ID, update); err != nil {
		return fmt.Errorf("sync: update subscription %s: %w", item.subscription.ID, err)
	}
	return nil
}

// assetsForUpdate pairs active local assets with their vendor counterparts.
func (s *Syncer) assetsForUpdate(ctx context.Context, p pass, agreement commerce.Agreement) ([]assetForUpdate, error) {
	var forUpdate []assetForUpdate
	for _, stub := range agreement.Assets {
		if stub.Status == commerce.AssetStatusTerminated {
			continue
		}
		asset, err := s.commerce.GetAssetByID(ctx, stub.ID)
		if err != nil {
			return nil, fmt.Errorf("sync: get asset %s: %w", stub.ID, err)
		}
		vendorSub, ok := findVendorSubscription(p.vendorSubs, asset.ExternalIDs.Vendor)
		if !ok {
			s.logger.Error("no matching subscription in vendor customer data", "asset", asset.ID)
			continue
		}
		forUpdate = append(forUpdate, assetForUpdate{
			asset:     asset,
			vendorSub: vendorSub,
			actualSKU: licensing.SKUWithDiscountLevel(vendorSub.OfferID, p.customer),
		})
	}
	return forUpdate, nil
}

// updateAssets refreshes consumption tracking on one-time assets.
func (s *Syncer) updateAssets(ctx context.Context, p pass, forUpdate []assetForUpdate) error {
	for _, item := range forUpdate {
		if p.opts.DryRun {
			current := item.asset.Parameters.FulfillmentValue(commerce.ParamUsedQuantity)
			fmt.Fprintf(s.preview, "Asset: %s: sku=%s, current used quantity=%s, new used quantity=%d\n",
				item.asset.ID, item.actualSKU, current, item.vendorSub.UsedQuantity)
			continue
		}
		s.logger.Info("updating asset", "asset", item.asset.ID, "sku", item.actualSKU)
		update := commerce.AssetUpdate{
			Parameters: &commerce.Parameters{
				Fulfillment: []commerce.Parameter{
					{ExternalID: commerce.ParamUsedQuantity, Value: strconv.Itoa(item.vendorSub.UsedQuantity)},
					{ExternalID: commerce.ParamLastSyncDate, Value: s.today()},
				},
			},
		}
		if err := s.commerce.UpdateAsset(ctx, item.asset.ID, update); err != nil {
			return fmt.Errorf("sync: update asset %s: %w", item.asset.ID, err)
		}
	}
	return nil
}

// refreshAgreementLines re-prices the agreement's own one-time lines using
// the resolved price map. Line SKUs are matched by their catalog-stable
// prefix since lines carry partial SKUs.
func (s *Syncer) refreshAgreementLines(ctx context.Context, p pass, agreement commerce.Agreement) error {
	requests := make([]PriceRequest, 0, len(agreement.Lines))
	for _, line := range agreement.Lines {
		if line.Item.ExternalIDs.Vendor == "" {
			continue
		}
		actualSKU := licensing.SKUWithDiscountLevel(line.Item.ExternalIDs.Vendor, p.customer)
		requests = append(requests, PriceRequest{SKU: actualSKU, ItemID: line.Item.ID})
	}
	if len(requests) == 0 {
		return nil
	}
	prices, err := s.prices.Resolve(ctx, p.customer, agreement, requests)
	if err != nil {
		return err
	}

	for i := range agreement.Lines {
		line := &agreement.Lines[i]
		actualSKU := licensing.SKUWithDiscountLevel(line.Item.ExternalIDs.Vendor, p.customer)
		price, ok := prices[actualSKU]
		if !ok {
			continue
		}
		currentPrice := 0.0
		if line.Price != nil {
			currentPrice = line.Price.UnitPP
		}
		line.Price = &commerce.Price{UnitPP: price}
		if p.opts.DryRun {
			fmt.Fprintf(s.preview, "OneTime item: %s: sku=%s, current_price=%v, new_price=%v\n",
				line.ID, actualSKU, currentPrice, price)
		} else {
			s.logger.Info("one-time item repriced", "line", line.ID, "sku", actualSKU)
		}
	}
	return nil
}

func (s *Syncer) reconcileProductID(agreement commerce.Agreement) string {
	if agreement.Product != nil && agreement.Product.ID != "" {
		return agreement.Product.ID
	}
	return s.productID
}

func boolPtr(value bool) *bool { return &value }
