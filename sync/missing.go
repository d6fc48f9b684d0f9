package sync

import (
	"context"
	"fmt"
	"strconv"

	"entsync/commerce"
	"entsync/licensing"
	"entsync/notify"
)

// addMissingEntitlements materializes a local record for every active vendor
// subscription of the agreement's deployment scope that no local
// subscription or asset references yet. One-time catalog items become
// assets, everything else becomes subscriptions. Vendor subscriptions priced
// in a different currency than the agreement are never created: their
// auto-renewal is disabled and an operator alert is raised instead.
func (s *Syncer) addMissingEntitlements(ctx context.Context, p pass, agreement commerce.Agreement) error {
	logger := s.logger.With("agreement", agreement.ID)
	deploymentID := agreement.DeploymentID()
	currency := agreement.Currency()
	logger.Info("checking missing entitlements", "deployment", deploymentID)

	known := make(map[string]bool)
	for _, subscription := range agreement.Subscriptions {
		known[subscription.ExternalIDs.Vendor] = true
	}
	for _, asset := range agreement.Assets {
		known[asset.ExternalIDs.Vendor] = true
	}

	var missing []licensing.Subscription
	partialSKUs := make(map[string]bool)
	for _, vendorSub := range p.vendorSubs {
		if vendorSub.DeploymentID != deploymentID {
			continue
		}
		partialSKUs[licensing.PartialSKU(vendorSub.OfferID)] = true
		if vendorSub.Status != licensing.StatusSubscriptionActive || known[vendorSub.SubscriptionID] {
			continue
		}
		missing = append(missing, vendorSub)
	}
	if len(missing) == 0 {
		logger.Info("no missing entitlements found")
		return nil
	}
	logger.Warn("found missing entitlements", "count", len(missing))

	skus := make([]string, 0, len(partialSKUs))
	for sku := range partialSKUs {
		skus = append(skus, sku)
	}
	items, err := s.commerce.GetProductItemsBySKUs(ctx, s.reconcileProductID(agreement), skus)
	if err != nil {
		return fmt.Errorf("sync: get product items: %w", err)
	}
	itemsBySKU := make(map[string]commerce.Item, len(items))
	for _, item := range items {
		itemsBySKU[item.ExternalIDs.Vendor] = item
	}

	for _, vendorSub := range missing {
		logger.Info("adding missing entitlement", "vendor", vendorSub.SubscriptionID)

		if vendorSub.CurrencyCode != currency {
			logger.Warn("skipping vendor subscription due to currency mismatch",
				"vendor", vendorSub.SubscriptionID, "vendorCurrency", vendorSub.CurrencyCode, "currency", currency)
			if !p.opts.DryRun {
				disabled := false
				if _, err := s.vendor.UpdateSubscription(ctx, p.authorizationID, p.customerID, vendorSub.SubscriptionID,
					licensing.SubscriptionUpdate{AutoRenewal: &disabled}); err != nil {
					return fmt.Errorf("sync: disable auto-renewal for %s: %w", vendorSub.SubscriptionID, err)
				}
			}
			s.notify(ctx, notify.CurrencyMismatch(agreement.ID, vendorSub.SubscriptionID, vendorSub.CurrencyCode, currency))
			continue
		}

		item, ok := itemsBySKU[licensing.PartialSKU(vendorSub.OfferID)]
		if !ok {
			logger.Error("skipping missing entitlement",
				"sku", vendorSub.OfferID, "error", ErrMissingCatalogMapping)
			continue
		}

		actualSKU := licensing.SKUWithDiscountLevel(vendorSub.OfferID, p.customer)
		prices, err := s.prices.Resolve(ctx, p.customer, agreement, []PriceRequest{{SKU: actualSKU, ItemID: item.ID}})
		if err != nil {
			return err
		}
		price, priced := prices[actualSKU]
		if !priced {
			logger.Error("skipping missing entitlement, sku has no price", "sku", actualSKU)
			continue
		}

		if p.opts.DryRun {
			fmt.Fprintf(s.preview, "Create entitlement: vendor=%s, sku=%s, quantity=%d, price=%v\n",
				vendorSub.SubscriptionID, actualSKU, vendorSub.CurrentQuantity, price)
			continue
		}

		if item.Terms.Model == commerce.ItemTermsModelOneTime {
			err = s.createAsset(ctx, p, agreement, vendorSub, item, price)
		} else {
			err = s.createSubscription(ctx, p, agreement, vendorSub, item, actualSKU, price)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) createAsset(ctx context.Context, p pass, agreement commerce.Agreement, vendorSub licensing.Subscription, item commerce.Item, price float64) error {
	asset := commerce.Asset{
		Status: commerce.AssetStatusActive,
		Name:   fmt.Sprintf("Asset for %s", item.Name),
		ExternalIDs: commerce.ExternalIDs{
			Vendor: vendorSub.SubscriptionID,
		},
		Parameters: commerce.Parameters{
			Fulfillment: []commerce.Parameter{
				{ExternalID: commerce.ParamAdobeSKU, Value: vendorSub.OfferID},
				{ExternalID: commerce.ParamCurrentQuantity, Value: strconv.Itoa(vendorSub.CurrentQuantity)},
				{ExternalID: commerce.ParamUsedQuantity, Value: strconv.Itoa(vendorSub.UsedQuantity)},
			},
		},
		Lines: []commerce.Line{{
			Item:     item,
			Quantity: vendorSub.CurrentQuantity,
			Price:    &commerce.Price{UnitPP: price},
		}},
		StartDate: vendorSub.CreationDate,
		Agreement: &commerce.Reference{ID: agreement.ID},
		Product:   &commerce.Reference{ID: s.reconcileProductID(agreement)},
		Buyer:     agreement.Buyer,
		Licensee:  agreement.Licensee,
		Seller:    agreement.Seller,
	}

	template, ok, err := s.commerce.GetAssetTemplateByName(ctx, s.reconcileProductID(agreement), TemplateAssetCreated)
	if err != nil {
		return fmt.Errorf("sync: get asset template %s: %w", TemplateAssetCreated, err)
	}
	if ok {
		asset.Template = &template
	}

	if _, err := s.commerce.CreateAsset(ctx, asset); err != nil {
		return fmt.Errorf("sync: create asset for %s: %w", vendorSub.SubscriptionID, err)
	}
	return nil
}

func (s *Syncer) createSubscription(ctx context.Context, p pass, agreement commerce.Agreement, vendorSub licensing.Subscription, item commerce.Item, actualSKU string, price float64) error {
	subscription := commerce.Subscription{
		Status: commerce.SubscriptionStatusActive,
		Name:   fmt.Sprintf("Subscription for %s", item.Name),
		ExternalIDs: commerce.ExternalIDs{
			Vendor: vendorSub.SubscriptionID,
		},
		Parameters: commerce.Parameters{
			Fulfillment: []commerce.Parameter{
				{ExternalID: commerce.ParamAdobeSKU, Value: actualSKU},
				{ExternalID: commerce.ParamCurrentQuantity, Value: strconv.Itoa(vendorSub.CurrentQuantity)},
				{ExternalID: commerce.ParamRenewalQuantity, Value: strconv.Itoa(vendorSub.AutoRenewal.RenewalQuantity)},
				{ExternalID: commerce.ParamRenewalDate, Value: vendorSub.RenewalDate},
			},
		},
		Lines: []commerce.Line{{
			Item:     item,
			Quantity: vendorSub.CurrentQuantity,
			Price:    &commerce.Price{UnitPP: price},
		}},
		Price:          &commerce.PriceBook{UnitPP: map[string]float64{actualSKU: price}},
		CommitmentDate: vendorSub.RenewalDate,
		StartDate:      vendorSub.CreationDate,
		AutoRenew:      vendorSub.AutoRenewal.Enabled,
		Agreement:      &commerce.Reference{ID: agreement.ID},
		Product:        &commerce.Reference{ID: s.reconcileProductID(agreement)},
		Buyer:          agreement.Buyer,
		Licensee:       agreement.Licensee,
		Seller:         agreement.Seller,
	}

	templateName := templateNameForVendorSubscription(vendorSub)
	template, ok, err := s.commerce.GetTemplateByName(ctx, s.reconcileProductID(agreement), templateName)
	if err != nil {
		return fmt.Errorf("sync: get template %s: %w", templateName, err)
	}
	if ok {
		subscription.Template = &template
	}

	if _, err := s.commerce.CreateAgreementSubscription(ctx, subscription); err != nil {
		return fmt.Errorf("sync: create subscription for %s: %w", vendorSub.SubscriptionID, err)
	}
	return nil
}
