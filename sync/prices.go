package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"entsync/commerce"
	"entsync/licensing"
	"entsync/notify"
)

// PriceRequest asks for the unit price of one discount-level SKU. ItemID
// identifies the catalog item used for the commerce price-list fallback.
type PriceRequest struct {
	SKU    string
	ItemID string
}

// PriceResolver resolves unit prices for discount-level SKUs. Customers
// inside a three-year-commitment window are priced from the dated price list
// in force at the commitment start date; everyone else gets the current
// standing price. Commitment prices never change once the window is closed,
// so they are cached for the remainder of the process.
type PriceResolver struct {
	ledger   Ledger
	commerce CommerceClient
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	cache map[string]float64
}

func NewPriceResolver(ledger Ledger, commerce CommerceClient, notifier Notifier, logger *slog.Logger, now func() time.Time) *PriceResolver {
	if now == nil {
		now = time.Now
	}
	return &PriceResolver{
		ledger:   ledger,
		commerce: commerce,
		notifier: notifier,
		logger:   logger,
		now:      now,
		cache:    make(map[string]float64),
	}
}

// Resolve returns the unit price for each requested SKU. SKUs absent from
// the vendor price lists fall back to the commerce platform's own price-list
// entry for the catalog item; an operator alert lists every SKU that needed
// the fallback. SKUs that cannot be priced at all are simply absent from the
// returned map, so callers keep the prior price.
func (r *PriceResolver) Resolve(ctx context.Context, customer licensing.Customer, agreement commerce.Agreement, requests []PriceRequest) (map[string]float64, error) {
	if len(requests) == 0 {
		return map[string]float64{}, nil
	}

	productID := r.productID(agreement)
	currency := agreement.Currency()
	startDate, committed := customer.CommitmentStartDate(r.now().UTC())

	prices := make(map[string]float64, len(requests))
	var uncached []string
	for _, request := range requests {
		if committed {
			if price, ok := r.cache[cacheKey(request.SKU, currency)]; ok {
				prices[request.SKU] = price
				continue
			}
		}
		uncached = append(uncached, request.SKU)
	}

	if len(uncached) > 0 {
		var (
			resolved map[string]float64
			err      error
		)
		if committed {
			resolved, err = r.ledger.CommitmentPricesForSKUs(ctx, productID, currency, startDate, uncached)
		} else {
			resolved, err = r.ledger.PricesForSKUs(ctx, productID, currency, uncached)
		}
		if err != nil {
			return nil, fmt.Errorf("sync: resolve prices: %w", err)
		}
		for sku, price := range resolved {
			prices[sku] = price
			if committed {
				r.cache[cacheKey(sku, currency)] = price
			}
		}
	}

	var missing []string
	for _, request := range requests {
		if _, ok := prices[request.SKU]; ok {
			continue
		}
		missing = append(missing, request.SKU)
		if request.ItemID == "" || agreement.Listing == nil || agreement.Listing.PriceList == nil {
			continue
		}
		fallback, err := r.commerce.GetItemPricesByPriceListID(ctx, agreement.Listing.PriceList.ID, request.ItemID)
		if err != nil {
			return nil, fmt.Errorf("sync: fallback price for %s: %w", request.SKU, err)
		}
		if len(fallback) > 0 {
			prices[request.SKU] = fallback[0].UnitPP
		}
	}

	if len(missing) > 0 {
		r.logger.Error("prices missing for skus", "agreement", agreement.ID, "skus", missing)
		commitmentStart := ""
		if committed {
			commitmentStart = startDate.Format("2006-01-02")
		}
		if err := r.notifier.Send(ctx, notify.MissingPrices(agreement.ID, missing, productID, currency, commitmentStart)); err != nil {
			r.logger.Error("failed to send missing prices alert", "error", err)
		}
	}
	return prices, nil
}

func (r *PriceResolver) productID(agreement commerce.Agreement) string {
	if agreement.Product != nil {
		return agreement.Product.ID
	}
	return ""
}

func cacheKey(sku, currency string) string {
	return sku + "|" + currency
}
