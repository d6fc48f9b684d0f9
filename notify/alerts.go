package notify

import (
	"fmt"
	"strings"
)

// UnhandledSyncException is raised once per agreement pass when an error
// escapes every stage.
func UnhandledSyncException(agreementID string, err error) Alert {
	return Alert{
		Title: fmt.Sprintf("Agreement synchronization failed for %s", agreementID),
		Text:  err.Error(),
		Color: ColorRed,
	}
}

// MissingPrices names the SKUs that could not be priced; the affected lines
// keep their previous price.
func MissingPrices(agreementID string, skus []string, productID, currency, commitmentStartDate string) Alert {
	facts := map[string]string{
		"agreement": agreementID,
		"product":   productID,
		"currency":  currency,
	}
	if commitmentStartDate != "" {
		facts["3YC start date"] = commitmentStartDate
	}
	return Alert{
		Title: "Missing prices detected",
		Text:  fmt.Sprintf("No price found for SKUs: %s", strings.Join(skus, ", ")),
		Color: ColorOrange,
		Facts: facts,
	}
}

// CurrencyMismatch is raised when a vendor entitlement cannot be tracked
// locally because its currency differs from the agreement's.
func CurrencyMismatch(agreementID, subscriptionID, vendorCurrency, agreementCurrency string) Alert {
	return Alert{
		Title: "Price currency mismatch detected!",
		Text: fmt.Sprintf(
			"Vendor subscription %s uses currency %s but agreement %s is anchored on %s; auto-renewal disabled, no local entitlement created.",
			subscriptionID, vendorCurrency, agreementID, agreementCurrency,
		),
		Color: ColorOrange,
	}
}

// MissingDiscounts is raised once when the vendor customer record lacks the
// discount levels required to resolve SKUs.
func MissingDiscounts(agreementID, customerID string) Alert {
	return Alert{
		Title: "Customer does not have discounts information",
		Text: fmt.Sprintf(
			"Customer %s does not have discounts information. Cannot proceed with price synchronization for agreement %s.",
			customerID, agreementID,
		),
		Color: ColorOrange,
	}
}

// OrphanedSubscription is raised when auto-renewal cannot be disabled on a
// vendor entitlement no local agreement tracks.
func OrphanedSubscription(subscriptionID string, err error) Alert {
	return Alert{
		Title: fmt.Sprintf("Error disabling auto-renewal for orphaned subscription %s", subscriptionID),
		Text:  err.Error(),
		Color: ColorRed,
	}
}

// LostCustomer is emitted when the lost-customer procedure starts or when
// one of its terminations fails.
func LostCustomer(text string) Alert {
	return Alert{
		Title: "Executing lost customer procedure",
		Text:  text,
		Color: ColorOrange,
	}
}

// NewDeployments is raised once per batch of newly discovered vendor
// deployments.
func NewDeployments(agreementID string, deploymentIDs []string) Alert {
	return Alert{
		Title: "Missing deployments added to ledger",
		Text:  fmt.Sprintf("agreement %s, deployments: %s", agreementID, strings.Join(deploymentIDs, ", ")),
		Color: ColorOrange,
	}
}

// MissingExternalID is raised when a local entitlement has no vendor binding
// and therefore can never be matched.
func MissingExternalID(agreementID, subscriptionID string) Alert {
	return Alert{
		Title: "Subscription without vendor external id",
		Text: fmt.Sprintf(
			"Subscription %s of agreement %s has no vendor external id and cannot be reconciled.",
			subscriptionID, agreementID,
		),
		Color: ColorOrange,
	}
}
