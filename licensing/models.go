package licensing

import "time"

// Vendor status codes shared by customers, orders and subscriptions.
const (
	StatusProcessed            = "1000"
	StatusPending              = "1002"
	StatusInactiveOrFailure    = "1004"
	StatusInvalidCustomer      = "1026"
	StatusSubscriptionActive   = "1000"
	StatusSubscriptionPending  = "1002"
	StatusSubscriptionInactive = "1004"
	StatusSubscriptionExpired  = "1010"
)

// Three-year-commitment enrollment statuses.
const (
	CommitmentStatusCommitted = "COMMITTED"
	CommitmentStatusActive    = "ACTIVE"
	CommitmentStatusRequested = "REQUESTED"
	CommitmentStatusAccepted  = "ACCEPTED"
	CommitmentStatusDeclined  = "DECLINED"
	CommitmentStatusExpired   = "EXPIRED"
)

const (
	OfferTypeLicense     = "LICENSE"
	OfferTypeConsumables = "CONSUMABLES"

	benefitTypeThreeYearCommit = "THREE_YEAR_COMMIT"
)

// Discount is a per-offer-type volume discount level granted to a customer.
type Discount struct {
	OfferType string `json:"offerType"`
	Level     string `json:"level"`
}

// MinimumQuantity is a 3YC committed minimum for one offer type.
type MinimumQuantity struct {
	OfferType string `json:"offerType"`
	Quantity  int    `json:"quantity"`
}

// Commitment describes an accepted three-year commitment window.
type Commitment struct {
	Status            string            `json:"status"`
	StartDate         string            `json:"startDate"`
	EndDate           string            `json:"endDate"`
	MinimumQuantities []MinimumQuantity `json:"minimumQuantities"`
}

// CommitmentRequest is a pending commitment or recommitment request.
type CommitmentRequest struct {
	Status string `json:"status"`
}

// Benefit wraps a customer benefit; only THREE_YEAR_COMMIT is relevant here.
type Benefit struct {
	Type                string             `json:"type"`
	Commitment          *Commitment        `json:"commitment,omitempty"`
	CommitmentRequest   *CommitmentRequest `json:"commitmentRequest,omitempty"`
	RecommitmentRequest *CommitmentRequest `json:"recommitmentRequest,omitempty"`
}

// Address carries the subset of the vendor address used by the engine.
type Address struct {
	Country string `json:"country"`
}

// CompanyProfile carries the subset of the vendor company profile used here.
type CompanyProfile struct {
	CompanyName string  `json:"companyName"`
	Address     Address `json:"address"`
}

// Customer is the vendor's read-only customer record fetched once per pass.
type Customer struct {
	CustomerID         string         `json:"customerId"`
	CotermDate         string         `json:"cotermDate"`
	GlobalSalesEnabled bool           `json:"globalSalesEnabled"`
	Discounts          []Discount     `json:"discounts"`
	Benefits           []Benefit      `json:"benefits"`
	CompanyProfile     CompanyProfile `json:"companyProfile"`
}

// AutoRenewal is the renewal configuration on a vendor subscription.
type AutoRenewal struct {
	Enabled         bool `json:"enabled"`
	RenewalQuantity int  `json:"renewalQuantity"`
}

// Subscription is the vendor's read-only entitlement snapshot.
type Subscription struct {
	SubscriptionID  string      `json:"subscriptionId"`
	OfferID         string      `json:"offerId"`
	CurrentQuantity int         `json:"currentQuantity"`
	UsedQuantity    int         `json:"usedQuantity"`
	AutoRenewal     AutoRenewal `json:"autoRenewal"`
	CreationDate    string      `json:"creationDate"`
	RenewalDate     string      `json:"renewalDate"`
	Status          string      `json:"status"`
	CurrencyCode    string      `json:"currencyCode"`
	DeploymentID    string      `json:"deploymentId"`
}

// Deployment is a vendor sub-grouping of a global customer's entitlements.
type Deployment struct {
	DeploymentID   string         `json:"deploymentId"`
	Status         string         `json:"status"`
	CompanyProfile CompanyProfile `json:"companyProfile"`
}

// Commitment returns the customer's 3YC commitment, or nil when the customer
// has no THREE_YEAR_COMMIT benefit.
func (c Customer) Commitment() *Commitment {
	for _, benefit := range c.Benefits {
		if benefit.Type == benefitTypeThreeYearCommit {
			return benefit.Commitment
		}
	}
	return nil
}

// CommitmentRequest returns the pending commitment request, or the
// recommitment request when recommitment is true.
func (c Customer) CommitmentRequest(recommitment bool) *CommitmentRequest {
	for _, benefit := range c.Benefits {
		if benefit.Type != benefitTypeThreeYearCommit {
			continue
		}
		if recommitment {
			return benefit.RecommitmentRequest
		}
		return benefit.CommitmentRequest
	}
	return nil
}

// CommitmentStartDate returns the start date of a commitment that is
// COMMITTED or ACTIVE and has not ended before today. Commitment-window
// prices are anchored to this date.
func (c Customer) CommitmentStartDate(today time.Time) (time.Time, bool) {
	commitment := c.Commitment()
	if commitment == nil {
		return time.Time{}, false
	}
	if commitment.Status != CommitmentStatusCommitted && commitment.Status != CommitmentStatusActive {
		return time.Time{}, false
	}
	end, err := time.Parse("2006-01-02", commitment.EndDate)
	if err != nil || end.Before(today.Truncate(24*time.Hour)) {
		return time.Time{}, false
	}
	start, err := time.Parse("2006-01-02", commitment.StartDate)
	if err != nil {
		return time.Time{}, false
	}
	return start, true
}

// DiscountLevel returns the customer's discount level for the given offer type.
func (c Customer) DiscountLevel(offerType string) (string, bool) {
	for _, discount := range c.Discounts {
		if discount.OfferType == offerType {
			return discount.Level, true
		}
	}
	return "", false
}

// PartialSKU strips the discount-level segment from a full offer id, leaving
// the catalog-stable prefix.
func PartialSKU(offerID string) string {
	if len(offerID) <= 10 {
		return offerID
	}
	return offerID[:10]
}

// IsConsumableSKU reports whether the SKU identifies a consumables offer.
// The offer type marker sits at the 11th character of the vendor SKU.
func IsConsumableSKU(sku string) bool {
	return len(sku) > 10 && sku[10] == 'T'
}

// SKUWithDiscountLevel rewrites the discount-level segment of a SKU with the
// customer's level for the matching offer type. The input may be a full offer
// id or a partial SKU; partial SKUs are returned unchanged.
func SKUWithDiscountLevel(sku string, customer Customer) string {
	if len(sku) < 12 {
		return sku
	}
	offerType := OfferTypeLicense
	if IsConsumableSKU(sku) {
		offerType = OfferTypeConsumables
	}
	level, ok := customer.DiscountLevel(offerType)
	if !ok {
		return sku
	}
	return sku[:10] + level + sku[12:]
}
