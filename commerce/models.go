package commerce

import (
	"strconv"
	"strings"
)

// Agreement statuses on the commerce platform.
const (
	AgreementStatusActive     = "Active"
	AgreementStatusTerminated = "Terminated"
)

// Subscription and asset statuses on the commerce platform.
const (
	SubscriptionStatusActive      = "Active"
	SubscriptionStatusUpdating    = "Updating"
	SubscriptionStatusTerminating = "Terminating"
	SubscriptionStatusTerminated  = "Terminated"
	SubscriptionStatusExpired     = "Expired"

	AssetStatusActive      = "Active"
	AssetStatusUpdating    = "Updating"
	AssetStatusTerminating = "Terminating"
	AssetStatusTerminated  = "Terminated"
)

// Parameter external ids used on agreements, subscriptions and assets.
const (
	ParamCustomerID                   = "customerId"
	ParamCotermDate                   = "cotermDate"
	ParamGlobalCustomer               = "globalCustomer"
	ParamDeploymentID                 = "deploymentId"
	ParamDeployments                  = "deployments"
	ParamLastSyncDate                 = "lastSyncDate"
	ParamAdobeSKU                     = "adobeSKU"
	ParamCurrentQuantity              = "currentQuantity"
	ParamRenewalQuantity              = "renewalQuantity"
	ParamRenewalDate                  = "renewalDate"
	ParamUsedQuantity                 = "usedQuantity"
	ParamMarketSegments               = "marketSegments"
	ParamMembershipID                 = "membershipId"
	Param3YC                          = "3YC"
	Param3YCRecommitment              = "3YCRecommitment"
	Param3YCEnrollStatus              = "3YCEnrollStatus"
	Param3YCStartDate                 = "3YCStartDate"
	Param3YCEndDate                   = "3YCEndDate"
	Param3YCCommitmentReqStatus       = "3YCCommitmentRequestStatus"
	Param3YCRecommitmentReqStatus     = "3YCRecommitmentRequestStatus"
	Param3YCLicenses                  = "3YCLicenses"
	Param3YCConsumables               = "3YCConsumables"
)

// Billing term models on catalog items.
const (
	ItemTermsModelOneTime = "one-time"
)

// Parameter is one externalId/value pair of an ordering or fulfillment bag.
// Values are strings except for a few list-valued parameters.
type Parameter struct {
	ExternalID string `json:"externalId"`
	Value      any    `json:"value,omitempty"`
}

// String returns the parameter value as a string; list values collapse to
// their first element.
func (p Parameter) String() string {
	switch v := p.Value.(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// StringList returns the parameter value as a list of strings.
func (p Parameter) StringList() []string {
	switch v := p.Value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Parameters is the two-phase parameter bag carried by agreements,
// subscriptions and assets.
type Parameters struct {
	Ordering    []Parameter `json:"ordering,omitempty"`
	Fulfillment []Parameter `json:"fulfillment,omitempty"`
}

func findParameter(params []Parameter, externalID string) (Parameter, bool) {
	for _, param := range params {
		if param.ExternalID == externalID {
			return param, true
		}
	}
	return Parameter{}, false
}

// FulfillmentValue looks up a fulfillment-phase parameter by external id.
func (p Parameters) FulfillmentValue(externalID string) string {
	param, _ := findParameter(p.Fulfillment, externalID)
	return param.String()
}

// OrderingValue looks up an ordering-phase parameter by external id.
func (p Parameters) OrderingValue(externalID string) string {
	param, _ := findParameter(p.Ordering, externalID)
	return param.String()
}

// ExternalIDs binds a commerce record to its vendor-side counterpart.
type ExternalIDs struct {
	Vendor string `json:"vendor,omitempty"`
}

// Price is the unit purchase price of a line.
type Price struct {
	UnitPP float64 `json:"unitPP"`
}

// Item is a catalog item resolved by partial vendor SKU.
type Item struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	ExternalIDs ExternalIDs `json:"externalIds"`
	Terms       ItemTerms   `json:"terms"`
}

// ItemTerms carries the billing model of a catalog item.
type ItemTerms struct {
	Model string `json:"model"`
}

// Line is one priced item position on an agreement, subscription or asset.
type Line struct {
	ID       string `json:"id,omitempty"`
	Item     Item   `json:"item,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Price    *Price `json:"price,omitempty"`
}

// Template is a lifecycle template attached to subscriptions and assets.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Reference is a bare id reference to another commerce record.
type Reference struct {
	ID string `json:"id"`
}

// Subscription is a recurring local entitlement.
type Subscription struct {
	ID             string      `json:"id"`
	Name           string      `json:"name,omitempty"`
	Status         string      `json:"status"`
	ExternalIDs    ExternalIDs `json:"externalIds"`
	Lines          []Line      `json:"lines,omitempty"`
	Parameters     Parameters  `json:"parameters,omitempty"`
	CommitmentDate string      `json:"commitmentDate,omitempty"`
	StartDate      string      `json:"startDate,omitempty"`
	AutoRenew      bool        `json:"autoRenew"`
	Template       *Template   `json:"template,omitempty"`
	Agreement      *Reference  `json:"agreement,omitempty"`
	Buyer          *Reference  `json:"buyer,omitempty"`
	Licensee       *Reference  `json:"licensee,omitempty"`
	Seller         *Reference  `json:"seller,omitempty"`
	Product        *Reference  `json:"product,omitempty"`
	Price          *PriceBook  `json:"price,omitempty"`
}

// PriceBook carries SKU-keyed unit prices attached at creation time.
type PriceBook struct {
	UnitPP map[string]float64 `json:"unitPP,omitempty"`
}

// Asset is a one-time local entitlement without renewal fields.
type Asset struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Status      string      `json:"status"`
	ExternalIDs ExternalIDs `json:"externalIds"`
	Lines       []Line      `json:"lines,omitempty"`
	Parameters  Parameters  `json:"parameters,omitempty"`
	StartDate   string      `json:"startDate,omitempty"`
	Template    *Template   `json:"template,omitempty"`
	Agreement   *Reference  `json:"agreement,omitempty"`
	Buyer       *Reference  `json:"buyer,omitempty"`
	Licensee    *Reference  `json:"licensee,omitempty"`
	Seller      *Reference  `json:"seller,omitempty"`
	Product     *Reference  `json:"product,omitempty"`
}

// Listing binds a product, an authorization and a price list.
type Listing struct {
	ID        string     `json:"id"`
	PriceList *PriceList `json:"priceList,omitempty"`
	Product   *NamedRef  `json:"product,omitempty"`
	Vendor    *Reference `json:"vendor,omitempty"`
}

// PriceList identifies the commerce price list of a listing.
type PriceList struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

// NamedRef is an id+name reference.
type NamedRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Agreement is the reseller-owned commercial record reconciled by the engine.
type Agreement struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Status        string         `json:"status"`
	ExternalIDs   ExternalIDs    `json:"externalIds,omitempty"`
	Lines         []Line         `json:"lines,omitempty"`
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
	Assets        []Asset        `json:"assets,omitempty"`
	Parameters    Parameters     `json:"parameters,omitempty"`
	Product       *NamedRef      `json:"product,omitempty"`
	Listing       *Listing       `json:"listing,omitempty"`
	Authorization *Reference     `json:"authorization,omitempty"`
	Client        *Reference     `json:"client,omitempty"`
	Buyer         *Reference     `json:"buyer,omitempty"`
	Seller        *Reference     `json:"seller,omitempty"`
	Licensee      *Reference     `json:"licensee,omitempty"`
	Vendor        *Reference     `json:"vendor,omitempty"`
	Template      *Template      `json:"template,omitempty"`
}

// Currency returns the agreement's price list currency.
func (a Agreement) Currency() string {
	if a.Listing != nil && a.Listing.PriceList != nil {
		return a.Listing.PriceList.Currency
	}
	return ""
}

// CustomerID returns the vendor customer id from the fulfillment parameters.
func (a Agreement) CustomerID() string {
	return a.Parameters.FulfillmentValue(ParamCustomerID)
}

// DeploymentID returns the vendor deployment id bound to the agreement, empty
// for the primary agreement.
func (a Agreement) DeploymentID() string {
	return a.Parameters.FulfillmentValue(ParamDeploymentID)
}

// IsGlobalCustomer reports whether the agreement is flagged as belonging to a
// global-sales customer.
func (a Agreement) IsGlobalCustomer() bool {
	return a.Parameters.FulfillmentValue(ParamGlobalCustomer) == "Yes"
}

// DeploymentsCSV returns the tracked deployment descriptors recorded on the
// primary agreement.
func (a Agreement) DeploymentsCSV() []string {
	raw := a.Parameters.FulfillmentValue(ParamDeployments)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// HasProcessingEntitlements reports whether any entitlement is mid-fulfillment.
// Reconciliation never runs concurrently with an in-flight order.
func (a Agreement) HasProcessingEntitlements() bool {
	for _, subscription := range a.Subscriptions {
		if subscription.Status == SubscriptionStatusUpdating ||
			subscription.Status == SubscriptionStatusTerminating {
			return true
		}
	}
	for _, asset := range a.Assets {
		if asset.Status == AssetStatusUpdating ||
			asset.Status == AssetStatusTerminating {
			return true
		}
	}
	return false
}

// ThreeYCFulfillmentParameters extracts the commitment parameters that get
// propagated from the primary agreement to deployment agreements.
func (a Agreement) ThreeYCFulfillmentParameters() []Parameter {
	var out []Parameter
	for _, externalID := range []string{
		Param3YCEnrollStatus,
		Param3YCStartDate,
		Param3YCEndDate,
		Param3YCCommitmentReqStatus,
		Param3YCRecommitmentReqStatus,
	} {
		if param, ok := findParameter(a.Parameters.Fulfillment, externalID); ok {
			out = append(out, param)
		}
	}
	return out
}

// IntValue parses an integer-valued fulfillment parameter, returning 0 when
// missing or malformed.
func (p Parameters) IntValue(externalID string) int {
	n, err := strconv.Atoi(p.FulfillmentValue(externalID))
	if err != nil {
		return 0
	}
	return n
}
