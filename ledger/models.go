package ledger

import "time"

// Deployment row lifecycle. A row starts pending when first observed on the
// vendor side, becomes created once its agreement exists, and carries an
// error description when topology derivation failed.
const (
	StatusPending = "pending"
	StatusCreated = "created"
	StatusError   = "error"
)

// Deployment is one tracked vendor deployment of a global customer, keyed by
// (membership id, deployment id). Topology fields are derived once when the
// deployment is first observed so later passes need not re-derive them.
type Deployment struct {
	DeploymentID    string
	MainAgreementID string
	AgreementID     string
	MembershipID    string
	TransferID      string
	CustomerID      string
	ProductID       string
	AccountID       string
	SellerID        string
	LicenseeID      string
	AuthorizationID string
	PriceListID     string
	ListingID       string
	Currency        string
	Country         string
	Status          string
	ErrorDetail     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Transfer is the membership/transfer identity of a migrated customer,
// looked up when a newly observed deployment must be keyed.
type Transfer struct {
	MembershipID    string
	TransferID      string
	CustomerID      string
	AuthorizationID string
	ProductID       string
}

// PriceListItem is one dated price list entry. A nil ValidUntil marks the
// standing current price; dated windows never change once closed.
type PriceListItem struct {
	SKU        string
	ProductID  string
	Currency   string
	UnitPP     float64
	ValidFrom  *time.Time
	ValidUntil *time.Time
}
