package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the commerce platform API. Calls carry a fixed timeout and
// no retries; recovery happens through idempotent re-invocation of the pass.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// GetAgreement fetches one agreement with lines, subscriptions, assets and
// parameters.
func (c *Client) GetAgreement(ctx context.Context, agreementID string) (Agreement, error) {
	var agreement Agreement
	path := fmt.Sprintf("/commerce/agreements/%s?select=lines,subscriptions,assets,parameters,listing,product", agreementID)
	if err := c.do(ctx, "get agreement", http.MethodGet, path, nil, &agreement); err != nil {
		return Agreement{}, err
	}
	return agreement, nil
}

// AgreementUpdate carries the mutable agreement fields. Nil slices are
// omitted from the request.
type AgreementUpdate struct {
	Lines       []Line       `json:"lines,omitempty"`
	Parameters  *Parameters  `json:"parameters,omitempty"`
	ExternalIDs *ExternalIDs `json:"externalIds,omitempty"`
}

// UpdateAgreement patches an agreement's lines and/or parameters.
func (c *Client) UpdateAgreement(ctx context.Context, agreementID string, update AgreementUpdate) error {
	path := fmt.Sprintf("/commerce/agreements/%s", agreementID)
	return c.do(ctx, "update agreement", http.MethodPut, path, update, nil)
}

// CreateAgreement creates a new agreement, used for deployment agreements of
// global customers.
func (c *Client) CreateAgreement(ctx context.Context, agreement Agreement) (Agreement, error) {
	var created Agreement
	if err := c.do(ctx, "create agreement", http.MethodPost, "/commerce/agreements", agreement, &created); err != nil {
		return Agreement{}, err
	}
	return created, nil
}

// GetAgreementsByQuery runs an RQL query against the agreements collection.
func (c *Client) GetAgreementsByQuery(ctx context.Context, query string) ([]Agreement, error) {
	var payload struct {
		Data []Agreement `json:"data"`
	}
	path := "/commerce/agreements?" + query
	if err := c.do(ctx, "query agreements", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// GetAgreementsByCustomerDeployments returns the agreements bound to the
// given vendor deployment ids.
func (c *Client) GetAgreementsByCustomerDeployments(ctx context.Context, deploymentIDs []string) ([]Agreement, error) {
	if len(deploymentIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		"any(parameters.fulfillment,and(eq(externalId,%s),in(displayValue,(%s))))&select=lines,subscriptions,assets,parameters,listing,product",
		ParamDeploymentID,
		strings.Join(deploymentIDs, ","),
	)
	return c.GetAgreementsByQuery(ctx, query)
}

// GetAgreementSubscription fetches one subscription with lines and parameters.
func (c *Client) GetAgreementSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	var subscription Subscription
	path := fmt.Sprintf("/commerce/subscriptions/%s", subscriptionID)
	if err := c.do(ctx, "get subscription", http.MethodGet, path, nil, &subscription); err != nil {
		return Subscription{}, err
	}
	return subscription, nil
}

// SubscriptionUpdate carries the mutable subscription fields.
type SubscriptionUpdate struct {
	Lines          []Line      `json:"lines,omitempty"`
	Parameters     *Parameters `json:"parameters,omitempty"`
	CommitmentDate string      `json:"commitmentDate,omitempty"`
	AutoRenew      *bool       `json:"autoRenew,omitempty"`
	Template       *Template   `json:"template,omitempty"`
}

// UpdateAgreementSubscription patches a subscription.
func (c *Client) UpdateAgreementSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) error {
	path := fmt.Sprintf("/commerce/subscriptions/%s", subscriptionID)
	return c.do(ctx, "update subscription", http.MethodPut, path, update, nil)
}

// CreateAgreementSubscription materializes a new local subscription.
func (c *Client) CreateAgreementSubscription(ctx context.Context, subscription Subscription) (Subscription, error) {
	var created Subscription
	if err := c.do(ctx, "create subscription", http.MethodPost, "/commerce/subscriptions", subscription, &created); err != nil {
		return Subscription{}, err
	}
	return created, nil
}

// TerminateSubscription terminates a subscription with a reason recorded on
// the termination order.
func (c *Client) TerminateSubscription(ctx context.Context, subscriptionID, reason string) error {
	path := fmt.Sprintf("/commerce/subscriptions/%s/terminate", subscriptionID)
	body := map[string]string{"description": reason}
	return c.do(ctx, "terminate subscription", http.MethodPost, path, body, nil)
}

// GetAssetByID fetches one asset with lines and parameters.
func (c *Client) GetAssetByID(ctx context.Context, assetID string) (Asset, error) {
	var asset Asset
	path := fmt.Sprintf("/commerce/assets/%s", assetID)
	if err := c.do(ctx, "get asset", http.MethodGet, path, nil, &asset); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// CreateAsset materializes a new local one-time asset.
func (c *Client) CreateAsset(ctx context.Context, asset Asset) (Asset, error) {
	var created Asset
	if err := c.do(ctx, "create asset", http.MethodPost, "/commerce/assets", asset, &created); err != nil {
		return Asset{}, err
	}
	return created, nil
}

// AssetUpdate carries the mutable asset fields.
type AssetUpdate struct {
	Status     string      `json:"status,omitempty"`
	Parameters *Parameters `json:"parameters,omitempty"`
	Template   *Template   `json:"template,omitempty"`
}

// UpdateAsset patches an asset.
func (c *Client) UpdateAsset(ctx context.Context, assetID string, update AssetUpdate) error {
	path := fmt.Sprintf("/commerce/assets/%s", assetID)
	return c.do(ctx, "update asset", http.MethodPut, path, update, nil)
}

// GetProductItemsBySKUs resolves catalog items by their partial vendor SKUs.
func (c *Client) GetProductItemsBySKUs(ctx context.Context, productID string, skus []string) ([]Item, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	var payload struct {
		Data []Item `json:"data"`
	}
	query := url.Values{}
	query.Set("product.id", productID)
	query.Set("externalIds.vendor", strings.Join(skus, ","))
	path := "/catalog/items?" + query.Encode()
	if err := c.do(ctx, "get product items", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// GetTemplateByName resolves a subscription lifecycle template by name,
// returning false when the product defines no such template.
func (c *Client) GetTemplateByName(ctx context.Context, productID, name string) (Template, bool, error) {
	return c.getTemplate(ctx, productID, name, "Subscription")
}

// GetAssetTemplateByName resolves an asset lifecycle template by name.
func (c *Client) GetAssetTemplateByName(ctx context.Context, productID, name string) (Template, bool, error) {
	return c.getTemplate(ctx, productID, name, "Asset")
}

func (c *Client) getTemplate(ctx context.Context, productID, name, templateType string) (Template, bool, error) {
	var payload struct {
		Data []Template `json:"data"`
	}
	query := url.Values{}
	query.Set("name", name)
	query.Set("type", templateType)
	path := fmt.Sprintf("/catalog/products/%s/templates?%s", productID, query.Encode())
	if err := c.do(ctx, "get template", http.MethodGet, path, nil, &payload); err != nil {
		return Template{}, false, err
	}
	if len(payload.Data) == 0 {
		return Template{}, false, nil
	}
	return payload.Data[0], true, nil
}

// GetItemPricesByPriceListID returns the commerce platform's own unit price
// for one catalog item on the given price list. Used as the fallback when a
// SKU is absent from the resolved vendor price map.
func (c *Client) GetItemPricesByPriceListID(ctx context.Context, priceListID, itemID string) ([]Price, error) {
	var payload struct {
		Data []struct {
			UnitPP float64 `json:"unitPP"`
		} `json:"data"`
	}
	query := url.Values{}
	query.Set("item.id", itemID)
	path := fmt.Sprintf("/catalog/price-lists/%s/items?%s", priceListID, query.Encode())
	if err := c.do(ctx, "get item prices", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	prices := make([]Price, 0, len(payload.Data))
	for _, entry := range payload.Data {
		prices = append(prices, Price{UnitPP: entry.UnitPP})
	}
	return prices, nil
}

// GetListing resolves the listing binding a product, authorization and price
// list, returning false when none exists yet.
func (c *Client) GetListing(ctx context.Context, productID, authorizationID, priceListID string) (Listing, bool, error) {
	var payload struct {
		Data []Listing `json:"data"`
	}
	query := url.Values{}
	query.Set("product.id", productID)
	query.Set("authorization.id", authorizationID)
	query.Set("priceList.id", priceListID)
	path := "/commerce/listings?" + query.Encode()
	if err := c.do(ctx, "get listing", http.MethodGet, path, nil, &payload); err != nil {
		return Listing{}, false, err
	}
	if len(payload.Data) == 0 {
		return Listing{}, false, nil
	}
	return payload.Data[0], true, nil
}

// GetPriceListByCurrency resolves the product price list for a currency.
func (c *Client) GetPriceListByCurrency(ctx context.Context, productID, currency string) (PriceList, bool, error) {
	var payload struct {
		Data []PriceList `json:"data"`
	}
	query := url.Values{}
	query.Set("product.id", productID)
	query.Set("currency", currency)
	path := "/catalog/price-lists?" + query.Encode()
	if err := c.do(ctx, "get price list", http.MethodGet, path, nil, &payload); err != nil {
		return PriceList{}, false, err
	}
	if len(payload.Data) == 0 {
		return PriceList{}, false, nil
	}
	return payload.Data[0], true, nil
}

// GetAuthorizationByCurrencyAndCountry resolves the authorization serving a
// deployment's currency/country pair.
func (c *Client) GetAuthorizationByCurrencyAndCountry(ctx context.Context, productID, currency, country string) (Reference, bool, error) {
	var payload struct {
		Data []Reference `json:"data"`
	}
	query := url.Values{}
	query.Set("product.id", productID)
	query.Set("currency", currency)
	query.Set("country", country)
	path := "/commerce/authorizations?" + query.Encode()
	if err := c.do(ctx, "get authorization", http.MethodGet, path, nil, &payload); err != nil {
		return Reference{}, false, err
	}
	if len(payload.Data) == 0 {
		return Reference{}, false, nil
	}
	return payload.Data[0], true, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("commerce: encode %s: %w", operation, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("commerce: build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &APIError{Operation: operation, Status: resp.StatusCode, Detail: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("commerce: decode %s response: %w", operation, err)
	}
	return nil
}
