package licensing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin vendor platform HTTP client. Every call carries a fixed
// timeout and performs no retries; failures surface to the reconciliation
// pass that issued them.
type Client struct {
	baseURL    string
	authorizer *Authorizer
	httpClient *http.Client
}

func NewClient(baseURL string, authorizer *Authorizer, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		authorizer: authorizer,
		httpClient: httpClient,
	}
}

// GetCustomer fetches the authoritative customer record.
func (c *Client) GetCustomer(ctx context.Context, authorizationID, customerID string) (Customer, error) {
	var customer Customer
	path := fmt.Sprintf("/v3/customers/%s", customerID)
	if err := c.do(ctx, authorizationID, http.MethodGet, path, nil, &customer); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

// GetSubscriptions fetches every vendor subscription of the customer,
// including deployment-scoped ones.
func (c *Client) GetSubscriptions(ctx context.Context, authorizationID, customerID string) ([]Subscription, error) {
	var payload struct {
		Items []Subscription `json:"items"`
	}
	path := fmt.Sprintf("/v3/customers/%s/subscriptions", customerID)
	if err := c.do(ctx, authorizationID, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// SubscriptionUpdate carries the mutable fields of a vendor subscription.
// Nil fields are left untouched.
type SubscriptionUpdate struct {
	AutoRenewal *bool
}

// UpdateSubscription patches the subscription's auto-renewal configuration
// and returns the updated record.
func (c *Client) UpdateSubscription(ctx context.Context, authorizationID, customerID, subscriptionID string, update SubscriptionUpdate) (Subscription, error) {
	body := map[string]any{}
	if update.AutoRenewal != nil {
		body["autoRenewal"] = map[string]any{"enabled": *update.AutoRenewal}
	}

	var subscription Subscription
	path := fmt.Sprintf("/v3/customers/%s/subscriptions/%s", customerID, subscriptionID)
	if err := c.do(ctx, authorizationID, http.MethodPatch, path, body, &subscription); err != nil {
		return Subscription{}, err
	}
	return subscription, nil
}

// GetCustomerDeployments returns the customer's deployments in active status.
func (c *Client) GetCustomerDeployments(ctx context.Context, authorizationID, customerID string) ([]Deployment, error) {
	var payload struct {
		Items []Deployment `json:"items"`
	}
	path := fmt.Sprintf("/v3/customers/%s/deployments?filter=status==1000", customerID)
	if err := c.do(ctx, authorizationID, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	active := make([]Deployment, 0, len(payload.Items))
	for _, deployment := range payload.Items {
		if deployment.Status == StatusProcessed {
			active = append(active, deployment)
		}
	}
	return active, nil
}

func (c *Client) do(ctx context.Context, authorizationID, method, path string, body, out any) error {
	token, err := c.authorizer.Token(ctx, authorizationID)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("licensing: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("licensing: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("licensing: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("licensing: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Code == "" {
		return &APIError{
			Code:    fmt.Sprintf("http-%d", resp.StatusCode),
			Message: string(raw),
		}
	}
	return &APIError{Code: payload.Code, Message: payload.Message}
}
