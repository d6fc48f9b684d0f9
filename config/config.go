package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"entsync/licensing"
)

// Config is the process configuration, loaded from the environment.
type Config struct {
	DatabaseURL      string
	CommerceAPIURL   string
	CommerceAPIToken string
	VendorAPIURL     string
	VendorTokenURL   string
	CredentialsFile  string
	ProductID        string
	WebhookURL       string
	KafkaBrokers     []string
	KafkaAlertTopic  string
}

// Load reads the configuration from environment variables. Endpoints and
// credentials are required; notification channels are optional.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		CommerceAPIURL:   os.Getenv("COMMERCE_API_URL"),
		CommerceAPIToken: os.Getenv("COMMERCE_API_TOKEN"),
		VendorAPIURL:     os.Getenv("VENDOR_API_URL"),
		VendorTokenURL:   os.Getenv("VENDOR_TOKEN_URL"),
		CredentialsFile:  os.Getenv("VENDOR_CREDENTIALS_FILE"),
		ProductID:        os.Getenv("PRODUCT_ID"),
		WebhookURL:       os.Getenv("ALERT_WEBHOOK_URL"),
		KafkaAlertTopic:  os.Getenv("ALERT_KAFKA_TOPIC"),
	}
	if brokers := os.Getenv("ALERT_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	for name, value := range map[string]string{
		"DATABASE_URL":            cfg.DatabaseURL,
		"COMMERCE_API_URL":        cfg.CommerceAPIURL,
		"COMMERCE_API_TOKEN":      cfg.CommerceAPIToken,
		"VENDOR_API_URL":          cfg.VendorAPIURL,
		"VENDOR_TOKEN_URL":        cfg.VendorTokenURL,
		"VENDOR_CREDENTIALS_FILE": cfg.CredentialsFile,
		"PRODUCT_ID":              cfg.ProductID,
	} {
		if value == "" {
			return Config{}, fmt.Errorf("config: %s is required", name)
		}
	}
	return cfg, nil
}

type credentialFile struct {
	Authorizations []struct {
		AuthorizationID string `yaml:"authorization_id"`
		ClientID        string `yaml:"client_id"`
		ClientSecret    string `yaml:"client_secret"`
		TechnicalEmail  string `yaml:"technical_email"`
	} `yaml:"authorizations"`
}

// LoadCredentials reads the per-authorization vendor credentials file.
func LoadCredentials(path string) ([]licensing.Credential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read credentials file: %w", err)
	}
	var file credentialFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse credentials file: %w", err)
	}
	if len(file.Authorizations) == 0 {
		return nil, fmt.Errorf("config: credentials file %s lists no authorizations", path)
	}

	credentials := make([]licensing.Credential, 0, len(file.Authorizations))
	for _, auth := range file.Authorizations {
		if auth.AuthorizationID == "" || auth.ClientID == "" || auth.ClientSecret == "" {
			return nil, fmt.Errorf("config: incomplete credential entry for authorization %q", auth.AuthorizationID)
		}
		credentials = append(credentials, licensing.Credential{
			AuthorizationID: auth.AuthorizationID,
			ClientID:        auth.ClientID,
			ClientSecret:    auth.ClientSecret,
			TechnicalEmail:  auth.TechnicalEmail,
		})
	}
	return credentials, nil
}
