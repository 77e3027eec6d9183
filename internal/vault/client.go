// Package vault stores the external executor's signing credentials in
// HashiCorp Vault, with an in-memory store when Vault is disabled (paper
// trading and development).
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Credentials are the signing keys the live executor needs per chain.
type Credentials struct {
	Chain      string `json:"chain"`
	APIKey     string `json:"api_key"`
	SigningKey string `json:"signing_key"`
	WalletAddr string `json:"wallet_addr"`
}

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// Client wraps the Vault API client behind a per-chain credential cache.
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	cache map[string]*Credentials
}

// NewClient creates a Vault client. With Enabled false the client is a pure
// in-memory store.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]*Credentials),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// StoreCredentials writes executor credentials for a chain.
func (c *Client) StoreCredentials(ctx context.Context, creds Credentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[creds.Chain] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":     creds.APIKey,
			"signing_key": creds.SigningKey,
			"wallet_addr": creds.WalletAddr,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(creds.Chain), secretData); err != nil {
		return fmt.Errorf("failed to store executor credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[creds.Chain] = &creds
	c.mu.Unlock()
	return nil
}

// GetCredentials reads executor credentials for a chain, cache first.
func (c *Client) GetCredentials(ctx context.Context, chain string) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[chain]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("executor credentials for %s not found and vault is disabled", chain)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(chain))
	if err != nil {
		return nil, fmt.Errorf("failed to read executor credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("executor credentials for %s not found", chain)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &Credentials{
		Chain:      chain,
		APIKey:     getString(data, "api_key"),
		SigningKey: getString(data, "signing_key"),
		WalletAddr: getString(data, "wallet_addr"),
	}

	c.mu.Lock()
	c.cache[chain] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes a chain's credentials from the cache and Vault.
func (c *Client) DeleteCredentials(ctx context.Context, chain string) error {
	c.mu.Lock()
	delete(c.cache, chain)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.secretPath(chain)); err != nil {
		return fmt.Errorf("failed to delete executor credentials: %w", err)
	}
	return nil
}

func (c *Client) secretPath(chain string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, chain)
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
