package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tokenfolio/internal/decision"
	"tokenfolio/internal/position"
	"tokenfolio/internal/vault"
)

// RemoteExecutor submits orders to the external execution service over HTTP,
// signing each request with the chain's credentials from Vault.
type RemoteExecutor struct {
	baseURL string
	creds   *vault.Client
	client  *http.Client
}

// NewRemoteExecutor creates a live executor client.
func NewRemoteExecutor(baseURL string, creds *vault.Client) *RemoteExecutor {
	return &RemoteExecutor{
		baseURL: baseURL,
		creds:   creds,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type orderRequest struct {
	Token        string  `json:"token"`
	Chain        string  `json:"chain"`
	Side         string  `json:"side"` // buy|sell
	SizeFraction float64 `json:"size_fraction"`
	QuoteAmount  float64 `json:"quote_amount,omitempty"`
	TokenAmount  float64 `json:"token_amount,omitempty"`
	LimitPrice   float64 `json:"limit_price"`
	WalletAddr   string  `json:"wallet_addr"`
}

// Execute submits one order and waits for the fill confirmation.
func (r *RemoteExecutor) Execute(ctx context.Context, act *decision.Action, pos *position.Position, price float64) (*Result, error) {
	creds, err := r.creds.GetCredentials(ctx, pos.Chain)
	if err != nil {
		return nil, fmt.Errorf("executor credentials for %s: %w", pos.Chain, err)
	}

	req := orderRequest{
		Token:        pos.Token,
		Chain:        pos.Chain,
		SizeFraction: act.SizeFraction,
		LimitPrice:   price,
		WalletAddr:   creds.WalletAddr,
	}
	switch act.Type {
	case position.ActionAdd:
		req.Side = "buy"
		req.QuoteAmount = pos.AllocationCap * act.SizeFraction
	case position.ActionTrim, position.ActionEmergencyExit:
		if pos.TotalQuantity <= 0 {
			return nil, ErrNothingToSell
		}
		req.Side = "sell"
		req.TokenAmount = pos.TotalQuantity * act.SizeFraction
		if act.SizeFraction >= 1.0 {
			req.TokenAmount = pos.TotalQuantity
		}
	default:
		return nil, fmt.Errorf("unknown action type %q", act.Type)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", creds.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("executor returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode executor response: %w", err)
	}
	return &result, nil
}
