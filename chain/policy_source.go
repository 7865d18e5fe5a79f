// Package chain is a thin JSON-RPC client used only for the optional
// on-chain correlation of the Policy Gate's capability check. Per spec
// this client is an external collaborator, not core engineering: it is
// deliberately a stdlib net/http caller rather than a full chain SDK, and
// it never submits transactions or holds keys.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

const defaultTimeout = 7 * time.Second

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// autoFinalizeResult is the shape expected back from the RPC method that
// reports whether the on-chain program authority permits a given action.
type autoFinalizeResult struct {
	Allowed bool `json:"allowed"`
}

// PolicySource calls a JSON-RPC endpoint's "escrow_allowsAutoFinalize"
// method to answer core.PolicySource. It implements core.PolicySource so
// it can be handed to policy.NewGate directly, or left nil when no
// RPC_URL is configured (the gate then falls back to config flags).
type PolicySource struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

func NewPolicySource(endpoint string) *PolicySource {
	return &PolicySource{
		Endpoint: strings.TrimSpace(endpoint),
		Client:   &http.Client{},
		Timeout:  defaultTimeout,
	}
}

func (p *PolicySource) AllowsAutoFinalize(ctx context.Context, action core.SuggestedAction) (bool, error) {
	if p == nil || p.Endpoint == "" {
		return false, core.DependencyError("chain: rpc endpoint is not configured")
	}
	if !action.Valid() || action == core.SuggestedReview {
		return false, fmt.Errorf("chain: invalid auto-finalize action %q", action)
	}

	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "escrow_allowsAutoFinalize",
		Params:  []any{string(action)},
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return false, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("chain: rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("chain: rpc endpoint returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return false, fmt.Errorf("chain: malformed rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return false, fmt.Errorf("chain: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var result autoFinalizeResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return false, fmt.Errorf("chain: malformed rpc result: %w", err)
	}
	return result.Allowed, nil
}

var _ core.PolicySource = (*PolicySource)(nil)
