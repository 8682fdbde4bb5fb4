package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

var (
	dialer = &net.Dialer{
		Timeout:   time.Second,
		KeepAlive: 60 * time.Second,
	}

	transport = &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 50,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
	}

	httpClient = &http.Client{
		Timeout:   5 * time.Second,
		Transport: transport,
	}
)

// sendBundleParams is the eth_sendBundle wire shape recipients expect.
type sendBundleParams struct {
	Txs               []hexutil.Bytes `json:"txs"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	MinTimestamp      uint64          `json:"minTimestamp,omitempty"`
	MaxTimestamp      uint64          `json:"maxTimestamp,omitempty"`
	RevertingTxHashes []common.Hash   `json:"revertingTxHashes,omitempty"`
	ReplacementUuid   string          `json:"replacementUuid,omitempty"`
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// BundleSender delivers one bundle to one recipient. Exists to allow mocking
// delivery out of tests.
type BundleSender interface {
	SendBundle(ctx context.Context, bundle *strataTypes.Bundle) error
	Endpoint() string
}

// Client forwards bundles to a single recipient over HTTP JSON-RPC.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a forwarding client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
	}
}

// Endpoint returns the recipient URL.
func (c *Client) Endpoint() string { return c.endpoint }

// SendBundle delivers the bundle as an eth_sendBundle call. Any transport,
// HTTP or JSON-RPC level failure is returned so the scheduler can requeue.
func (c *Client) SendBundle(ctx context.Context, bundle *strataTypes.Bundle) error {
	params := sendBundleParams{
		Txs:               make([]hexutil.Bytes, 0, len(bundle.Txs)),
		BlockNumber:       hexutil.Uint64(bundle.TargetBlock),
		MinTimestamp:      bundle.MinTimestamp,
		MaxTimestamp:      bundle.MaxTimestamp,
		RevertingTxHashes: bundle.RevertingTxHashes,
	}
	if bundle.ReplacementUUID != uuid.Nil {
		params.ReplacementUuid = bundle.ReplacementUUID.String()
	}
	for _, tx := range bundle.Txs {
		encoded, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal bundle tx: %w", err)
		}
		params.Txs = append(params.Txs, encoded)
	}

	body, err := jsoniter.Marshal(&jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendBundle",
		Params:  []interface{}{params},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recipient returned status %d", resp.StatusCode)
	}
	var rpcResp jsonrpcResponse
	if err := jsoniter.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("recipient error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return nil
}
