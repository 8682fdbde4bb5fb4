package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/strataline/strata-sequencer/internal/bundlepool"
	"github.com/strataline/strata-sequencer/internal/mempool"
	"github.com/strataline/strata-sequencer/internal/metrics"
	strataTypes "github.com/strataline/strata-sequencer/pkg/types"
)

// JSON-RPC error codes used by the bundle API.
const (
	codeInvalidParams = -32602
	codeServerError   = -32000
)

// rpcError carries a JSON-RPC error code alongside the message.
type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string { return e.message }

func invalidParams(format string, args ...interface{}) error {
	return &rpcError{code: codeInvalidParams, message: fmt.Sprintf(format, args...)}
}

// Handler dispatches JSON-RPC methods to their implementations.
type Handler struct {
	pool    *bundlepool.BundlePool
	txs     *mempool.Pool
	chainID *big.Int
	metrics *metrics.Metrics
	logger  log.Logger
}

// NewHandler creates a new JSON-RPC handler.
func NewHandler(pool *bundlepool.BundlePool, txs *mempool.Pool, chainID uint64) *Handler {
	return &Handler{
		pool:    pool,
		txs:     txs,
		chainID: new(big.Int).SetUint64(chainID),
		logger:  log.New("module", "rpc-handler"),
	}
}

// SetMetrics attaches the Prometheus metrics instance.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// SendBundleArgs is the eth_sendBundle parameter object.
type SendBundleArgs struct {
	Txs               []hexutil.Bytes `json:"txs"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	MinTimestamp      *uint64         `json:"minTimestamp,omitempty"`
	MaxTimestamp      *uint64         `json:"maxTimestamp,omitempty"`
	RevertingTxHashes []common.Hash   `json:"revertingTxHashes,omitempty"`
	ReplacementUuid   string          `json:"replacementUuid,omitempty"`
}

// CancelBundleArgs is the eth_cancelBundle parameter object.
type CancelBundleArgs struct {
	ReplacementUuid string `json:"replacementUuid"`
}

// BundleStatus is the introspection view of a pooled bundle.
type BundleStatus struct {
	Hash         common.Hash    `json:"hash"`
	TxHashes     []common.Hash  `json:"txHashes"`
	TargetBlock  hexutil.Uint64 `json:"targetBlock"`
	MinTimestamp uint64         `json:"minTimestamp,omitempty"`
	MaxTimestamp uint64         `json:"maxTimestamp,omitempty"`
	Sequence     uint64         `json:"sequence"`
	ReceivedAt   time.Time      `json:"receivedAt"`
}

// Handle processes a single JSON-RPC request and returns a response.
func (h *Handler) Handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	h.logger.Debug("RPC request", "method", req.Method, "id", req.ID)

	if h.metrics != nil {
		h.metrics.RPCRequests.Add(1)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "eth_chainId":
		result = hexutil.EncodeBig(h.chainID)
	case "net_version":
		result = fmt.Sprintf("%d", h.chainID.Uint64())
	case "eth_sendRawTransaction":
		result, err = h.sendRawTransaction(req.Params)
	case "eth_sendBundle":
		result, err = h.sendBundle(req.Params)
	case "eth_cancelBundle":
		result, err = h.cancelBundle(req.Params)

	// Strata introspection methods
	case "strata_getBundleByHash":
		result, err = h.getBundleByHash(req.Params)
	case "strata_getBundleByTransaction":
		result, err = h.getBundleByTransaction(req.Params)
	case "strata_getBundlePoolStatus":
		result = h.getBundlePoolStatus()
	case "strata_pendingBundleCount":
		result = h.pool.Len()

	default:
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: -32601, Message: fmt.Sprintf("method %s not found", req.Method)},
		}
	}

	if err != nil {
		if h.metrics != nil {
			h.metrics.RPCErrors.Add(1)
		}
		code := codeServerError
		var re *rpcError
		if errors.As(err, &re) {
			code = re.code
		}
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: code, Message: err.Error()},
		}
	}

	encoded, _ := json.Marshal(result)
	raw := json.RawMessage(encoded)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  &raw,
	}
}

// sendRawTransaction decodes a signed transaction and pools it for the
// plain-transaction phase of block building.
func (h *Handler) sendRawTransaction(params json.RawMessage) (interface{}, error) {
	var args []hexutil.Bytes
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return nil, invalidParams("invalid params")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(args[0]); err != nil {
		return nil, invalidParams("invalid transaction: %v", err)
	}
	if err := h.txs.Add(tx); err != nil {
		return nil, err
	}
	return tx.Hash().Hex(), nil
}

// sendBundle admits a bundle into the pool and returns its hash.
func (h *Handler) sendBundle(params json.RawMessage) (interface{}, error) {
	var args []SendBundleArgs
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return nil, invalidParams("invalid params")
	}
	a := args[0]
	if len(a.Txs) == 0 {
		return nil, invalidParams("bundle missing txs")
	}
	if a.BlockNumber == 0 {
		return nil, invalidParams("bundle missing blockNumber")
	}

	txs := make(types.Transactions, 0, len(a.Txs))
	for i, encoded := range a.Txs {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(encoded); err != nil {
			return nil, invalidParams("invalid tx at index %d: %v", i, err)
		}
		txs = append(txs, tx)
	}

	bundle := &strataTypes.Bundle{
		Txs:               txs,
		TargetBlock:       uint64(a.BlockNumber),
		RevertingTxHashes: a.RevertingTxHashes,
		ReplacementUUID:   strataTypes.ReplacementUUIDFromKey(a.ReplacementUuid),
	}
	if a.MinTimestamp != nil {
		bundle.MinTimestamp = *a.MinTimestamp
	}
	if a.MaxTimestamp != nil {
		bundle.MaxTimestamp = *a.MaxTimestamp
	}

	if err := h.pool.Add(bundle); err != nil {
		switch {
		case errors.Is(err, bundlepool.ErrEmptyBundle),
			errors.Is(err, bundlepool.ErrTimestampRange),
			errors.Is(err, bundlepool.ErrMinTimestampTooFar),
			errors.Is(err, bundlepool.ErrBundleOversized):
			return nil, invalidParams("%v", err)
		default:
			return nil, err
		}
	}

	return map[string]interface{}{"bundleHash": bundle.Hash().Hex()}, nil
}

// cancelBundle removes the bundle holding the given replacement key. Returns
// true iff an entry was removed; cancelling an unknown key is not an error.
func (h *Handler) cancelBundle(params json.RawMessage) (interface{}, error) {
	var args []CancelBundleArgs
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return nil, invalidParams("invalid params")
	}
	if args[0].ReplacementUuid == "" {
		return nil, invalidParams("missing replacementUuid")
	}
	return h.pool.Cancel(strataTypes.ReplacementUUIDFromKey(args[0].ReplacementUuid)), nil
}

func (h *Handler) getBundleByHash(params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return nil, invalidParams("invalid params")
	}
	bundle, ok := h.pool.Get(common.HexToHash(args[0]))
	if !ok {
		return nil, nil
	}
	return bundleStatus(bundle), nil
}

func (h *Handler) getBundleByTransaction(params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return nil, invalidParams("invalid params")
	}
	block, err := hexutil.DecodeUint64(args[0])
	if err != nil {
		return nil, invalidParams("invalid block number: %v", err)
	}
	bundle, ok := h.pool.BundleByTransaction(block, common.HexToHash(args[1]))
	if !ok {
		return nil, nil
	}
	return bundleStatus(bundle), nil
}

func (h *Handler) getBundlePoolStatus() interface{} {
	return map[string]interface{}{
		"bundles":   h.pool.Len(),
		"sizeBytes": h.pool.SizeBytes(),
	}
}

func bundleStatus(b *strataTypes.Bundle) *BundleStatus {
	txHashes := make([]common.Hash, 0, len(b.Txs))
	for _, tx := range b.Txs {
		txHashes = append(txHashes, tx.Hash())
	}
	return &BundleStatus{
		Hash:         b.Hash(),
		TxHashes:     txHashes,
		TargetBlock:  hexutil.Uint64(b.TargetBlock),
		MinTimestamp: b.MinTimestamp,
		MaxTimestamp: b.MaxTimestamp,
		Sequence:     b.Sequence,
		ReceivedAt:   b.ReceivedAt,
	}
}
