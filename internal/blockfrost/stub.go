package blockfrost

import (
	"context"
	"net/http"
	"sync"

	"github.com/Adacracker/MintTrail/internal/apperr"
)

// ---------------------------------------------------------------------------
// Stub Client (for testing and development)
// ---------------------------------------------------------------------------

// StubClient is an in-memory Client. Unknown keys answer like Blockfrost
// does: a 404 UpstreamError.
type StubClient struct {
	mu            sync.RWMutex
	assets        map[string]*Asset
	history       map[string][]AssetHistoryEvent
	policyAssets  map[string][]PolicyAsset
	holders       map[string][]AssetAddress
	txs           map[string]*Transaction
	utxos         map[string]*TransactionUTXOs
	addressTxs    map[string][]AddressTransaction
	failEndpoints map[string]error
	failNext      bool
	calls         map[string]int
	lookups       []string
}

// NewStubClient creates an empty stub.
func NewStubClient() *StubClient {
	return &StubClient{
		assets:        make(map[string]*Asset),
		history:       make(map[string][]AssetHistoryEvent),
		policyAssets:  make(map[string][]PolicyAsset),
		holders:       make(map[string][]AssetAddress),
		txs:           make(map[string]*Transaction),
		utxos:         make(map[string]*TransactionUTXOs),
		addressTxs:    make(map[string][]AddressTransaction),
		failEndpoints: make(map[string]error),
		calls:         make(map[string]int),
	}
}

// AddAsset registers asset metadata and, unless it already has entries,
// lists the asset under its policy.
func (s *StubClient) AddAsset(a Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Asset == "" {
		a.Asset = a.PolicyID + a.AssetName
	}
	s.assets[a.Asset] = &a
	for _, pa := range s.policyAssets[a.PolicyID] {
		if pa.Asset == a.Asset {
			return
		}
	}
	s.policyAssets[a.PolicyID] = append(s.policyAssets[a.PolicyID], PolicyAsset{Asset: a.Asset, Quantity: a.Quantity})
}

// SetPolicyAssets overrides the policy listing.
func (s *StubClient) SetPolicyAssets(policyID string, assets []PolicyAsset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policyAssets[policyID] = assets
}

// AddHistory sets the history of an asset.
func (s *StubClient) AddHistory(assetID string, events []AssetHistoryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[assetID] = events
}

// AddHolders sets the address listing of an asset.
func (s *StubClient) AddHolders(assetID string, holders []AssetAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[assetID] = holders
}

// AddTransaction registers a transaction and its UTXOs.
func (s *StubClient) AddTransaction(tx Transaction, utxos TransactionUTXOs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	utxos.Hash = tx.Hash
	s.txs[tx.Hash] = &tx
	s.utxos[tx.Hash] = &utxos
}

// AddAddressTransactions sets the transaction listing of an address.
func (s *StubClient) AddAddressTransactions(address string, txs []AddressTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressTxs[address] = txs
}

// FailEndpoint makes every call to endpoint return err. A nil err
// clears the failure.
func (s *StubClient) FailEndpoint(endpoint string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failEndpoints, endpoint)
		return
	}
	s.failEndpoints[endpoint] = err
}

// SetFailNext makes the next call fail with a 500.
func (s *StubClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Calls returns how many times endpoint was called.
func (s *StubClient) Calls(endpoint string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[endpoint]
}

// AssetLookups returns the ids passed to GetAsset, in call order.
func (s *StubClient) AssetLookups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.lookups...)
}

// enter records the call and reports an injected failure, if any.
func (s *StubClient) enter(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	if s.failNext {
		s.failNext = false
		return apperr.Upstream(http.StatusInternalServerError, "Internal Server Error", nil)
	}
	return s.failEndpoints[endpoint]
}

func notFound() error {
	return apperr.Upstream(http.StatusNotFound, "Not Found", nil)
}

func paginate[T any](items []T, page Page) []T {
	out := append([]T(nil), items...)
	if page.Order == OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if page.Count > 0 && len(out) > page.Count {
		out = out[:page.Count]
	}
	return out
}

func (s *StubClient) GetAsset(_ context.Context, assetID string) (*Asset, error) {
	s.mu.Lock()
	s.lookups = append(s.lookups, assetID)
	s.mu.Unlock()
	if err := s.enter("asset"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[assetID]
	if !ok {
		return nil, notFound()
	}
	cp := *a
	return &cp, nil
}

func (s *StubClient) GetAssetHistory(_ context.Context, assetID string, page Page) ([]AssetHistoryEvent, error) {
	if err := s.enter("asset_history"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	events, ok := s.history[assetID]
	if !ok {
		return nil, notFound()
	}
	return paginate(events, page), nil
}

func (s *StubClient) GetPolicyAssets(_ context.Context, policyID string, page Page) ([]PolicyAsset, error) {
	if err := s.enter("policy_assets"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets, ok := s.policyAssets[policyID]
	if !ok {
		return nil, notFound()
	}
	return paginate(assets, page), nil
}

func (s *StubClient) GetAssetAddresses(_ context.Context, assetID string, page Page) ([]AssetAddress, error) {
	if err := s.enter("asset_addresses"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	holders, ok := s.holders[assetID]
	if !ok {
		return nil, notFound()
	}
	return paginate(holders, page), nil
}

func (s *StubClient) GetTransaction(_ context.Context, txHash string) (*Transaction, error) {
	if err := s.enter("tx"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[txHash]
	if !ok {
		return nil, notFound()
	}
	cp := *tx
	return &cp, nil
}

func (s *StubClient) GetTransactionUTXOs(_ context.Context, txHash string) (*TransactionUTXOs, error) {
	if err := s.enter("tx_utxos"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.utxos[txHash]
	if !ok {
		return nil, notFound()
	}
	cp := *u
	return &cp, nil
}

func (s *StubClient) GetAddressTransactions(_ context.Context, address string, page Page) ([]AddressTransaction, error) {
	if err := s.enter("address_txs"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs, ok := s.addressTxs[address]
	if !ok {
		return nil, notFound()
	}
	return paginate(txs, page), nil
}

func (s *StubClient) Health(_ context.Context) error {
	return s.enter("health")
}
