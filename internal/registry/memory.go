package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

var (
	ErrAssetNotFound  = errors.New("asset not found")
	ErrAssetExists    = errors.New("asset already exists")
	ErrNotAssetOwner  = errors.New("from is not the asset owner")
	ErrTransferDenied = errors.New("transfer not approved")
)

// Memory is an in-process asset registry with per-asset and operator
// approvals. Transfers are authorised for a single operator, the marketplace.
type Memory struct {
	mu        sync.RWMutex
	operator  model.Address
	owners    map[model.ListingKey]model.Address
	approvals map[model.ListingKey]model.Address
	operators map[model.Address]map[model.Address]bool

	// OnTransfer runs after a transfer is applied, outside the lock.
	OnTransfer func(ctx context.Context, key model.ListingKey, from, to model.Address)
}

func NewMemory(operator model.Address) *Memory {
	return &Memory{
		operator:  operator,
		owners:    make(map[model.ListingKey]model.Address),
		approvals: make(map[model.ListingKey]model.Address),
		operators: make(map[model.Address]map[model.Address]bool),
	}
}

// Mint registers a new asset owned by owner.
func (m *Memory) Mint(collection model.Address, assetID string, owner model.Address) error {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[key]; ok {
		return fmt.Errorf("%w: %s", ErrAssetExists, key)
	}
	m.owners[key] = owner
	return nil
}

// Seed mints every asset named in entries and approves the operator for
// each owner. Entries have the form "collection/assetId=owner" and are
// separated by commas or whitespace. It returns the number of assets minted.
func (m *Memory) Seed(entries string) (int, error) {
	n := 0
	for _, entry := range strings.FieldsFunc(entries, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	}) {
		asset, rawOwner, ok := strings.Cut(entry, "=")
		if !ok {
			return n, fmt.Errorf("seed entry %q: missing owner", entry)
		}
		rawCollection, assetID, ok := strings.Cut(asset, "/")
		if !ok || assetID == "" {
			return n, fmt.Errorf("seed entry %q: want collection/assetId", entry)
		}
		collection, err := model.ParseAddress(rawCollection)
		if err != nil {
			return n, fmt.Errorf("seed entry %q: collection: %w", entry, err)
		}
		owner, err := model.ParseAddress(rawOwner)
		if err != nil {
			return n, fmt.Errorf("seed entry %q: owner: %w", entry, err)
		}
		if err := m.Mint(collection, assetID, owner); err != nil {
			return n, err
		}
		m.SetApprovalForAll(owner, m.operator, true)
		n++
	}
	return n, nil
}

// Approve grants spender the right to transfer one asset. Only the owner may approve.
func (m *Memory) Approve(collection model.Address, assetID string, owner, spender model.Address) error {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.owners[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}
	if cur != owner {
		return ErrNotAssetOwner
	}
	m.approvals[key] = spender
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's assets.
func (m *Memory) SetApprovalForAll(owner, operator model.Address, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops, ok := m.operators[owner]
	if !ok {
		ops = make(map[model.Address]bool)
		m.operators[owner] = ops
	}
	ops[operator] = approved
}

func (m *Memory) OwnerOf(_ context.Context, collection model.Address, assetID string) (model.Address, error) {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}
	return owner, nil
}

func (m *Memory) IsApprovedForTransfer(_ context.Context, collection model.Address, assetID string, spender model.Address) (bool, error) {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}
	return m.approvedLocked(key, owner, spender), nil
}

func (m *Memory) approvedLocked(key model.ListingKey, owner, spender model.Address) bool {
	if a, ok := m.approvals[key]; ok && a == spender {
		return true
	}
	return m.operators[owner][spender]
}

// Transfer moves the asset and clears its single-asset approval.
func (m *Memory) Transfer(ctx context.Context, collection model.Address, assetID string, from, to model.Address) error {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	m.mu.Lock()
	owner, ok := m.owners[key]
	switch {
	case !ok:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	case owner != from:
		m.mu.Unlock()
		return ErrNotAssetOwner
	case !m.approvedLocked(key, owner, m.operator):
		m.mu.Unlock()
		return ErrTransferDenied
	}
	m.owners[key] = to
	delete(m.approvals, key)
	hook := m.OnTransfer
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, key, from, to)
	}
	return nil
}
