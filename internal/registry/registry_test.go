package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/httpclient"
	"github.com/Checker-Finance/nftmarket/pkg/model"
	pkgsecrets "github.com/Checker-Finance/nftmarket/pkg/secrets"
)

const (
	market     = model.Address("0x00000000000000000000000000000000000000ff")
	collection = model.Address("0x00000000000000000000000000000000000000c1")
	alice      = model.Address("0x00000000000000000000000000000000000000a1")
	bob        = model.Address("0x00000000000000000000000000000000000000b1")
)

func TestMemoryOwnershipAndApproval(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(market)
	require.NoError(t, m.Mint(collection, "0", alice))
	assert.ErrorIs(t, m.Mint(collection, "0", bob), ErrAssetExists)

	owner, err := m.OwnerOf(ctx, collection, "0")
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	_, err = m.OwnerOf(ctx, collection, "1")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	ok, err := m.IsApprovedForTransfer(ctx, collection, "0", market)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, m.Approve(collection, "0", bob, market), ErrNotAssetOwner)
	require.NoError(t, m.Approve(collection, "0", alice, market))
	ok, _ = m.IsApprovedForTransfer(ctx, collection, "0", market)
	assert.True(t, ok)
}

func TestMemorySeedMintsAndApprovesOperator(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(market)
	n, err := m.Seed(string(collection) + "/7=" + string(alice) + ", " + string(collection) + "/8=" + string(bob))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	owner, err := m.OwnerOf(ctx, collection, "8")
	require.NoError(t, err)
	assert.Equal(t, bob, owner)

	ok, err := m.IsApprovedForTransfer(ctx, collection, "7", market)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.Transfer(ctx, collection, "7", alice, bob))
}

func TestMemorySeedRejectsMalformedEntries(t *testing.T) {
	for _, entry := range []string{
		"no-owner",
		string(collection) + "=" + string(alice),
		"0x12/1=" + string(alice),
		string(collection) + "/1=bob",
	} {
		_, err := NewMemory(market).Seed(entry)
		assert.Error(t, err, entry)
	}

	n, err := NewMemory(market).Seed("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryTransfer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(market)
	require.NoError(t, m.Mint(collection, "0", alice))

	assert.ErrorIs(t, m.Transfer(ctx, collection, "0", alice, bob), ErrTransferDenied)

	require.NoError(t, m.Approve(collection, "0", alice, market))
	assert.ErrorIs(t, m.Transfer(ctx, collection, "0", bob, alice), ErrNotAssetOwner)

	var hooked bool
	m.OnTransfer = func(_ context.Context, key model.ListingKey, from, to model.Address) {
		hooked = true
		assert.Equal(t, "0", key.AssetID)
		assert.Equal(t, alice, from)
		assert.Equal(t, bob, to)
	}
	require.NoError(t, m.Transfer(ctx, collection, "0", alice, bob))
	assert.True(t, hooked)

	owner, _ := m.OwnerOf(ctx, collection, "0")
	assert.Equal(t, bob, owner)

	ok, _ := m.IsApprovedForTransfer(ctx, collection, "0", market)
	assert.False(t, ok, "approval is cleared on transfer")
}

func TestMemoryOperatorApproval(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(market)
	require.NoError(t, m.Mint(collection, "7", alice))

	m.SetApprovalForAll(alice, market, true)
	ok, _ := m.IsApprovedForTransfer(ctx, collection, "7", market)
	assert.True(t, ok)

	m.SetApprovalForAll(alice, market, false)
	ok, _ = m.IsApprovedForTransfer(ctx, collection, "7", market)
	assert.False(t, ok)
}

func newHTTPRegistry(t *testing.T, h http.Handler) *HTTPRegistry {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "registry", ErrorHandler)
	creds := func(context.Context) (pkgsecrets.Credentials, error) {
		return pkgsecrets.Credentials{APIKey: "secret"}, nil
	}
	return NewHTTP(zap.NewNop(), exec, srv.URL, creds)
}

func TestHTTPOwnerOf(t *testing.T) {
	r := newHTTPRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/collections/"+collection.String()+"/assets/0/owner", req.URL.Path)
		assert.Equal(t, "secret", req.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode(map[string]string{"owner": "0x00000000000000000000000000000000000000A1"})
	}))

	owner, err := r.OwnerOf(context.Background(), collection, "0")
	require.NoError(t, err)
	assert.Equal(t, alice, owner)
}

func TestHTTPOwnerOfNotFound(t *testing.T) {
	r := newHTTPRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such token"}`))
	}))

	_, err := r.OwnerOf(context.Background(), collection, "0")
	assert.ErrorIs(t, err, ErrAssetNotFound)
	assert.ErrorContains(t, err, "no such token")
}

func TestHTTPApproval(t *testing.T) {
	r := newHTTPRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, market.String(), req.URL.Query().Get("spender"))
		_ = json.NewEncoder(w).Encode(map[string]bool{"approved": true})
	}))

	ok, err := r.IsApprovedForTransfer(context.Background(), collection, "0", market)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPTransfer(t *testing.T) {
	r := newHTTPRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.NotEmpty(t, req.Header.Get("Idempotency-Key"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, alice.String(), body["from"])
		assert.Equal(t, bob.String(), body["to"])
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, r.Transfer(context.Background(), collection, "0", alice, bob))
}

func TestHTTPTransferDenied(t *testing.T) {
	r := newHTTPRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	err := r.Transfer(context.Background(), collection, "0", alice, bob)
	assert.ErrorIs(t, err, ErrTransferDenied)
}

func TestHTTPCredentialFailure(t *testing.T) {
	exec := httpclient.New(zap.NewNop(), nil, http.DefaultClient, 0, "registry", ErrorHandler)
	r := NewHTTP(zap.NewNop(), exec, "http://unused", func(context.Context) (pkgsecrets.Credentials, error) {
		return pkgsecrets.Credentials{}, errors.New("vault sealed")
	})
	_, err := r.OwnerOf(context.Background(), collection, "0")
	assert.ErrorContains(t, err, "vault sealed")
}

func TestHTTPCredentialBaseURLOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"approved": false})
	}))
	defer srv.Close()

	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "registry", ErrorHandler)
	r := NewHTTP(zap.NewNop(), exec, "http://127.0.0.1:1", func(context.Context) (pkgsecrets.Credentials, error) {
		return pkgsecrets.Credentials{APIKey: "k", BaseURL: srv.URL + "/"}, nil
	})
	ok, err := r.IsApprovedForTransfer(context.Background(), collection, "0", market)
	require.NoError(t, err)
	assert.False(t, ok)
}
