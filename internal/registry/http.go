package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/httpclient"
	"github.com/Checker-Finance/nftmarket/pkg/model"
	pkgsecrets "github.com/Checker-Finance/nftmarket/pkg/secrets"
)

// CredentialsFunc supplies the API key and optional base URL override.
type CredentialsFunc func(ctx context.Context) (pkgsecrets.Credentials, error)

// HTTPRegistry talks to a remote asset registry over its REST API:
//
//	GET  /v1/collections/{collection}/assets/{assetId}/owner
//	GET  /v1/collections/{collection}/assets/{assetId}/approval?spender=
//	POST /v1/collections/{collection}/assets/{assetId}/transfer
type HTTPRegistry struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
	creds   CredentialsFunc
}

func NewHTTP(logger *zap.Logger, exec *httpclient.Executor, baseURL string, creds CredentialsFunc) *HTTPRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRegistry{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
	}
}

// ErrorHandler maps registry 4xx responses to registry errors. Pass it to
// httpclient.New for the registry executor.
func ErrorHandler(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrAssetNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrTransferDenied, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrNotAssetOwner, msg)
	default:
		return fmt.Errorf("registry returned %d: %s", status, msg)
	}
}

func (r *HTTPRegistry) newRequest(ctx context.Context, method string, collection model.Address, assetID, action string, query url.Values, body any) (*http.Request, error) {
	base := r.baseURL
	var apiKey string
	if r.creds != nil {
		c, err := r.creds(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry credentials: %w", err)
		}
		apiKey = c.APIKey
		if c.BaseURL != "" {
			base = strings.TrimRight(c.BaseURL, "/")
		}
	}

	u := fmt.Sprintf("%s/v1/collections/%s/assets/%s/%s",
		base, url.PathEscape(collection.String()), url.PathEscape(assetID), action)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var req *http.Request
	var err error
	if body != nil {
		data, mErr := json.Marshal(body)
		if mErr != nil {
			return nil, mErr
		}
		req, err = http.NewRequestWithContext(ctx, method, u, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, nil
}

func (r *HTTPRegistry) OwnerOf(ctx context.Context, collection model.Address, assetID string) (model.Address, error) {
	req, err := r.newRequest(ctx, http.MethodGet, collection, assetID, "owner", nil, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Owner string `json:"owner"`
	}
	if err := r.exec.DoJSON(ctx, req, &out); err != nil {
		return "", err
	}
	owner, err := model.ParseAddress(out.Owner)
	if err != nil {
		return "", fmt.Errorf("registry returned invalid owner: %w", err)
	}
	return owner, nil
}

func (r *HTTPRegistry) IsApprovedForTransfer(ctx context.Context, collection model.Address, assetID string, spender model.Address) (bool, error) {
	q := url.Values{"spender": {spender.String()}}
	req, err := r.newRequest(ctx, http.MethodGet, collection, assetID, "approval", q, nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Approved bool `json:"approved"`
	}
	if err := r.exec.DoJSON(ctx, req, &out); err != nil {
		return false, err
	}
	return out.Approved, nil
}

func (r *HTTPRegistry) Transfer(ctx context.Context, collection model.Address, assetID string, from, to model.Address) error {
	body := map[string]string{"from": from.String(), "to": to.String()}
	req, err := r.newRequest(ctx, http.MethodPost, collection, assetID, "transfer", nil, body)
	if err != nil {
		return err
	}
	// retries of the same transfer carry the same key
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if err := r.exec.DoJSON(ctx, req, nil); err != nil {
		return err
	}
	r.logger.Info("registry.transfer_complete",
		zap.String("collection", collection.String()),
		zap.String("asset_id", assetID),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	return nil
}
