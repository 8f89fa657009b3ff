package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/httpclient"
	"github.com/Checker-Finance/nftmarket/pkg/model"
	pkgsecrets "github.com/Checker-Finance/nftmarket/pkg/secrets"
)

// Ledger records payouts in memory. It stands in for the payment rail in
// local runs and tests.
type Ledger struct {
	mu     sync.Mutex
	logger *zap.Logger
	paid   map[model.Address]decimal.Decimal

	// OnSend runs before a payout is recorded; an error aborts the payout.
	OnSend func(ctx context.Context, to model.Address, amount decimal.Decimal) error
}

func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{logger: logger, paid: make(map[model.Address]decimal.Decimal)}
}

func (l *Ledger) Send(ctx context.Context, to model.Address, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	hook := l.OnSend
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, to, amount); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.paid[to] = l.paid[to].Add(amount)
	l.mu.Unlock()
	l.logger.Info("payout.sent", zap.String("to", to.String()), zap.String("amount", amount.String()))
	return nil
}

// Paid returns the total sent to addr.
func (l *Ledger) Paid(addr model.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paid[addr]
}

// CredentialsFunc supplies the API key and optional base URL override.
type CredentialsFunc func(ctx context.Context) (pkgsecrets.Credentials, error)

// HTTPSender posts payouts to a payment service:
//
//	POST /v1/payouts {"to": "0x...", "amount": "1000"}
//
// Each payout carries an Idempotency-Key so executor retries do not pay
// twice. When a payout ends without a definite answer (transport error or
// 5xx after retries) the key is kept and reused by the next payout of the
// same amount to the same address, so a withdrawal retried after a lost
// response is deduplicated by the payment service. Pending keys live in
// memory only.
type HTTPSender struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
	creds   CredentialsFunc

	mu      sync.Mutex
	pending map[string]string
	newKey  func() string
}

func NewHTTPSender(logger *zap.Logger, exec *httpclient.Executor, baseURL string, creds CredentialsFunc) *HTTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSender{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		pending: make(map[string]string),
		newKey:  uuid.NewString,
	}
}

func pendingKey(to model.Address, amount decimal.Decimal) string {
	return to.String() + "|" + amount.String()
}

// idempotencyKey returns the pending key for this payout, or a new one.
func (s *HTTPSender) idempotencyKey(to model.Address, amount decimal.Decimal) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pendingKey(to, amount)
	if key, ok := s.pending[k]; ok {
		return key
	}
	key := s.newKey()
	s.pending[k] = key
	return key
}

// settle forgets the pending key once the payout has a definite outcome.
func (s *HTTPSender) settle(to model.Address, amount decimal.Decimal, err error) {
	var se *httpclient.StatusError
	if err != nil && !errors.As(err, &se) && !errors.Is(err, errPayoutRejected) {
		return
	}
	s.mu.Lock()
	delete(s.pending, pendingKey(to, amount))
	s.mu.Unlock()
}

var errPayoutRejected = errors.New("payout rejected")

type payoutRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type payoutResponse struct {
	PayoutID string `json:"payoutId"`
	Status   string `json:"status"`
}

func (s *HTTPSender) Send(ctx context.Context, to model.Address, amount decimal.Decimal) (err error) {
	base := s.baseURL
	var apiKey string
	if s.creds != nil {
		c, err := s.creds(ctx)
		if err != nil {
			return fmt.Errorf("payout credentials: %w", err)
		}
		apiKey = c.APIKey
		if c.BaseURL != "" {
			base = strings.TrimRight(c.BaseURL, "/")
		}
	}

	data, err := json.Marshal(payoutRequest{To: to.String(), Amount: amount.String()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/payouts", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", s.idempotencyKey(to, amount))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	defer func() { s.settle(to, amount, err) }()

	var out payoutResponse
	if err := s.exec.DoJSON(ctx, req, &out); err != nil {
		return err
	}
	if strings.EqualFold(out.Status, "rejected") {
		return fmt.Errorf("%w: %s", errPayoutRejected, out.PayoutID)
	}

	s.logger.Info("payout.sent",
		zap.String("payout_id", out.PayoutID),
		zap.String("to", to.String()),
		zap.String("amount", amount.String()))
	return nil
}
