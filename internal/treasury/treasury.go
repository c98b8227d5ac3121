package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"calc/internal/models"
	"calc/internal/repository"
)

// Payment is one outbound transfer of funds held by the engine.
type Payment struct {
	VaultID   uint64
	Recipient string
	Denom     string
	Amount    decimal.Decimal
	Reason    string
}

// Treasurer settles payments against the custody ledger. Invoke additionally
// notifies the recipient's callback endpoint; a failed callback is the
// caller's problem to route around.
type Treasurer interface {
	SendTx(ctx context.Context, tx *gorm.DB, p Payment) error
	InvokeTx(ctx context.Context, tx *gorm.DB, p Payment, callback string) error
}

type Ledger struct {
	Repo       repository.Repository
	HTTPClient *http.Client
	Logger     *zap.Logger

	CallbackTimeout time.Duration
}

func NewLedger(repo repository.Repository, httpClient *http.Client, logger *zap.Logger) *Ledger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		Repo:            repo,
		HTTPClient:      httpClient,
		Logger:          logger,
		CallbackTimeout: 10 * time.Second,
	}
}

func (l *Ledger) SendTx(ctx context.Context, tx *gorm.DB, p Payment) error {
	if l == nil || l.Repo == nil {
		return fmt.Errorf("treasury ledger is not configured")
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return fmt.Errorf("payment recipient is required")
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("payment amount must be positive, got %s", p.Amount)
	}
	return l.Repo.InsertPayoutTx(ctx, tx, &models.Payout{
		VaultID:   p.VaultID,
		Recipient: strings.TrimSpace(p.Recipient),
		Denom:     p.Denom,
		Amount:    p.Amount,
		Reason:    p.Reason,
	})
}

type callbackPayload struct {
	VaultID   uint64          `json:"vault_id"`
	Recipient string          `json:"recipient"`
	Denom     string          `json:"denom"`
	Amount    decimal.Decimal `json:"amount"`
}

func (l *Ledger) InvokeTx(ctx context.Context, tx *gorm.DB, p Payment, callback string) error {
	if l == nil || l.Repo == nil {
		return fmt.Errorf("treasury ledger is not configured")
	}
	callback = strings.TrimSpace(callback)
	if callback == "" {
		return fmt.Errorf("callback endpoint is required")
	}
	if err := l.postCallback(ctx, callback, callbackPayload{
		VaultID:   p.VaultID,
		Recipient: p.Recipient,
		Denom:     p.Denom,
		Amount:    p.Amount,
	}); err != nil {
		return err
	}
	return l.SendTx(ctx, tx, p)
}

func (l *Ledger) postCallback(ctx context.Context, endpoint string, payload callbackPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timeout := l.CallbackTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	l.Logger.Debug("destination callback delivered",
		zap.Uint64("vault_id", payload.VaultID),
		zap.String("endpoint", endpoint))
	return nil
}
