package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// HuobiGateway submits spot market orders through Huobi's signed REST API.
type HuobiGateway struct {
	logger    *zap.Logger
	client    *http.Client
	baseURL   string
	apiKey    string
	apiSecret string

	mu        sync.Mutex
	accountID string // spot account id, cached after first lookup
}

// NewHuobiGateway creates a Huobi order gateway. The timeout bounds every
// order submission; on expiry the order outcome is unknown and the caller
// must treat it as not filled.
func NewHuobiGateway(logger *zap.Logger, baseURL, apiKey, apiSecret string, timeout time.Duration) *HuobiGateway {
	return &HuobiGateway{
		logger:    logger.Named("huobi-gateway"),
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

type huobiOrderRequest struct {
	AccountID string `json:"account-id"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Source    string `json:"source"`
}

type huobiOrderResponse struct {
	Status string `json:"status"`
	Data   string `json:"data"` // order id
	ErrMsg string `json:"err-msg"`
}

// SubmitMarketOrder places a buy-market or sell-market order.
func (g *HuobiGateway) SubmitMarketOrder(ctx context.Context, symbol string, side types.OrderSide, quantity decimal.Decimal) (types.OrderResult, error) {
	accountID, err := g.spotAccountID(ctx)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	orderType := "buy-market"
	if side == types.OrderSideSell {
		orderType = "sell-market"
	}

	body, err := json.Marshal(huobiOrderRequest{
		AccountID: accountID,
		Symbol:    symbol,
		Type:      orderType,
		Amount:    quantity.String(),
		Source:    "api",
	})
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}

	var payload huobiOrderResponse
	if err := g.signedRequest(ctx, http.MethodPost, "/v1/order/orders/place", body, &payload); err != nil {
		return types.OrderResult{}, fmt.Errorf("%w: place order: %v", ErrExecution, err)
	}

	if payload.Status != "ok" {
		g.logger.Warn("Order rejected",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("reason", payload.ErrMsg))
		return types.OrderResult{Accepted: false, Reason: payload.ErrMsg}, nil
	}

	g.logger.Info("Order accepted",
		zap.String("orderId", payload.Data),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("qty", quantity.String()))

	return types.OrderResult{
		OrderID:   payload.Data,
		Accepted:  true,
		FilledQty: quantity,
	}, nil
}

type huobiAccountsResponse struct {
	Status string `json:"status"`
	ErrMsg string `json:"err-msg"`
	Data   []struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
}

func (g *HuobiGateway) spotAccountID(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accountID != "" {
		return g.accountID, nil
	}

	var payload huobiAccountsResponse
	if err := g.signedRequest(ctx, http.MethodGet, "/v1/account/accounts", nil, &payload); err != nil {
		return "", fmt.Errorf("fetch accounts: %w", err)
	}
	if payload.Status != "ok" {
		return "", fmt.Errorf("accounts status %q: %s", payload.Status, payload.ErrMsg)
	}
	for _, a := range payload.Data {
		if a.Type == "spot" {
			g.accountID = fmt.Sprintf("%d", a.ID)
			return g.accountID, nil
		}
	}
	return "", fmt.Errorf("no spot account on this API key")
}

// signedRequest performs a Huobi v2-signed request and decodes the response.
func (g *HuobiGateway) signedRequest(ctx context.Context, method, path string, body []byte, out any) error {
	base, err := url.Parse(g.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}

	q := url.Values{}
	q.Set("AccessKeyId", g.apiKey)
	q.Set("SignatureMethod", "HmacSHA256")
	q.Set("SignatureVersion", "2")
	q.Set("Timestamp", time.Now().UTC().Format("2006-01-02T15:04:05"))

	// Signature payload: method, host, path, then the sorted encoded query.
	canonical := strings.Join([]string{method, base.Host, path, q.Encode()}, "\n")
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(canonical))
	q.Set("Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	endpoint := fmt.Sprintf("%s%s?%s", g.baseURL, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
