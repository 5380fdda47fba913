package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// HuobiSource fetches candles from the Huobi public kline endpoint.
type HuobiSource struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
}

// NewHuobiSource creates a Huobi market data source. The timeout bounds every
// fetch so a slow exchange cannot stall an evaluation cycle.
func NewHuobiSource(logger *zap.Logger, baseURL string, timeout time.Duration) *HuobiSource {
	return &HuobiSource{
		logger:  logger.Named("huobi-market"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// huobiKline mirrors one entry of Huobi's kline payload. Numbers arrive as
// JSON numbers; json.Number keeps full precision for decimal conversion.
type huobiKline struct {
	ID    int64       `json:"id"` // bucket start, unix seconds
	Open  json.Number `json:"open"`
	High  json.Number `json:"high"`
	Low   json.Number `json:"low"`
	Close json.Number `json:"close"`
	Vol   json.Number `json:"vol"`
}

type huobiKlineResponse struct {
	Status string       `json:"status"`
	ErrMsg string       `json:"err-msg"`
	Data   []huobiKline `json:"data"`
}

// Candles fetches up to count candles and returns them oldest-first.
func (s *HuobiSource) Candles(ctx context.Context, symbol string, granularity types.Granularity, count int) ([]types.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("period", string(granularity))
	q.Set("size", strconv.Itoa(count))

	endpoint := fmt.Sprintf("%s/market/history/kline?%s", s.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build kline request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch klines for %s: %v", ErrUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: kline endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}

	var payload huobiKlineResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode klines: %v", ErrUnavailable, err)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("%w: kline status %q: %s", ErrUnavailable, payload.Status, payload.ErrMsg)
	}

	// Huobi returns newest-first; indicator math needs oldest-first.
	candles := make([]types.Candle, 0, len(payload.Data))
	for i := len(payload.Data) - 1; i >= 0; i-- {
		c, err := payload.Data[i].toCandle()
		if err != nil {
			return nil, fmt.Errorf("%w: parse kline: %v", ErrUnavailable, err)
		}
		candles = append(candles, c)
	}

	s.logger.Debug("Fetched klines",
		zap.String("symbol", symbol),
		zap.String("period", string(granularity)),
		zap.Int("count", len(candles)))
	return candles, nil
}

func (k huobiKline) toCandle() (types.Candle, error) {
	var c types.Candle
	var err error
	if c.Open, err = decimal.NewFromString(k.Open.String()); err != nil {
		return c, fmt.Errorf("open: %w", err)
	}
	if c.High, err = decimal.NewFromString(k.High.String()); err != nil {
		return c, fmt.Errorf("high: %w", err)
	}
	if c.Low, err = decimal.NewFromString(k.Low.String()); err != nil {
		return c, fmt.Errorf("low: %w", err)
	}
	if c.Close, err = decimal.NewFromString(k.Close.String()); err != nil {
		return c, fmt.Errorf("close: %w", err)
	}
	if k.Vol.String() != "" {
		if c.Volume, err = decimal.NewFromString(k.Vol.String()); err != nil {
			return c, fmt.Errorf("vol: %w", err)
		}
	}
	c.Timestamp = time.Unix(k.ID, 0).UTC()
	return c, nil
}
