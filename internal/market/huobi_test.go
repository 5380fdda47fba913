package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

func TestHuobiCandlesOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/history/kline", r.URL.Path)
		assert.Equal(t, "btcusdt", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1day", r.URL.Query().Get("period"))
		// Huobi serves newest-first.
		w.Write([]byte(`{"status":"ok","data":[
			{"id":1700092800,"open":101,"high":103,"low":100,"close":102,"vol":5},
			{"id":1700006400,"open":100,"high":102,"low":99,"close":101,"vol":4}
		]}`))
	}))
	defer srv.Close()

	src := NewHuobiSource(testLogger(), srv.URL, 2*time.Second)
	candles, err := src.Candles(context.Background(), "btcusdt", types.GranularityDaily, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Timestamp.Before(candles[1].Timestamp))
	assert.Equal(t, "101", candles[0].Close.String())
	assert.Equal(t, "102", candles[1].Close.String())
}

func TestHuobiErrorStatusIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","err-msg":"invalid symbol"}`))
	}))
	defer srv.Close()

	src := NewHuobiSource(testLogger(), srv.URL, 2*time.Second)
	_, err := src.Candles(context.Background(), "nope", types.GranularityDaily, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHuobiUnreachableIsUnavailable(t *testing.T) {
	src := NewHuobiSource(testLogger(), "http://127.0.0.1:1", 500*time.Millisecond)
	_, err := src.Candles(context.Background(), "btcusdt", types.GranularityDaily, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSimulatedSourceShape(t *testing.T) {
	src := NewSimulatedSource(dec(50000))
	candles, err := src.Candles(context.Background(), "btcusdt", types.GranularityDaily, 30)
	require.NoError(t, err)
	require.Len(t, candles, 30)

	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp), "candles must be oldest-first")
		c := candles[i]
		assert.True(t, c.High.GreaterThanOrEqual(c.Low))
	}
}
