package backtesthttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"dealsim/internal/backtest"
	"dealsim/internal/market"
	"dealsim/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hourMs   = int64(3_600_000)
	baseOpen = int64(1_699_999_200_000)
)

type fixture struct {
	srv *Server
	sim *backtest.Simulator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := backtest.NewStore(filepath.Join(dir, "candles"))
	require.NoError(t, err)
	results, err := backtest.NewResultStore(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = results.Close()
		_ = store.Close()
	})
	registry := strategy.NewRegistry()
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore: store,
		ResultStore: results,
		Strategies:  registry,
		Symbols: map[string]market.SymbolSpec{
			"BTCUSDT": {Symbol: "BTCUSDT", PrecisionAmount: 0.001, PrecisionPrice: 0.01},
		},
		Defaults: backtest.RunDefaults{Strategy: "buy_hold", Timeframe: "1h", InitialBalance: 1000},
	})
	require.NoError(t, err)
	srv, err := NewServer(Config{Store: store, Simulator: sim, Strategies: registry})
	require.NoError(t, err)
	return fixture{srv: srv, sim: sim}
}

func (f fixture) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func csvBars(n int) string {
	var b strings.Builder
	b.WriteString("open_time,open,high,low,close,volume\n")
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		fmt.Fprintf(&b, "%d,%.2f,%.2f,%.2f,%.2f,1\n", baseOpen+int64(i)*hourMs, price, price+1, price-1, price)
	}
	return b.String()
}

func (f fixture) importCSV(t *testing.T, csv string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("symbol", "btcusdt"))
	require.NoError(t, w.WriteField("timeframe", "1h"))
	part, err := w.CreateFormFile("file", "bars.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return f.do(t, http.MethodPost, "/api/backtest/import", body.Bytes(), w.FormDataContentType())
}

func TestImportAndRunFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.importCSV(t, csvBars(5))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "5", string(decode(t, rec)["inserted"]))

	rec = f.do(t, http.MethodGet, "/api/backtest/datasets", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTCUSDT")

	rec = f.do(t, http.MethodGet, "/api/backtest/candles?symbol=BTCUSDT&timeframe=1h&limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var candles struct {
		Candles []backtest.Candle `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &candles))
	assert.Len(t, candles.Candles, 2)

	payload, _ := json.Marshal(map[string]any{
		"symbol":   "BTCUSDT",
		"strategy": "buy_hold",
		"params":   map[string]any{"quantity": 2},
		"start_ts": baseOpen,
		"end_ts":   baseOpen + 4*hourMs,
	})
	rec = f.do(t, http.MethodPost, "/api/backtest/runs", payload, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started struct {
		Run backtest.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	f.sim.Wait()

	base := "/api/backtest/runs/" + started.Run.ID
	rec = f.do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Run backtest.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, backtest.RunStatusDone, detail.Run.Status, detail.Run.Message)
	assert.InDelta(t, 8, detail.Run.Stats.Profit, 1e-9)

	for _, path := range []string{"/deals", "/orders", "/trades", "/snapshots", "/logs", "/orders?deal_id=1"} {
		t.Run(path, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, base+path, nil, "")
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}

	rec = f.do(t, http.MethodGet, base+"/chart", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = f.do(t, http.MethodGet, "/api/backtest/runs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), started.Run.ID)
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown run", method: http.MethodGet, path: "/api/backtest/runs/nope", want: http.StatusNotFound},
		{name: "unknown run deals", method: http.MethodGet, path: "/api/backtest/runs/nope/deals", want: http.StatusNotFound},
		{name: "fetch disabled", method: http.MethodGet, path: "/api/backtest/jobs", want: http.StatusServiceUnavailable},
		{name: "candles without symbol", method: http.MethodGet, path: "/api/backtest/candles?timeframe=1h", want: http.StatusBadRequest},
		{name: "bad timeframe", method: http.MethodGet, path: "/api/backtest/data?symbol=BTCUSDT&timeframe=3x", want: http.StatusBadRequest},
		{name: "run missing fields", method: http.MethodPost, path: "/api/backtest/runs", body: `{"symbol":"BTCUSDT"}`, want: http.StatusBadRequest},
		{name: "run unknown strategy", method: http.MethodPost, path: "/api/backtest/runs", body: fmt.Sprintf(`{"symbol":"BTCUSDT","strategy":"nope","start_ts":%d,"end_ts":%d}`, baseOpen, baseOpen+hourMs), want: http.StatusBadRequest},
		{name: "run unknown symbol", method: http.MethodPost, path: "/api/backtest/runs", body: fmt.Sprintf(`{"symbol":"ETHUSDT","start_ts":%d,"end_ts":%d}`, baseOpen, baseOpen+hourMs), want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body []byte
			if tc.body != "" {
				body = []byte(tc.body)
			}
			rec := f.do(t, tc.method, tc.path, body, "application/json")
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestImportRejectsBadFile(t *testing.T) {
	f := newFixture(t)
	rec := f.importCSV(t, "foo,bar\n1,2\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStrategiesAndHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/backtest/strategies", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Strategies []strategy.Definition `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Strategies, 4)
	assert.Equal(t, "atr_trailing", out.Strategies[0].Name)
}
