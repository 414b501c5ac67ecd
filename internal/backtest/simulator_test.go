package backtest

import (
	"context"
	"testing"

	"dealsim/internal/broker"
	"dealsim/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFactory struct {
	mock.Mock
}

func (m *mockFactory) NewStrategy(spec StrategySpec) (Strategy, error) {
	args := m.Called(spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Strategy), args.Error(1)
}

func (m *mockFactory) Names() []string { return []string{"buyhold"} }

func newTestSimulator(t *testing.T, factory StrategyFactory) (*Simulator, *Store) {
	t.Helper()
	store := newTestStore(t)
	sim, err := NewSimulator(SimulatorConfig{
		CandleStore: store,
		ResultStore: newTestResultStore(t),
		Strategies:  factory,
		Symbols: map[string]market.SymbolSpec{
			"btc/usdt": {Symbol: "BTCUSDT", PrecisionAmount: 0.001, PrecisionPrice: 0.01, FeeTaker: 0.001, FeeMaker: 0.0005},
		},
		Defaults: RunDefaults{Strategy: "buyhold", Timeframe: "1h", InitialBalance: 5000},
	})
	require.NoError(t, err)
	return sim, store
}

func TestSimulatorRunsToCompletion(t *testing.T) {
	factory := new(mockFactory)
	strat := onFirstBar(func(bc BarContext) {
		bc.Trader.Buy(broker.OrderParams{Quantity: 1})
	})
	factory.On("NewStrategy", mock.MatchedBy(func(s StrategySpec) bool {
		return s.Name == "buyhold" && s.Symbol == "BTCUSDT" && s.Timeframe == "1h"
	})).Return(strat, nil).Once()

	sim, store := newTestSimulator(t, factory)
	bars := flatBars(6, 100)
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h", bars)
	require.NoError(t, err)

	run, err := sim.StartRun(RunRequest{Symbol: "btcusdt", StartTS: bars[0].OpenTime, EndTS: bars[5].OpenTime})
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, 5000.0, run.InitialBalance)
	sim.Wait()

	got, err := sim.Results().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status, got.Message)
	assert.Equal(t, 6, got.Stats.Bars)
	assert.Equal(t, 2, got.Stats.Trades)
	assert.Equal(t, 0.001, got.Config.FeeTaker)
	factory.AssertExpectations(t)
}

func TestSimulatorMissingDataFails(t *testing.T) {
	factory := new(mockFactory)
	sim, _ := newTestSimulator(t, factory)
	run, err := sim.StartRun(RunRequest{Symbol: "BTCUSDT", StartTS: baseOpen, EndTS: baseOpen + 3*hourMs})
	require.NoError(t, err)
	sim.Wait()

	got, err := sim.Results().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.Message, "未配置拉取服务")
	factory.AssertNotCalled(t, "NewStrategy", mock.Anything)
}

func TestSimulatorBuildConfig(t *testing.T) {
	sim, _ := newTestSimulator(t, new(mockFactory))
	negative := -1.0
	cases := []struct {
		name string
		req  RunRequest
	}{
		{name: "unknown symbol", req: RunRequest{Symbol: "ETHUSDT", StartTS: baseOpen, EndTS: baseOpen + hourMs}},
		{name: "unknown strategy", req: RunRequest{Symbol: "BTCUSDT", Strategy: "nope", StartTS: baseOpen, EndTS: baseOpen + hourMs}},
		{name: "bad range", req: RunRequest{Symbol: "BTCUSDT", StartTS: baseOpen, EndTS: baseOpen}},
		{name: "negative slippage", req: RunRequest{Symbol: "BTCUSDT", StartTS: baseOpen, EndTS: baseOpen + hourMs, SlippageSteps: &negative}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sim.BuildConfig(tc.req)
			assert.Error(t, err)
		})
	}

	two := 2.0
	cfg, err := sim.BuildConfig(RunRequest{Symbol: "BTC-USDT", StartTS: baseOpen, EndTS: baseOpen + 2*hourMs, SlippageSteps: &two})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, 2.0, cfg.SlippageSteps)
	assert.Equal(t, 0.01, cfg.PrecisionPrice)
}

func TestSimulatorReloadableSettings(t *testing.T) {
	sim, _ := newTestSimulator(t, new(mockFactory))
	req := RunRequest{Symbol: "ETHUSDT", StartTS: baseOpen, EndTS: baseOpen + hourMs}
	_, err := sim.BuildConfig(req)
	require.Error(t, err)

	sim.SetSymbols(map[string]market.SymbolSpec{
		"ethusdt": {Symbol: "ETHUSDT", PrecisionAmount: 0.01, PrecisionPrice: 0.01},
	})
	sim.SetDefaults(RunDefaults{Strategy: "buyhold", InitialBalance: 777, SlippageSteps: 3})
	cfg, err := sim.BuildConfig(req)
	require.NoError(t, err)
	assert.Equal(t, 777.0, cfg.InitialBalance)
	assert.Equal(t, 3.0, cfg.SlippageSteps)
	assert.Equal(t, "1h", cfg.Timeframe)

	_, err = sim.BuildConfig(RunRequest{Symbol: "BTCUSDT", StartTS: baseOpen, EndTS: baseOpen + hourMs})
	assert.Error(t, err)
}
