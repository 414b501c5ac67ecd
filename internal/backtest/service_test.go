package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Fetch(ctx context.Context, req FetchRequest) ([]Candle, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Candle), args.Error(1)
}

func (m *mockSource) Name() string { return "mock" }

func newTestService(t *testing.T, src CandleSource) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	svc, err := NewService(ServiceConfig{
		Store:           store,
		Sources:         map[string]CandleSource{"mock": src},
		RateLimitPerMin: 6000,
		MaxRetries:      3,
	})
	require.NoError(t, err)
	return svc, store
}

func TestServiceFetchFillsGaps(t *testing.T) {
	src := new(mockSource)
	bars := flatBars(5, 100)
	src.On("Fetch", mock.Anything, mock.MatchedBy(func(r FetchRequest) bool {
		return r.Symbol == "BTCUSDT" && r.Interval == "1h" && r.Start == baseOpen && r.Limit == 5
	})).Return(bars, nil).Once()

	svc, store := newTestService(t, src)
	job, err := svc.SubmitFetch(FetchParams{Symbol: "btcusdt", Timeframe: "1h", Start: baseOpen, End: bars[4].OpenTime})
	require.NoError(t, err)
	svc.Wait()

	snap, ok := svc.JobSnapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusDone, snap.Status)
	assert.Equal(t, int64(5), snap.Completed)
	assert.Empty(t, snap.Missing)
	src.AssertExpectations(t)

	m, err := store.Manifest(context.Background(), "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.Rows)

	t.Run("complete range skips download", func(t *testing.T) {
		again, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: baseOpen, End: bars[4].OpenTime})
		require.NoError(t, err)
		assert.Equal(t, JobStatusDone, again.Status)
		assert.Len(t, svc.JobsSnapshot(), 2)
		src.AssertNumberOfCalls(t, "Fetch", 1)
	})
}

func TestServiceRetriesTransientErrors(t *testing.T) {
	src := new(mockSource)
	bars := flatBars(3, 100)
	src.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("503")).Once()
	src.On("Fetch", mock.Anything, mock.Anything).Return(bars, nil).Once()

	svc, _ := newTestService(t, src)
	job, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: baseOpen, End: bars[2].OpenTime})
	require.NoError(t, err)
	svc.Wait()

	snap, _ := svc.JobSnapshot(job.ID)
	assert.Equal(t, JobStatusDone, snap.Status)
	src.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestServiceReportsPartialDownload(t *testing.T) {
	src := new(mockSource)
	bars := flatBars(4, 100)
	src.On("Fetch", mock.Anything, mock.Anything).Return(bars[:2], nil).Once()
	src.On("Fetch", mock.Anything, mock.Anything).Return([]Candle{}, nil)

	svc, _ := newTestService(t, src)
	job, err := svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: baseOpen, End: bars[3].OpenTime})
	require.NoError(t, err)
	svc.Wait()

	snap, _ := svc.JobSnapshot(job.ID)
	assert.Equal(t, JobStatusPartial, snap.Status)
	assert.Equal(t, []Gap{{From: bars[2].OpenTime, To: bars[3].OpenTime, Count: 2}}, snap.Missing)
	assert.NotEmpty(t, snap.Warnings)
}

func TestServiceValidation(t *testing.T) {
	svc, _ := newTestService(t, new(mockSource))
	cases := []struct {
		name   string
		params FetchParams
	}{
		{name: "no symbol", params: FetchParams{Timeframe: "1h", Start: baseOpen, End: baseOpen + hourMs}},
		{name: "bad timeframe", params: FetchParams{Symbol: "BTCUSDT", Timeframe: "2h", Start: baseOpen, End: baseOpen + hourMs}},
		{name: "unknown exchange", params: FetchParams{Exchange: "okx", Symbol: "BTCUSDT", Timeframe: "1h", Start: baseOpen, End: baseOpen + hourMs}},
		{name: "empty range", params: FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: baseOpen, End: baseOpen + 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitFetch(tc.params)
			assert.Error(t, err)
		})
	}
}
