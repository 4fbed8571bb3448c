package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virthub/internal/models"
)

func sample(ts time.Time, metric string, v float64) models.MetricSample {
	return models.MetricSample{
		PlatformID:     1,
		EntityKind:     models.KindVM,
		EntityRemoteID: "vm-1",
		Metric:         metric,
		CollectedAt:    ts,
		Value:          v,
		Unit:           "percent",
	}
}

func TestMetricInsertIdempotent(t *testing.T) {
	s := NewMetricStore(testDB(t))
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	n, err := s.Insert(ctx, []models.MetricSample{
		sample(ts, models.MetricCPU, 10),
		sample(ts.Add(time.Minute), models.MetricCPU, 20),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// повторная вставка того же окна молча отбрасывается
	n, err = s.Insert(ctx, []models.MetricSample{
		sample(ts, models.MetricCPU, 999),
		sample(ts.Add(time.Minute), models.MetricCPU, 999),
		sample(ts.Add(2*time.Minute), models.MetricCPU, 30),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.Query(ctx, 1, models.KindVM, "vm-1", models.MetricCPU, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 10, got[0].Value, 1e-9) // оригинал не перезаписан
}

func TestMetricLastCollectedAt(t *testing.T) {
	s := NewMetricStore(testDB(t))
	ctx := context.Background()

	last, err := s.LastCollectedAt(ctx, 1, models.KindVM, "vm-1")
	require.NoError(t, err)
	assert.Nil(t, last)

	ts := time.Now().UTC().Truncate(time.Second)
	_, err = s.Insert(ctx, []models.MetricSample{
		sample(ts.Add(-time.Minute), models.MetricCPU, 1),
		sample(ts, models.MetricMemory, 2),
	})
	require.NoError(t, err)

	last, err = s.LastCollectedAt(ctx, 1, models.KindVM, "vm-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(ts), "want %s, got %s", ts, last)
}

func TestMetricEvict(t *testing.T) {
	s := NewMetricStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	var old []models.MetricSample
	for i := 0; i < 7; i++ {
		old = append(old, sample(now.Add(-100*time.Hour).Add(time.Duration(i)*time.Minute), models.MetricCPU, float64(i)))
	}
	_, err := s.Insert(ctx, old)
	require.NoError(t, err)
	_, err = s.Insert(ctx, []models.MetricSample{sample(now, models.MetricCPU, 42)})
	require.NoError(t, err)

	// пачка меньше общего числа строк — чистка проходит несколько итераций
	n, err := s.EvictOlderThan(ctx, now.Add(-time.Hour), 3)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	got, err := s.Query(ctx, 1, models.KindVM, "vm-1", models.MetricCPU, now.Add(-200*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 42, got[0].Value, 1e-9)
}

func TestRunStoreLifecycle(t *testing.T) {
	s := NewRunStore(testDB(t))
	ctx := context.Background()

	_, err := s.LatestOne(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	run, err := s.Begin(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, s.Finish(ctx, run, models.RunOutcomePartial, []byte(`{"vm":{"created":1,"updated":0,"deleted":0}}`), "vm: fetch: boom"))

	got, err := s.LatestOne(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RunOutcomePartial, got.Outcome)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, "vm: fetch: boom", got.ErrorDetail)

	_, err = s.Begin(ctx, 1)
	require.NoError(t, err)
	runs, err := s.Latest(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
