package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	// Returned slice is a copy
	got[0] = 'x'
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("v"), again)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRedisCache_SetGet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCache(client)

	_, ok, err := c.Get(ctx, "parlay:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "parlay:k", []byte(`{"a":1}`), time.Minute))
	got, ok, err := c.Get(ctx, "parlay:k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "parlay:k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJSONHelpers_NilCache(t *testing.T) {
	ctx := context.Background()

	var dst models.CorrelationMatrix
	ok, err := GetJSON(ctx, nil, "k", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, SetJSON(ctx, nil, "k", dst, time.Minute))
}

func TestJSONHelpers_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	in := models.IdentityMatrix([]string{"a", "b"})
	require.NoError(t, SetJSON(ctx, c, "m", in, 0))

	var out models.CorrelationMatrix
	ok, err := GetJSON(ctx, c, "m", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.LegIDs, out.LegIDs)
	assert.Equal(t, in.Values, out.Values)
}

func TestMemoryCache_SweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 10000; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Millisecond))
	}
	assert.LessOrEqual(t, c.Len(), DefaultMaxEntries)

	now = now.Add(time.Second)
	for i := 0; i < sweepEvery; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("fresh%d", i), []byte("v"), time.Minute))
	}
	assert.Equal(t, sweepEvery, c.Len())

	_, ok, err := c.Get(ctx, "fresh0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_BoundedEntries(t *testing.T) {
	ctx := context.Background()
	c := NewBoundedMemoryCache(3)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
		assert.LessOrEqual(t, c.Len(), 3)
	}

	// Overwriting an existing key never evicts
	require.NoError(t, c.Set(ctx, "k9", []byte("w"), 0))
	got, ok, err := c.Get(ctx, "k9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("w"), got)
	assert.Equal(t, 3, c.Len())
}

func TestMemoryCache_FullCacheSweepsBeforeEvicting(t *testing.T) {
	ctx := context.Background()
	c := NewBoundedMemoryCache(2)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), time.Hour))

	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "new", []byte("v"), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, ok, err := c.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeys_Deterministic(t *testing.T) {
	ids := []string{"a", "b"}
	legs := []models.Leg{
		{ID: "a", PlayerID: "p1", StatType: "points", Direction: models.DirectionOver, Team: "LAL", GameID: "g1"},
		{ID: "b", PlayerID: "p2", StatType: "assists", Direction: models.DirectionOver, Team: "LAL", GameID: "g1"},
	}
	history := models.ResidualHistory{"a": {{Key: "g1", Value: 1.5}}}

	k1 := CorrelationKey(legs, history, 10, 1e-6)
	k2 := CorrelationKey(legs, history, 10, 1e-6)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, CorrelationKey(legs, nil, 10, 1e-6))
	assert.Contains(t, k1, "parlay:corr:")

	s1 := SimulationKey(ids, []float64{0.6001, 0.55}, "h", models.CopulaGaussian, 1000, 7, 3.0)
	s2 := SimulationKey(ids, []float64{0.6004, 0.55}, "h", models.CopulaGaussian, 1000, 7, 3.0)
	assert.Equal(t, s1, s2, "probabilities are rounded to 3dp")
	assert.NotEqual(t, s1, SimulationKey(ids, []float64{0.61, 0.55}, "h", models.CopulaGaussian, 1000, 7, 3.0))
}

func TestCorrelationKey_RuleInputs(t *testing.T) {
	base := []models.Leg{
		{ID: "1", PlayerID: "p1", StatType: "points", Direction: models.DirectionOver, Team: "LAL", GameID: "g1", Sport: "basketball_nba"},
		{ID: "2", PlayerID: "p2", StatType: "points", Direction: models.DirectionOver, Team: "LAL", GameID: "g1", Sport: "basketball_nba"},
	}
	key := CorrelationKey(base, nil, 10, 1e-6)

	mutations := map[string]func(l *models.Leg){
		"game":      func(l *models.Leg) { l.GameID = "g9" },
		"team":      func(l *models.Leg) { l.Team = "BOS" },
		"player":    func(l *models.Leg) { l.PlayerID = "p1" },
		"stat":      func(l *models.Leg) { l.StatType = "rebounds" },
		"direction": func(l *models.Leg) { l.Direction = models.DirectionUnder },
		"sport":     func(l *models.Leg) { l.Sport = "americanfootball_nfl" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			legs := append([]models.Leg(nil), base...)
			mutate(&legs[1])
			assert.NotEqual(t, key, CorrelationKey(legs, nil, 10, 1e-6))
		})
	}
}
