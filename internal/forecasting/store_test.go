package forecasting

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacore/m/domain"
)

func TestModelKeyFilename(t *testing.T) {
	cases := []struct {
		key  ModelKey
		want string
	}{
		{ModelKey{PharmacyID: 3, Kind: domain.TargetProduct, TargetID: "42"}, "product_3_42.json"},
		{ModelKey{PharmacyID: 3, Kind: domain.TargetCategory, TargetID: "../etc/passwd"}, "category_3_.._etc_passwd.json"},
		{ModelKey{PharmacyID: 9, Kind: domain.TargetProduct, TargetID: "a b/c\\d:é"}, "product_9_a_b_c_d__.json"},
	}
	for _, tc := range cases {
		got := tc.key.Filename()
		assert.Equal(t, tc.want, got)
		assert.Equal(t, got, filepath.Base(got))
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "models")
	store := NewFileStore(dir)
	key := ModelKey{PharmacyID: 1, Kind: domain.TargetProduct, TargetID: "7"}

	_, err := store.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrModelNotFound))

	require.NoError(t, store.Save(ctx, key, []byte("first")))
	require.NoError(t, store.Save(ctx, key, []byte("second")))
	b, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are renamed away")

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client)
	key := ModelKey{PharmacyID: 2, Kind: domain.TargetCategory, TargetID: "5"}

	_, err := store.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrModelNotFound))

	require.NoError(t, store.Save(ctx, key, []byte("blob")))
	assert.True(t, mr.Exists("pharmacore:model:category_2_5.json"))
	b, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(b))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

func TestCodecRoundTripPreservesForecasts(t *testing.T) {
	models := []Model{
		newHoltWinters(weekly(28), 7, 0.4, 0.05, 0.2),
		newHoltWinters(weekly(12), 0, 0.4, 0.05, 0),
	}
	if m, err := fitSARIMA(weekly(60), 7); err == nil {
		models = append(models, m)
	}
	for _, m := range models {
		m.(interface{ observedUntil(t time.Time) }).observedUntil(anchor)
		blob, err := EncodeModel(m)
		require.NoError(t, err)
		decoded, err := DecodeModel(blob)
		require.NoError(t, err)

		assert.Equal(t, m.Meta(), decoded.Meta())
		want, err := GenerateForecast(m, 10, nil, anchor)
		require.NoError(t, err)
		got, err := GenerateForecast(decoded, 10, nil, anchor)
		require.NoError(t, err)
		assert.Equal(t, want.Dates, got.Dates)
		assert.InDeltaSlice(t, want.Values, got.Values, 1e-6)
	}
}

func TestCodecRejectsForeignModels(t *testing.T) {
	_, err := EncodeModel(opaqueModel{})
	assert.True(t, errors.Is(err, ErrUnsupportedModel))

	_, err = DecodeModel([]byte(`{"version":1,"meta":{"type":"prophet"}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedModel))

	corrupt := map[string]string{
		"not json":         `not json`,
		"future version":   `{"version":2,"meta":{"type":"exponential_smoothing"},"params":[0.3,0.1,0.1],"series":[1,2,3]}`,
		"negative period":  `{"version":1,"meta":{"type":"exponential_smoothing"},"params":[0.3,0.1,0.1],"period":-3,"series":[1,2,3,4,5]}`,
		"unit period":      `{"version":1,"meta":{"type":"exponential_smoothing"},"params":[0.3,0.1,0.1],"period":1,"series":[1,2,3,4,5]}`,
		"short season":     `{"version":1,"meta":{"type":"exponential_smoothing"},"params":[0.3,0.1,0.1],"period":7,"series":[1,2,3,4,5]}`,
		"param range":      `{"version":1,"meta":{"type":"exponential_smoothing"},"params":[7.5,0.1,0.1],"series":[1,2,3,4,5]}`,
		"missing params":   `{"version":1,"meta":{"type":"exponential_smoothing"},"series":[1,2,3,4,5]}`,
		"sarima period":    `{"version":1,"meta":{"type":"sarima"},"period":-1,"series":[1,2,3,4,5]}`,
		"sarima too short": `{"version":1,"meta":{"type":"sarima"},"period":7,"series":[1,2,3,4,5,6,7,8,9]}`,
	}
	for name, blob := range corrupt {
		t.Run(name, func(t *testing.T) {
			var m Model
			require.NotPanics(t, func() { m, err = DecodeModel([]byte(blob)) })
			assert.Nil(t, m)
			assert.True(t, errors.Is(err, ErrCorruptModel), "got %v", err)
		})
	}
}

func TestDecodeRejectsNonFiniteValues(t *testing.T) {
	m := newHoltWinters(weekly(12), 0, 0.4, 0.05, 0)
	m.Y[3] = math.NaN()
	_, err := EncodeModel(m)
	// encoding/json refuses NaN, so a stored blob can never carry one
	require.Error(t, err)
	assert.False(t, finite([]float64{1, math.Inf(-1)}))
	assert.True(t, finite([]float64{1, 2}))
}

type countingStore struct {
	Store
	loads int
}

func (c *countingStore) Load(ctx context.Context, key ModelKey) ([]byte, error) {
	c.loads++
	return c.Store.Load(ctx, key)
}

func TestRegistryCachesDecodedModels(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: NewFileStore(t.TempDir())}
	reg, err := NewRegistry(store, 8)
	require.NoError(t, err)
	key := ModelKey{PharmacyID: 1, Kind: domain.TargetProduct, TargetID: "1"}

	_, err = reg.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrModelNotFound))

	m := newHoltWinters(weekly(20), 0, 0.5, 0.1, 0)
	require.NoError(t, reg.Save(ctx, key, m))
	got, err := reg.Load(ctx, key)
	require.NoError(t, err)
	assert.Same(t, m, got)

	fresh, err := NewRegistry(store, 8)
	require.NoError(t, err)
	first, err := fresh.Load(ctx, key)
	require.NoError(t, err)
	second, err := fresh.Load(ctx, key)
	require.NoError(t, err)
	assert.Same(t, first, second, "an unchanged blob is decoded once")
	assert.Equal(t, 4, store.loads)

	require.NoError(t, reg.Delete(ctx, key))
	_, err = reg.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

func TestRegistriesSharingRedisSeeEachOthersWrites(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client)
	key := ModelKey{PharmacyID: 4, Kind: domain.TargetProduct, TargetID: "9"}

	writer, err := NewRegistry(store, 8)
	require.NoError(t, err)
	reader, err := NewRegistry(store, 8)
	require.NoError(t, err)

	low := newHoltWinters(constantTrend(20, 5), 0, 0.5, 0.1, 0)
	require.NoError(t, writer.Save(ctx, key, low))
	got, err := reader.Load(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, low.Forecast(1)[0], got.(PointForecaster).Forecast(1)[0], 1e-9)

	high := newHoltWinters(constantTrend(20, 100), 0, 0.5, 0.1, 0)
	require.NoError(t, writer.Save(ctx, key, high))
	got, err = reader.Load(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, high.Forecast(1)[0], got.(PointForecaster).Forecast(1)[0], 1e-9)

	require.NoError(t, writer.Delete(ctx, key))
	got, err = reader.Load(ctx, key)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

// constantTrend is a series rising by one a day from base.
func constantTrend(n int, base float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + float64(i)
	}
	return out
}
