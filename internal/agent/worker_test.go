package agent

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/cache/memory"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
	tu "github.com/GriffinCanCode/shellcache/internal/testutil"
)

const (
	testOrigin  = "https://app.test"
	testVersion = "scoremaster-v13.0.0"
	shellURL    = "https://app.test/ScoreMaster_PWA.html"
	chartURL    = "https://cdn.jsdelivr.net/npm/chart.js"
)

var errOffline = errors.New("network unreachable")

func testConfig() Config {
	return Config{
		Version:  testVersion,
		Origin:   testOrigin,
		CDNHosts: []string{"cdn.jsdelivr.net"},
		Assets: []string{
			"./",
			"./ScoreMaster_PWA.html",
			"./manifest.json",
			chartURL,
		},
		ShellURL: "./ScoreMaster_PWA.html",
		SyncTags: []string{"sync-scores"},
	}
}

func resolvedAssets() []string {
	return []string{
		"https://app.test/",
		shellURL,
		"https://app.test/manifest.json",
		chartURL,
	}
}

func newWorker(t *testing.T, storage cache.Storage, fetcher *tu.MockFetcher) *Worker {
	t.Helper()
	w, err := New(testConfig(), storage, fetcher, nil)
	require.NoError(t, err)
	return w
}

func fetcherServingAssets(t *testing.T) *tu.MockFetcher {
	t.Helper()
	fetcher := new(tu.MockFetcher)
	for _, asset := range resolvedAssets() {
		fetcher.On("Fetch", mock.Anything, tu.ForURL(asset)).
			Return(tu.CreateTestResponse(t, http.StatusOK, "body of "+asset), nil)
	}
	return fetcher
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing version", func(c *Config) { c.Version = "" }},
		{"version with whitespace", func(c *Config) { c.Version = "v13 beta" }},
		{"relative origin", func(c *Config) { c.Origin = "/app" }},
		{"bad pattern", func(c *Config) { c.CDNHosts = []string{"cdn.[jsdelivr"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			_, err := New(cfg, memory.New(), new(tu.MockFetcher), nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewResolvesAssets(t *testing.T) {
	w := newWorker(t, memory.New(), new(tu.MockFetcher))
	assert.Equal(t, resolvedAssets(), w.Assets())
	assert.Equal(t, testOrigin, w.Origin())
	assert.Equal(t, testVersion, w.Version())
}

func TestInstallCachesEveryAsset(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	fetcher := fetcherServingAssets(t)
	controls := tu.NewMockControls(t)
	w := newWorker(t, storage, fetcher)

	require.NoError(t, w.OnInstall(ctx, controls))

	bucket, err := storage.Open(ctx, testVersion)
	require.NoError(t, err)
	for _, asset := range resolvedAssets() {
		entry, err := bucket.Match(ctx, cache.Key(http.MethodGet, asset))
		require.NoError(t, err, asset)
		assert.Equal(t, "body of "+asset, string(entry.Body))
	}
	controls.AssertCalled(t, "SkipWaiting")
}

func TestInstallFailureStoresNothing(t *testing.T) {
	tests := []struct {
		name string
		resp *types.Response
		err  error
	}{
		{"network error", nil, errOffline},
		{"not found", &types.Response{Status: http.StatusNotFound}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			storage := memory.New()
			controls := tu.NewMockControls(t)

			fetcher := new(tu.MockFetcher)
			fetcher.On("Fetch", mock.Anything, tu.ForURL("https://app.test/manifest.json")).Return(tt.resp, tt.err)
			fetcher.On("Fetch", mock.Anything, mock.Anything).
				Return(tu.CreateTestResponse(t, http.StatusOK, "ok"), nil).Maybe()

			w := newWorker(t, storage, fetcher)
			require.Error(t, w.OnInstall(ctx, controls))

			bucket, err := storage.Open(ctx, testVersion)
			require.NoError(t, err)
			keys, err := bucket.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
			controls.AssertNotCalled(t, "SkipWaiting")
		})
	}
}

func TestActivateDeletesStaleBuckets(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	for _, name := range []string{"scoremaster-v12.0.0", testVersion, "other"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	metrics := monitoring.NewMetrics(nil)
	controls := tu.NewMockControls(t)
	w := newWorker(t, storage, new(tu.MockFetcher)).WithMetrics(metrics)

	require.NoError(t, w.OnActivate(ctx, controls))

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testVersion}, names)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.BucketsDeleted))
	controls.AssertCalled(t, "Claim", mock.Anything)
}

func TestActivateReturnsClaimError(t *testing.T) {
	controls := new(tu.MockControls)
	controls.On("Claim", mock.Anything).Return(errors.New("claim failed"))

	w := newWorker(t, memory.New(), new(tu.MockFetcher))
	assert.EqualError(t, w.OnActivate(context.Background(), controls), "claim failed")
}

func TestFetchBypass(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
	}{
		{"post to origin", http.MethodPost, "https://app.test/scores"},
		{"cross origin", http.MethodGet, "https://api.example.com/data"},
		{"other port", http.MethodGet, "https://app.test:8443/"},
		{"other scheme", http.MethodGet, "http://app.test/"},
		{"relative", http.MethodGet, "/index.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fetcher := new(tu.MockFetcher)
			storage := memory.New()
			w := newWorker(t, storage, fetcher)

			result, err := w.OnFetch(ctx, types.NewRequest(tt.method, tt.url))
			assert.ErrorIs(t, err, ErrNotIntercepted)
			assert.Nil(t, result)
			fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

			buckets, err := storage.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, buckets, "bypassed requests must not touch the cache")
		})
	}
}

func TestFetchCDNPatterns(t *testing.T) {
	cfg := testConfig()
	cfg.CDNHosts = []string{"*.jsdelivr.net", "unpkg.com"}
	w, err := New(cfg, memory.New(), new(tu.MockFetcher), nil)
	require.NoError(t, err)

	assert.True(t, w.Intercepts(types.NewRequest(http.MethodGet, chartURL)))
	assert.True(t, w.Intercepts(types.NewRequest(http.MethodGet, "https://unpkg.com/react")))
	assert.True(t, w.Intercepts(types.NewRequest(http.MethodGet, "HTTPS://APP.TEST/icon-192.png")))
	assert.False(t, w.Intercepts(types.NewRequest(http.MethodGet, "https://jsdelivr.net.evil.com/x")))
	assert.False(t, w.Intercepts(types.NewRequest(http.MethodGet, "ftp://unpkg.com/react")))
}

func TestFetchHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	fetcher := new(tu.MockFetcher)
	w := newWorker(t, storage, fetcher)

	req := tu.CreateTestRequest(t, chartURL, "")
	bucket, err := storage.Open(ctx, testVersion)
	require.NoError(t, err)
	require.NoError(t, bucket.Put(ctx, cache.NewEntry(req, tu.CreateTestResponse(t, http.StatusOK, "cached"))))

	result, err := w.OnFetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, monitoring.OutcomeHit, result.Outcome)
	tu.AssertResponse(t, result.Response, http.StatusOK, "cached")
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestFetchMissStoresOK(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, tu.ForURL(chartURL)).
		Return(tu.CreateTestResponse(t, http.StatusOK, "live"), nil).Once()
	w := newWorker(t, storage, fetcher)

	first, err := w.OnFetch(ctx, tu.CreateTestRequest(t, chartURL, ""))
	require.NoError(t, err)
	assert.Equal(t, monitoring.OutcomeMiss, first.Outcome)
	tu.AssertResponse(t, first.Response, http.StatusOK, "live")

	second, err := w.OnFetch(ctx, tu.CreateTestRequest(t, chartURL, ""))
	require.NoError(t, err)
	assert.Equal(t, monitoring.OutcomeHit, second.Outcome)
	tu.AssertResponse(t, second.Response, http.StatusOK, "live")
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestFetchMissDoesNotStoreOtherStatuses(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(tu.CreateTestResponse(t, http.StatusNotFound, "missing"), nil)
	w := newWorker(t, storage, fetcher)

	result, err := w.OnFetch(ctx, tu.CreateTestRequest(t, "https://app.test/nope", ""))
	require.NoError(t, err)
	tu.AssertResponse(t, result.Response, http.StatusNotFound, "missing")

	bucket, err := storage.Open(ctx, testVersion)
	require.NoError(t, err)
	keys, err := bucket.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

type failingPutStorage struct {
	*memory.Store
}

type failingPutBucket struct {
	cache.Bucket
}

func (s failingPutStorage) Open(ctx context.Context, name string) (cache.Bucket, error) {
	b, err := s.Store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return failingPutBucket{b}, nil
}

func (failingPutBucket) Put(context.Context, *cache.Entry) error {
	return errors.New("disk full")
}

func TestFetchStoreErrorIsSwallowed(t *testing.T) {
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(tu.CreateTestResponse(t, http.StatusOK, "live"), nil)
	metrics := monitoring.NewMetrics(nil)
	w := newWorker(t, failingPutStorage{memory.New()}, fetcher).WithMetrics(metrics)

	result, err := w.OnFetch(context.Background(), tu.CreateTestRequest(t, chartURL, ""))
	require.NoError(t, err)
	tu.AssertResponse(t, result.Response, http.StatusOK, "live")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheStores.WithLabelValues("error")))
}

func TestFetchOfflineFallback(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errOffline)
	w := newWorker(t, storage, fetcher)

	bucket, err := storage.Open(ctx, testVersion)
	require.NoError(t, err)
	shellReq := tu.CreateTestRequest(t, shellURL, "")
	require.NoError(t, bucket.Put(ctx, cache.NewEntry(shellReq, tu.CreateTestResponse(t, http.StatusOK, "<shell>"))))

	t.Run("html request gets shell", func(t *testing.T) {
		req := tu.CreateTestRequest(t, "https://app.test/stats", "text/html,application/xhtml+xml")
		result, err := w.OnFetch(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, monitoring.OutcomeOffline, result.Outcome)
		tu.AssertResponse(t, result.Response, http.StatusOK, "<shell>")
	})

	t.Run("non html request gets error", func(t *testing.T) {
		req := tu.CreateTestRequest(t, "https://app.test/data.json", "application/json")
		_, err := w.OnFetch(ctx, req)
		assert.ErrorIs(t, err, errOffline)
	})

	t.Run("missing accept gets error", func(t *testing.T) {
		req := tu.CreateTestRequest(t, "https://app.test/stats", "")
		assert.NotPanics(t, func() {
			_, err := w.OnFetch(ctx, req)
			assert.ErrorIs(t, err, errOffline)
		})
	})
}

func TestFetchOfflineWithoutShell(t *testing.T) {
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errOffline)
	w := newWorker(t, memory.New(), fetcher)

	_, err := w.OnFetch(context.Background(), tu.CreateTestRequest(t, "https://app.test/", "text/html"))
	assert.ErrorIs(t, err, errOffline)
}

func TestFetchReadsOnlyCurrentBucket(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	req := tu.CreateTestRequest(t, chartURL, "")
	old, err := storage.Open(ctx, "scoremaster-v12.0.0")
	require.NoError(t, err)
	require.NoError(t, old.Put(ctx, cache.NewEntry(req, tu.CreateTestResponse(t, http.StatusOK, "stale"))))

	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(tu.CreateTestResponse(t, http.StatusOK, "fresh"), nil)
	w := newWorker(t, storage, fetcher)

	result, err := w.OnFetch(ctx, req)
	require.NoError(t, err)
	tu.AssertResponse(t, result.Response, http.StatusOK, "fresh")
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	w := newWorker(t, memory.New(), new(tu.MockFetcher))

	t.Run("get version replies", func(t *testing.T) {
		port := &tu.RecordingPort{}
		controls := new(tu.MockControls)
		require.NoError(t, w.OnMessage(ctx, types.Message{Type: types.MessageGetVersion}, port, controls))
		assert.Equal(t, []types.Reply{{Version: testVersion}}, port.Received())
		controls.AssertNotCalled(t, "SkipWaiting")
	})

	t.Run("get version without port", func(t *testing.T) {
		assert.NoError(t, w.OnMessage(ctx, types.Message{Type: types.MessageGetVersion}, nil, new(tu.MockControls)))
	})

	t.Run("skip waiting", func(t *testing.T) {
		port := &tu.RecordingPort{}
		controls := tu.NewMockControls(t)
		require.NoError(t, w.OnMessage(ctx, types.Message{Type: types.MessageSkipWaiting}, port, controls))
		controls.AssertNumberOfCalls(t, "SkipWaiting", 1)
		assert.Empty(t, port.Received())
	})

	t.Run("unknown type ignored", func(t *testing.T) {
		port := &tu.RecordingPort{}
		require.NoError(t, w.OnMessage(ctx, types.Message{Type: "PING"}, port, new(tu.MockControls)))
		assert.Empty(t, port.Received())
	})

	t.Run("port error returned", func(t *testing.T) {
		port := &tu.RecordingPort{Err: errors.New("closed")}
		assert.Error(t, w.OnMessage(ctx, types.Message{Type: types.MessageGetVersion}, port, new(tu.MockControls)))
	})
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	w := newWorker(t, memory.New(), new(tu.MockFetcher))

	handled, err := w.OnSync(ctx, "sync-scores")
	assert.True(t, handled)
	assert.NoError(t, err)

	handled, err = w.OnSync(ctx, "sync-other")
	assert.False(t, handled)
	assert.NoError(t, err)

	w.HandleSync("sync-other", func(context.Context) error { return errors.New("boom") })
	handled, err = w.OnSync(ctx, "sync-other")
	assert.True(t, handled)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"sync-other", "sync-scores"}, w.SyncTags())
}
