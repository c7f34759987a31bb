package host

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/shellcache/internal/agent"
	"github.com/GriffinCanCode/shellcache/internal/cache/memory"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
	tu "github.com/GriffinCanCode/shellcache/internal/testutil"
)

// fakeWorker scripts lifecycle behaviour without touching storage
type fakeWorker struct {
	version       string
	installErr    error
	failures      atomic.Int32 // install attempts left to fail
	skipOnInstall bool

	mu     sync.Mutex
	events []string
}

func (w *fakeWorker) record(event string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
}

func (w *fakeWorker) Events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

func (w *fakeWorker) Version() string { return w.version }

func (w *fakeWorker) OnInstall(ctx context.Context, ctl agent.Controls) error {
	w.record("install")
	if w.failures.Add(-1) >= 0 {
		return errors.New("flaky network")
	}
	if w.installErr != nil {
		return w.installErr
	}
	if w.skipOnInstall {
		ctl.SkipWaiting()
	}
	return nil
}

func (w *fakeWorker) OnActivate(ctx context.Context, ctl agent.Controls) error {
	w.record("activate")
	return ctl.Claim(ctx)
}

func (w *fakeWorker) OnFetch(ctx context.Context, req *types.Request) (*agent.Result, error) {
	w.record("fetch")
	if req.Method != http.MethodGet {
		return nil, agent.ErrNotIntercepted
	}
	return &agent.Result{
		Response: &types.Response{Status: http.StatusOK, Body: []byte(w.version)},
		Outcome:  monitoring.OutcomeHit,
	}, nil
}

func (w *fakeWorker) OnMessage(ctx context.Context, msg types.Message, port agent.Port, ctl agent.Controls) error {
	w.record("message " + msg.Type)
	switch msg.Type {
	case types.MessageSkipWaiting:
		ctl.SkipWaiting()
	case types.MessageGetVersion:
		if port != nil {
			return port.PostMessage(types.Reply{Version: w.version})
		}
	}
	return nil
}

func (w *fakeWorker) OnSync(ctx context.Context, tag string) (bool, error) {
	w.record("sync " + tag)
	return tag == "sync-scores", nil
}

func (w *fakeWorker) SyncTags() []string { return []string{"sync-scores"} }

type recordingClient struct {
	mu   sync.Mutex
	msgs []types.WSMessage
	err  error
}

func (c *recordingClient) Send(msg types.WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *recordingClient) Received() []types.WSMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.WSMessage(nil), c.msgs...)
}

func TestFirstRegistrationActivates(t *testing.T) {
	h := New(new(tu.MockFetcher), nil)
	client := &recordingClient{}
	clientID := h.AddClient(client)
	assert.Equal(t, "", h.Controller(clientID))

	w := &fakeWorker{version: "v1"}
	require.NoError(t, h.Register(context.Background(), w))

	assert.Equal(t, []string{"install", "activate"}, w.Events())
	assert.Equal(t, "v1", h.ActiveVersion())
	assert.Equal(t, "v1", h.Controller(clientID))
	assert.Equal(t, []types.WSMessage{{Type: MessageControllerChange, Version: "v1"}}, client.Received())

	stats := h.Stats()
	require.NotNil(t, stats.Active)
	assert.Equal(t, types.StateActive, stats.Active.State)
	assert.Nil(t, stats.Waiting)
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.Claimed)
}

func TestSecondRegistrationWaitsForSkipWaiting(t *testing.T) {
	ctx := context.Background()
	h := New(new(tu.MockFetcher), nil)
	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v1"}))

	next := &fakeWorker{version: "v2"}
	require.NoError(t, h.Register(ctx, next))

	stats := h.Stats()
	assert.Equal(t, "v1", stats.Active.Version)
	require.NotNil(t, stats.Waiting)
	assert.Equal(t, "v2", stats.Waiting.Version)
	assert.Equal(t, types.StateWaiting, stats.Waiting.State)

	port := &tu.RecordingPort{}
	require.NoError(t, h.Message(ctx, types.Message{Type: types.MessageGetVersion}, port))
	assert.Equal(t, []types.Reply{{Version: "v1"}}, port.Received())

	require.NoError(t, h.Message(ctx, types.Message{Type: types.MessageSkipWaiting}, nil))
	assert.Equal(t, "v2", h.ActiveVersion())
	assert.Nil(t, h.Stats().Waiting)
	assert.Equal(t, []string{"install", "message SKIP_WAITING", "activate"}, next.Events())
}

func TestSkipWaitingDuringInstallActivates(t *testing.T) {
	ctx := context.Background()
	h := New(new(tu.MockFetcher), nil)
	client := &recordingClient{}
	h.AddClient(client)

	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v1"}))
	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v2", skipOnInstall: true}))

	assert.Equal(t, "v2", h.ActiveVersion())
	assert.Equal(t, []types.WSMessage{
		{Type: MessageControllerChange, Version: "v1"},
		{Type: MessageControllerChange, Version: "v2"},
	}, client.Received())
}

func TestFailedInstallLeavesActiveWorker(t *testing.T) {
	ctx := context.Background()
	h := New(new(tu.MockFetcher), nil)
	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v1"}))

	err := h.Register(ctx, &fakeWorker{version: "v2", installErr: errors.New("404")})
	assert.Error(t, err)
	assert.Equal(t, "v1", h.ActiveVersion())
	assert.Nil(t, h.Stats().Waiting)
}

func TestClaimSendFailureDoesNotFailActivation(t *testing.T) {
	h := New(new(tu.MockFetcher), nil)
	broken := &recordingClient{err: errors.New("socket closed")}
	healthy := &recordingClient{}
	h.AddClient(broken)
	h.AddClient(healthy)

	require.NoError(t, h.Register(context.Background(), &fakeWorker{version: "v1"}))
	assert.Len(t, broken.Received(), 1)
	assert.Len(t, healthy.Received(), 1)
	assert.Equal(t, 2, h.Stats().Claimed)
}

func TestClientsAddedAfterActivationAreControlled(t *testing.T) {
	metrics := monitoring.NewMetrics(nil)
	h := New(new(tu.MockFetcher), nil).WithMetrics(metrics)
	require.NoError(t, h.Register(context.Background(), &fakeWorker{version: "v1"}))

	clientID := h.AddClient(&recordingClient{})
	assert.Equal(t, "v1", h.Controller(clientID))
	assert.Equal(t, []string{clientID.String()}, func() []string {
		var out []string
		for _, id := range h.ClientIDs() {
			out = append(out, id.String())
		}
		return out
	}())

	h.RemoveClient(clientID)
	assert.Equal(t, "", h.Controller(clientID))
	assert.Equal(t, 0, h.Stats().Clients)
}

func TestStatsReportsOldestClient(t *testing.T) {
	h := New(new(tu.MockFetcher), nil)
	assert.Nil(t, h.Stats().OldestClient)

	before := time.Now().Add(-time.Millisecond)
	first := h.AddClient(&recordingClient{})
	h.AddClient(&recordingClient{})
	after := time.Now().Add(time.Millisecond)

	stats := h.Stats()
	assert.Equal(t, 2, stats.Clients)
	require.NotNil(t, stats.OldestClient)
	assert.True(t, stats.OldestClient.After(before))
	assert.True(t, stats.OldestClient.Before(after))

	h.RemoveClient(first)
	assert.Equal(t, 1, h.Stats().Clients)
	assert.NotNil(t, h.Stats().OldestClient)
}

func TestFetchDispatch(t *testing.T) {
	ctx := context.Background()
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(tu.CreateTestResponse(t, http.StatusCreated, "network"), nil)
	h := New(fetcher, nil)

	t.Run("no active worker passes through", func(t *testing.T) {
		result, err := h.Fetch(ctx, types.NewRequest(http.MethodGet, "https://app.test/"))
		require.NoError(t, err)
		assert.Equal(t, monitoring.OutcomeBypass, result.Outcome)
		tu.AssertResponse(t, result.Response, http.StatusCreated, "network")
	})

	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v1"}))

	t.Run("intercepted by worker", func(t *testing.T) {
		result, err := h.Fetch(ctx, types.NewRequest(http.MethodGet, "https://app.test/"))
		require.NoError(t, err)
		assert.Equal(t, monitoring.OutcomeHit, result.Outcome)
		tu.AssertResponse(t, result.Response, http.StatusOK, "v1")
	})

	t.Run("not intercepted passes through", func(t *testing.T) {
		result, err := h.Fetch(ctx, types.NewRequest(http.MethodPost, "https://app.test/scores"))
		require.NoError(t, err)
		assert.Equal(t, monitoring.OutcomeBypass, result.Outcome)
	})
}

func TestFetchPassthroughError(t *testing.T) {
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("offline"))
	h := New(fetcher, nil)

	_, err := h.Fetch(context.Background(), types.NewRequest(http.MethodGet, "https://app.test/"))
	assert.EqualError(t, err, "offline")
}

func TestEventsWithoutWorker(t *testing.T) {
	h := New(new(tu.MockFetcher), nil)

	assert.ErrorIs(t, h.Message(context.Background(), types.Message{Type: types.MessageGetVersion}, nil), ErrNoWorker)
	_, err := h.Sync(context.Background(), "sync-scores")
	assert.ErrorIs(t, err, ErrNoWorker)
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	h := New(new(tu.MockFetcher), nil)
	assert.Nil(t, h.SyncTags())
	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v1"}))
	assert.Equal(t, []string{"sync-scores"}, h.SyncTags())

	handled, err := h.Sync(ctx, "sync-scores")
	require.NoError(t, err)
	assert.True(t, handled)

	handled, err = h.Sync(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestRegisterWithRetry(t *testing.T) {
	h := New(new(tu.MockFetcher), nil)
	w := &fakeWorker{version: "v1"}
	w.failures.Store(2)

	require.NoError(t, h.RegisterWithRetry(context.Background(), w, time.Millisecond))
	assert.Equal(t, "v1", h.ActiveVersion())
	assert.Equal(t, []string{"install", "install", "install", "activate"}, w.Events())
}

func TestRegisterWithRetryStopsOnCancel(t *testing.T) {
	h := New(new(tu.MockFetcher), nil)
	w := &fakeWorker{version: "v1", installErr: errors.New("down")}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.RegisterWithRetry(ctx, w, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "", h.ActiveVersion())
}

func TestConcurrentFetchDuringRegistration(t *testing.T) {
	ctx := context.Background()
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(tu.CreateTestResponse(t, http.StatusOK, "network"), nil)
	h := New(fetcher, nil)
	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v1"}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.Fetch(ctx, types.NewRequest(http.MethodGet, "https://app.test/"))
			assert.NoError(t, err)
			assert.Equal(t, http.StatusOK, result.Response.Status)
		}()
	}
	require.NoError(t, h.Register(ctx, &fakeWorker{version: "v2", skipOnInstall: true}))
	wg.Wait()

	assert.Equal(t, "v2", h.ActiveVersion())
}

func TestAgentLifecycleAcrossVersions(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(tu.CreateTestResponse(t, http.StatusOK, "asset"), nil)

	newAgent := func(version string) *agent.Worker {
		w, err := agent.New(agent.Config{
			Version:  version,
			Origin:   "https://app.test",
			Assets:   []string{"./", "./ScoreMaster_PWA.html"},
			ShellURL: "./ScoreMaster_PWA.html",
		}, storage, fetcher, nil)
		require.NoError(t, err)
		return w
	}

	h := New(fetcher, nil)
	client := &recordingClient{}
	h.AddClient(client)

	require.NoError(t, h.Register(ctx, newAgent("scoremaster-v12.0.0")))
	require.NoError(t, h.Register(ctx, newAgent("scoremaster-v13.0.0")))

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scoremaster-v13.0.0"}, names)
	assert.Equal(t, "scoremaster-v13.0.0", h.ActiveVersion())

	port := &tu.RecordingPort{}
	require.NoError(t, h.Message(ctx, types.Message{Type: types.MessageGetVersion}, port))
	assert.Equal(t, []types.Reply{{Version: "scoremaster-v13.0.0"}}, port.Received())
	assert.Len(t, client.Received(), 2)
}

func TestFailedAgentInstallIsRedundant(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	fetcher := new(tu.MockFetcher)
	fetcher.On("Fetch", mock.Anything, tu.ForURL("https://app.test/icon-512.png")).
		Return(&types.Response{Status: http.StatusNotFound}, nil)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(tu.CreateTestResponse(t, http.StatusOK, "asset"), nil)

	w, err := agent.New(agent.Config{
		Version: "scoremaster-v13.0.0",
		Origin:  "https://app.test",
		Assets:  []string{"./", "./icon-512.png"},
	}, storage, fetcher, nil)
	require.NoError(t, err)

	h := New(fetcher, nil)
	require.Error(t, h.Register(ctx, w))
	assert.Nil(t, h.Stats().Active)

	bucket, err := storage.Open(ctx, "scoremaster-v13.0.0")
	require.NoError(t, err)
	keys, err := bucket.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
