package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/shellcache/internal/agent"
	"github.com/GriffinCanCode/shellcache/internal/fetch"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shellcache/internal/shared/id"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// ErrNoWorker is returned when an event arrives before any worker installed
var ErrNoWorker = errors.New("no worker registered")

// MessageControllerChange is sent to clients when a new worker claims them
const MessageControllerChange = "CONTROLLER_CHANGE"

// Worker is the event surface a host drives
type Worker interface {
	Version() string
	OnInstall(ctx context.Context, ctl agent.Controls) error
	OnActivate(ctx context.Context, ctl agent.Controls) error
	OnFetch(ctx context.Context, req *types.Request) (*agent.Result, error)
	OnMessage(ctx context.Context, msg types.Message, port agent.Port, ctl agent.Controls) error
	OnSync(ctx context.Context, tag string) (bool, error)
	SyncTags() []string
}

// Client is a connected page that can receive frames
type Client interface {
	Send(msg types.WSMessage) error
}

// registration is one worker's trip through the lifecycle. It is the
// Controls handle the worker sees.
type registration struct {
	id          id.RegistrationID
	worker      Worker
	host        *Host
	state       types.State // Protected by host.mu
	skipWaiting atomic.Bool
}

func (r *registration) SkipWaiting() {
	r.skipWaiting.Store(true)
}

func (r *registration) Claim(ctx context.Context) error {
	return r.host.claim(ctx, r)
}

type clientEntry struct {
	client     Client
	controller string
}

// Host binds workers to clients and the network
type Host struct {
	lifecycle sync.Mutex // Serialises install and activate

	mu      sync.RWMutex
	active  *registration                // Protected by mu
	waiting *registration                // Protected by mu
	clients map[id.ClientID]*clientEntry // Protected by mu

	passthrough fetch.Fetcher
	logger      *logging.Logger
	metrics     *monitoring.Metrics
}

// New creates a host. passthrough serves requests no worker intercepts.
func New(passthrough fetch.Fetcher, logger *logging.Logger) *Host {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Host{
		clients:     make(map[id.ClientID]*clientEntry),
		passthrough: passthrough,
		logger:      logger.Named("host"),
	}
}

// WithMetrics adds metrics tracking to the host
func (h *Host) WithMetrics(metrics *monitoring.Metrics) *Host {
	h.metrics = metrics
	return h
}

func (h *Host) setState(reg *registration, state types.State) {
	h.mu.Lock()
	reg.state = state
	h.mu.Unlock()

	h.logger.Debug("Worker state",
		zap.String("registration", reg.id.String()),
		zap.String("version", reg.worker.Version()),
		zap.String("state", string(state)),
	)
	if h.metrics != nil {
		h.metrics.RecordTransition(reg.worker.Version(), string(state))
	}
}

// Register installs w and activates it when nothing is active or the
// worker asked to skip waiting. A worker that fails to install becomes
// redundant and leaves the current workers untouched.
func (h *Host) Register(ctx context.Context, w Worker) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	reg := &registration{id: id.NewRegistrationID(), worker: w, host: h}

	h.setState(reg, types.StateInstalling)
	if err := w.OnInstall(ctx, reg); err != nil {
		h.setState(reg, types.StateRedundant)
		return fmt.Errorf("install %s: %w", w.Version(), err)
	}

	h.mu.Lock()
	replaced := h.waiting
	h.waiting = reg
	hasActive := h.active != nil
	h.mu.Unlock()

	if replaced != nil {
		h.setState(replaced, types.StateRedundant)
	}
	h.setState(reg, types.StateWaiting)

	if reg.skipWaiting.Load() || !hasActive {
		return h.activate(ctx, reg)
	}

	h.logger.Info("Worker waiting", zap.String("version", w.Version()))
	return nil
}

// RegisterWithRetry calls Register until it succeeds or ctx ends
func (h *Host) RegisterWithRetry(ctx context.Context, w Worker, interval time.Duration) error {
	for {
		err := h.Register(ctx, w)
		if err == nil {
			return nil
		}
		h.logger.Warn("Registration failed, retrying",
			zap.String("version", w.Version()),
			zap.Duration("interval", interval),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// activate promotes reg from waiting. Must hold lifecycle.
func (h *Host) activate(ctx context.Context, reg *registration) error {
	h.mu.Lock()
	previous := h.active
	h.active = reg
	if h.waiting == reg {
		h.waiting = nil
	}
	h.mu.Unlock()

	if previous != nil {
		h.setState(previous, types.StateRedundant)
	}
	h.setState(reg, types.StateActivating)

	err := reg.worker.OnActivate(ctx, reg)
	h.setState(reg, types.StateActive)
	if err != nil {
		h.logger.Error("Activation failed", zap.String("version", reg.worker.Version()), zap.Error(err))
		return fmt.Errorf("activate %s: %w", reg.worker.Version(), err)
	}

	h.logger.Info("Worker active", zap.String("version", reg.worker.Version()))
	return nil
}

// claim makes reg the controller of every client
func (h *Host) claim(ctx context.Context, reg *registration) error {
	version := reg.worker.Version()

	h.mu.Lock()
	targets := make([]Client, 0, len(h.clients))
	for _, entry := range h.clients {
		entry.controller = version
		targets = append(targets, entry.client)
	}
	h.mu.Unlock()

	msg := types.WSMessage{Type: MessageControllerChange, Version: version}
	for _, client := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := client.Send(msg); err != nil {
			h.logger.Warn("Controller change not delivered", zap.Error(err))
		}
	}

	h.logger.Info("Clients claimed", zap.String("version", version), zap.Int("clients", len(targets)))
	return nil
}

// Fetch dispatches req to the active worker. Requests the worker does not
// intercept, and all requests while nothing is active, go to the network.
func (h *Host) Fetch(ctx context.Context, req *types.Request) (*agent.Result, error) {
	h.mu.RLock()
	reg := h.active
	h.mu.RUnlock()

	if reg != nil {
		result, err := reg.worker.OnFetch(ctx, req)
		if !errors.Is(err, agent.ErrNotIntercepted) {
			return result, err
		}
	}

	resp, err := h.passthrough.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &agent.Result{Response: resp, Outcome: monitoring.OutcomeBypass}, nil
}

// Message dispatches msg. SKIP_WAITING goes to the waiting worker when
// there is one so it can be promoted; everything else goes to the active
// worker.
func (h *Host) Message(ctx context.Context, msg types.Message, port agent.Port) error {
	h.mu.RLock()
	target := h.active
	if msg.Type == types.MessageSkipWaiting && h.waiting != nil {
		target = h.waiting
	}
	if target == nil {
		target = h.waiting
	}
	h.mu.RUnlock()

	if target == nil {
		return ErrNoWorker
	}

	if err := target.worker.OnMessage(ctx, msg, port, target); err != nil {
		return err
	}

	if !target.skipWaiting.Load() {
		return nil
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.RLock()
	stillWaiting := h.waiting == target
	h.mu.RUnlock()
	if !stillWaiting {
		return nil
	}
	return h.activate(ctx, target)
}

// Sync dispatches a background sync to the active worker
func (h *Host) Sync(ctx context.Context, tag string) (bool, error) {
	h.mu.RLock()
	reg := h.active
	h.mu.RUnlock()

	if reg == nil {
		return false, ErrNoWorker
	}
	return reg.worker.OnSync(ctx, tag)
}

// SyncTags returns the sync tags the active worker handles
func (h *Host) SyncTags() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.active == nil {
		return nil
	}
	return h.active.worker.SyncTags()
}

// AddClient registers a connected page. It is controlled by the active
// worker, if any.
func (h *Host) AddClient(client Client) id.ClientID {
	clientID := id.NewClientID()

	h.mu.Lock()
	entry := &clientEntry{client: client}
	if h.active != nil && h.active.state == types.StateActive {
		entry.controller = h.active.worker.Version()
	}
	h.clients[clientID] = entry
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetClients(count)
	}
	return clientID
}

// RemoveClient forgets a disconnected page
func (h *Host) RemoveClient(clientID id.ClientID) {
	h.mu.Lock()
	delete(h.clients, clientID)
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetClients(count)
	}
}

// Controller returns the version controlling a client, or "" when the
// client is uncontrolled or unknown
func (h *Host) Controller(clientID id.ClientID) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if entry, ok := h.clients[clientID]; ok {
		return entry.controller
	}
	return ""
}

// ActiveVersion returns the active worker's version, or ""
func (h *Host) ActiveVersion() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.active == nil {
		return ""
	}
	return h.active.worker.Version()
}

// Stats returns a snapshot of workers and clients
func (h *Host) Stats() types.Stats {
	ids := h.ClientIDs()

	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := types.Stats{Clients: len(h.clients)}
	// Client IDs are ULIDs, so the smallest is the oldest
	if len(ids) > 0 {
		if joined, err := id.Timestamp(ids[0].String()); err == nil {
			stats.OldestClient = &joined
		}
	}
	if h.active != nil {
		stats.Active = &types.WorkerInfo{Version: h.active.worker.Version(), State: h.active.state}
	}
	if h.waiting != nil {
		stats.Waiting = &types.WorkerInfo{Version: h.waiting.worker.Version(), State: h.waiting.state}
	}
	for _, entry := range h.clients {
		if entry.controller != "" {
			stats.Claimed++
		}
	}
	return stats
}

// ClientIDs returns the connected client IDs in ascending order
func (h *Host) ClientIDs() []id.ClientID {
	h.mu.RLock()
	ids := make([]id.ClientID, 0, len(h.clients))
	for clientID := range h.clients {
		ids = append(ids, clientID)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
