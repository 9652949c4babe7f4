// Package datasource decides whether reads and writes target the
// remote server or the local replica, and broadcasts state changes.
package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storesync/client/internal/connectivity"
	"github.com/storesync/client/internal/models"
)

// Settings keys for the persisted manual override.
const (
	settingOverrideEnabled = "datasource.override.enabled"
	settingOverrideSource  = "datasource.override.source"
)

// SettingsStore persists small key/value state across restarts.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Listener receives connection state snapshots.
type Listener func(models.ConnectionState)

// Manager owns the active data source selection. All transitions run
// under its lock; listeners are invoked outside it.
type Manager struct {
	checker  *connectivity.Checker
	settings SettingsStore
	log      *zap.Logger

	mu         sync.Mutex
	state      models.ConnectionState
	autoSwitch bool
	override   models.ManualOverride

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewManager restores any persisted manual override and starts in the
// Unknown/Local state. No connectivity check is issued here.
func NewManager(checker *connectivity.Checker, settings SettingsStore, serverURL string, log *zap.Logger) *Manager {
	m := &Manager{
		checker:  checker,
		settings: settings,
		log:      log,
		state: models.ConnectionState{
			Status:     models.ConnStatusUnknown,
			DataSource: models.DataSourceLocal,
			ServerURL:  serverURL,
		},
		autoSwitch: true,
		listeners:  make(map[int]Listener),
	}
	m.restoreOverride()
	return m
}

func (m *Manager) restoreOverride() {
	ctx := context.Background()
	enabled, err := m.settings.Get(ctx, settingOverrideEnabled)
	if err != nil {
		m.log.Warn("failed to restore datasource override", zap.Error(err))
		return
	}
	if enabled != "true" {
		return
	}
	source, err := m.settings.Get(ctx, settingOverrideSource)
	if err != nil {
		m.log.Warn("failed to restore datasource override source", zap.Error(err))
		return
	}
	ds := models.DataSource(source)
	if ds != models.DataSourceRemote && ds != models.DataSourceLocal {
		return
	}
	m.override = models.ManualOverride{Enabled: true, PreferredSource: ds}
	m.state.DataSource = ds
	m.log.Info("restored manual datasource override", zap.String("source", source))
}

// State returns a snapshot of the current connection state.
func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DataSource returns the currently active source.
func (m *Manager) DataSource() models.DataSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DataSource
}

// IsOnline reports whether the last connectivity check succeeded.
func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == models.ConnStatusOnline
}

// Override returns the current manual override.
func (m *Manager) Override() models.ManualOverride {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.override
}

// AutoSwitchEnabled reports whether automatic source selection is on.
func (m *Manager) AutoSwitchEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoSwitch
}

// Subscribe registers a listener and immediately replays the current
// state to it. The returned function unregisters the listener.
func (m *Manager) Subscribe(listener Listener) func() {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.listenersMu.Unlock()

	listener(m.State())

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) notify(state models.ConnectionState) {
	m.listenersMu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMu.Unlock()
	for _, l := range listeners {
		l(state)
	}
}

// CheckConnectivity probes the server and applies the outcome to the
// state machine. The transient Checking status is broadcast before the
// probe so UIs can show progress.
func (m *Manager) CheckConnectivity(ctx context.Context) models.ConnectionState {
	m.mu.Lock()
	m.state.Status = models.ConnStatusChecking
	checking := m.state
	m.mu.Unlock()
	m.notify(checking)

	result := m.checker.CheckWithRetry(ctx)

	m.mu.Lock()
	now := result.Timestamp
	m.state.LastChecked = &now
	m.state.Error = result.Error
	if result.IsOnline {
		m.state.Status = models.ConnStatusOnline
	} else {
		m.state.Status = models.ConnStatusOffline
	}
	m.applySelectionLocked()
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return state
}

// applySelectionLocked recomputes the active source. Remote is chosen
// only when the server is reachable, auto-switch is on and no manual
// override is set. Callers must hold mu.
func (m *Manager) applySelectionLocked() {
	if m.override.Enabled {
		m.state.DataSource = m.override.PreferredSource
		return
	}
	if !m.autoSwitch {
		return
	}
	if m.state.Status == models.ConnStatusOnline {
		m.state.DataSource = models.DataSourceRemote
	} else {
		m.state.DataSource = models.DataSourceLocal
	}
}

// SwitchDataSource sets a manual override to the given source and
// persists it. Switching to the already-active source with an override
// in place is a no-op.
func (m *Manager) SwitchDataSource(ctx context.Context, source models.DataSource) error {
	if source != models.DataSourceRemote && source != models.DataSourceLocal {
		return fmt.Errorf("unknown data source %q", source)
	}

	m.mu.Lock()
	if m.override.Enabled && m.override.PreferredSource == source && m.state.DataSource == source {
		m.mu.Unlock()
		return nil
	}
	m.override = models.ManualOverride{Enabled: true, PreferredSource: source}
	changed := m.state.DataSource != source
	m.state.DataSource = source
	state := m.state
	m.mu.Unlock()

	if err := m.persistOverride(ctx, true, source); err != nil {
		m.log.Warn("failed to persist datasource override", zap.Error(err))
	}
	// Pinning the already-active source records the override without a
	// notification, since the rendered state did not change.
	if changed {
		m.notify(state)
	}
	m.log.Info("data source switched manually", zap.String("source", string(source)))
	return nil
}

// ClearOverride removes the manual override and re-applies automatic
// selection based on the last known status.
func (m *Manager) ClearOverride(ctx context.Context) {
	m.mu.Lock()
	if !m.override.Enabled {
		m.mu.Unlock()
		return
	}
	m.override = models.ManualOverride{}
	before := m.state.DataSource
	m.applySelectionLocked()
	changed := m.state.DataSource != before
	state := m.state
	m.mu.Unlock()

	if err := m.persistOverride(ctx, false, state.DataSource); err != nil {
		m.log.Warn("failed to persist datasource override", zap.Error(err))
	}
	if changed {
		m.notify(state)
	}
}

// SetAutoSwitch toggles automatic source selection. Setting the flag
// to its current value is a no-op and emits no notification.
func (m *Manager) SetAutoSwitch(enabled bool) {
	m.mu.Lock()
	if m.autoSwitch == enabled {
		m.mu.Unlock()
		return
	}
	m.autoSwitch = enabled
	before := m.state.DataSource
	m.applySelectionLocked()
	changed := m.state.DataSource != before
	state := m.state
	m.mu.Unlock()

	if changed {
		m.notify(state)
	}
	m.log.Info("auto switch toggled", zap.Bool("enabled", enabled))
}

func (m *Manager) persistOverride(ctx context.Context, enabled bool, source models.DataSource) error {
	if err := m.settings.Set(ctx, settingOverrideEnabled, fmt.Sprintf("%t", enabled)); err != nil {
		return err
	}
	return m.settings.Set(ctx, settingOverrideSource, string(source))
}

// StartMonitoring begins periodic connectivity checks that feed the
// state machine.
func (m *Manager) StartMonitoring() {
	m.checker.StartPeriodicCheck(func(result connectivity.Result) {
		m.applyResult(result)
	})
}

// StopMonitoring halts periodic checks.
func (m *Manager) StopMonitoring() {
	m.checker.Stop()
}

func (m *Manager) applyResult(result connectivity.Result) {
	m.mu.Lock()
	now := result.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	m.state.LastChecked = &now
	m.state.Error = result.Error
	prevStatus := m.state.Status
	prevSource := m.state.DataSource
	if result.IsOnline {
		m.state.Status = models.ConnStatusOnline
	} else {
		m.state.Status = models.ConnStatusOffline
	}
	m.applySelectionLocked()
	changed := m.state.Status != prevStatus || m.state.DataSource != prevSource
	state := m.state
	m.mu.Unlock()

	if changed {
		m.notify(state)
	}
}
