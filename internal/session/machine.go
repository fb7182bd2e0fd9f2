// Package session owns the gateway connection lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/edubauerdev/wasync/internal/bus"
	"github.com/edubauerdev/wasync/internal/store"
	"go.uber.org/zap"
)

// State represents a session lifecycle state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	AwaitingScan State = "awaiting_scan"
	Connected    State = "connected"
	Errored      State = "error"
)

const (
	// DefaultScanTimeout bounds how long a manual connect waits for the user
	// to scan the pairing code before the attempt is aborted.
	DefaultScanTimeout = 5 * time.Minute
	// DefaultReconnectDelay is the fixed pause before retrying after an
	// unexpected closure.
	DefaultReconnectDelay = 3 * time.Second
)

// Gateway is the slice of the WhatsApp adapter the machine drives.
type Gateway interface {
	HasCredentials() bool
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
}

// StatusStore persists session status snapshots.
type StatusStore interface {
	UpsertSessionStatus(*store.SessionStatus) error
}

// StatusChange is the bus payload for status transitions.
type StatusChange struct {
	From State
	To   State
}

// Machine tracks the session lifecycle and owns the reconnect policy.
// Transitions are driven by gateway events and explicit connect/disconnect
// requests; each transition is persisted to the store as a side effect
// (failures there are logged, never blocking).
type Machine struct {
	mu        sync.Mutex
	state     State
	identity  string
	challenge string

	gateway Gateway
	db      StatusStore
	bus     *bus.Bus
	logger  *zap.Logger

	scanTimer      *time.Timer
	reconnectTimer *time.Timer
	scanTimeout    time.Duration
	reconnectDelay time.Duration
}

// NewMachine creates a machine in the disconnected state.
func NewMachine(gw Gateway, db StatusStore, b *bus.Bus, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		state:          Disconnected,
		gateway:        gw,
		db:             db,
		bus:            b,
		logger:         logger,
		scanTimeout:    DefaultScanTimeout,
		reconnectDelay: DefaultReconnectDelay,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the authenticated account identifier, or "".
func (m *Machine) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Challenge returns the pending pairing code, or "".
func (m *Machine) Challenge() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge
}

// Snapshot returns the status record persisted on transitions.
func (m *Machine) Snapshot() *store.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// RequestConnect opens the gateway session. Already-connecting and
// already-connected sessions make this a no-op. Non-manual requests with no
// stored credential stay disconnected: the daemon does not start a pairing
// flow nobody is watching.
func (m *Machine) RequestConnect(manual bool) {
	m.mu.Lock()
	switch m.state {
	case Connecting, AwaitingScan, Connected:
		m.mu.Unlock()
		return
	}
	if !manual && !m.gateway.HasCredentials() {
		m.mu.Unlock()
		m.logger.Info("no stored credential, staying disconnected")
		return
	}
	m.stopReconnectLocked()
	m.transitionLocked(Connecting)
	if manual {
		m.armScanTimeoutLocked()
	}
	m.mu.Unlock()

	if err := m.gateway.Connect(); err != nil {
		m.logger.Error("gateway connect failed", zap.Error(err))
		m.mu.Lock()
		m.stopScanTimeoutLocked()
		m.transitionLocked(Errored)
		if m.gateway.HasCredentials() {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
	}
}

// RequestDisconnect logs out (invalidating the stored credential), cancels
// pending timers, and forces the disconnected state. Disconnecting an
// already-disconnected session is a no-op.
func (m *Machine) RequestDisconnect(ctx context.Context) {
	m.mu.Lock()
	if m.state == Disconnected {
		m.mu.Unlock()
		return
	}
	m.stopScanTimeoutLocked()
	m.stopReconnectLocked()
	m.mu.Unlock()

	if err := m.gateway.Logout(ctx); err != nil {
		m.logger.Warn("gateway logout failed", zap.Error(err))
	}
	m.gateway.Disconnect()

	m.mu.Lock()
	m.identity = ""
	m.challenge = ""
	m.transitionLocked(Disconnected)
	m.mu.Unlock()
}

// ChallengeIssued records a pairing code from the gateway and publishes it
// for rendering.
func (m *Machine) ChallengeIssued(code string) {
	m.mu.Lock()
	m.challenge = code
	m.transitionLocked(AwaitingScan)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: bus.KindSessionQR, Timestamp: time.Now(), Payload: code})
	}
}

// Established marks the session authenticated and connected.
func (m *Machine) Established(identity string) {
	m.mu.Lock()
	m.stopScanTimeoutLocked()
	m.stopReconnectLocked()
	m.identity = identity
	m.challenge = ""
	m.transitionLocked(Connected)
	m.mu.Unlock()
}

// MarkConnected forces the connected state. The history pipeline calls this
// when a snapshot completes: a delivered snapshot is itself proof of auth.
func (m *Machine) MarkConnected() {
	m.mu.Lock()
	if m.state == Connected {
		m.mu.Unlock()
		return
	}
	m.stopScanTimeoutLocked()
	m.challenge = ""
	m.transitionLocked(Connected)
	m.mu.Unlock()
}

// Closed handles a gateway closure. Explicit logouts stay down until a manual
// reconnect; anything else retries once after the fixed delay, provided a
// credential survives.
func (m *Machine) Closed(reason string, loggedOut bool) {
	m.logger.Warn("gateway connection closed",
		zap.String("reason", reason),
		zap.Bool("logged_out", loggedOut))

	m.mu.Lock()
	m.stopScanTimeoutLocked()
	m.challenge = ""
	if loggedOut {
		m.identity = ""
	}
	m.transitionLocked(Disconnected)
	if !loggedOut && m.gateway.HasCredentials() {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
}

// Stop cancels pending timers. Used during daemon shutdown.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopScanTimeoutLocked()
	m.stopReconnectLocked()
	m.mu.Unlock()
}

func (m *Machine) transitionLocked(to State) {
	from := m.state
	m.state = to
	m.persistLocked()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSessionStatus,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
}

// persistLocked writes the status snapshot. Fire-and-forget: a store failure
// must not block a lifecycle transition.
func (m *Machine) persistLocked() {
	if m.db == nil {
		return
	}
	if err := m.db.UpsertSessionStatus(m.snapshotLocked()); err != nil {
		m.logger.Warn("failed to persist session status", zap.Error(err))
	}
}

func (m *Machine) snapshotLocked() *store.SessionStatus {
	s := &store.SessionStatus{Status: string(m.state), Challenge: m.challenge}
	if m.state == Connected {
		s.Identity = m.identity
	}
	return s
}

func (m *Machine) armScanTimeoutLocked() {
	m.stopScanTimeoutLocked()
	m.scanTimer = time.AfterFunc(m.scanTimeout, m.scanTimedOut)
}

func (m *Machine) scanTimedOut() {
	m.mu.Lock()
	if m.state != Connecting && m.state != AwaitingScan {
		m.mu.Unlock()
		return
	}
	m.challenge = ""
	m.transitionLocked(Disconnected)
	m.mu.Unlock()

	m.logger.Warn("scan window expired, aborting connect attempt")
	m.gateway.Disconnect()
}

func (m *Machine) stopScanTimeoutLocked() {
	if m.scanTimer != nil {
		m.scanTimer.Stop()
		m.scanTimer = nil
	}
}

func (m *Machine) scheduleReconnectLocked() {
	m.stopReconnectLocked()
	m.reconnectTimer = time.AfterFunc(m.reconnectDelay, func() {
		m.RequestConnect(false)
	})
}

func (m *Machine) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}
