package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"parley/internal/domain"
)

// MaxReconnectAttempts caps automatic reconnection. After the final failed
// attempt the monitor parks in a terminal disconnected state that only an
// explicit Reset leaves.
const MaxReconnectAttempts = 5

// Monitor tracks the lifecycle of the real-time transport and exposes a
// snapshot usable by the rest of the system. It performs no business logic
// beyond state tracking and attempt counting.
//
// Transitions: disconnected -> connecting -> connected; connecting -> error
// on handshake failure; connected -> connecting on unexpected drop;
// error -> connecting on retry. ReconnectAttempts resets to 0 only on
// reaching connected.
type Monitor struct {
	mu        sync.Mutex
	state     domain.ConnectionState
	listeners map[uint64]*listener
	nextID    atomic.Uint64
	bus       domain.EventBus
	logger    *slog.Logger
}

// listenerQueueSize bounds each listener's transition backlog. A full queue
// sheds the oldest entry so listeners always converge on the latest state.
const listenerQueueSize = 32

// listener delivers transitions to one subscriber from a dedicated queue, so
// every subscriber observes transitions in the order they happened.
type listener struct {
	ch chan domain.ConnectionState
}

// NewMonitor creates a monitor in the disconnected state. bus may be nil.
func NewMonitor(bus domain.EventBus, logger *slog.Logger) *Monitor {
	return &Monitor{
		state:     domain.ConnectionState{Status: domain.ConnDisconnected},
		listeners: make(map[uint64]*listener),
		bus:       bus,
		logger:    logger,
	}
}

// Snapshot returns the current connection state.
func (m *Monitor) Snapshot() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a listener invoked on every transition, in transition
// order. The returned unsubscribe function is idempotent.
func (m *Monitor) Subscribe(fn func(domain.ConnectionState)) func() {
	id := m.nextID.Add(1)
	l := &listener{ch: make(chan domain.ConnectionState, listenerQueueSize)}
	m.mu.Lock()
	m.listeners[id] = l
	m.mu.Unlock()

	go func() {
		for state := range l.ch {
			fn(state)
		}
	}()

	return func() {
		m.mu.Lock()
		l, ok := m.listeners[id]
		if ok {
			delete(m.listeners, id)
		}
		m.mu.Unlock()
		if ok {
			close(l.ch)
		}
	}
}

// Connecting records the start of a connection attempt. It fails with
// ErrReconnectExhausted when the monitor is terminal.
func (m *Monitor) Connecting() error {
	m.mu.Lock()
	if m.terminalLocked() {
		m.mu.Unlock()
		return domain.NewDomainError("Monitor.Connecting", domain.ErrReconnectExhausted, "")
	}
	m.state.Status = domain.ConnConnecting
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// Connected records a successful handshake and clears the attempt counter.
func (m *Monitor) Connected() {
	m.mu.Lock()
	m.state = domain.ConnectionState{Status: domain.ConnConnected}
	m.notifyLocked()
	m.mu.Unlock()
	m.logger.Info("transport connected")
}

// ConnectFailed records a failed attempt. The fifth consecutive failure
// parks the monitor in terminal disconnected; earlier ones land in error,
// from which the transport retries.
func (m *Monitor) ConnectFailed(err error) {
	m.mu.Lock()
	m.state.ReconnectAttempts++
	m.state.LastError = err.Error()
	if m.state.ReconnectAttempts >= MaxReconnectAttempts {
		m.state.Status = domain.ConnDisconnected
	} else {
		m.state.Status = domain.ConnError
	}
	attempts := m.state.ReconnectAttempts
	m.notifyLocked()
	m.mu.Unlock()

	m.logger.Warn("transport connect failed",
		"attempt", attempts,
		"max", MaxReconnectAttempts,
		"error", err,
	)
}

// Dropped records an unexpected loss of an established connection; the
// machine moves straight to connecting so the transport can redial.
func (m *Monitor) Dropped(err error) {
	m.mu.Lock()
	m.state.Status = domain.ConnConnecting
	if err != nil {
		m.state.LastError = err.Error()
	}
	m.notifyLocked()
	m.mu.Unlock()
	m.logger.Warn("transport dropped", "error", err)
}

// Reset leaves the terminal state on explicit user action, clearing the
// attempt counter so reconnection may begin again.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.state = domain.ConnectionState{Status: domain.ConnDisconnected}
	m.notifyLocked()
	m.mu.Unlock()
	m.logger.Info("connection state reset")
}

// Terminal reports whether automatic reconnection is exhausted.
func (m *Monitor) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminalLocked()
}

func (m *Monitor) terminalLocked() bool {
	return m.state.Status == domain.ConnDisconnected &&
		m.state.ReconnectAttempts >= MaxReconnectAttempts
}

// notifyLocked enqueues the current state for every listener and the bus.
// Callers hold m.mu; each listener drains its own queue, so a slow listener
// never blocks a transition and transition order is preserved per listener.
func (m *Monitor) notifyLocked() {
	state := m.state
	for _, l := range m.listeners {
		select {
		case l.ch <- state:
		default:
			select {
			case <-l.ch:
			default:
			}
			select {
			case l.ch <- state:
			default:
			}
		}
	}
	if m.bus != nil {
		payload, err := json.Marshal(state)
		if err != nil {
			return
		}
		m.bus.Publish(context.Background(), domain.Event{
			Type:      domain.EventConnectionChanged,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
}
