package listener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/routeplane/internal/logging"
)

// Listener is a data-plane socket serving one compiled listener bucket.
type Listener interface {
	// ID returns the unique identifier for this listener
	ID() string

	// Protocol returns HTTP or HTTPS
	Protocol() string

	// Start binds the socket and begins serving. It returns once the
	// socket is bound; serving continues in the background.
	Start(ctx context.Context) error

	// Stop gracefully stops the listener
	Stop(ctx context.Context) error

	// Addr returns the bound address, or the configured one before Start.
	Addr() string
}

// Manager manages multiple listeners
type Manager struct {
	mu        sync.RWMutex
	listeners map[string]Listener
	logger    *zap.Logger
}

// NewManager creates a new listener manager
func NewManager() *Manager {
	return &Manager{
		listeners: make(map[string]Listener),
		logger:    logging.Global(),
	}
}

// Add registers a listener. IDs must be unique.
func (m *Manager) Add(l Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listeners[l.ID()]; exists {
		return fmt.Errorf("listener with id %s already exists", l.ID())
	}
	m.listeners[l.ID()] = l
	return nil
}

// Get returns a listener by ID
func (m *Manager) Get(id string) (Listener, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listeners[id]
	return l, ok
}

// StartAll starts every listener. On the first failure the listeners
// already started are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var started []Listener
	for _, id := range m.sortedIDs() {
		l := m.listeners[id]
		if err := l.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return fmt.Errorf("listener %s: %w", id, err)
		}
		m.logger.Info("listener started",
			zap.String("id", id),
			zap.String("protocol", l.Protocol()),
			zap.String("address", l.Addr()),
		)
		started = append(started, l)
	}
	return nil
}

// StopAll gracefully stops all listeners concurrently
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, l := range m.listeners {
		wg.Add(1)
		go func(l Listener) {
			defer wg.Done()
			if err := l.Stop(ctx); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("listener %s: %w", l.ID(), err))
				emu.Unlock()
				return
			}
			m.logger.Info("listener stopped", zap.String("id", l.ID()))
		}(l)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Count returns the number of registered listeners
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// List returns all listener IDs in sorted order
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIDs()
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
