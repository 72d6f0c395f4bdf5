package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"igmonitor/internal/domain"
)

// Manager routes operations to the engine of each client.
type Manager struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewManager() *Manager {
	return &Manager{engines: map[string]*Engine{}}
}

func (m *Manager) Register(e *Engine) error {
	if e == nil {
		return errors.New("nil engine")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[e.Client()]; ok {
		return fmt.Errorf("client %q already registered", e.Client())
	}
	m.engines[e.Client()] = e
	return nil
}

func (m *Manager) Engine(client string) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[client]
	if !ok {
		return nil, fmt.Errorf("%q: %w", client, ErrUnknownClient)
	}
	return e, nil
}

// Clients returns the registered client names, sorted.
func (m *Manager) Clients() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.engines))
	for name := range m.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Add(ctx context.Context, client, accountID string, opts ...AddOption) (AddResult, error) {
	e, err := m.Engine(client)
	if err != nil {
		return AddResult{}, err
	}
	return e.Add(ctx, accountID, opts...)
}

func (m *Manager) Remove(ctx context.Context, client, accountID string) (bool, error) {
	e, err := m.Engine(client)
	if err != nil {
		return false, err
	}
	return e.Remove(ctx, accountID)
}

func (m *Manager) RemoveAll(ctx context.Context, client string) (int, error) {
	e, err := m.Engine(client)
	if err != nil {
		return 0, err
	}
	return e.RemoveAll(ctx)
}

func (m *Manager) List(ctx context.Context, client string) ([]domain.MonitoredAccount, error) {
	e, err := m.Engine(client)
	if err != nil {
		return nil, err
	}
	return e.List(ctx)
}

func (m *Manager) Stats(ctx context.Context, client string) (EngineStats, error) {
	e, err := m.Engine(client)
	if err != nil {
		return EngineStats{}, err
	}
	return e.Stats(ctx)
}

// Resume resumes every client; a failing client does not block the others.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, name := range m.Clients() {
		e, err := m.Engine(name)
		if err != nil {
			continue
		}
		n, err := e.Resume(ctx)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return total, errors.Join(errs...)
}

// Pause stops the loops of one client and keeps its records.
func (m *Manager) Pause(_ context.Context, client string) (int, error) {
	e, err := m.Engine(client)
	if err != nil {
		return 0, err
	}
	return e.Pause(), nil
}

// ResumeClient starts the loops of one client, ending a pause.
func (m *Manager) ResumeClient(ctx context.Context, client string) (int, error) {
	e, err := m.Engine(client)
	if err != nil {
		return 0, err
	}
	return e.Resume(ctx)
}

// Restart stops every loop of a client and starts them again from the store.
func (m *Manager) Restart(ctx context.Context, client string) (int, error) {
	e, err := m.Engine(client)
	if err != nil {
		return 0, err
	}
	e.Pause()
	return e.Resume(ctx)
}

// Stop stops all engines concurrently, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if err := e.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", e.Client(), err))
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return errors.Join(errs...)
}
