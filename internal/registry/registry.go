// Package registry owns the configured maps. Each map has its own
// aggregator, change notifier and refresh scheduler.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clanmap/clanmap/internal/clans"
	"github.com/clanmap/clanmap/internal/config"
	"github.com/clanmap/clanmap/internal/scheduler"
	"github.com/clanmap/clanmap/pkg/core"
)

var (
	// ErrDuplicateID is returned when registering an id twice
	ErrDuplicateID = errors.New("map already registered")
	// ErrNotFound is returned for unknown map ids
	ErrNotFound = errors.New("map not found")
)

// Source is a clan row source that holds resources.
type Source interface {
	clans.Source
	Close() error
}

// Notifier delivers change notifications for a map's database.
type Notifier interface {
	Events() <-chan struct{}
	Close() error
}

// Observer is told about every refresh. snapshot is nil when the refresh failed.
type Observer interface {
	ObserveRefresh(result core.RefreshResult, snapshot map[int64]core.ClanDetails)
}

// Dependencies holds all dependencies for the registry
type Dependencies struct {
	OpenSource   func(entry core.MapEntry) (Source, error)
	NewNotifier  func(entry core.MapEntry) (Notifier, error)
	Logger       *slog.Logger
	RefreshDelay time.Duration
	Observers    []Observer
}

// Map is a registered map
type Map struct {
	Entry core.MapEntry

	aggregator *clans.Aggregator
	scheduler  *scheduler.Scheduler
	source     Source
	notifier   Notifier
	observers  []Observer
}

// ClanDetails returns the last published snapshot.
func (m *Map) ClanDetails() map[int64]core.ClanDetails {
	return m.aggregator.Clans()
}

// SchedulerState returns the state of the map's refresh scheduler.
func (m *Map) SchedulerState() scheduler.State {
	return m.scheduler.State()
}

// LastResult returns the outcome of the latest refresh.
func (m *Map) LastResult() (core.RefreshResult, bool) {
	return m.aggregator.LastResult()
}

func (m *Map) refresh(ctx context.Context) error {
	err := m.aggregator.Refresh(ctx)

	if len(m.observers) > 0 {
		result, _ := m.aggregator.LastResult()
		var snapshot map[int64]core.ClanDetails
		if err == nil {
			snapshot = m.aggregator.Clans()
		}
		for _, o := range m.observers {
			o.ObserveRefresh(result, snapshot)
		}
	}
	return err
}

// Registry holds the registered maps in registration order.
type Registry struct {
	deps Dependencies
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	maps     map[string]*Map
	order    []string
	reserved map[string]struct{}
	closed   bool
}

// New creates an empty registry.
func New(deps Dependencies) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		log:      deps.Logger,
		ctx:      ctx,
		cancel:   cancel,
		maps:     make(map[string]*Map),
		reserved: make(map[string]struct{}),
	}
}

// Register reads the map's database once and starts watching it. The map
// only becomes visible if the initial refresh succeeds.
func (r *Registry) Register(ctx context.Context, id string, cfg config.MapConfig) (err error) {
	if err := r.reserve(id); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			r.release(id)
		}
	}()

	entry := cfg.Entry(id)
	log := r.log.With("map", id)
	log.Info("Registering map", "path", entry.SourcePath, "type", entry.Type)

	source, err := r.deps.OpenSource(entry)
	if err != nil {
		return fmt.Errorf("registering %s: %w", id, err)
	}

	m := &Map{
		Entry:      entry,
		aggregator: clans.NewAggregator(id, source, r.log),
		source:     source,
		observers:  r.deps.Observers,
	}

	if err := m.refresh(ctx); err != nil {
		source.Close()
		return fmt.Errorf("registering %s: %w", id, err)
	}

	m.scheduler, err = scheduler.New(id, m.refresh, r.log, scheduler.WithDelay(r.deps.RefreshDelay))
	if err != nil {
		source.Close()
		return fmt.Errorf("registering %s: %w", id, err)
	}

	var events <-chan struct{}
	if r.deps.NewNotifier != nil {
		m.notifier, err = r.deps.NewNotifier(entry)
		if err != nil {
			source.Close()
			return fmt.Errorf("registering %s: watching database: %w", id, err)
		}
		events = m.notifier.Events()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		m.close()
		return fmt.Errorf("registering %s: registry closed", id)
	}
	delete(r.reserved, id)
	r.maps[id] = m
	r.order = append(r.order, id)
	r.mu.Unlock()

	go m.scheduler.Run(r.ctx, events)

	log.Info("Registering map done")
	return nil
}

// MapByID returns the registered map or ErrNotFound.
func (r *Registry) MapByID(id string) (*Map, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.maps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m, nil
}

// ClanDetails returns the current clan snapshot of a map.
func (r *Registry) ClanDetails(id string) (map[int64]core.ClanDetails, error) {
	m, err := r.MapByID(id)
	if err != nil {
		return nil, err
	}
	return m.ClanDetails(), nil
}

// PublicMapInfo lists all maps in registration order.
func (r *Registry) PublicMapInfo() []core.PublicMapInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PublicMapInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.maps[id].Entry.Public())
	}
	return out
}

// Close stops all schedulers, waits for running refreshes and releases
// notifiers and sources.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	maps := make([]*Map, 0, len(r.order))
	for _, id := range r.order {
		maps = append(maps, r.maps[id])
	}
	r.mu.Unlock()

	r.cancel()

	var errs []error
	for _, m := range maps {
		<-m.scheduler.Done()
		if err := m.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", m.Entry.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Map) close() error {
	var errs []error
	if m.notifier != nil {
		errs = append(errs, m.notifier.Close())
	}
	errs = append(errs, m.source.Close())
	return errors.Join(errs...)
}

func (r *Registry) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registering %s: registry closed", id)
	}
	if _, ok := r.maps[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, ok := r.reserved[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.reserved[id] = struct{}{}
	return nil
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, id)
}
