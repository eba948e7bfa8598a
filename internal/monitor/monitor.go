/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package monitor watches owners for controller changes and publishes them
// on the event bus.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/gate"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/registry"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

// Resolver resolves the live slot of an owner. *gate.Gate satisfies it.
type Resolver interface {
	ActiveSlot(ctx context.Context, owner auction.Address, now int64) (gate.Decision, error)
}

// Status is a snapshot of one watcher.
type Status struct {
	Owner      auction.Address `json:"owner"`
	Controller auction.Address `json:"controller,omitempty"`
	SlotID     string          `json:"slotId,omitempty"`
	Ambiguous  bool            `json:"ambiguous"`
	StartedAt  time.Time       `json:"startedAt"`
	LastCheck  time.Time       `json:"lastCheck"`
	Checks     int             `json:"checks"`
	Errors     int             `json:"errors"`
	LastError  string          `json:"lastError,omitempty"`
}

// Watcher polls one owner.
type Watcher struct {
	owner    auction.Address
	resolver Resolver
	clock    ledger.Clock
	bus      events.Broker
	interval time.Duration
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	status Status
}

func newWatcher(owner auction.Address, resolver Resolver, clock ledger.Clock, bus events.Broker, interval time.Duration, logger zerolog.Logger) *Watcher {
	return &Watcher{
		owner:    owner,
		resolver: resolver,
		clock:    clock,
		bus:      bus,
		interval: interval,
		logger:   logger.With().Str("owner", owner.String()).Logger(),
		done:     make(chan struct{}),
		status:   Status{Owner: owner, StartedAt: time.Now().UTC()},
	}
}

func (w *Watcher) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	w.check(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check evaluates the gate once and publishes when the controller differs
// from the previous evaluation.
func (w *Watcher) check(ctx context.Context) {
	now, err := w.clock.Now(ctx)
	var d gate.Decision
	if err == nil {
		d, err = w.resolver.ActiveSlot(ctx, w.owner, now)
	}
	ambiguous := errors.Is(err, auction.ErrAmbiguousState)
	if err != nil && !ambiguous {
		if ctx.Err() != nil {
			return
		}
		w.mu.Lock()
		w.status.LastCheck = time.Now().UTC()
		w.status.Checks++
		w.status.Errors++
		w.status.LastError = err.Error()
		w.mu.Unlock()
		w.logger.Warn().Err(err).Msg("controller check failed")
		return
	}

	w.mu.Lock()
	previous := w.status.Controller
	previousSlot := w.status.SlotID
	w.status.LastCheck = time.Now().UTC()
	w.status.Checks++
	w.status.LastError = ""
	w.status.Ambiguous = ambiguous
	w.status.Controller = d.Controller
	w.status.SlotID = ""
	if d.HasActiveSlot {
		w.status.SlotID = d.Slot.ID
	}
	current, slotID := w.status.Controller, w.status.SlotID
	w.mu.Unlock()

	if current == previous && slotID == previousSlot {
		return
	}

	w.logger.Info().
		Str("controller", current.String()).
		Str("previous", previous.String()).
		Str("slot_id", slotID).
		Bool("ambiguous", ambiguous).
		Msg("controller changed")
	w.bus.Publish(events.EventControllerChanged, events.Payload{
		"owner":      w.owner.String(),
		"controller": current.String(),
		"previous":   previous.String(),
		"slot_id":    slotID,
		"ambiguous":  ambiguous,
		"at":         now,
	})
}

// Status returns the watcher's latest view.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	<-w.done
	return nil
}

// Manager owns the watchers of one process.
type Manager struct {
	watchers *registry.Registry[*Watcher]
	resolver Resolver
	clock    ledger.Clock
	bus      events.Broker
	interval time.Duration
	logger   zerolog.Logger
}

// NewManager creates a manager polling every interval.
func NewManager(resolver Resolver, clock ledger.Clock, bus events.Broker, interval time.Duration, logger zerolog.Logger) *Manager {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Manager{
		watchers: registry.New[*Watcher](),
		resolver: resolver,
		clock:    clock,
		bus:      bus,
		interval: interval,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// Watch starts watching owner, replacing an existing watcher.
func (m *Manager) Watch(owner auction.Address) Status {
	w := newWatcher(owner, m.resolver, m.clock, m.bus, m.interval, m.logger)
	w.start()
	_ = m.watchers.Register(owner.String(), w)
	telemetry.MonitorsActive.Set(float64(m.watchers.Len()))
	m.logger.Info().Str("owner", owner.String()).Dur("interval", m.interval).Msg("controller monitor started")
	return w.Status()
}

// Unwatch stops watching owner.
func (m *Manager) Unwatch(owner auction.Address) error {
	err := m.watchers.Stop(owner.String())
	telemetry.MonitorsActive.Set(float64(m.watchers.Len()))
	if err == nil {
		m.logger.Info().Str("owner", owner.String()).Msg("controller monitor stopped")
	}
	return err
}

// Get returns the status of owner's watcher.
func (m *Manager) Get(owner auction.Address) (Status, bool) {
	w, ok := m.watchers.Get(owner.String())
	if !ok {
		return Status{}, false
	}
	return w.Status(), true
}

// List returns every watcher's status ordered by owner.
func (m *Manager) List() []Status {
	keys := m.watchers.Keys()
	out := make([]Status, 0, len(keys))
	for _, k := range keys {
		if w, ok := m.watchers.Get(k); ok {
			out = append(out, w.Status())
		}
	}
	return out
}

// StopAll stops every watcher.
func (m *Manager) StopAll() {
	_ = m.watchers.StopAll()
	telemetry.MonitorsActive.Set(0)
}
