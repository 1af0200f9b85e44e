// Package rotation drives the panel: it refreshes the feed on a fixed interval and advances
// the active slide on another, pausing the advance around display interruptions.
package rotation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnrirwin/newspanel/internal/logging"
	"github.com/johnrirwin/newspanel/internal/metrics"
	"github.com/johnrirwin/newspanel/internal/models"
)

type Config struct {
	RefreshInterval time.Duration
	AdvanceInterval time.Duration
	// StartupDelay postpones the first advance tick after Start.
	StartupDelay time.Duration
	// SettleDelay is how long the display must be quiet after an interruption before the
	// advance timer restarts.
	SettleDelay time.Duration
	AutoAdvance bool
}

func DefaultConfig() Config {
	return Config{
		RefreshInterval: 300 * time.Second,
		AdvanceInterval: 10 * time.Second,
		StartupDelay:    2 * time.Second,
		SettleDelay:     time.Second,
		AutoAdvance:     true,
	}
}

// SetSource reports the size of the display set currently being shown.
type SetSource interface {
	Len() int
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler owns the rotation index and the two timers. The refresh timer is independent:
// nothing done to the advance timer touches it.
type Scheduler struct {
	cfg       Config
	clock     Clock
	source    SetSource
	refresher Refresher
	logger    *logging.Logger

	// goFunc runs a refresh off the timer goroutine.
	goFunc     func(func())
	refreshing atomic.Bool
	inflight   sync.WaitGroup

	mu          sync.Mutex
	ctx         context.Context
	index       int
	autoAdvance bool
	started     bool
	stopped     bool
	changed     chan struct{}

	refreshTimer Timer
	advanceTimer Timer
	restartTimer Timer
	advanceGen   uint64
	restartGen   uint64
}

func New(cfg Config, clock Clock, source SetSource, refresher Refresher, logger *logging.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	defaults := DefaultConfig()
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.AdvanceInterval <= 0 {
		cfg.AdvanceInterval = defaults.AdvanceInterval
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}

	return &Scheduler{
		cfg:         cfg,
		clock:       clock,
		source:      source,
		refresher:   refresher,
		logger:      logger,
		goFunc:      func(f func()) { go f() },
		ctx:         context.Background(),
		autoAdvance: cfg.AutoAdvance,
		changed:     make(chan struct{}),
	}
}

// Start triggers the first refresh, arms the refresh timer and schedules the first advance
// after the startup delay. Calling Start twice has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx = ctx
	s.armRefreshLocked()
	// The first advance waits like a restart after an interruption would.
	s.restartGen++
	gen := s.restartGen
	s.restartTimer = s.clock.AfterFunc(s.cfg.StartupDelay, func() { s.onRestart(gen) })
	s.mu.Unlock()

	s.logger.Info("Rotation started", logging.WithFields(map[string]interface{}{
		"refresh_interval": s.cfg.RefreshInterval.String(),
		"advance_interval": s.cfg.AdvanceInterval.String(),
	}))

	s.triggerRefresh()
}

// Stop cancels every timer and waits for a scheduled refresh that is still running. A
// stopped scheduler cannot be started again.
func (s *Scheduler) Stop() {
	defer s.inflight.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	for _, t := range []Timer{s.refreshTimer, s.advanceTimer, s.restartTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.advanceTimer = nil
	s.restartTimer = nil
	s.advanceGen++
	s.restartGen++
}

func (s *Scheduler) armRefreshLocked() {
	s.refreshTimer = s.clock.AfterFunc(s.cfg.RefreshInterval, s.onRefreshTick)
}

func (s *Scheduler) onRefreshTick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.armRefreshLocked()
	s.mu.Unlock()

	s.triggerRefresh()
}

// triggerRefresh starts a background refresh unless one is still running.
func (s *Scheduler) triggerRefresh() {
	if !s.refreshing.CompareAndSwap(false, true) {
		s.logger.Debug("Refresh still in progress, skipping tick")
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.refreshing.Store(false)
		return
	}
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.Unlock()

	s.goFunc(func() {
		defer s.inflight.Done()
		defer s.refreshing.Store(false)
		if err := s.refresher.Refresh(ctx); err != nil {
			s.logger.Warn("Scheduled refresh failed", logging.WithField("error", err.Error()))
		}
		s.SyncSetSize()
	})
}

// RefreshNow refreshes synchronously, outside the timer. The refresh timer is not moved.
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	err := s.refresher.Refresh(ctx)
	s.SyncSetSize()
	return err
}

func (s *Scheduler) armAdvanceLocked() {
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
	}
	s.advanceGen++
	gen := s.advanceGen
	s.advanceTimer = s.clock.AfterFunc(s.cfg.AdvanceInterval, func() { s.onAdvanceTick(gen) })
}

func (s *Scheduler) cancelAdvanceLocked() {
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
	s.advanceGen++
}

func (s *Scheduler) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartGen++
}

func (s *Scheduler) onAdvanceTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.advanceGen {
		return
	}
	s.armAdvanceLocked()
	s.advanceLocked()
}

// advanceLocked moves to the next slide. With auto-advance off or nothing to rotate it does
// nothing, but the timer keeps ticking so rotation picks up once the set grows.
func (s *Scheduler) advanceLocked() bool {
	n := s.source.Len()
	if !s.autoAdvance || n <= 1 {
		return false
	}

	s.clampLocked(n)
	s.index = (s.index + 1) % n
	s.notifyLocked()
	metrics.RecordAdvance(s.index)

	s.logger.Debug("Advancing to slide", logging.WithFields(map[string]interface{}{
		"slide": s.index + 1,
		"total": n,
	}))
	return true
}

// Interrupt stops the advance timer and restarts it once the display has been quiet for
// the settle delay. A burst of interruptions yields a single restart.
func (s *Scheduler) Interrupt(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.cancelAdvanceLocked()
	s.cancelRestartLocked()
	gen := s.restartGen
	s.restartTimer = s.clock.AfterFunc(s.cfg.SettleDelay, func() { s.onRestart(gen) })

	metrics.RecordInterruption(reason)
	s.logger.Debug("Display interrupted", logging.WithField("reason", reason))
}

func (s *Scheduler) onRestart(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || gen != s.restartGen {
		return
	}
	s.restartTimer = nil
	s.restartLocked()
}

// Restart realigns the advance cadence to now, skipping any pending settle delay. It is a
// no-op while paused or before Start.
func (s *Scheduler) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || !s.started || !s.autoAdvance {
		return
	}
	s.cancelRestartLocked()
	s.restartLocked()
	s.notifyLocked()
}

func (s *Scheduler) restartLocked() {
	if s.stopped || !s.started || !s.autoAdvance {
		return
	}
	s.armAdvanceLocked()
}

func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.autoAdvance = false
	s.cancelAdvanceLocked()
	s.cancelRestartLocked()
	s.logger.Info("Rotation paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.autoAdvance = true
	s.restartLocked()
	s.logger.Info("Rotation resumed")
}

// Select jumps to slide i, clamped into the current set, and realigns the advance timer so
// the chosen slide gets a full interval. It reports false when there is nothing to show.
func (s *Scheduler) Select(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.source.Len()
	if n == 0 || s.stopped {
		return false
	}
	if i < 0 {
		i = 0
	}
	if i >= n {
		i = n - 1
	}
	if i != s.index {
		s.index = i
		s.notifyLocked()
	}
	metrics.SetSlideIndex(s.index)

	if s.advanceTimer != nil {
		s.armAdvanceLocked()
	}
	return true
}

// SyncSetSize clamps the index after the display set was replaced.
func (s *Scheduler) SyncSetSize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clampLocked(s.source.Len()) {
		s.notifyLocked()
		metrics.SetSlideIndex(s.index)
	}
}

func (s *Scheduler) clampLocked(n int) bool {
	if n <= 0 {
		if s.index != 0 {
			s.index = 0
			return true
		}
		return false
	}
	if s.index >= n {
		s.index = n - 1
		return true
	}
	return false
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) State() models.RotationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.RotationStopped
	if s.advanceTimer != nil && !s.stopped {
		status = models.RotationRunning
	}
	return models.RotationState{
		Index:       s.index,
		AutoAdvance: s.autoAdvance,
		Status:      status,
	}
}

func (s *Scheduler) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Changed returns a channel closed the next time the active slide changes.
func (s *Scheduler) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}
