package memgov

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrLimitExceeded is raised before an allocation that would breach the
// budget; the caller is expected to reduce chunk size or wait for capacity.
var ErrLimitExceeded = errors.New("memory limit exceeded")

// PressureLevel classifies how close memory usage is to its budget.
type PressureLevel int

const (
	PressureNone PressureLevel = iota
	PressureHigh
	PressureCritical
)

// Pressure thresholds as a fraction of the budget
const (
	highWatermark     = 0.80
	criticalWatermark = 0.90
)

func (p PressureLevel) String() string {
	switch p {
	case PressureNone:
		return "none"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Snapshot is a point-in-time view of governor state.
type Snapshot struct {
	TotalBudget   uint64
	Used          uint64
	PressureLevel PressureLevel
}

// QualityReduction advises the decode controller how to shed memory load.
type QualityReduction struct {
	ShouldReduce     bool
	ResolutionFactor float64 // <1.0 shrinks chunk size / decode resolution
	EnableStreaming  bool
	Reason           string
}

// PressureCallback is invoked on every pressure-level transition.
// Panics inside callbacks are caught and logged, never propagated.
type PressureCallback func(old, new PressureLevel)

// Governor tracks allocated bytes against a budget and raises
// pressure-level events. It is the only state shared between decode
// workers, so every method serializes through one mutex.
type Governor struct {
	mu        sync.Mutex
	cond      *sync.Cond
	budget    uint64
	used      uint64
	level     PressureLevel
	callbacks []PressureCallback
}

// New creates a governor with the given budget in bytes.
func New(budget uint64) *Governor {
	slog.Debug("creating memory governor", "budget_bytes", budget)

	g := &Governor{budget: budget}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Allocate records bytes against the budget. It fails with
// ErrLimitExceeded, without recording anything, when the allocation would
// breach the budget.
func (g *Governor) Allocate(bytes uint64) error {
	g.mu.Lock()

	if g.used+bytes > g.budget {
		used := g.used
		g.mu.Unlock()
		slog.Warn("allocation rejected by memory governor",
			"requested", bytes,
			"used", used,
			"budget", g.budget)
		return fmt.Errorf("%w: requested %d, used %d of %d", ErrLimitExceeded, bytes, used, g.budget)
	}

	g.used += bytes
	transition := g.recomputeLocked()
	g.mu.Unlock()

	g.notify(transition)
	return nil
}

// Deallocate releases previously allocated bytes and wakes any waiters.
// Releasing more than is allocated clamps to zero.
func (g *Governor) Deallocate(bytes uint64) {
	g.mu.Lock()

	if bytes > g.used {
		slog.Warn("deallocating more than allocated",
			"requested", bytes,
			"used", g.used)
		g.used = 0
	} else {
		g.used -= bytes
	}

	transition := g.recomputeLocked()
	g.cond.Broadcast()
	g.mu.Unlock()

	g.notify(transition)
}

// WaitForCapacity blocks until bytes can be allocated within budget, then
// records the allocation. It returns the context error if cancelled while
// waiting, and ErrLimitExceeded immediately when bytes alone exceeds the
// whole budget (waiting would never succeed).
func (g *Governor) WaitForCapacity(ctx context.Context, bytes uint64) error {
	if bytes > g.Budget() {
		return fmt.Errorf("%w: request %d larger than budget %d", ErrLimitExceeded, bytes, g.Budget())
	}

	g.mu.Lock()

	for g.used+bytes > g.budget {
		if err := ctx.Err(); err != nil {
			g.mu.Unlock()
			return err
		}

		// Wake the cond when the context is cancelled so the loop can
		// observe it.
		waited := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				g.cond.Broadcast()
			case <-waited:
			}
		}()
		g.cond.Wait()
		close(waited)
	}

	g.used += bytes
	transition := g.recomputeLocked()
	g.mu.Unlock()

	g.notify(transition)
	return nil
}

// WouldExceed is a pure check with no side effect: would allocating bytes
// breach the budget right now.
func (g *Governor) WouldExceed(bytes uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used+bytes > g.budget
}

// Budget returns the total budget in bytes.
func (g *Governor) Budget() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.budget
}

// GetSnapshot returns the current usage and pressure level.
func (g *Governor) GetSnapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		TotalBudget:   g.budget,
		Used:          g.used,
		PressureLevel: g.level,
	}
}

// RegisterCallback adds a callback invoked on pressure-level transitions.
// Callbacks run on the allocating goroutine with no governor lock held, so
// they may call back into the governor.
func (g *Governor) RegisterCallback(cb PressureCallback) {
	if cb == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, cb)
}

// GetSuggestedQualityReduction advises how the decode pipeline should
// adapt to the current pressure level.
func (g *Governor) GetSuggestedQualityReduction() QualityReduction {
	snapshot := g.GetSnapshot()

	switch snapshot.PressureLevel {
	case PressureCritical:
		return QualityReduction{
			ShouldReduce:     true,
			ResolutionFactor: 0.4,
			EnableStreaming:  true,
			Reason: fmt.Sprintf("critical memory pressure: %d of %d bytes used",
				snapshot.Used, snapshot.TotalBudget),
		}
	case PressureHigh:
		return QualityReduction{
			ShouldReduce:     true,
			ResolutionFactor: 0.7,
			Reason: fmt.Sprintf("high memory pressure: %d of %d bytes used",
				snapshot.Used, snapshot.TotalBudget),
		}
	default:
		return QualityReduction{ResolutionFactor: 1.0}
	}
}

// pressureTransition captures a level change plus the callbacks registered
// at the time, so notification can happen after the lock is released.
type pressureTransition struct {
	old, new  PressureLevel
	callbacks []PressureCallback
}

// recomputeLocked recalculates the pressure level and returns the
// transition to notify, or nil when the level is unchanged. Caller holds
// g.mu; callbacks are NOT invoked here.
func (g *Governor) recomputeLocked() *pressureTransition {
	newLevel := PressureNone
	usage := float64(g.used) / float64(g.budget)
	switch {
	case usage >= criticalWatermark:
		newLevel = PressureCritical
	case usage >= highWatermark:
		newLevel = PressureHigh
	}

	if newLevel == g.level {
		return nil
	}

	oldLevel := g.level
	g.level = newLevel

	slog.Info("memory pressure level changed",
		"old_level", oldLevel.String(),
		"new_level", newLevel.String(),
		"used", g.used,
		"budget", g.budget)

	return &pressureTransition{
		old:       oldLevel,
		new:       newLevel,
		callbacks: append([]PressureCallback(nil), g.callbacks...),
	}
}

// notify runs transition callbacks with no lock held, so a callback may
// call back into the governor.
func (g *Governor) notify(transition *pressureTransition) {
	if transition == nil {
		return
	}
	for _, cb := range transition.callbacks {
		g.invokeCallback(cb, transition.old, transition.new)
	}
}

// invokeCallback runs one callback, converting panics to log entries.
func (g *Governor) invokeCallback(cb PressureCallback, old, new PressureLevel) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pressure callback panicked",
				"panic", r,
				"old_level", old.String(),
				"new_level", new.String())
		}
	}()
	cb(old, new)
}
