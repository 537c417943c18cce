// Package energy implements the leaky-bucket energy regulator that paces
// the sensitive loop. Energy is a clamped scalar drained by LLM and tool
// work and replenished by sleep.
package energy

import (
	"math"
	"sync"
	"time"
)

// Default regulator bounds and rates.
const (
	DefaultMin           = -50.0
	DefaultMax           = 100.0
	DefaultReplenishRate = 10.0 // units per second
)

// Status classifies the current energy level.
type Status string

const (
	StatusHigh   Status = "high"   // E > 50
	StatusMedium Status = "medium" // 20 < E <= 50
	StatusLow    Status = "low"    // 0 < E <= 20
	StatusUrgent Status = "urgent" // E <= 0
)

// Snapshot is a point-in-time view of the regulator, safe to hand to the
// API edge and event payloads.
type Snapshot struct {
	Current    float64 `json:"current"`
	Percentage int     `json:"percentage"`
	Status     Status  `json:"status"`
}

// UpdateFunc is invoked after every consume/replenish with the new snapshot.
// Used by the loop to emit energy_update events. May be nil.
type UpdateFunc func(Snapshot)

// Regulator tracks a single energy scalar in [min, max].
//
// All mutation happens on the loop's single worker; the mutex exists only so
// the API edge can take consistent point-in-time reads.
type Regulator struct {
	mu sync.RWMutex

	level         float64
	min, max      float64
	replenishRate float64 // units per second
	updatedAt     time.Time

	// attemptedCharges counts every consume call, including those that were
	// fully clamped away at the floor.
	attemptedCharges int
	totalConsumed    float64

	onUpdate UpdateFunc
}

// New creates a regulator starting at max energy.
func New(min, max, replenishRate float64) *Regulator {
	if max <= min {
		min, max = DefaultMin, DefaultMax
	}
	if replenishRate <= 0 {
		replenishRate = DefaultReplenishRate
	}
	return &Regulator{
		level:         max,
		min:           min,
		max:           max,
		replenishRate: replenishRate,
		updatedAt:     time.Now(),
	}
}

// NewWithDefaults creates a regulator with the default range and rate.
func NewWithDefaults() *Regulator {
	return New(DefaultMin, DefaultMax, DefaultReplenishRate)
}

// SetUpdateFunc registers the post-mutation callback. Call before the loop
// starts; not safe to swap while the loop is running.
func (r *Regulator) SetUpdateFunc(fn UpdateFunc) {
	r.onUpdate = fn
}

// Consume drains amount units, clamped at the floor. Negative amounts are
// ignored. Never fails; the charge is recorded even when fully clamped.
func (r *Regulator) Consume(amount float64) {
	if amount < 0 || math.IsNaN(amount) {
		return
	}
	r.mu.Lock()
	r.level = clamp(r.level-amount, r.min, r.max)
	r.attemptedCharges++
	r.totalConsumed += amount
	r.updatedAt = time.Now()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate(snap)
	}
}

// Replenish credits energy for d of recovery time at the configured rate,
// clamped at the ceiling.
func (r *Regulator) Replenish(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.level = clamp(r.level+r.replenishRate*d.Seconds(), r.min, r.max)
	r.updatedAt = time.Now()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate(snap)
	}
}

// Level returns the current energy value.
func (r *Regulator) Level() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.level
}

// Percentage returns the energy as a 0–100 percentage of the ceiling.
// Negative energy reads as 0%.
func (r *Regulator) Percentage() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return percentage(r.level, r.max)
}

// Status classifies the current level per the fixed thresholds.
func (r *Regulator) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return classify(r.level)
}

// Snapshot returns a consistent point-in-time view.
func (r *Regulator) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Bounds returns the configured [min, max] range.
func (r *Regulator) Bounds() (min, max float64) {
	return r.min, r.max
}

// ReplenishRate returns the configured recovery rate in units per second.
func (r *Regulator) ReplenishRate() float64 {
	return r.replenishRate
}

// AttemptedCharges returns the number of consume calls made so far.
func (r *Regulator) AttemptedCharges() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attemptedCharges
}

// TotalConsumed returns the sum of all requested charges, including the
// portions that were clamped away.
func (r *Regulator) TotalConsumed() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalConsumed
}

func (r *Regulator) snapshotLocked() Snapshot {
	return Snapshot{
		Current:    r.level,
		Percentage: percentage(r.level, r.max),
		Status:     classify(r.level),
	}
}

func classify(level float64) Status {
	switch {
	case level > 50:
		return StatusHigh
	case level > 20:
		return StatusMedium
	case level > 0:
		return StatusLow
	default:
		return StatusUrgent
	}
}

func percentage(level, max float64) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(clamp(level, 0, max) * 100 / max))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
