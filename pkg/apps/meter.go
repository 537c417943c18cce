package apps

import (
	"sync"
	"time"

	"github.com/cortexd/cortexd/pkg/models"
)

// meterRetention bounds the in-memory sample window. Anything older than
// the largest rolling window can be folded into the running total.
const meterRetention = 24 * time.Hour

type meterSample struct {
	at     time.Time
	amount float64
}

// energyMeter is an append-only rolling window of energy charges for one
// app. Recording is hot (every LLM call touches it), so it does nothing
// but append under a short lock; pruning happens on read.
type energyMeter struct {
	mu      sync.Mutex
	total   float64
	samples []meterSample
}

func (m *energyMeter) record(at time.Time, amount float64) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	m.total += amount
	m.samples = append(m.samples, meterSample{at: at, amount: amount})
	m.mu.Unlock()
}

func (m *energyMeter) metrics(now time.Time) models.EnergyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(now)

	out := models.EnergyMetrics{Total: m.total}
	cut24h := now.Add(-24 * time.Hour)
	cut1h := now.Add(-time.Hour)
	cut1min := now.Add(-time.Minute)
	for _, s := range m.samples {
		if s.at.After(cut24h) {
			out.Last24h += s.amount
		}
		if s.at.After(cut1h) {
			out.Last1h += s.amount
		}
		if s.at.After(cut1min) {
			out.Last1min += s.amount
		}
	}
	return out
}

// pruneLocked drops samples that have aged out of every window. The
// running total already includes them.
func (m *energyMeter) pruneLocked(now time.Time) {
	cut := now.Add(-meterRetention)
	i := 0
	for i < len(m.samples) && !m.samples[i].at.After(cut) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}
