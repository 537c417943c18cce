package loop

import (
	"sort"

	"github.com/cortexd/cortexd/pkg/models"
)

// focusClass orders conversations by how urgently they need attention.
// Lower sorts first.
type focusClass int

const (
	// Zero budget: one last response is owed before the conversation is
	// cut off, so these always go first.
	classLastChance focusClass = iota
	// Positive budget with headroom, richest remaining budget first.
	classWithinBudget
	// No budget set.
	classUnlimited
	// Budget overrun; served only when nothing else is waiting.
	classExceeded
)

func classify(c *models.Conversation) focusClass {
	if c.Budget == nil {
		return classUnlimited
	}
	if *c.Budget == 0 {
		return classLastChance
	}
	if *c.Budget-c.TotalEnergyConsumed > 0 {
		return classWithinBudget
	}
	return classExceeded
}

// pickFocus chooses the next conversation to serve. The input is the
// pending set in oldest-first order, which provides the tie-break.
func pickFocus(pending []*models.Conversation) *models.Conversation {
	if len(pending) == 0 {
		return nil
	}

	ranked := make([]*models.Conversation, len(pending))
	copy(ranked, pending)

	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := classify(ranked[i]), classify(ranked[j])
		if ci != cj {
			return ci < cj
		}
		if ci == classWithinBudget {
			ri := *ranked[i].Budget - ranked[i].TotalEnergyConsumed
			rj := *ranked[j].Budget - ranked[j].TotalEnergyConsumed
			if ri != rj {
				return ri > rj
			}
		}
		// Stable sort keeps oldest-pending order within a class.
		return false
	})

	return ranked[0]
}
