package loop

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/models"
)

func conv(id string, budget *float64, consumed float64) *models.Conversation {
	return &models.Conversation{
		RequestID:           id,
		Budget:              budget,
		TotalEnergyConsumed: consumed,
	}
}

func TestPickFocusEmpty(t *testing.T) {
	assert.Nil(t, pickFocus(nil))
}

func TestPickFocusPriorityOrder(t *testing.T) {
	// Oldest-first input order, as the pending query returns it.
	pending := []*models.Conversation{
		conv("exceeded", budgetPtr(5), 10),
		conv("unlimited", nil, 2),
		conv("within-small", budgetPtr(10), 8),
		conv("within-big", budgetPtr(100), 5),
		conv("last-chance", budgetPtr(0), 0),
	}

	// Zero budget goes first.
	pick := pickFocus(pending)
	require.NotNil(t, pick)
	assert.Equal(t, "last-chance", pick.RequestID)

	// Then positive-budget headroom, richest remaining first.
	pending = pending[:4]
	assert.Equal(t, "within-big", pickFocus(pending).RequestID)

	// Then unlimited, then exceeded.
	pending = []*models.Conversation{
		conv("exceeded", budgetPtr(5), 10),
		conv("unlimited", nil, 2),
	}
	assert.Equal(t, "unlimited", pickFocus(pending).RequestID)

	pending = pending[:1]
	assert.Equal(t, "exceeded", pickFocus(pending).RequestID)
}

func TestPickFocusTieBreaksOldest(t *testing.T) {
	pending := []*models.Conversation{
		conv("older", nil, 0),
		conv("newer", nil, 0),
	}
	assert.Equal(t, "older", pickFocus(pending).RequestID)

	// Equal remaining budgets also fall back to age.
	pending = []*models.Conversation{
		conv("older", budgetPtr(10), 2),
		conv("newer", budgetPtr(10), 2),
	}
	assert.Equal(t, "older", pickFocus(pending).RequestID)
}

func TestDecodeArgsValidation(t *testing.T) {
	var respond coreTool
	for _, tool := range coreTools {
		if tool.name == toolRespond {
			respond = tool
		}
	}

	args, err := decodeArgs(respond, `{"content": "hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "hi", args["content"])

	_, err = decodeArgs(respond, `{"content": 42}`)
	assert.Error(t, err)

	_, err = decodeArgs(respond, `{}`)
	assert.Error(t, err)

	_, err = decodeArgs(respond, `not json`)
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))

	// The cut never lands inside a multi-byte sequence.
	s := "héllo wörld"
	for n := 1; n < len(s); n++ {
		out := truncate(s, n)
		assert.True(t, utf8.ValidString(out), "n=%d got %q", n, out)
	}
	assert.Equal(t, "日本…", truncate("日本語", 7))
	assert.Equal(t, "日本…", truncate("日本語テスト", 6))
}

func TestBudgetSeverity(t *testing.T) {
	assert.Equal(t, "ok", budgetSeverity(conv("a", nil, 0)))
	assert.Equal(t, "depleted", budgetSeverity(conv("a", budgetPtr(0), 0)))
	assert.Equal(t, "exceeded", budgetSeverity(conv("a", budgetPtr(5), 6)))
	assert.Equal(t, "low", budgetSeverity(conv("a", budgetPtr(10), 8.5)))
	assert.Equal(t, "ok", budgetSeverity(conv("a", budgetPtr(10), 2)))
}
