package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexd/cortexd/pkg/models"
)

func TestAddResponseCreatesConversation(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	conv, err := svc.AddResponse(ctx, AddResponseParams{
		RequestID:    "req-1",
		InputMessage: "hello",
		AppID:        "chat",
		Budget:       floatPtr(25),
		Role:         "user",
		Content:      "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "req-1", conv.RequestID)
	assert.Equal(t, models.ConversationStateActive, conv.State)
	require.NotNil(t, conv.Budget)
	assert.Equal(t, 25.0, *conv.Budget)
	require.Len(t, conv.Responses, 1)
	assert.Equal(t, "user", conv.Responses[0].Role)

	// Second append reuses the existing conversation.
	conv, err = svc.AddResponse(ctx, AddResponseParams{
		RequestID:   "req-1",
		Role:        "assistant",
		Content:     "hi there",
		EnergyLevel: 80,
		ModelUsed:   "large-model",
	})
	require.NoError(t, err)
	require.Len(t, conv.Responses, 2)
	assert.Equal(t, "large-model", conv.Responses[1].ModelUsed)
}

func TestAddResponseValidation(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{Role: "user", Content: "x"})
	assert.True(t, IsValidationError(err), "missing request_id must fail validation")

	_, err = svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "system", Content: "x"})
	assert.True(t, IsValidationError(err), "unknown role must fail validation")

	_, err = svc.AddResponse(ctx, AddResponseParams{
		RequestID: "r", Role: "user", Content: "x", Budget: floatPtr(-1),
	})
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestAddResponseRejectsEndedConversation(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "user", Content: "x"})
	require.NoError(t, err)
	require.NoError(t, svc.EndConversation(ctx, "r", "completed"))

	_, err = svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "assistant", Content: "late"})
	assert.ErrorIs(t, err, ErrConversationEnded)
}

func TestGetConversationNotFound(t *testing.T) {
	svc := NewConversationService(newTestDB(t))

	_, err := svc.GetConversation(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBudgetStatusDerivation(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name     string
		budget   *float64
		consumed float64
		want     *models.BudgetStatus
	}{
		{"no budget", nil, 10, nil},
		{"within", floatPtr(20), 5, budgetPtr(models.BudgetStatusWithin)},
		{"exceeded", floatPtr(20), 20, budgetPtr(models.BudgetStatusExceeded)},
		{"depleted last chance", floatPtr(0), 0, budgetPtr(models.BudgetStatusDepleted)},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := string(rune('a' + i))
			_, err := svc.AddResponse(ctx, AddResponseParams{
				RequestID: id, Role: "user", Content: "x", Budget: tt.budget,
			})
			require.NoError(t, err)
			require.NoError(t, svc.AddEnergyConsumed(ctx, id, tt.consumed))

			conv, err := svc.GetConversation(ctx, id)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, conv.BudgetStatus())
			} else {
				require.NotNil(t, conv.BudgetStatus())
				assert.Equal(t, *tt.want, *conv.BudgetStatus())
			}
		})
	}
}

func TestAddEnergyConsumedIgnoresNonPositive(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "user", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.AddEnergyConsumed(ctx, "r", 5))
	require.NoError(t, svc.AddEnergyConsumed(ctx, "r", -3))
	require.NoError(t, svc.AddEnergyConsumed(ctx, "r", 0))

	conv, err := svc.GetConversation(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 5.0, conv.TotalEnergyConsumed, "counter only grows")
}

func TestSnoozeAndWake(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "user", Content: "x"})
	require.NoError(t, err)

	until := time.Now().Add(-time.Minute) // already due
	require.NoError(t, svc.SnoozeConversation(ctx, "r", until))

	conv, err := svc.GetConversation(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStateSnoozed, conv.State)
	require.NotNil(t, conv.SnoozeUntil)

	woken, err := svc.WakeDueConversations(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, woken)

	conv, err = svc.GetConversation(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStateActive, conv.State)
	assert.Nil(t, conv.SnoozeUntil)
}

func TestWakeSkipsFutureSnoozes(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "user", Content: "x"})
	require.NoError(t, err)
	require.NoError(t, svc.SnoozeConversation(ctx, "r", time.Now().Add(time.Hour)))

	woken, err := svc.WakeDueConversations(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, woken)
}

func TestEndConversationTerminal(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "user", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.EndConversation(ctx, "r", "user request"))
	// Idempotent.
	require.NoError(t, svc.EndConversation(ctx, "r", "again"))

	conv, err := svc.GetConversation(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStateEnded, conv.State)
	assert.Equal(t, "user request", conv.EndedReason)

	// Ended conversations cannot be snoozed back to life.
	err = svc.SnoozeConversation(ctx, "r", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrConversationEnded)
}

func TestGetPendingConversations(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	// r1 awaits a reply; r2 was already answered; r3 is snoozed.
	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r1", Role: "user", Content: "a"})
	require.NoError(t, err)

	_, err = svc.AddResponse(ctx, AddResponseParams{RequestID: "r2", Role: "user", Content: "b"})
	require.NoError(t, err)
	_, err = svc.AddResponse(ctx, AddResponseParams{RequestID: "r2", Role: "assistant", Content: "done"})
	require.NoError(t, err)

	_, err = svc.AddResponse(ctx, AddResponseParams{RequestID: "r3", Role: "user", Content: "c"})
	require.NoError(t, err)
	require.NoError(t, svc.SnoozeConversation(ctx, "r3", time.Now().Add(time.Hour)))

	pending, err := svc.GetPendingConversations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].RequestID)
}

func TestListConversationsFilters(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r1", Role: "user", Content: "a", Budget: floatPtr(0)})
	require.NoError(t, err)
	_, err = svc.AddResponse(ctx, AddResponseParams{RequestID: "r2", Role: "user", Content: "b"})
	require.NoError(t, err)
	require.NoError(t, svc.EndConversation(ctx, "r2", "done"))

	all, err := svc.ListConversations(ctx, models.ListConversationsParams{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ended, err := svc.ListConversations(ctx, models.ListConversationsParams{State: "ended"})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "r2", ended[0].RequestID)

	depleted, err := svc.ListConversations(ctx, models.ListConversationsParams{BudgetStatus: "depleted"})
	require.NoError(t, err)
	require.Len(t, depleted, 1)
	assert.Equal(t, "r1", depleted[0].RequestID)

	_, err = svc.ListConversations(ctx, models.ListConversationsParams{State: "bogus"})
	assert.True(t, IsValidationError(err))
}

func TestSetEnergyBudget(t *testing.T) {
	svc := NewConversationService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.AddResponse(ctx, AddResponseParams{RequestID: "r", Role: "user", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.SetEnergyBudget(ctx, "r", floatPtr(42)))
	conv, err := svc.GetConversation(ctx, "r")
	require.NoError(t, err)
	require.NotNil(t, conv.Budget)
	assert.Equal(t, 42.0, *conv.Budget)

	// Clearing restores unlimited.
	require.NoError(t, svc.SetEnergyBudget(ctx, "r", nil))
	conv, err = svc.GetConversation(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, conv.Budget)

	assert.ErrorIs(t, svc.SetEnergyBudget(ctx, "r", floatPtr(-1)), ErrInvalidBudget)
	assert.ErrorIs(t, svc.SetEnergyBudget(ctx, "ghost", floatPtr(1)), ErrNotFound)
}

func budgetPtr(s models.BudgetStatus) *models.BudgetStatus { return &s }
