package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffin/mess-engine/ledger"
	"github.com/tiffin/mess-engine/mess"
	"github.com/tiffin/mess-engine/store/memory"
)

func seedUser(t *testing.T, m *memory.Memory, handle, phone string) {
	t.Helper()
	require.NoError(t, m.CreateUser(context.Background(), mess.User{
		Handle: handle, Name: "Test User", Phone: phone,
	}))
}

func TestMemory_WithTx_RollbackRestoresState(t *testing.T) {
	// GIVEN: A store with one user and one off-request
	// WHEN: A transaction mutates everything and then fails
	// THEN: Every mutation is rolled back

	m := memory.New()
	ctx := context.Background()
	seedUser(t, m, "@Ravi1", "9876543210")

	offID, err := m.InsertOff(ctx, mess.OffRequest{
		UserHandle: "@Ravi1", Date: mess.MustDate("2025-06-05"), Meal: mess.MealLunch,
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(s ledger.Store) error {
		if err := s.SetCredits(ctx, "@Ravi1", 9); err != nil {
			return err
		}
		if err := s.DeleteOff(ctx, offID); err != nil {
			return err
		}
		if _, err := s.AppendPayment(ctx, mess.Payment{
			UserHandle: "@Ravi1", PaymentDate: mess.MustDate("2025-06-01"), DaysAdded: 3,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := m.GetUser(ctx, "@Ravi1")
	require.NoError(t, err)
	assert.Equal(t, 0, u.MealCredits)

	off, err := m.GetOff(ctx, offID)
	require.NoError(t, err)
	assert.Equal(t, mess.MealLunch, off.Meal)

	payments, err := m.ListPayments(ctx, "@Ravi1")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestMemory_WithTx_CommitKeepsState(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	seedUser(t, m, "@Ravi1", "9876543210")

	err := m.WithTx(ctx, func(s ledger.Store) error {
		return s.SetCredits(ctx, "@Ravi1", 4)
	})
	require.NoError(t, err)

	u, err := m.GetUser(ctx, "@Ravi1")
	require.NoError(t, err)
	assert.Equal(t, 4, u.MealCredits)
}

func TestMemory_ConflictSentinels(t *testing.T) {
	// GIVEN: Existing users, chat links, and off rows
	// WHEN: Violating each uniqueness rule
	// THEN: The matching domain sentinel comes back

	m := memory.New()
	ctx := context.Background()
	seedUser(t, m, "@Ravi1", "9876543210")
	seedUser(t, m, "@Meera1", "9876500000")

	err := m.CreateUser(ctx, mess.User{Handle: "@Other1", Name: "Other", Phone: "9876543210"})
	assert.ErrorIs(t, err, mess.ErrDuplicatePhone)

	require.NoError(t, m.SetChatID(ctx, "@Ravi1", "chat-42"))
	err = m.SetChatID(ctx, "@Meera1", "chat-42")
	assert.ErrorIs(t, err, mess.ErrAlreadyLinked)

	date := mess.MustDate("2025-06-05")
	_, err = m.InsertOff(ctx, mess.OffRequest{UserHandle: "@Ravi1", Date: date, Meal: mess.MealLunch})
	require.NoError(t, err)
	_, err = m.InsertOff(ctx, mess.OffRequest{UserHandle: "@Ravi1", Date: date, Meal: mess.MealDinner})
	assert.ErrorIs(t, err, mess.ErrAlreadyOff)
}

func TestMemory_Lookups(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	seedUser(t, m, "@Ravi1", "9876543210")

	u, err := m.GetUserByPhone(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "@Ravi1", u.Handle)

	_, err = m.GetUserByPhone(ctx, "0000000000")
	assert.ErrorIs(t, err, mess.ErrUserNotFound)

	_, err = m.GetUserByChatID(ctx, "chat-42")
	assert.ErrorIs(t, err, mess.ErrUserNotFound)

	handles, err := m.Handles(ctx, "@Ravi")
	require.NoError(t, err)
	assert.Equal(t, []string{"@Ravi1"}, handles)
}

func TestMemory_ListOffsFrom_Filters(t *testing.T) {
	m := memory.New()
	ctx := context.Background()
	seedUser(t, m, "@Ravi1", "9876543210")

	for _, d := range []string{"2025-06-01", "2025-06-03", "2025-06-05"} {
		_, err := m.InsertOff(ctx, mess.OffRequest{
			UserHandle: "@Ravi1", Date: mess.MustDate(d), Meal: mess.MealLunch,
		})
		require.NoError(t, err)
	}

	offs, err := m.ListOffsFrom(ctx, "@Ravi1", mess.MustDate("2025-06-03"))
	require.NoError(t, err)
	require.Len(t, offs, 2)
	assert.Equal(t, "2025-06-03", offs[0].Date.String())
	assert.Equal(t, "2025-06-05", offs[1].Date.String())
}
