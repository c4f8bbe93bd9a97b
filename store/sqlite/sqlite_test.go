package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffin/mess-engine/ledger"
	"github.com/tiffin/mess-engine/mess"
	"github.com/tiffin/mess-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, s *sqlite.Store, handle, phone string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), mess.User{
		Handle: handle, Name: "Test User", Phone: phone,
	}))
}

func TestSqlite_UserRoundTrip(t *testing.T) {
	// GIVEN: A user with a subscription window and credits
	// WHEN: Storing and reading back
	// THEN: Every field survives, including the nullable dates

	s := newStore(t)
	ctx := context.Background()

	start := mess.MustDate("2025-06-01")
	end := mess.MustDate("2025-06-30")
	require.NoError(t, s.CreateUser(ctx, mess.User{
		Handle: "@Ravi1", Name: "Ravi Kumar", Phone: "9876543210",
		SubStart: &start, SubEnd: &end, MealCredits: 3,
	}))

	u, err := s.GetUser(ctx, "@Ravi1")
	require.NoError(t, err)
	assert.Equal(t, "Ravi Kumar", u.Name)
	assert.Equal(t, 3, u.MealCredits)
	require.NotNil(t, u.SubStart)
	require.NotNil(t, u.SubEnd)
	assert.Equal(t, "2025-06-01", u.SubStart.String())
	assert.Equal(t, "2025-06-30", u.SubEnd.String())

	// Nullable fields stay null when unset.
	seedUser(t, s, "@Meera1", "9876500000")
	u, err = s.GetUser(ctx, "@Meera1")
	require.NoError(t, err)
	assert.Nil(t, u.SubStart)
	assert.Nil(t, u.SubEnd)
	assert.Empty(t, u.ChatID)
}

func TestSqlite_ConstraintMapping(t *testing.T) {
	// GIVEN: Rows holding each unique column
	// WHEN: Violating the constraints
	// THEN: Each maps to its domain sentinel

	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "@Ravi1", "9876543210")
	seedUser(t, s, "@Meera1", "9876500000")

	err := s.CreateUser(ctx, mess.User{Handle: "@Other1", Name: "Other", Phone: "9876543210"})
	assert.ErrorIs(t, err, mess.ErrDuplicatePhone)

	require.NoError(t, s.SetChatID(ctx, "@Ravi1", "chat-42"))
	err = s.SetChatID(ctx, "@Meera1", "chat-42")
	assert.ErrorIs(t, err, mess.ErrAlreadyLinked)

	date := mess.MustDate("2025-06-05")
	_, err = s.InsertOff(ctx, mess.OffRequest{UserHandle: "@Ravi1", Date: date, Meal: mess.MealLunch})
	require.NoError(t, err)
	_, err = s.InsertOff(ctx, mess.OffRequest{UserHandle: "@Ravi1", Date: date, Meal: mess.MealDinner})
	assert.ErrorIs(t, err, mess.ErrAlreadyOff)
}

func TestSqlite_MissingRowsMapToNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "@Nobody1")
	assert.ErrorIs(t, err, mess.ErrUserNotFound)

	err = s.SetCredits(ctx, "@Nobody1", 5)
	assert.ErrorIs(t, err, mess.ErrUserNotFound)

	_, err = s.GetOff(ctx, 999)
	assert.ErrorIs(t, err, mess.ErrOffNotFound)

	err = s.DeleteOff(ctx, 999)
	assert.ErrorIs(t, err, mess.ErrOffNotFound)
}

func TestSqlite_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A committed user
	// WHEN: A transaction writes and then fails
	// THEN: Nothing from the transaction persists

	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "@Ravi1", "9876543210")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.SetCredits(ctx, "@Ravi1", 7); err != nil {
			return err
		}
		if _, err := tx.InsertOff(ctx, mess.OffRequest{
			UserHandle: "@Ravi1", Date: mess.MustDate("2025-06-05"), Meal: mess.MealBoth,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := s.GetUser(ctx, "@Ravi1")
	require.NoError(t, err)
	assert.Equal(t, 0, u.MealCredits)

	offs, err := s.ListOffs(ctx, "@Ravi1")
	require.NoError(t, err)
	assert.Empty(t, offs)
}

func TestSqlite_WithTx_ReadsSeeOwnWrites(t *testing.T) {
	// GIVEN: An open transaction
	// WHEN: Reading back a row written inside it
	// THEN: The write is visible before commit

	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "@Ravi1", "9876543210")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		id, err := tx.InsertOff(ctx, mess.OffRequest{
			UserHandle: "@Ravi1", Date: mess.MustDate("2025-06-05"), Meal: mess.MealLunch,
		})
		if err != nil {
			return err
		}
		off, err := tx.GetOff(ctx, id)
		if err != nil {
			return err
		}
		assert.Equal(t, mess.MealLunch, off.Meal)

		found, err := tx.GetOffForDate(ctx, "@Ravi1", mess.MustDate("2025-06-05"))
		if err != nil {
			return err
		}
		assert.Equal(t, id, found.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestSqlite_HandlePrefixEscapesWildcards(t *testing.T) {
	// GIVEN: Handles where one contains a LIKE metacharacter
	// WHEN: Listing by a literal prefix
	// THEN: The underscore is not treated as a wildcard

	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "@Jo_1", "9876543210")
	seedUser(t, s, "@Joe1", "9876500000")

	handles, err := s.Handles(ctx, "@Jo_")
	require.NoError(t, err)
	assert.Equal(t, []string{"@Jo_1"}, handles)
}

func TestSqlite_AppendOnlyLogs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedUser(t, s, "@Ravi1", "9876543210")

	_, err := s.AppendPayment(ctx, mess.Payment{
		UserHandle: "@Ravi1", PaymentDate: mess.MustDate("2025-06-01"), DaysAdded: 10,
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendCreditEntry(ctx, mess.CreditEntry{
		UserHandle: "@Ravi1", Delta: 2, Type: mess.CreditEarn,
		Reference: "off:1", CreatedAt: mess.MustDate("2025-06-01"),
	}))
	require.NoError(t, s.AppendCreditEntry(ctx, mess.CreditEntry{
		UserHandle: "@Ravi1", Delta: -2, Type: mess.CreditConvert,
		Reference: "convert", CreatedAt: mess.MustDate("2025-06-01"),
	}))

	payments, err := s.ListPayments(ctx, "@Ravi1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, 10, payments[0].DaysAdded)

	entries, err := s.ListCreditEntries(ctx, "@Ravi1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, mess.CreditEarn, entries[0].Type)
	assert.Equal(t, -2, entries[1].Delta)
}
