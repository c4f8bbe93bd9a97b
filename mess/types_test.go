package mess_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tiffin/mess-engine/mess"
)

func TestMeal_Union(t *testing.T) {
	assert.Equal(t, mess.MealBoth, mess.MealLunch.Union(mess.MealDinner))
	assert.Equal(t, mess.MealBoth, mess.MealDinner.Union(mess.MealLunch))
	assert.Equal(t, mess.MealLunch, mess.MealLunch.Union(mess.MealLunch))
	assert.Equal(t, mess.MealBoth, mess.MealBoth.Union(mess.MealLunch))
}

func TestMeal_Covers(t *testing.T) {
	assert.True(t, mess.MealBoth.Covers(mess.MealLunch))
	assert.True(t, mess.MealBoth.Covers(mess.MealDinner))
	assert.True(t, mess.MealLunch.Covers(mess.MealLunch))
	assert.False(t, mess.MealLunch.Covers(mess.MealDinner))
	assert.False(t, mess.MealLunch.Covers(mess.MealBoth))
}

func TestMeal_Credits(t *testing.T) {
	assert.Equal(t, 1, mess.MealLunch.Credits())
	assert.Equal(t, 1, mess.MealDinner.Credits())
	assert.Equal(t, 2, mess.MealBoth.Credits())
}

func TestMeal_Valid(t *testing.T) {
	assert.True(t, mess.MealLunch.Valid())
	assert.True(t, mess.MealBoth.Valid())
	assert.False(t, mess.Meal("brunch").Valid())
	assert.False(t, mess.Meal("").Valid())
}

func TestDate_Arithmetic(t *testing.T) {
	d := mess.MustDate("2025-06-01")

	assert.Equal(t, "2025-06-04", d.AddDays(3).String())
	assert.Equal(t, 3, d.DaysUntil(mess.MustDate("2025-06-04")))
	assert.Equal(t, -1, d.DaysUntil(mess.MustDate("2025-05-31")))
	assert.True(t, d.Before(mess.MustDate("2025-06-02")))
	assert.True(t, d.After(mess.MustDate("2025-05-31")))
}

func TestParseDate_Strict(t *testing.T) {
	_, err := mess.ParseDate("2025-6-1")
	assert.ErrorIs(t, err, mess.ErrInvalidDate)

	_, err = mess.ParseDate("2025-06-01T00:00:00Z")
	assert.ErrorIs(t, err, mess.ErrInvalidDate)

	d, err := mess.ParseDate("2025-06-01")
	assert.NoError(t, err)
	assert.Equal(t, "2025-06-01", d.String())
}

func TestUser_DaysRemaining(t *testing.T) {
	today := mess.MustDate("2025-06-01")
	end := mess.MustDate("2025-06-11")
	u := mess.User{SubEnd: &end}

	assert.Equal(t, 10, u.DaysRemaining(today))
	assert.True(t, u.Subscribed(today))

	expired := mess.MustDate("2025-05-20")
	u.SubEnd = &expired
	assert.Equal(t, 0, u.DaysRemaining(today))
	assert.False(t, u.Subscribed(today))

	u.SubEnd = nil
	assert.Equal(t, 0, u.DaysRemaining(today))
}
