package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffin/mess-engine/mess"
	"github.com/tiffin/mess-engine/policy"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func testThresholds() policy.Thresholds {
	return policy.Thresholds{LunchCutoffHour: 11, DinnerCutoffHour: 17, Location: ist}
}

func at(hour, min int) time.Time {
	return time.Date(2025, time.June, 1, hour, min, 0, 0, ist)
}

func TestThresholds_FutureDate_BothMealsAllowed(t *testing.T) {
	// GIVEN: It is mid-afternoon today
	// WHEN: Evaluating tomorrow's date
	// THEN: Both meals are allowed

	th := testThresholds()
	d, err := th.Evaluate("2025-06-02", at(15, 0))
	require.NoError(t, err)

	assert.True(t, d.LunchAllowed)
	assert.True(t, d.DinnerAllowed)
}

func TestThresholds_Today_BeforeLunchCutoff(t *testing.T) {
	// GIVEN: It is 10:59, one minute before the lunch cutoff
	// WHEN: Evaluating "today"
	// THEN: Both meals are still allowed

	th := testThresholds()
	d, err := th.Evaluate("today", at(10, 59))
	require.NoError(t, err)

	assert.Equal(t, "2025-06-01", d.Date.String())
	assert.True(t, d.LunchAllowed)
	assert.True(t, d.DinnerAllowed)
}

func TestThresholds_Today_AtLunchCutoff(t *testing.T) {
	// GIVEN: The clock just hit 11:00
	// WHEN: Evaluating "today"
	// THEN: Lunch is closed, dinner is still open

	th := testThresholds()
	d, err := th.Evaluate("today", at(11, 0))
	require.NoError(t, err)

	assert.False(t, d.LunchAllowed)
	assert.True(t, d.DinnerAllowed)
}

func TestThresholds_Today_AtDinnerCutoff(t *testing.T) {
	// GIVEN: The clock just hit 17:00
	// WHEN: Evaluating "today"
	// THEN: Nothing is requestable anymore

	th := testThresholds()

	d, err := th.Evaluate("today", at(16, 59))
	require.NoError(t, err)
	assert.True(t, d.DinnerAllowed, "16:59 still inside the window")

	d, err = th.Evaluate("today", at(17, 0))
	require.NoError(t, err)
	assert.False(t, d.LunchAllowed)
	assert.False(t, d.DinnerAllowed)
}

func TestThresholds_PastDate_NothingAllowed(t *testing.T) {
	// GIVEN: Yesterday's date
	// WHEN: Evaluating it, even early in the morning
	// THEN: Both meals are disallowed

	th := testThresholds()
	d, err := th.Evaluate("2025-05-31", at(8, 0))
	require.NoError(t, err)

	assert.False(t, d.LunchAllowed)
	assert.False(t, d.DinnerAllowed)
	assert.False(t, d.Allows(mess.MealBoth), "past dates reject every meal value")
}

func TestThresholds_MalformedDate_Invalid(t *testing.T) {
	th := testThresholds()

	_, err := th.Evaluate("01-06-2025", at(9, 0))
	assert.ErrorIs(t, err, mess.ErrInvalidDate)

	_, err = th.Evaluate("tomorrow", at(9, 0))
	assert.ErrorIs(t, err, mess.ErrInvalidDate)
}

func TestThresholds_Check_ReturnsCutoffError(t *testing.T) {
	// GIVEN: Lunch cutoff has passed
	// WHEN: Checking a lunch (and a "both") request for today
	// THEN: CutoffError wrapping ErrMealCutoff

	th := testThresholds()
	today := mess.MustDate("2025-06-01")

	err := th.Check(today, mess.MealLunch, at(12, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, mess.ErrMealCutoff)

	var cutoff *mess.CutoffError
	require.ErrorAs(t, err, &cutoff)
	assert.False(t, cutoff.Past)

	// "both" includes lunch, so it is refused too.
	assert.ErrorIs(t, th.Check(today, mess.MealBoth, at(12, 0)), mess.ErrMealCutoff)

	// Dinner alone is still fine.
	assert.NoError(t, th.Check(today, mess.MealDinner, at(12, 0)))
}

func TestThresholds_Check_PastDateFlagged(t *testing.T) {
	th := testThresholds()

	err := th.Check(mess.MustDate("2025-05-20"), mess.MealDinner, at(9, 0))
	require.Error(t, err)

	var cutoff *mess.CutoffError
	require.ErrorAs(t, err, &cutoff)
	assert.True(t, cutoff.Past)
}

func TestThresholds_Check_InvalidMeal(t *testing.T) {
	th := testThresholds()
	err := th.Check(mess.MustDate("2025-06-02"), mess.Meal("brunch"), at(9, 0))
	assert.ErrorIs(t, err, mess.ErrInvalidMeal)
}
