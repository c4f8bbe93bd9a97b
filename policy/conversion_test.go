package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tiffin/mess-engine/policy"
)

func testConversion() policy.Conversion {
	return policy.Conversion{CreditsPerDay: 2, AutoConvertThreshold: 2, MaxCredits: 30}
}

func TestConversion_BelowThreshold_NoOp(t *testing.T) {
	// GIVEN: A balance below the trigger threshold
	// WHEN: Evaluating the conversion
	// THEN: Nothing converts and the balance is untouched

	cv := testConversion()

	for _, balance := range []int{0, 1} {
		out := cv.Evaluate(balance)
		assert.False(t, out.Converted(), "balance %d must not convert", balance)
		assert.Equal(t, balance, out.Remaining)
	}
}

func TestConversion_StandardDrain(t *testing.T) {
	// GIVEN: 5 credits at 2/day with threshold 2
	// WHEN: Evaluating
	// THEN: 2 days convert, 1 credit remains (strictly below threshold)

	out := testConversion().Evaluate(5)

	assert.Equal(t, 2, out.Days)
	assert.Equal(t, 4, out.CreditsUsed)
	assert.Equal(t, 1, out.Remaining)
}

func TestConversion_ExactThreshold_MinimumOneDay(t *testing.T) {
	// GIVEN: Exactly threshold credits
	// WHEN: Evaluating
	// THEN: At least one day converts

	out := testConversion().Evaluate(2)

	assert.Equal(t, 1, out.Days)
	assert.Equal(t, 0, out.Remaining)
}

func TestConversion_OverCap_FullDrain(t *testing.T) {
	// GIVEN: 35 credits, above the 30 cap
	// WHEN: Evaluating
	// THEN: Every affordable day converts (17), leaving 1

	out := testConversion().Evaluate(35)

	assert.Equal(t, 17, out.Days)
	assert.Equal(t, 34, out.CreditsUsed)
	assert.Equal(t, 1, out.Remaining)
}

func TestConversion_Idempotent(t *testing.T) {
	// GIVEN: Any balance that triggers a conversion
	// WHEN: Re-evaluating the remaining balance
	// THEN: The second run is always a no-op

	cv := testConversion()
	for balance := 0; balance <= 100; balance++ {
		out := cv.Evaluate(balance)
		assert.GreaterOrEqual(t, out.Remaining, 0, "balance %d must not overdraw", balance)
		if !out.Converted() {
			continue
		}
		second := cv.Evaluate(out.Remaining)
		assert.False(t, second.Converted(),
			"balance %d left %d which converted again", balance, out.Remaining)
	}
}

func TestConversion_Eligible(t *testing.T) {
	cv := testConversion()

	assert.False(t, cv.Eligible(1))
	assert.True(t, cv.Eligible(2))
	assert.True(t, cv.Eligible(35))
}

func TestConversion_MisconfiguredThreshold_NeverOverdraws(t *testing.T) {
	// GIVEN: A threshold below credits-per-day (misconfiguration)
	// WHEN: Evaluating an odd balance
	// THEN: The outcome never spends more than the balance

	cv := policy.Conversion{CreditsPerDay: 2, AutoConvertThreshold: 1, MaxCredits: 30}
	out := cv.Evaluate(3)

	assert.LessOrEqual(t, out.CreditsUsed, 3)
	assert.GreaterOrEqual(t, out.Remaining, 0)
}
